package store

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/quayside/stevedore/common/crypto"
)

// sealedPrefix marks ledger values that are AES-GCM encrypted. Plain values
// never carry it, so sealed and unsealed rows can coexist in one database.
const sealedPrefix = "enc:"

// sealer encrypts session API keys before they reach disk. A sealer with no
// key passes values through unchanged.
type sealer struct {
	key []byte
}

func newSealer(masterKey []byte) (*sealer, error) {
	if len(masterKey) != 0 && len(masterKey) != crypto.KeySize {
		return nil, crypto.ErrInvalidKeySize
	}
	return &sealer{key: masterKey}, nil
}

func (s *sealer) seal(value string) (string, error) {
	if len(s.key) == 0 || value == "" {
		return value, nil
	}
	ciphertext, err := crypto.Encrypt(s.key, []byte(value))
	if err != nil {
		return "", fmt.Errorf("seal ledger value: %w", err)
	}
	return sealedPrefix + hex.EncodeToString(ciphertext), nil
}

func (s *sealer) open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if len(s.key) == 0 {
		return "", fmt.Errorf("ledger value is sealed but no master key is configured")
	}
	ciphertext, err := hex.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("open ledger value: %w", err)
	}
	plaintext, err := crypto.Decrypt(s.key, ciphertext)
	if err != nil {
		return "", fmt.Errorf("open ledger value: %w", err)
	}
	return string(plaintext), nil
}
