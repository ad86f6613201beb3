package runspec

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// sessionIDPattern defines valid session name characters: must start with a
// lowercase letter or digit, contain only lowercase letters, digits and
// hyphens, and be at most 63 characters long.
var sessionIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// Parse decodes a run-spec YAML document into a Spec and validates it.
// It is the canonical entry point for loading run specs.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("runspec parse: %w", err)
	}
	if err := Validate(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks a Spec for structural correctness without executing it.
// It returns the first validation error encountered, or nil if the spec is
// valid.
func Validate(spec *Spec) error {
	if spec == nil {
		return fmt.Errorf("spec must not be nil")
	}

	if spec.APIVersion != SpecVersion {
		return fmt.Errorf("apiVersion must be %q, got %q", SpecVersion, spec.APIVersion)
	}

	name := strings.TrimSpace(spec.Metadata.Name)
	if name == "" {
		return fmt.Errorf("metadata.name must not be empty")
	}
	if !sessionIDPattern.MatchString(name) {
		return fmt.Errorf("metadata.name %q is invalid: must match %s", name, sessionIDPattern)
	}

	if strings.TrimSpace(spec.Image) == "" {
		return fmt.Errorf("image must not be empty")
	}

	if spec.ResourceFactor < 0 {
		return fmt.Errorf("resourceFactor must not be negative, got %d", spec.ResourceFactor)
	}

	for key := range spec.Environment {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("environment keys must not be empty")
		}
	}

	return nil
}
