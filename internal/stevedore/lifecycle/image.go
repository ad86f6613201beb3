package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/quayside/stevedore/internal/stevedore/runtime"
)

// ImageResolver qualifies image names with the service's registry prefix and
// verifies they exist before a start is requested. Both underlying queries
// are idempotent and side-effect-free, so no retry beyond the transport
// layer's own is warranted.
type ImageResolver struct {
	svc runtime.Service
}

// NewImageResolver creates an ImageResolver backed by the given service.
func NewImageResolver(svc runtime.Service) *ImageResolver {
	return &ImageResolver{svc: svc}
}

// Resolve returns the registry-qualified image name, or ErrImageMissing when
// the service does not have the image. A missing image is not a transport
// failure; it means the image must be built out-of-band first.
func (ir *ImageResolver) Resolve(ctx context.Context, image string) (string, error) {
	if image == "" {
		return "", fmt.Errorf("image name must not be empty")
	}

	qualified := image
	if !registryQualified(image) {
		prefix, err := ir.svc.RegistryPrefix(ctx)
		if err != nil {
			return "", fmt.Errorf("registry prefix: %w", err)
		}
		if prefix != "" {
			qualified = strings.TrimRight(prefix, "/") + "/" + image
		}
	}

	exists, err := ir.svc.ImageExists(ctx, qualified)
	if err != nil {
		return "", fmt.Errorf("image exists check for %s: %w", qualified, err)
	}
	if !exists {
		return "", fmt.Errorf("image %s: %w", qualified, ErrImageMissing)
	}
	return qualified, nil
}

// registryQualified reports whether the image name already carries a registry
// host (its first path segment contains a dot or a port).
func registryQualified(image string) bool {
	first, _, ok := strings.Cut(image, "/")
	if !ok {
		return false
	}
	return strings.ContainsAny(first, ".:")
}
