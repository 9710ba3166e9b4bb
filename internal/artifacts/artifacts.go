package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ErrNotRegistered means no artifact is mapped for the product id. This is a
// deployment gap, not a bad request: the product exists in Stripe but nobody
// registered a file for it.
var ErrNotRegistered = errors.New("no artifact registered for product")

// DefaultManifest maps Stripe product ids to artifact filenames.
var DefaultManifest = map[string]string{
	"prod_Ttv9MPW0ErPNBS": "saas-kit.zip",
}

// Registry resolves product ids to downloadable artifact bytes.
type Registry struct {
	fsys     fs.FS
	manifest map[string]string
}

func New(dir string, manifest map[string]string) *Registry {
	if manifest == nil {
		manifest = DefaultManifest
	}
	return &Registry{
		fsys:     os.DirFS(dir),
		manifest: manifest,
	}
}

// NewWithFS is like New but reads from an arbitrary filesystem.
func NewWithFS(fsys fs.FS, manifest map[string]string) *Registry {
	if manifest == nil {
		manifest = DefaultManifest
	}
	return &Registry{
		fsys:     fsys,
		manifest: manifest,
	}
}

// Fetch returns the artifact bytes and filename for a product id. It returns
// ErrNotRegistered for unmapped products; any other error is a filesystem
// problem with a registered artifact.
func (r *Registry) Fetch(productID string) ([]byte, string, error) {
	filename, ok := r.manifest[productID]
	if !ok {
		return nil, "", ErrNotRegistered
	}

	data, err := fs.ReadFile(r.fsys, filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read artifact %s: %w", filename, err)
	}

	return data, filename, nil
}
