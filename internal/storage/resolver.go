package storage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrOutOfScope is returned for references or paths that do not stay inside
// the managed output root.
var ErrOutOfScope = errors.New("path escapes output root")

// Resolver maps client visible image references to paths below a single
// output root and back.
type Resolver struct {
	root string
}

// NewResolver creates a resolver for the given output root. The root is made
// absolute so that every resolved path is absolute as well.
func NewResolver(root string) (*Resolver, error) {
	if root == "" {
		return nil, fmt.Errorf("output root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output root %s: %w", root, err)
	}
	return &Resolver{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute output root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve returns the absolute path for a reference such as
// "txt2img-images/2024-01-25/x.png". Absolute references and references with
// ".." segments are rejected rather than clamped.
func (r *Resolver) Resolve(reference string) (string, error) {
	if reference == "" {
		return "", fmt.Errorf("empty reference: %w", ErrOutOfScope)
	}
	slashed := filepath.ToSlash(reference)
	if path.IsAbs(slashed) || filepath.IsAbs(reference) || filepath.VolumeName(reference) != "" {
		return "", fmt.Errorf("absolute reference %q: %w", reference, ErrOutOfScope)
	}
	for _, segment := range strings.Split(slashed, "/") {
		if segment == ".." {
			return "", fmt.Errorf("reference %q contains '..': %w", reference, ErrOutOfScope)
		}
	}

	resolved := filepath.Join(r.root, filepath.FromSlash(slashed))
	if !r.contains(resolved) {
		return "", fmt.Errorf("reference %q resolves to %s: %w", reference, resolved, ErrOutOfScope)
	}
	return resolved, nil
}

// ToReference converts an absolute path below the root into its reference.
func (r *Resolver) ToReference(absolutePath string) (string, error) {
	cleaned := filepath.Clean(absolutePath)
	if !r.contains(cleaned) {
		return "", fmt.Errorf("path %s: %w", absolutePath, ErrOutOfScope)
	}
	rel, err := filepath.Rel(r.root, cleaned)
	if err != nil {
		return "", fmt.Errorf("path %s: %w", absolutePath, ErrOutOfScope)
	}
	return filepath.ToSlash(rel), nil
}

// EnsureDir resolves a directory reference and creates it when missing.
func (r *Resolver) EnsureDir(reference string) (string, error) {
	dir, err := r.Resolve(reference)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return dir, nil
}

// contains reports whether p is a strict descendant of the root.
func (r *Resolver) contains(p string) bool {
	rel, err := filepath.Rel(r.root, p)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
