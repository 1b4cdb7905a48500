// Package project resolves filesystem paths to project roots and derives
// the deterministic loopback address a project's knowledge server listens on.
package project

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
)

// Common errors.
var (
	ErrNoProjectFound = errors.New("no project root found")
	ErrEmptyPath      = errors.New("path cannot be empty")
)

// StoreDirName is the per-project knowledge store directory.
const StoreDirName = ".knowledge-db"

// rootMarkers are checked in order when walking upward from a start path.
// The store directory itself counts so an initialized project is always
// found again regardless of other markers.
var rootMarkers = []string{
	StoreDirName,
	".project-root",
	".git",
	"go.mod",
	"package.json",
	"pyproject.toml",
	"Cargo.toml",
}

// Port range for derived server addresses: the IANA dynamic/private range.
const (
	portBase  = 49152
	portRange = 16384
)

// Project identifies one knowledge store by its canonical root path.
type Project struct {
	// Root is the canonicalized absolute project root.
	Root string

	// ID is a short stable hash of Root, carried as the handshake field in
	// every protocol request and response. It is what detects a port
	// collision between two distinct roots.
	ID string

	// Port is ID folded into the dynamic port range.
	Port int
}

// Resolve walks upward from start until a directory containing a root
// marker is found. It fails with ErrNoProjectFound at the filesystem root.
func Resolve(start string) (*Project, error) {
	if start == "" {
		return nil, ErrEmptyPath
	}

	abs, err := filepath.Abs(start)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", start, err)
	}

	// Tolerate being handed a file path.
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		abs = filepath.Dir(abs)
	}

	dir := abs
	for {
		for _, marker := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return At(dir)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("%w: walked up from %s", ErrNoProjectFound, abs)
		}
		dir = parent
	}
}

// At constructs the Project for an explicit root, canonicalizing the path.
// Two different paths are always different projects, even with identical
// content; identity is purely path-derived.
func At(root string) (*Project, error) {
	if root == "" {
		return nil, ErrEmptyPath
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	// Follow symlinks so two spellings of the same directory agree.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	h := fnv.New64a()
	h.Write([]byte(abs))
	sum := h.Sum64()

	return &Project{
		Root: abs,
		ID:   fmt.Sprintf("%016x", sum),
		Port: portBase + int(sum%portRange),
	}, nil
}

// Addr returns the loopback address the project's server listens on.
func (p *Project) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", p.Port)
}

// StoreDir returns the on-disk store directory for the project.
func (p *Project) StoreDir() string {
	return filepath.Join(p.Root, StoreDirName)
}

// IndexDir returns the on-disk index cache directory for the project.
func (p *Project) IndexDir() string {
	return filepath.Join(p.StoreDir(), "index")
}
