package executor

import (
	"path/filepath"

	"github.com/anvil-build/anvil/internal/graph"
)

// Paths maps logical artifact paths onto the workspace on disk.
type Paths struct {
	// Root is the absolute workspace root. All logical paths, like
	// "src/foo/a.c" or "tmp/host/foo/a.o", resolve beneath it.
	Root string
}

// Disk returns the on-disk location of an artifact. Memory artifacts have no
// disk location; callers must check InMemory first.
func (p Paths) Disk(a *graph.Artifact) string {
	return filepath.Join(p.Root, filepath.FromSlash(a.Path))
}

// DirFor resolves a directory token to its on-disk location.
func (p Paths) DirFor(t graph.DirToken) string {
	switch t {
	case graph.SourceRoot:
		return filepath.Join(p.Root, "src")
	case graph.IntermediateRoot:
		return filepath.Join(p.Root, "tmp")
	default:
		return p.Root
	}
}
