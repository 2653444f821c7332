package graph

import (
	"fmt"
	"path"
	"strings"
	"sync"
)

// ArtifactKind distinguishes the four storage classes of an artifact.
type ArtifactKind int

const (
	// SourceArtifact is a pre-existing file under the source root. It has no
	// producing action and is shared by every configuration.
	SourceArtifact ArtifactKind = iota

	// DerivedArtifact is an intermediate file under the tmp root, produced
	// by exactly one action.
	DerivedArtifact

	// OutputArtifact is a final file under one of the installable output
	// directories (bin, lib, include, share).
	OutputArtifact

	// MemoryArtifact exists only for the duration of the invocation and
	// carries text between actions, such as a captured exit status.
	MemoryArtifact
)

func (k ArtifactKind) String() string {
	switch k {
	case SourceArtifact:
		return "source"
	case DerivedArtifact:
		return "derived"
	case OutputArtifact:
		return "output"
	case MemoryArtifact:
		return "memory"
	default:
		return fmt.Sprintf("ArtifactKind(%d)", int(k))
	}
}

// outputDirs are the only valid top-level directories for output artifacts.
// Their contents are suitable for copying under /usr or /usr/local.
var outputDirs = map[string]bool{
	"bin":     true,
	"include": true,
	"lib":     true,
	"share":   true,
}

// Artifact is a named handle to a file or in-memory value involved in the
// build. Artifacts are interned: within one invocation a (path,
// configuration) pair maps to at most one Artifact object.
//
// Do not construct Artifacts directly; use the methods of ExpandContext
// inside a rule type's expansion function.
type Artifact struct {
	// Path is the logical path, including the top-level root directory,
	// e.g. "src/foo/a.c", "tmp/host/foo/a.o", "bin/prog", "mem/foo/t.status".
	Path string

	// Rel is the path relative to its root and configuration partition,
	// e.g. "foo/a.c". Used to compute configured variants and derived paths.
	Rel string

	Kind   ArtifactKind
	Config string

	// Producer is the action that creates this artifact, or nil for source
	// artifacts (and for configured variants whose producing rule has not
	// been expanded yet).
	Producer *Action
}

func (a *Artifact) String() string {
	return a.Path
}

// InMemory reports whether the artifact lives in the invocation's memory
// store rather than on disk.
func (a *Artifact) InMemory() bool {
	return a.Kind == MemoryArtifact
}

// intermediatePath places a package-relative file under the tmp root,
// partitioned by configuration name for non-default configurations.
func intermediatePath(config, rel string) string {
	if config == DefaultConfig {
		return path.Join("tmp", rel)
	}
	return path.Join("tmp", config, rel)
}

func memoryPath(config, rel string) string {
	if config == DefaultConfig {
		return path.Join("mem", rel)
	}
	return path.Join("mem", config, rel)
}

// outputPath places a final artifact under its install directory. Outputs
// built under a non-default configuration are not installable; they live
// under the configuration's tmp partition instead so the artifact sets stay
// disjoint.
func outputPath(config, rel string) string {
	if config == DefaultConfig {
		return rel
	}
	return path.Join("tmp", config, rel)
}

func pathFor(kind ArtifactKind, config, rel string) string {
	switch kind {
	case SourceArtifact:
		return path.Join("src", rel)
	case DerivedArtifact:
		return intermediatePath(config, rel)
	case MemoryArtifact:
		return memoryPath(config, rel)
	default:
		return outputPath(config, rel)
	}
}

// Store interns artifacts by logical path. It is one of the two globally
// mutable structures of an invocation (the other being per-rule expansion
// state) and is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	artifacts map[string]*Artifact
}

// NewStore returns an empty artifact store.
func NewStore() *Store {
	return &Store{artifacts: make(map[string]*Artifact)}
}

// Source returns the artifact for a pre-existing file under the source
// root. rel is relative to the source root. Repeated calls return the same
// object.
func (s *Store) Source(rel string) *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := path.Join("src", rel)
	if a, ok := s.artifacts[p]; ok {
		return a
	}
	a := &Artifact{Path: p, Rel: rel, Kind: SourceArtifact, Config: DefaultConfig}
	s.artifacts[p] = a
	return a
}

// derived interns a non-source artifact and attaches its producing action.
// Two different actions claiming the same path is a definition error naming
// both rules.
func (s *Store) derived(kind ArtifactKind, config, rel string, producer *Action) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := pathFor(kind, config, rel)
	if a, ok := s.artifacts[p]; ok {
		if a.Producer == producer {
			return a, nil
		}
		if a.Producer == nil && producer != nil {
			// A configured variant created ahead of its producing rule's
			// expansion; adopt the producer now.
			a.Producer = producer
			producer.addOutput(a)
			return a, nil
		}
		return nil, &DefinitionError{
			Label: producer.Rule.Label.String(),
			Msg: fmt.Sprintf("two different rules claim to build %q; conflicting rules are %q and %q",
				p, producer.Rule.Label, a.Producer.Rule.Label),
		}
	}

	a := &Artifact{Path: p, Rel: rel, Kind: kind, Config: config}
	if producer != nil {
		a.Producer = producer
		producer.addOutput(a)
	}
	s.artifacts[p] = a
	return a, nil
}

// Configured returns the variant of an artifact under the named
// configuration, creating it on first use. Source artifacts are shared
// across configurations and are returned unchanged. The variant starts
// without a producer; the producing rule's expansion under that
// configuration adopts it.
func (s *Store) Configured(a *Artifact, config string) *Artifact {
	if a.Kind == SourceArtifact || a.Config == config {
		return a
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := pathFor(a.Kind, config, a.Rel)
	if v, ok := s.artifacts[p]; ok {
		return v
	}
	v := &Artifact{Path: p, Rel: a.Rel, Kind: a.Kind, Config: config}
	s.artifacts[p] = v
	return v
}

// Lookup returns the interned artifact for a logical path, if any.
func (s *Store) Lookup(path string) (*Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[path]
	return a, ok
}

// validateArtifactName rejects names that would let a rule write outside its
// declaring package's namespace.
func validateArtifactName(label, name string) error {
	normalized := strings.ReplaceAll(path.Clean(name), "\\", "/")
	if name != normalized {
		return Definitionf(label, "file %q is not a normalized path name; use %q instead", name, normalized)
	}
	if strings.HasPrefix(name, "../") || strings.HasPrefix(name, "/") {
		return Definitionf(label, "file %q points outside the declaring package", name)
	}
	return nil
}
