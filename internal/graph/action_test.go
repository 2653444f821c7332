package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvil-build/anvil/internal/label"
)

type nopType struct{}

func (nopType) Name() string                  { return "nop" }
func (nopType) Schema() []AttrSpec            { return nil }
func (nopType) Expand(ec *ExpandContext) error { return nil }

func testRule() *Rule {
	return NewRule(label.Label{Pkg: "p", Name: "x"}, nopType{}, nil, "")
}

func TestSetCommand_RejectsUnlistedArtifact(t *testing.T) {
	t.Parallel()

	store := NewStore()
	src := store.Source("p/a.c")
	stranger := store.Source("p/b.c")

	a := &Action{Rule: testRule(), Verb: "compile", Name: "x", Inputs: []*Artifact{src}}

	_, err := a.SetCommand(Lit("cc"), File(stranger))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not listed among inputs or outputs")

	_, err = a.SetCommand(Lit("cc"), File(src))
	assert.NoError(t, err)
}

func TestSetCommand_ContentsMustBeInput(t *testing.T) {
	t.Parallel()

	store := NewStore()
	src := store.Source("p/list.txt")
	a := &Action{Rule: testRule(), Verb: "link", Name: "x"}

	_, err := a.SetCommand(Lit("ld"), Contents(src))
	require.Error(t, err)

	a.Inputs = []*Artifact{src}
	_, err = a.SetCommand(Lit("ld"), Contents(src))
	assert.NoError(t, err)
}

func TestSetCommand_RejectsMemoryArtifactPath(t *testing.T) {
	t.Parallel()

	store := NewStore()
	a := &Action{Rule: testRule(), Verb: "run", Name: "x"}
	status, err := store.derived(MemoryArtifact, DefaultConfig, "p/x.status", a)
	require.NoError(t, err)

	_, err = a.SetCommand(Lit("prog"), File(status))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no disk path")
}

func TestCaptures(t *testing.T) {
	t.Parallel()

	store := NewStore()
	a := &Action{Rule: testRule(), Verb: "test", Name: "x"}
	log, err := store.derived(DerivedArtifact, DefaultConfig, "p/x.log", a)
	require.NoError(t, err)
	status, err := store.derived(MemoryArtifact, DefaultConfig, "p/x.status", a)
	require.NoError(t, err)

	cmd, err := a.SetCommand(Lit("prog"))
	require.NoError(t, err)

	t.Run("stdout with interleaved stderr", func(t *testing.T) {
		require.NoError(t, cmd.CaptureStdout(a, log, true))
		assert.Same(t, log, cmd.Stdout)
		assert.Same(t, log, cmd.Stderr)
	})

	t.Run("exit status must be memory artifact", func(t *testing.T) {
		err := cmd.CaptureExitStatus(a, log)
		require.Error(t, err)
		require.NoError(t, cmd.CaptureExitStatus(a, status))
		assert.Same(t, status, cmd.ExitStatus)
	})

	t.Run("capture requires producing action", func(t *testing.T) {
		other := &Action{Rule: testRule(), Verb: "test", Name: "y"}
		otherCmd, err := other.SetCommand(Lit("prog"))
		require.NoError(t, err)
		assert.Error(t, otherCmd.CaptureStdout(other, log, false))
		assert.Error(t, otherCmd.CaptureExitStatus(other, status))
	})
}

func TestStorePaths(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		kind   ArtifactKind
		config string
		rel    string
		want   string
	}{
		{"derived default", DerivedArtifact, DefaultConfig, "p/a.o", "tmp/p/a.o"},
		{"derived host", DerivedArtifact, HostConfig, "p/a.o", "tmp/host/p/a.o"},
		{"memory default", MemoryArtifact, DefaultConfig, "p/t.status", "mem/p/t.status"},
		{"memory host", MemoryArtifact, HostConfig, "p/t.status", "mem/host/p/t.status"},
		{"output default", OutputArtifact, DefaultConfig, "bin/prog", "bin/prog"},
		{"output host", OutputArtifact, HostConfig, "bin/prog", "tmp/host/bin/prog"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, pathFor(tc.kind, tc.config, tc.rel))
		})
	}
}

func TestStore_SourceInterning(t *testing.T) {
	t.Parallel()

	store := NewStore()
	a := store.Source("p/a.c")
	b := store.Source("p/a.c")
	assert.Same(t, a, b)
	assert.Equal(t, "src/p/a.c", a.Path)
	assert.Nil(t, a.Producer)
}

func TestStore_ConfiguredVariantAdoptsProducer(t *testing.T) {
	t.Parallel()

	store := NewStore()
	a := &Action{Rule: testRule(), Verb: "make", Name: "x"}

	// A dependent references the host variant before the producing rule has
	// been expanded under host.
	orphan, err := store.derived(DerivedArtifact, HostConfig, "p/gen.h", nil)
	require.NoError(t, err)
	require.Nil(t, orphan.Producer)

	adopted, err := store.derived(DerivedArtifact, HostConfig, "p/gen.h", a)
	require.NoError(t, err)
	assert.Same(t, orphan, adopted)
	assert.Same(t, a, adopted.Producer)
	assert.Contains(t, a.Outputs, adopted)
}

func TestStore_Configured(t *testing.T) {
	t.Parallel()

	store := NewStore()
	a := &Action{Rule: testRule(), Verb: "make", Name: "x"}
	target, err := store.derived(DerivedArtifact, DefaultConfig, "p/gen.h", a)
	require.NoError(t, err)

	host := store.Configured(target, HostConfig)
	assert.Equal(t, "tmp/host/p/gen.h", host.Path)
	assert.NotSame(t, target, host)
	assert.Nil(t, host.Producer, "the variant waits for its producing expansion")
	assert.Same(t, host, store.Configured(target, HostConfig), "created once, shared after")

	src := store.Source("p/a.c")
	assert.Same(t, src, store.Configured(src, HostConfig), "sources are configuration-independent")
	assert.Same(t, target, store.Configured(target, DefaultConfig))
}

func TestValidateArtifactName(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateArtifactName("p:x", "a.c"))
	assert.NoError(t, validateArtifactName("p:x", "sub/a.c"))
	assert.Error(t, validateArtifactName("p:x", "sub/../a.c"))
	assert.Error(t, validateArtifactName("p:x", "../escape.c"))
	assert.Error(t, validateArtifactName("p:x", "/abs.c"))
}
