package native_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/label"
	"github.com/anvil-build/anvil/internal/registry"
	"github.com/anvil-build/anvil/modules/native"
)

type mapLoader struct {
	pkgs map[string]*graph.Package
}

func (m *mapLoader) Load(_ context.Context, pkgPath string) (*graph.Package, error) {
	pkg, ok := m.pkgs[pkgPath]
	if !ok {
		return nil, &graph.LoadError{Pkg: pkgPath, Err: fmt.Errorf("no such package")}
	}
	return pkg, nil
}

// harness wires a graph over hand-built packages with the native rule types
// registered.
type harness struct {
	g    *graph.Graph
	reg  *registry.Registry
	pkgs map[string]*graph.Package
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := registry.New()
	(&native.Module{}).Register(reg)
	h := &harness{
		g:    graph.New(graph.NewStore(), graph.NewConfigSet()),
		reg:  reg,
		pkgs: map[string]*graph.Package{},
	}
	h.g.SetLoader(&mapLoader{pkgs: h.pkgs})
	return h
}

func (h *harness) addRule(t *testing.T, pkgPath, typeName, name string, attrs map[string]cty.Value) *graph.Rule {
	t.Helper()
	ruleType, ok := h.reg.Lookup(typeName)
	require.True(t, ok)
	pkg, ok := h.pkgs[pkgPath]
	if !ok {
		pkg = graph.NewPackage(pkgPath)
		h.pkgs[pkgPath] = pkg
	}
	r := graph.NewRule(label.Label{Pkg: pkgPath, Name: name}, ruleType, attrs, "")
	require.NoError(t, pkg.AddRule(r))
	return r
}

func strList(items ...string) cty.Value {
	vals := make([]cty.Value, len(items))
	for i, s := range items {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}

func argvStrings(t *testing.T, a *graph.Action) []string {
	t.Helper()
	require.NotNil(t, a.Command)
	out := make([]string, 0, len(a.Command.Argv))
	for _, arg := range a.Command.Argv {
		switch arg.Kind {
		case graph.ArgLiteral:
			out = append(out, arg.Lit)
		case graph.ArgArtifact:
			out = append(out, arg.Artifact.Path)
		default:
			out = append(out, "?")
		}
	}
	return out
}

func TestLibrary_CompileAndArchive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	r := h.addRule(t, "foo", "library", "foo", map[string]cty.Value{
		"srcs": strList("a.c", "b.c"),
	})

	exp, err := h.g.ExpandOnce(context.Background(), r, h.g.Configs.Default())
	require.NoError(t, err)

	require.Len(t, exp.Outputs, 1)
	lib := exp.Outputs[0]
	assert.Equal(t, "tmp/foo/foo.a", lib.Path)

	archive := lib.Producer
	require.NotNil(t, archive)
	assert.Equal(t, "archive", archive.Verb)
	assert.Equal(t, []string{"ar", "rcs", "tmp/foo/foo.a", "tmp/foo/a.c.o", "tmp/foo/b.c.o"},
		argvStrings(t, archive))

	require.Len(t, archive.Inputs, 2)
	compile := archive.Inputs[0].Producer
	require.NotNil(t, compile)
	assert.Equal(t, "compile", compile.Verb)
	assert.Equal(t, []string{"cc", "-c", "src/foo/a.c", "-o", "tmp/foo/a.c.o"},
		argvStrings(t, compile))

	linkable, ok := exp.Provider.(native.Linkable)
	require.True(t, ok)
	assert.Equal(t, []*graph.Artifact{lib}, linkable.LinkLibraries())
}

func TestBinary_LinksTransitiveLibraries(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.addRule(t, "foo", "library", "foo", map[string]cty.Value{"srcs": strList("foo.c")})
	h.addRule(t, "bar", "library", "bar", map[string]cty.Value{
		"srcs": strList("bar.c"),
		"deps": strList("foo"),
	})
	prog := h.addRule(t, "prog", "binary", "prog", map[string]cty.Value{
		"srcs": strList("main.c"),
		"deps": strList("bar"),
	})

	exp, err := h.g.ExpandOnce(context.Background(), prog, h.g.Configs.Default())
	require.NoError(t, err)

	require.Len(t, exp.Outputs, 1)
	bin := exp.Outputs[0]
	assert.Equal(t, "bin/prog", bin.Path)

	link := bin.Producer
	require.NotNil(t, link)
	assert.Equal(t, "link", link.Verb)
	assert.Equal(t, []string{"cc", "-o", "bin/prog", "tmp/prog/main.c.o", "tmp/bar/bar.a", "tmp/foo/foo.a"},
		argvStrings(t, link), "own objects first, then dependency archives nearest-first")

	executable, ok := exp.Provider.(native.Executable)
	require.True(t, ok)
	assert.Same(t, bin, executable.Executable())
}

func TestDiamondDependency_SharedLibraryLinkedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.addRule(t, "base", "library", "base", map[string]cty.Value{"srcs": strList("base.c")})
	h.addRule(t, "left", "library", "left", map[string]cty.Value{
		"srcs": strList("left.c"), "deps": strList("base"),
	})
	h.addRule(t, "right", "library", "right", map[string]cty.Value{
		"srcs": strList("right.c"), "deps": strList("base"),
	})
	prog := h.addRule(t, "prog", "binary", "prog", map[string]cty.Value{
		"srcs": strList("main.c"),
		"deps": strList("left", "right"),
	})

	exp, err := h.g.ExpandOnce(context.Background(), prog, h.g.Configs.Default())
	require.NoError(t, err)

	link := exp.Outputs[0].Producer
	argv := argvStrings(t, link)
	count := 0
	for _, s := range argv {
		if s == "tmp/base/base.a" {
			count++
		}
	}
	assert.Equal(t, 1, count, "the shared archive appears exactly once on the link line")
}

func TestConfigurationVariablesSelectToolchain(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.g.Configs.Define("target", map[string]cty.Value{
		"cc": cty.StringVal("arm-cc"),
		"ar": cty.StringVal("arm-ar"),
		"ld": cty.StringVal("arm-ld"),
	})
	r := h.addRule(t, "foo", "binary", "foo", map[string]cty.Value{"srcs": strList("a.c")})

	exp, err := h.g.ExpandOnce(context.Background(), r, h.g.Configs.Default())
	require.NoError(t, err)

	link := exp.Outputs[0].Producer
	assert.Equal(t, "arm-ld", argvStrings(t, link)[0])
	compile := link.Inputs[0].Producer
	assert.Equal(t, "arm-cc", argvStrings(t, compile)[0])
}

func TestLibrary_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		attrs   map[string]cty.Value
		wantErr string
	}{
		{
			name:    "empty srcs",
			attrs:   map[string]cty.Value{"srcs": cty.ListValEmpty(cty.String)},
			wantErr: "srcs must not be empty",
		},
		{
			name:    "escaping source path",
			attrs:   map[string]cty.Value{"srcs": strList("../other/a.c")},
			wantErr: "outside the declaring package",
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			r := h.addRule(t, "p", "library", "x", tc.attrs)
			_, err := h.g.ExpandOnce(context.Background(), r, h.g.Configs.Default())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestBinary_RejectsNonLinkableDep(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	// A binary depending on another binary has nothing to link against.
	h.addRule(t, "tool", "binary", "tool", map[string]cty.Value{"srcs": strList("t.c")})
	r := h.addRule(t, "p", "binary", "x", map[string]cty.Value{
		"srcs": strList("a.c"),
		"deps": strList("tool"),
	})

	_, err := h.g.ExpandOnce(context.Background(), r, h.g.Configs.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing a native rule can consume")
}
