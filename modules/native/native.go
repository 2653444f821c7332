// Package native provides the compiled-language rule types: library and
// binary. The compiler and linker come from the active configuration's vars,
// so the same rules cross-compile by expanding under a different
// configuration.
package native

import (
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the library and binary rule types.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&libraryType{})
	r.Register(&binaryType{})
}

// Linkable is the capability a rule offers when its artifacts can be linked
// into a binary. Libraries are returned in link order, own archive first.
type Linkable interface {
	LinkLibraries() []*graph.Artifact
}

// Executable is the capability a rule offers when it builds a runnable
// program.
type Executable interface {
	Executable() *graph.Artifact
	Runtime() []*graph.Artifact
}

// libProvider is the capability value a library publishes.
type libProvider struct {
	libs []*graph.Artifact
}

func (p *libProvider) LinkLibraries() []*graph.Artifact { return p.libs }

// binProvider is the capability value a binary publishes.
type binProvider struct {
	program *graph.Artifact
}

func (p *binProvider) Executable() *graph.Artifact { return p.program }
func (p *binProvider) Runtime() []*graph.Artifact  { return []*graph.Artifact{p.program} }

// deps walks the rule's deps, splitting them into link inputs and plain
// files. File-providing deps (generated headers and the like) become
// implicit inputs of every compile.
func deps(ec *graph.ExpandContext) (libs, files []*graph.Artifact, err error) {
	seen := make(map[*graph.Artifact]bool)
	for _, addr := range ec.Strings("deps") {
		exp, err := ec.Dep(addr)
		if err != nil {
			return nil, nil, err
		}
		switch p := exp.Provider.(type) {
		case Linkable:
			for _, lib := range p.LinkLibraries() {
				if !seen[lib] {
					seen[lib] = true
					libs = append(libs, lib)
				}
			}
		case graph.FileProvider:
			files = append(files, p.ProvidedFiles()...)
		default:
			return nil, nil, graph.Definitionf(ec.Label().String(),
				"dependency %q provides nothing a native rule can consume", addr)
		}
	}
	return libs, files, nil
}

// sourceInputs resolves the srcs list. A plain name is a file in the
// declaring package; a name containing ':' is a label whose provided files
// (generated sources, typically) are compiled alongside.
func sourceInputs(ec *graph.ExpandContext) ([]*graph.Artifact, error) {
	var srcs []*graph.Artifact
	for _, name := range ec.Strings("srcs") {
		if strings.Contains(name, ":") {
			exp, err := ec.Dep(name)
			if err != nil {
				return nil, err
			}
			fp, ok := exp.Provider.(graph.FileProvider)
			if !ok {
				return nil, graph.Definitionf(ec.Label().String(),
					"src %q does not provide files", name)
			}
			srcs = append(srcs, fp.ProvidedFiles()...)
			continue
		}
		src, err := ec.SourceArtifact(name)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, src)
	}
	if len(srcs) == 0 {
		return nil, graph.Definitionf(ec.Label().String(), "srcs must not be empty")
	}
	return srcs, nil
}

// compile emits one compile action per source and returns the objects.
func compile(ec *graph.ExpandContext, srcs, headers []*graph.Artifact) ([]*graph.Artifact, error) {
	cc := ec.Config().StringVar("cc", "cc")
	objs := make([]*graph.Artifact, 0, len(srcs))
	for _, src := range srcs {
		action := ec.Action("compile", src.Path, []*graph.Artifact{src}, headers)
		obj, err := ec.DerivedArtifact(src, ".o", action)
		if err != nil {
			return nil, err
		}
		_, err = action.SetCommand(
			graph.Lit(cc), graph.Lit("-c"), graph.File(src),
			graph.Lit("-o"), graph.File(obj))
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

type libraryType struct{}

func (*libraryType) Name() string { return "library" }

func (*libraryType) Schema() []graph.AttrSpec {
	return []graph.AttrSpec{
		{Name: "srcs", Type: cty.List(cty.String), Required: true},
		{Name: "deps", Type: cty.List(cty.String)},
	}
}

func (*libraryType) Expand(ec *graph.ExpandContext) error {
	depLibs, depFiles, err := deps(ec)
	if err != nil {
		return err
	}
	srcs, err := sourceInputs(ec)
	if err != nil {
		return err
	}
	objs, err := compile(ec, srcs, depFiles)
	if err != nil {
		return err
	}

	ar := ec.Config().StringVar("ar", "ar")
	archive := ec.Action("archive", "", objs, nil)
	lib, err := ec.IntermediateArtifact(ec.Label().Name+".a", archive)
	if err != nil {
		return err
	}
	argv := []graph.Arg{graph.Lit(ar), graph.Lit("rcs"), graph.File(lib)}
	for _, obj := range objs {
		argv = append(argv, graph.File(obj))
	}
	if _, err := archive.SetCommand(argv...); err != nil {
		return err
	}

	ec.SetOutputs(lib)
	ec.SetProvider(&libProvider{libs: append([]*graph.Artifact{lib}, depLibs...)})
	return nil
}

type binaryType struct{}

func (*binaryType) Name() string { return "binary" }

func (*binaryType) Schema() []graph.AttrSpec {
	return []graph.AttrSpec{
		{Name: "srcs", Type: cty.List(cty.String), Required: true},
		{Name: "deps", Type: cty.List(cty.String)},
	}
}

func (*binaryType) Expand(ec *graph.ExpandContext) error {
	depLibs, depFiles, err := deps(ec)
	if err != nil {
		return err
	}
	srcs, err := sourceInputs(ec)
	if err != nil {
		return err
	}
	objs, err := compile(ec, srcs, depFiles)
	if err != nil {
		return err
	}

	ld := ec.Config().StringVar("ld", "cc")
	inputs := append(append([]*graph.Artifact{}, objs...), depLibs...)
	link := ec.Action("link", "", inputs, nil)
	bin, err := ec.OutputArtifact("bin", ec.Label().Name, link)
	if err != nil {
		return err
	}
	argv := []graph.Arg{graph.Lit(ld), graph.Lit("-o"), graph.File(bin)}
	for _, in := range inputs {
		argv = append(argv, graph.File(in))
	}
	if _, err := link.SetCommand(argv...); err != nil {
		return err
	}

	ec.SetOutputs(bin)
	ec.SetProvider(&binProvider{program: bin})
	return nil
}
