// Package genrule provides the escape-hatch rule type: run an arbitrary
// built tool over inputs to generate files. The tool itself always expands
// under the host configuration, so a cross-compiled build still runs its
// generators on the machine doing the building.
package genrule

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the genrule rule type.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&genruleType{})
}

// executable is asserted on the tool's provider; any rule type that builds a
// runnable program satisfies it.
type executable interface {
	Executable() *graph.Artifact
	Runtime() []*graph.Artifact
}

// files is the capability genrule publishes for its generated outputs.
type files struct {
	outs []*graph.Artifact
}

func (f *files) ProvidedFiles() []*graph.Artifact { return f.outs }

type genruleType struct{}

func (*genruleType) Name() string { return "genrule" }

func (*genruleType) Schema() []graph.AttrSpec {
	return []graph.AttrSpec{
		{Name: "tool", Type: cty.String, Required: true},
		{Name: "srcs", Type: cty.List(cty.String)},
		{Name: "args", Type: cty.List(cty.String)},
		{Name: "outs", Type: cty.List(cty.String), Required: true},
	}
}

func (*genruleType) Expand(ec *graph.ExpandContext) error {
	toolExp, err := ec.DepFor(ec.String("tool"), graph.HostConfig)
	if err != nil {
		return err
	}
	tool, ok := toolExp.Provider.(executable)
	if !ok {
		return graph.Definitionf(ec.Label().String(),
			"tool %q does not build an executable", ec.String("tool"))
	}

	var srcs []*graph.Artifact
	for _, name := range ec.Strings("srcs") {
		src, err := ec.SourceArtifact(name)
		if err != nil {
			return err
		}
		srcs = append(srcs, src)
	}

	outNames := ec.Strings("outs")
	if len(outNames) == 0 {
		return graph.Definitionf(ec.Label().String(), "outs must not be empty")
	}

	inputs := append([]*graph.Artifact{tool.Executable()}, srcs...)
	var implicit []*graph.Artifact
	for _, art := range tool.Runtime() {
		if art != tool.Executable() {
			implicit = append(implicit, art)
		}
	}
	generate := ec.Action("generate", "", inputs, implicit)

	outs := make([]*graph.Artifact, 0, len(outNames))
	for _, name := range outNames {
		out, err := ec.IntermediateArtifact(name, generate)
		if err != nil {
			return err
		}
		outs = append(outs, out)
	}

	argv := []graph.Arg{graph.File(tool.Executable())}
	for _, lit := range ec.Strings("args") {
		argv = append(argv, graph.Lit(lit))
	}
	for _, src := range srcs {
		argv = append(argv, graph.File(src))
	}
	for _, out := range outs {
		argv = append(argv, graph.File(out))
	}
	if _, err := generate.SetCommand(argv...); err != nil {
		return err
	}

	ec.SetOutputs(outs...)
	ec.SetProvider(&files{outs: outs})
	return nil
}
