// Package sh provides shell rule types: sh_binary installs a script, and
// sh_test runs one as a test. sh_test is the cheapest end-to-end test
// vehicle the engine ships with.
package sh

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the sh_binary and sh_test rule types.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&binaryType{})
	r.Register(&testType{})
}

// provider publishes the installed script as an executable.
type provider struct {
	program *graph.Artifact
}

func (p *provider) Executable() *graph.Artifact { return p.program }
func (p *provider) Runtime() []*graph.Artifact  { return []*graph.Artifact{p.program} }

type binaryType struct{}

func (*binaryType) Name() string { return "sh_binary" }

func (*binaryType) Schema() []graph.AttrSpec {
	return []graph.AttrSpec{
		{Name: "src", Type: cty.String, Required: true},
	}
}

func (*binaryType) Expand(ec *graph.ExpandContext) error {
	src, err := ec.SourceArtifact(ec.String("src"))
	if err != nil {
		return err
	}
	install := ec.Action("install", "", []*graph.Artifact{src}, nil)
	bin, err := ec.OutputArtifact("bin", ec.Label().Name, install)
	if err != nil {
		return err
	}
	if _, err := install.SetCommand(graph.Lit("cp"), graph.File(src), graph.File(bin)); err != nil {
		return err
	}
	ec.SetOutputs(bin)
	ec.SetProvider(&provider{program: bin})
	return nil
}

// runtimeProvider is asserted on deps whose artifacts a test needs on disk
// before it runs.
type runtimeProvider interface {
	Runtime() []*graph.Artifact
}

type testType struct{}

func (*testType) Name() string { return "sh_test" }

func (*testType) Schema() []graph.AttrSpec {
	return []graph.AttrSpec{
		{Name: "src", Type: cty.String, Required: true},
		{Name: "deps", Type: cty.List(cty.String)},
		{Name: "args", Type: cty.List(cty.String)},
	}
}

func (*testType) Expand(ec *graph.ExpandContext) error {
	src, err := ec.SourceArtifact(ec.String("src"))
	if err != nil {
		return err
	}

	var implicit []*graph.Artifact
	for _, addr := range ec.Strings("deps") {
		exp, err := ec.Dep(addr)
		if err != nil {
			return err
		}
		switch p := exp.Provider.(type) {
		case runtimeProvider:
			implicit = append(implicit, p.Runtime()...)
		case graph.FileProvider:
			implicit = append(implicit, p.ProvidedFiles()...)
		default:
			return graph.Definitionf(ec.Label().String(),
				"dependency %q provides nothing a test can run against", addr)
		}
	}

	run := ec.Action("test", "", []*graph.Artifact{src}, implicit)
	log, err := ec.IntermediateArtifact(ec.Label().Name+".log", run)
	if err != nil {
		return err
	}
	status, err := ec.MemoryArtifact(ec.Label().Name+".status", run)
	if err != nil {
		return err
	}

	argv := []graph.Arg{graph.Lit("sh"), graph.File(src)}
	for _, lit := range ec.Strings("args") {
		argv = append(argv, graph.Lit(lit))
	}
	cmd, err := run.SetCommand(argv...)
	if err != nil {
		return err
	}
	if err := cmd.CaptureStdout(run, log, true); err != nil {
		return err
	}
	if err := cmd.CaptureExitStatus(run, status); err != nil {
		return err
	}

	ec.SetOutputs(log)
	return ec.MarkTest(log, status)
}
