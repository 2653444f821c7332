// Package filegroup provides a rule type that names a set of source files so
// dependents can consume them as a unit.
package filegroup

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the filegroup rule type.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&filegroupType{})
}

type files struct {
	srcs []*graph.Artifact
}

func (f *files) ProvidedFiles() []*graph.Artifact { return f.srcs }

type filegroupType struct{}

func (*filegroupType) Name() string { return "filegroup" }

func (*filegroupType) Schema() []graph.AttrSpec {
	return []graph.AttrSpec{
		{Name: "srcs", Type: cty.List(cty.String), Required: true},
	}
}

func (*filegroupType) Expand(ec *graph.ExpandContext) error {
	names := ec.Strings("srcs")
	if len(names) == 0 {
		return graph.Definitionf(ec.Label().String(), "srcs must not be empty")
	}
	srcs := make([]*graph.Artifact, 0, len(names))
	for _, name := range names {
		src, err := ec.SourceArtifact(name)
		if err != nil {
			return err
		}
		srcs = append(srcs, src)
	}
	ec.SetOutputs(srcs...)
	ec.SetProvider(&files{srcs: srcs})
	return nil
}
