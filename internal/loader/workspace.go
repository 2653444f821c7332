package loader

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/anvil-build/anvil/internal/graph"
)

// WorkspaceFileName is the optional workspace-level definition file at the
// root of the tree, declaring named build configurations.
const WorkspaceFileName = "anvil.hcl"

type workspaceFile struct {
	Configurations []*configurationBlock `hcl:"configuration,block"`
}

type configurationBlock struct {
	Name string    `hcl:"name,label"`
	Vars cty.Value `hcl:"vars,optional"`
}

// LoadWorkspace reads the workspace definition file, if present, and
// installs its configurations into the set. The built-in target and host
// configurations apply when the file is absent or does not mention them.
func LoadWorkspace(root string, configs *graph.ConfigSet) error {
	file := filepath.Join(root, WorkspaceFileName)
	src, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading workspace definition: %w", err)
	}

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, file)
	if diags.HasErrors() {
		return fmt.Errorf("parsing workspace definition: %w", diags)
	}

	var ws workspaceFile
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &ws); diags.HasErrors() {
		return fmt.Errorf("decoding workspace definition: %w", diags)
	}

	for _, block := range ws.Configurations {
		vars := make(map[string]cty.Value)
		if block.Vars != cty.NilVal && !block.Vars.IsNull() {
			if !block.Vars.Type().IsObjectType() && !block.Vars.Type().IsMapType() {
				return fmt.Errorf("configuration %q: vars must be an object", block.Name)
			}
			for it := block.Vars.ElementIterator(); it.Next(); {
				k, v := it.Element()
				vars[k.AsString()] = v
			}
		}
		configs.Define(block.Name, vars)
	}
	return nil
}
