// Package loader lazily parses build definition files. A package's
// BUILD.hcl is evaluated exactly once per invocation, on first reference,
// and never re-read; packages that no requested target reaches are never
// parsed at all.
package loader

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/anvil-build/anvil/internal/ctxlog"
	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/label"
	"github.com/anvil-build/anvil/internal/registry"
)

// BuildFileName is the per-package build definition file.
const BuildFileName = "BUILD.hcl"

// Loader memoizes package loads per path and is safe against concurrent
// first-touch from independent expansion branches.
type Loader struct {
	graph *graph.Graph
	reg   *registry.Registry
	root  string

	mu       sync.Mutex
	packages map[string]*loadEntry
}

type loadEntry struct {
	done chan struct{}
	pkg  *graph.Package
	err  error
}

// New creates a loader rooted at the workspace directory (the directory
// containing src) and attaches it to the graph.
func New(g *graph.Graph, reg *registry.Registry, root string) *Loader {
	l := &Loader{
		graph:    g,
		reg:      reg,
		root:     root,
		packages: make(map[string]*loadEntry),
	}
	g.SetLoader(l)
	return l
}

// Root returns the workspace root directory.
func (l *Loader) Root() string { return l.root }

// Load parses the package's build definition file on first call and returns
// the memoized package thereafter. A failure to load is memoized too: the
// package is broken for the whole invocation, but unrelated packages are
// untouched.
func (l *Loader) Load(ctx context.Context, pkgPath string) (*graph.Package, error) {
	cleaned := path.Clean(strings.ReplaceAll(pkgPath, "\\", "/"))
	if cleaned == "." {
		cleaned = ""
	}
	if pkgPath != cleaned && pkgPath != "" {
		return nil, &graph.LoadError{Pkg: pkgPath, Err: fmt.Errorf("package path is not normalized, use %q", cleaned)}
	}
	if strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, "/") {
		return nil, &graph.LoadError{Pkg: pkgPath, Err: fmt.Errorf("package path is not within the source root")}
	}

	l.mu.Lock()
	if e, ok := l.packages[cleaned]; ok {
		l.mu.Unlock()
		<-e.done
		return e.pkg, e.err
	}
	e := &loadEntry{done: make(chan struct{})}
	l.packages[cleaned] = e
	l.mu.Unlock()

	ctxlog.FromContext(ctx).Debug("Loading package.", "package", cleaned)
	e.pkg, e.err = l.parsePackage(cleaned)
	close(e.done)
	return e.pkg, e.err
}

// Loaded reports whether a package has been parsed during this invocation.
// Test hook for the laziness guarantee.
func (l *Loader) Loaded(pkgPath string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.packages[pkgPath]
	return ok
}

func (l *Loader) parsePackage(pkgPath string) (*graph.Package, error) {
	file := filepath.Join(l.root, "src", filepath.FromSlash(pkgPath), BuildFileName)
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, &graph.LoadError{Pkg: pkgPath, Err: err}
	}

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, file)
	if diags.HasErrors() {
		return nil, &graph.LoadError{Pkg: pkgPath, Err: diags}
	}

	body, ok := hclFile.Body.(*hclsyntax.Body)
	if !ok {
		return nil, &graph.LoadError{Pkg: pkgPath, Err: fmt.Errorf("unexpected body type %T", hclFile.Body)}
	}

	pkg := graph.NewPackage(pkgPath)
	for name := range body.Attributes {
		return nil, &graph.LoadError{Pkg: pkgPath,
			Err: fmt.Errorf("unexpected top-level attribute %q; build files contain only rule blocks", name)}
	}
	for _, block := range body.Blocks {
		if err := l.addRule(pkg, pkgPath, block); err != nil {
			return nil, err
		}
	}
	return pkg, nil
}

func (l *Loader) addRule(pkg *graph.Package, pkgPath string, block *hclsyntax.Block) error {
	ruleType, ok := l.reg.Lookup(block.Type)
	if !ok {
		return &graph.LoadError{Pkg: pkgPath,
			Err: fmt.Errorf("%s: unknown rule type %q; registered types are %s",
				rangeString(block.TypeRange), block.Type, strings.Join(l.reg.Names(), ", "))}
	}
	if len(block.Labels) != 1 || block.Labels[0] == "" {
		return &graph.LoadError{Pkg: pkgPath,
			Err: fmt.Errorf("%s: a %q block needs exactly one name label", rangeString(block.TypeRange), block.Type)}
	}

	ruleLabel := label.Label{Pkg: pkgPath, Name: block.Labels[0]}

	// Attribute values are literals; there is no expression scope in build
	// files, so evaluation happens against an empty context.
	attrs := make(map[string]cty.Value, len(block.Body.Attributes))
	for name, attr := range block.Body.Attributes {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return graph.Definitionf(ruleLabel.String(), "argument %q: %s", name, diags.Error())
		}
		attrs[name] = v
	}
	for _, nested := range block.Body.Blocks {
		return graph.Definitionf(ruleLabel.String(), "unexpected nested block %q", nested.Type)
	}

	rule := graph.NewRule(ruleLabel, ruleType, attrs, rangeString(block.TypeRange))
	if err := pkg.AddRule(rule); err != nil {
		return err
	}
	return nil
}

func rangeString(r hcl.Range) string {
	return fmt.Sprintf("%s:%d", r.Filename, r.Start.Line)
}
