package graph

import (
	"context"
	"path"

	"github.com/anvil-build/anvil/internal/label"
)

// Package is a directory-scoped unit of build definitions. It is loaded at
// most once per invocation and immutable once loaded.
type Package struct {
	Path  string
	rules map[string]*Rule
	order []string
}

// NewPackage returns an empty package for the given path.
func NewPackage(path string) *Package {
	return &Package{Path: path, rules: make(map[string]*Rule)}
}

// AddRule registers a rule under the package's namespace. Duplicate names
// are a definition error.
func (p *Package) AddRule(r *Rule) error {
	name := r.Label.Name
	if _, ok := p.rules[name]; ok {
		return Definitionf(r.Label.String(), "rule %q defined twice in package %q", name, p.Path)
	}
	p.rules[name] = r
	p.order = append(p.order, name)
	return nil
}

// Rule returns the named rule, or nil.
func (p *Package) Rule(name string) *Rule {
	return p.rules[name]
}

// Rules returns the package's rules in declaration order.
func (p *Package) Rules() []*Rule {
	out := make([]*Rule, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.rules[name])
	}
	return out
}

// PackageLoader lazily loads a package's build definition file on first
// reference. Implementations must memoize per path and be safe against
// concurrent first-touch.
type PackageLoader interface {
	Load(ctx context.Context, pkgPath string) (*Package, error)
}

// Graph owns the invocation-scoped build state: the artifact store, the
// configuration set, and the lazily populated rule namespace. It is
// constructed at invocation start and discarded at invocation end; there are
// no process-wide caches.
type Graph struct {
	Store   *Store
	Configs *ConfigSet

	loader PackageLoader
}

// New returns a graph over the given store and configuration set.
func New(store *Store, configs *ConfigSet) *Graph {
	return &Graph{Store: store, Configs: configs}
}

// SetLoader attaches the package loader. Done after construction because the
// loader also needs the graph to register rules into.
func (g *Graph) SetLoader(l PackageLoader) {
	g.loader = l
}

// ResolveRule resolves a dependency label to its rule, lazily loading the
// declaring package. A bare package path is shorthand for the rule named
// after the package's last path element, so deps = ["foo/bar"] resolves
// foo/bar:bar. fromPkg is the package the reference appears in; a reference
// from another package to a private (underscore-prefixed) rule is a
// definition error.
func (g *Graph) ResolveRule(ctx context.Context, l label.Label, fromPkg string) (*Rule, error) {
	if l.Recursive {
		return nil, Definitionf(l.String(), "a dependency must name a single rule")
	}
	if l.Name == "" {
		if l.Pkg == "" {
			return nil, Definitionf(l.String(), "a dependency must name a single rule")
		}
		l.Name = path.Base(l.Pkg)
	}
	if l.IsPrivate() && l.Pkg != fromPkg {
		return nil, Definitionf(l.String(), "rule is private to package %q", l.Pkg)
	}

	pkg, err := g.loader.Load(ctx, l.Pkg)
	if err != nil {
		return nil, err
	}
	r := pkg.Rule(l.Name)
	if r == nil {
		return nil, Definitionf(l.String(), "no such rule in package %q", l.Pkg)
	}
	return r, nil
}

// ActionClosure walks producer edges from the given artifacts and returns
// every action required to produce them, deduplicated.
func ActionClosure(artifacts []*Artifact) []*Action {
	seen := make(map[*Action]bool)
	var closure []*Action

	var visit func(a *Artifact)
	visit = func(a *Artifact) {
		act := a.Producer
		if act == nil || seen[act] {
			return
		}
		seen[act] = true
		for _, in := range act.AllInputs() {
			visit(in)
		}
		closure = append(closure, act)
	}

	for _, a := range artifacts {
		visit(a)
	}
	return closure
}
