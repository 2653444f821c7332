package loader

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/label"
)

// ResolveTargets resolves a command-line target address to concrete rules.
// A bare package address yields every public named rule in the package; a
// recursive address walks the package's directory subtree, the one place
// recursive directory scanning is permitted.
func (l *Loader) ResolveTargets(ctx context.Context, lbl label.Label) ([]*graph.Rule, error) {
	if lbl.Recursive {
		return l.resolveRecursive(ctx, lbl)
	}

	pkg, err := l.Load(ctx, lbl.Pkg)
	if err != nil {
		return nil, err
	}

	if lbl.Name == "" {
		rules := publicRules(pkg)
		if len(rules) == 0 {
			return nil, graph.Definitionf(lbl.String(), "package has no public rules")
		}
		return rules, nil
	}

	r := pkg.Rule(lbl.Name)
	if r == nil {
		return nil, graph.Definitionf(lbl.String(), "no such rule in package %q", lbl.Pkg)
	}
	return []*graph.Rule{r}, nil
}

func (l *Loader) resolveRecursive(ctx context.Context, lbl label.Label) ([]*graph.Rule, error) {
	base := filepath.Join(l.root, "src", filepath.FromSlash(lbl.Pkg))
	var rules []*graph.Rule

	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != BuildFileName {
			return nil
		}
		rel, err := filepath.Rel(filepath.Join(l.root, "src"), filepath.Dir(p))
		if err != nil {
			return err
		}
		pkgPath := path.Clean(strings.ReplaceAll(rel, string(filepath.Separator), "/"))
		if pkgPath == "." {
			pkgPath = ""
		}
		pkg, err := l.Load(ctx, pkgPath)
		if err != nil {
			return err
		}
		rules = append(rules, publicRules(pkg)...)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, graph.Definitionf(lbl.String(), "no such package directory")
		}
		if _, ok := err.(*graph.LoadError); ok {
			return nil, err
		}
		if _, ok := err.(*graph.DefinitionError); ok {
			return nil, err
		}
		return nil, &graph.LoadError{Pkg: lbl.Pkg, Err: err}
	}
	if len(rules) == 0 {
		return nil, graph.Definitionf(lbl.String(), "no rules found under %q", lbl.Pkg)
	}
	return rules, nil
}

func publicRules(pkg *graph.Package) []*graph.Rule {
	var out []*graph.Rule
	for _, r := range pkg.Rules() {
		if !r.Label.IsPrivate() {
			out = append(out, r)
		}
	}
	return out
}
