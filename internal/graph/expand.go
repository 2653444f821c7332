package graph

import (
	"context"
	"path"
	"sort"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/anvil-build/anvil/internal/ctxlog"
	"github.com/anvil-build/anvil/internal/label"
)

// ExpandOnce expands a rule under a configuration. The first call validates
// the rule's arguments against its type's schema, recursively expands its
// dependencies, and runs the type-specific expansion logic; subsequent calls
// return the memoized result at zero cost. A re-entrant attempt while the
// rule is still expanding is a dependency cycle and fails with a definition
// error instead of recursing forever.
func (g *Graph) ExpandOnce(ctx context.Context, r *Rule, config *Configuration) (*Expansion, error) {
	exp, state := r.expansion(config.Name)
	switch state {
	case Expanded:
		return exp, exp.err
	case Expanding:
		err := Definitionf(r.Label.String(), "dependency cycle detected while expanding under configuration %q", config.Name)
		return nil, err
	}

	logger := ctxlog.FromContext(ctx)
	logger.Debug("Expanding rule.", "rule", r.Label.String(), "type", r.TypeName, "config", config.Name)

	err := g.expand(ctx, r, config, exp)
	r.finishExpansion(exp, err)
	if err != nil {
		logger.Debug("Rule expansion failed.", "rule", r.Label.String(), "error", err)
		return exp, err
	}
	return exp, nil
}

func (g *Graph) expand(ctx context.Context, r *Rule, config *Configuration, exp *Expansion) error {
	attrs, err := validateAttrs(r)
	if err != nil {
		return err
	}

	ec := &ExpandContext{
		ctx:    ctx,
		graph:  g,
		rule:   r,
		config: config,
		attrs:  attrs,
		exp:    exp,
	}
	return r.Type.Expand(ec)
}

// validateAttrs checks the raw attribute values against the rule type's
// schema, coercing types and applying defaults. Unknown, missing-required
// and type-mismatched arguments are definition errors naming the rule.
func validateAttrs(r *Rule) (map[string]cty.Value, error) {
	schema := r.Type.Schema()
	known := make(map[string]bool, len(schema))
	out := make(map[string]cty.Value, len(schema))

	for _, spec := range schema {
		known[spec.Name] = true

		raw, ok := r.Attrs[spec.Name]
		if !ok {
			if spec.Default != cty.NilVal {
				out[spec.Name] = spec.Default
				continue
			}
			if spec.Required {
				return nil, Definitionf(r.Label.String(), "missing required argument %q", spec.Name)
			}
			out[spec.Name] = cty.NullVal(spec.Type)
			continue
		}

		converted, err := convert.Convert(raw, spec.Type)
		if err != nil {
			return nil, Definitionf(r.Label.String(), "argument %q: cannot use %s value where %s is required",
				spec.Name, raw.Type().FriendlyName(), spec.Type.FriendlyName())
		}
		out[spec.Name] = converted
	}

	var extra []string
	for name := range r.Attrs {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, Definitionf(r.Label.String(), "unknown argument %q for rule type %q", extra[0], r.TypeName)
	}
	return out, nil
}

// ExpandContext is handed to a rule type's expansion function. It provides
// validated argument access, artifact and action construction scoped to the
// declaring package, dependency expansion, and the active configuration.
type ExpandContext struct {
	ctx    context.Context
	graph  *Graph
	rule   *Rule
	config *Configuration
	attrs  map[string]cty.Value
	exp    *Expansion
}

// Label returns the expanding rule's label.
func (ec *ExpandContext) Label() label.Label { return ec.rule.Label }

// Config returns the configuration the rule is being expanded under.
func (ec *ExpandContext) Config() *Configuration { return ec.config }

// Attr returns a validated argument value.
func (ec *ExpandContext) Attr(name string) cty.Value { return ec.attrs[name] }

// String returns a string argument, or "" when null.
func (ec *ExpandContext) String(name string) string {
	v := ec.attrs[name]
	if v.IsNull() {
		return ""
	}
	return v.AsString()
}

// Strings returns a list-of-string argument, or nil when null.
func (ec *ExpandContext) Strings(name string) []string {
	v := ec.attrs[name]
	if v.IsNull() {
		return nil
	}
	var out []string
	if err := gocty.FromCtyValue(v, &out); err != nil {
		return nil
	}
	return out
}

// Bool returns a bool argument; null is false.
func (ec *ExpandContext) Bool(name string) bool {
	v := ec.attrs[name]
	return !v.IsNull() && v.True()
}

// Action constructs a new action owned by the expanding rule. name defaults
// to the rule's label when empty.
func (ec *ExpandContext) Action(verb, name string, inputs, implicit []*Artifact) *Action {
	if name == "" {
		name = ec.rule.Label.String()
	}
	return &Action{
		Rule:     ec.rule,
		Verb:     verb,
		Name:     name,
		Inputs:   inputs,
		Implicit: implicit,
	}
}

// SourceArtifact returns the artifact for a source file named relative to
// the declaring package's directory.
func (ec *ExpandContext) SourceArtifact(name string) (*Artifact, error) {
	if err := validateArtifactName(ec.rule.Label.String(), name); err != nil {
		return nil, err
	}
	return ec.graph.Store.Source(path.Join(ec.rule.Label.Pkg, name)), nil
}

// IntermediateArtifact returns a derived artifact under the package's tmp
// namespace, produced by the given action.
func (ec *ExpandContext) IntermediateArtifact(name string, producer *Action) (*Artifact, error) {
	if err := validateArtifactName(ec.rule.Label.String(), name); err != nil {
		return nil, err
	}
	return ec.graph.Store.derived(DerivedArtifact, ec.config.Name, path.Join(ec.rule.Label.Pkg, name), producer)
}

// DerivedArtifact returns the artifact whose path is the parent's path
// transformed with a suffix, produced by the given action. Identical
// (parent, suffix, configuration) requests from independent expansions
// converge on the same artifact.
func (ec *ExpandContext) DerivedArtifact(parent *Artifact, suffix string, producer *Action) (*Artifact, error) {
	return ec.graph.Store.derived(DerivedArtifact, ec.config.Name, parent.Rel+suffix, producer)
}

// MemoryArtifact returns an in-memory artifact under the package's mem
// namespace, produced by the given action.
func (ec *ExpandContext) MemoryArtifact(name string, producer *Action) (*Artifact, error) {
	if err := validateArtifactName(ec.rule.Label.String(), name); err != nil {
		return nil, err
	}
	return ec.graph.Store.derived(MemoryArtifact, ec.config.Name, path.Join(ec.rule.Label.Pkg, name), producer)
}

// OutputArtifact returns a final artifact under one of the installable
// output directories.
func (ec *ExpandContext) OutputArtifact(dir, name string, producer *Action) (*Artifact, error) {
	if !outputDirs[dir] {
		return nil, Definitionf(ec.rule.Label.String(), "%q is not a valid output directory", dir)
	}
	if err := validateArtifactName(ec.rule.Label.String(), name); err != nil {
		return nil, err
	}
	return ec.graph.Store.derived(OutputArtifact, ec.config.Name, path.Join(dir, name), producer)
}

// Dep resolves and expands a dependency label under the same configuration.
func (ec *ExpandContext) Dep(addr string) (*Expansion, error) {
	return ec.DepFor(addr, ec.config.Name)
}

// DepFor resolves and expands a dependency label under a named
// configuration. This is how the host/target split is expressed: a rule's
// tools expand under the host configuration while the rule itself expands
// under the target configuration.
func (ec *ExpandContext) DepFor(addr, configName string) (*Expansion, error) {
	l, err := label.Parse(addr, ec.rule.Label.Pkg)
	if err != nil {
		return nil, Definitionf(ec.rule.Label.String(), "invalid dependency %q: %v", addr, err)
	}
	dep, err := ec.graph.ResolveRule(ec.ctx, l, ec.rule.Label.Pkg)
	if err != nil {
		return nil, err
	}
	config, err := ec.graph.Configs.Get(configName)
	if err != nil {
		return nil, Definitionf(ec.rule.Label.String(), "dependency %q: %v", addr, err)
	}
	return ec.graph.ExpandOnce(ec.ctx, dep, config)
}

// SetOutputs records the rule's declared outputs.
func (ec *ExpandContext) SetOutputs(artifacts ...*Artifact) {
	ec.exp.Outputs = append(ec.exp.Outputs, artifacts...)
}

// SetProvider records the capability value dependents may assert on.
func (ec *ExpandContext) SetProvider(p any) {
	ec.exp.Provider = p
}

// MarkTest flags the rule as a test, recording the log artifact its run
// action writes interleaved output to and the memory artifact holding the
// exit status.
func (ec *ExpandContext) MarkTest(log, status *Artifact) error {
	if !status.InMemory() {
		return Definitionf(ec.rule.Label.String(), "test status artifact %q must be a memory artifact", status.Path)
	}
	ec.exp.Test = &TestInfo{Log: log, Status: status}
	return nil
}
