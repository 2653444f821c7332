package graph

import (
	"sync"

	"github.com/zclconf/go-cty/cty"

	"github.com/anvil-build/anvil/internal/label"
)

// ExpandState tracks a rule's expansion under one configuration.
type ExpandState int

const (
	Unexpanded ExpandState = iota
	Expanding
	Expanded
)

// AttrSpec declares one named argument of a rule type's schema.
type AttrSpec struct {
	Name string
	Type cty.Type

	// Default is applied when the argument is omitted. cty.NilVal means no
	// default; omitting a Required argument without a default is a
	// definition error.
	Default cty.Value

	Required bool
}

// RuleType is the fixed capability set a build-step category implements to
// plug into the engine: an argument schema, an expansion function, and the
// outputs it declares through the expansion context. The engine holds no
// type-specific logic.
type RuleType interface {
	Name() string
	Schema() []AttrSpec
	Expand(ec *ExpandContext) error
}

// Rule is a typed, named build step constructed when its package's build
// definition file is evaluated. Construction is cheap; the real work is
// deferred to expansion, which happens at most once per (rule,
// configuration) pair.
type Rule struct {
	Label    label.Label
	TypeName string
	Type     RuleType

	// Attrs are the raw attribute values from the build file, validated
	// against the type's schema at expansion time.
	Attrs map[string]cty.Value

	// Pos is the file:line of the defining block, for error messages.
	Pos string

	mu         sync.Mutex
	expansions map[string]*Expansion
}

// NewRule constructs an unexpanded rule. Only package loaders should call
// this.
func NewRule(l label.Label, t RuleType, attrs map[string]cty.Value, pos string) *Rule {
	return &Rule{
		Label:      l,
		TypeName:   t.Name(),
		Type:       t,
		Attrs:      attrs,
		Pos:        pos,
		expansions: make(map[string]*Expansion),
	}
}

// Expansion is the memoized result of expanding a rule under one
// configuration.
type Expansion struct {
	state ExpandState

	// Outputs are the artifacts built when the rule is named on the command
	// line.
	Outputs []*Artifact

	// Provider is an arbitrary capability value set by the rule type's
	// expansion; dependent rule types assert narrower interfaces on it.
	Provider any

	// Test is set for test-kind rules.
	Test *TestInfo

	err error
}

// Err returns the definition error the expansion failed with, if any.
func (e *Expansion) Err() error { return e.err }

// TestInfo records the artifacts a test rule's run action captures into.
type TestInfo struct {
	// Log receives the test's interleaved stdout and stderr; it is retained
	// on disk regardless of outcome.
	Log *Artifact

	// Status is the memory artifact holding the test process's exit status.
	Status *Artifact
}

// expansion returns the expansion record for a configuration, creating it
// unexpanded on first use, along with the state observed under the lock.
func (r *Rule) expansion(config string) (*Expansion, ExpandState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.expansions[config]
	if !ok {
		e = &Expansion{}
		r.expansions[config] = e
	}
	state := e.state
	if state == Unexpanded {
		e.state = Expanding
	}
	return e, state
}

func (r *Rule) finishExpansion(e *Expansion, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.err = err
	e.state = Expanded
}

// ExpandedOutputs returns the memoized outputs for a configuration, or nil
// if the rule has not been expanded under it.
func (r *Rule) ExpandedOutputs(config string) []*Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.expansions[config]; ok && e.state == Expanded {
		return e.Outputs
	}
	return nil
}
