package graph

import (
	"fmt"
	"sync/atomic"
)

// ActionState tracks an action through one invocation.
type ActionState int32

const (
	ActionPending ActionState = iota
	ActionReady
	ActionRunning
	ActionSucceeded
	ActionFailed

	// ActionBlocked means an upstream action failed, so this one was skipped
	// and reported rather than run.
	ActionBlocked
)

func (s ActionState) String() string {
	switch s {
	case ActionPending:
		return "pending"
	case ActionReady:
		return "ready"
	case ActionRunning:
		return "running"
	case ActionSucceeded:
		return "succeeded"
	case ActionFailed:
		return "failed"
	case ActionBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("ActionState(%d)", int32(s))
	}
}

// Action is a unit of executable work with explicit inputs, implicit inputs
// and declared outputs. Implicit inputs participate in dependency ordering
// but are never named in the command's arguments, e.g. generated headers
// that must exist before a compile. An action executes at most once per
// invocation.
type Action struct {
	Rule *Rule

	// Verb and Name form the console message for the action, like
	// "compile foo/a.c" or "test foo:prog_test".
	Verb string
	Name string

	Inputs   []*Artifact
	Implicit []*Artifact
	Outputs  []*Artifact

	Command *Command

	state atomic.Int32

	// Err records why the action failed or was blocked.
	Err error
}

func (a *Action) addOutput(art *Artifact) {
	a.Outputs = append(a.Outputs, art)
}

// State returns the action's current execution state.
func (a *Action) State() ActionState {
	return ActionState(a.state.Load())
}

// SetState transitions the action's execution state.
func (a *Action) SetState(s ActionState) {
	a.state.Store(int32(s))
}

// AllInputs returns the explicit and implicit inputs together.
func (a *Action) AllInputs() []*Artifact {
	all := make([]*Artifact, 0, len(a.Inputs)+len(a.Implicit))
	all = append(all, a.Inputs...)
	all = append(all, a.Implicit...)
	return all
}

// Describe returns the console form of the action, "verb name".
func (a *Action) Describe() string {
	return a.Verb + " " + a.Name
}

// DirToken names a root directory substituted into a command argument at
// execution time.
type DirToken int

const (
	SourceRoot DirToken = iota
	IntermediateRoot
	OutputRoot
)

func (t DirToken) String() string {
	switch t {
	case SourceRoot:
		return "src"
	case IntermediateRoot:
		return "tmp"
	default:
		return "out"
	}
}

// ArgKind discriminates the variants of a command argument.
type ArgKind int

const (
	// ArgLiteral is a verbatim string.
	ArgLiteral ArgKind = iota
	// ArgArtifact resolves to the artifact's on-disk path at execution time.
	ArgArtifact
	// ArgContents expands to the whitespace-split contents of an input
	// artifact at execution time.
	ArgContents
	// ArgDir resolves to a configured root directory.
	ArgDir
)

// Arg is one element of a command's argument vector.
type Arg struct {
	Kind     ArgKind
	Lit      string
	Artifact *Artifact
	Token    DirToken
}

// Lit returns a literal string argument.
func Lit(s string) Arg { return Arg{Kind: ArgLiteral, Lit: s} }

// File returns an argument that resolves to the artifact's disk path.
func File(a *Artifact) Arg { return Arg{Kind: ArgArtifact, Artifact: a} }

// Contents returns an argument that expands to the whitespace-split contents
// of the artifact.
func Contents(a *Artifact) Arg { return Arg{Kind: ArgContents, Artifact: a} }

// Dir returns a directory-substitution argument.
func Dir(t DirToken) Arg { return Arg{Kind: ArgDir, Token: t} }

// Command is an executable invocation: a program path followed by arguments,
// plus optional capture directives. The first element of Argv is the
// program.
type Command struct {
	Argv []Arg

	// Stdout and Stderr, when set, redirect the corresponding stream into an
	// artifact. Pointing both at the same artifact interleaves them.
	Stdout *Artifact
	Stderr *Artifact

	// ExitStatus, when set, captures the process exit status (as decimal
	// text) into a memory artifact; the action then succeeds regardless of
	// the exit code.
	ExitStatus *Artifact
}

// SetCommand attaches the command implementing the action. Every artifact
// referenced in the argument vector must be listed among the action's inputs
// or outputs.
func (a *Action) SetCommand(argv ...Arg) (*Command, error) {
	for _, arg := range argv {
		switch arg.Kind {
		case ArgArtifact:
			if !a.references(arg.Artifact) {
				return nil, Definitionf(a.Rule.Label.String(),
					"artifact %q used in command was not listed among inputs or outputs", arg.Artifact.Path)
			}
			if arg.Artifact.InMemory() {
				return nil, Definitionf(a.Rule.Label.String(),
					"memory artifact %q has no disk path; pass its contents instead", arg.Artifact.Path)
			}
		case ArgContents:
			if !a.isInput(arg.Artifact) {
				return nil, Definitionf(a.Rule.Label.String(),
					"artifact %q used as command contents was not listed among inputs", arg.Artifact.Path)
			}
		}
	}
	a.Command = &Command{Argv: argv}
	return a.Command, nil
}

// CaptureStdout redirects the command's standard output into the given
// artifact, which must be produced by this action. If includeStderr is set,
// stderr is interleaved into the same artifact.
func (c *Command) CaptureStdout(a *Action, art *Artifact, includeStderr bool) error {
	if art.Producer != a {
		return Definitionf(a.Rule.Label.String(),
			"stdout capture artifact %q must have this action as its producer", art.Path)
	}
	c.Stdout = art
	if includeStderr {
		c.Stderr = art
	}
	return nil
}

// CaptureStderr redirects the command's standard error into the given
// artifact, which must be produced by this action.
func (c *Command) CaptureStderr(a *Action, art *Artifact) error {
	if art.Producer != a {
		return Definitionf(a.Rule.Label.String(),
			"stderr capture artifact %q must have this action as its producer", art.Path)
	}
	c.Stderr = art
	return nil
}

// CaptureExitStatus records the process exit status into the given memory
// artifact, which must be produced by this action.
func (c *Command) CaptureExitStatus(a *Action, art *Artifact) error {
	if art.Producer != a {
		return Definitionf(a.Rule.Label.String(),
			"exit status capture artifact %q must have this action as its producer", art.Path)
	}
	if !art.InMemory() {
		return Definitionf(a.Rule.Label.String(),
			"exit status capture artifact %q must be a memory artifact", art.Path)
	}
	c.ExitStatus = art
	return nil
}

func (a *Action) references(art *Artifact) bool {
	return a.isInput(art) || a.isOutput(art)
}

func (a *Action) isInput(art *Artifact) bool {
	for _, in := range a.Inputs {
		if in == art {
			return true
		}
	}
	for _, in := range a.Implicit {
		if in == art {
			return true
		}
	}
	return false
}

func (a *Action) isOutput(art *Artifact) bool {
	for _, out := range a.Outputs {
		if out == art {
			return true
		}
	}
	return false
}
