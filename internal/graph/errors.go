package graph

import "fmt"

// DefinitionError indicates that a build definition was invalid: malformed
// rule arguments, a dependency cycle, a missing target, or an expansion that
// tried to write outside its own package. It is always fatal to the smallest
// enclosing target resolution.
type DefinitionError struct {
	Label string
	Msg   string
}

func (e *DefinitionError) Error() string {
	if e.Label == "" {
		return e.Msg
	}
	return e.Label + ": " + e.Msg
}

// Definitionf constructs a DefinitionError attached to the given target
// address.
func Definitionf(label, format string, args ...any) *DefinitionError {
	return &DefinitionError{Label: label, Msg: fmt.Sprintf(format, args...)}
}

// LoadError indicates that a package's build definition file could not be
// parsed or evaluated. It is fatal to the package and to any target that
// requires it.
type LoadError struct {
	Pkg string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading package %q: %v", e.Pkg, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ActionFailure indicates that an action's subprocess command exited
// non-zero. It is fatal to the action's output subtree only; sibling
// branches of the build keep going.
type ActionFailure struct {
	Label    string
	Verb     string
	Name     string
	ExitCode int
	Output   string
}

func (e *ActionFailure) Error() string {
	return fmt.Sprintf("%s: %s %s failed with exit code %d", e.Label, e.Verb, e.Name, e.ExitCode)
}
