// Package label implements the target address syntax used on the command
// line and inside build definition files.
//
// An address has the form <package-path>[:<rule-name>]. Omitting the rule
// name addresses every public named target in the package. A trailing "/..."
// addresses the package and all sub-packages recursively. Inside build files
// the package path may be prefixed with "//" to mark it as relative to the
// source root, or omitted entirely (":name") to reference a sibling rule.
package label

import (
	"fmt"
	"path"
	"strings"
)

// Label is a parsed target address.
type Label struct {
	// Pkg is the package path relative to the source root, using forward
	// slashes and no leading or trailing slash.
	Pkg string

	// Name is the rule name within the package. Empty means "all public
	// named targets in the package".
	Name string

	// Recursive is set when the address ended in "/...". Recursive addresses
	// never carry a rule name.
	Recursive bool
}

// Parse parses a target address as written on the command line or in a build
// file. from is the package the address appears in; it is used to resolve
// the package-relative ":name" form and may be empty for top-level
// invocations.
func Parse(addr, from string) (Label, error) {
	if addr == "" {
		return Label{}, fmt.Errorf("empty target address")
	}

	// Tab completion convenience: accept a leading source-root directory
	// prefix, and the "//" form used inside build files.
	trimmed := strings.TrimPrefix(addr, "src/")
	abs := false
	if strings.HasPrefix(trimmed, "//") {
		trimmed = trimmed[2:]
		abs = true
	}

	if trimmed == "..." {
		return Label{Recursive: true}, nil
	}
	if rest, ok := strings.CutSuffix(trimmed, "/..."); ok {
		if strings.Contains(rest, ":") {
			return Label{}, fmt.Errorf("%s: a recursive address cannot name a rule", addr)
		}
		pkg, err := cleanPkg(rest, addr)
		if err != nil {
			return Label{}, err
		}
		return Label{Pkg: pkg, Recursive: true}, nil
	}

	pkgPart, name, hasName := strings.Cut(trimmed, ":")
	if hasName {
		if name == "" {
			return Label{}, fmt.Errorf("%s: empty rule name", addr)
		}
		if strings.Contains(name, ":") || strings.Contains(name, "/") {
			return Label{}, fmt.Errorf("%s: invalid rule name %q", addr, name)
		}
	}

	if pkgPart == "" && !abs {
		// The ":name" shorthand refers to the enclosing package.
		if !hasName {
			return Label{}, fmt.Errorf("%s: missing package path", addr)
		}
		return Label{Pkg: from, Name: name}, nil
	}

	pkg, err := cleanPkg(pkgPart, addr)
	if err != nil {
		return Label{}, err
	}
	return Label{Pkg: pkg, Name: name}, nil
}

func cleanPkg(pkg, addr string) (string, error) {
	if pkg == "" {
		return "", nil
	}
	cleaned := path.Clean(strings.ReplaceAll(pkg, "\\", "/"))
	if cleaned != pkg {
		return "", fmt.Errorf("%s: package path is not normalized, use %q", addr, cleaned)
	}
	if strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, "/") {
		return "", fmt.Errorf("%s: package path escapes the source root", addr)
	}
	return cleaned, nil
}

// String renders the label in canonical command-line form.
func (l Label) String() string {
	if l.Recursive {
		if l.Pkg == "" {
			return "..."
		}
		return l.Pkg + "/..."
	}
	if l.Name == "" {
		return l.Pkg
	}
	return l.Pkg + ":" + l.Name
}

// IsPrivate reports whether the label names a rule that is private to its
// declaring package.
func (l Label) IsPrivate() bool {
	return strings.HasPrefix(l.Name, "_")
}

// Equal reports whether two labels address the same target set.
func (l Label) Equal(o Label) bool {
	return l == o
}
