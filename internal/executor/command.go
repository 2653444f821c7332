package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/anvil-build/anvil/internal/ctxlog"
	"github.com/anvil-build/anvil/internal/graph"
)

// runAction resolves the action's command against the workspace and executes
// it as a subprocess. Captured streams are flushed to their artifacts before
// the result is decided, so a failing test still leaves its log behind.
func (e *Executor) runAction(ctx context.Context, a *graph.Action) error {
	c := a.Command
	if c == nil {
		return graph.Definitionf(a.Rule.Label.String(), "%s has no command attached", a.Describe())
	}

	argv, err := e.resolveArgv(a, c)
	if err != nil {
		return err
	}

	for _, out := range a.Outputs {
		if out.InMemory() {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(e.Paths.Disk(out)), 0o755); err != nil {
			return fmt.Errorf("creating output directory for %s: %w", out.Path, err)
		}
	}

	var console bytes.Buffer
	stdout, flushOut, closeOut, err := e.captureWriter(c.Stdout, &console)
	if err != nil {
		return err
	}
	defer closeOut()
	var stderr io.Writer
	flushErr := func() {}
	if c.Stderr == c.Stdout {
		stderr = stdout
	} else {
		var closeErr func()
		stderr, flushErr, closeErr, err = e.captureWriter(c.Stderr, &console)
		if err != nil {
			return err
		}
		defer closeErr()
	}

	ctxlog.FromContext(ctx).Debug("exec", "action", a.Describe(), "argv", strings.Join(argv, " "))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.Paths.Root
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	flushOut()
	flushErr()

	code := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return &graph.ActionFailure{
				Label:    a.Rule.Label.String(),
				Verb:     a.Verb,
				Name:     a.Name,
				ExitCode: -1,
				Output:   runErr.Error(),
			}
		}
		code = exitErr.ExitCode()
	}

	if c.ExitStatus != nil {
		e.Mem.Write(c.ExitStatus.Path, strconv.Itoa(code))
		return nil
	}
	if code != 0 {
		return &graph.ActionFailure{
			Label:    a.Rule.Label.String(),
			Verb:     a.Verb,
			Name:     a.Name,
			ExitCode: code,
			Output:   console.String(),
		}
	}
	return nil
}

// resolveArgv turns the command's argument vector into concrete strings.
func (e *Executor) resolveArgv(a *graph.Action, c *graph.Command) ([]string, error) {
	argv := make([]string, 0, len(c.Argv))
	for _, arg := range c.Argv {
		switch arg.Kind {
		case graph.ArgLiteral:
			argv = append(argv, arg.Lit)
		case graph.ArgArtifact:
			argv = append(argv, e.Paths.Disk(arg.Artifact))
		case graph.ArgContents:
			text, err := e.contents(arg.Artifact)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a.Describe(), err)
			}
			argv = append(argv, strings.Fields(text)...)
		case graph.ArgDir:
			argv = append(argv, e.Paths.DirFor(arg.Token))
		}
	}
	if len(argv) == 0 {
		return nil, graph.Definitionf(a.Rule.Label.String(), "%s resolved to an empty command", a.Describe())
	}
	return argv, nil
}

// contents reads an input artifact's text, from the memory store or from
// disk.
func (e *Executor) contents(a *graph.Artifact) (string, error) {
	if a.InMemory() {
		text, ok := e.Mem.Read(a.Path)
		if !ok {
			return "", fmt.Errorf("memory artifact %s was never written", a.Path)
		}
		return text, nil
	}
	data, err := os.ReadFile(e.Paths.Disk(a))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", a.Path, err)
	}
	return string(data), nil
}

// captureWriter returns the writer for one stream. Uncaptured streams feed
// the console buffer used for failure reports; captured streams go to a disk
// file or, via flush, to the memory store.
func (e *Executor) captureWriter(dest *graph.Artifact, console *bytes.Buffer) (io.Writer, func(), func(), error) {
	noop := func() {}
	if dest == nil {
		return console, noop, noop, nil
	}
	if dest.InMemory() {
		var buf bytes.Buffer
		flush := func() { e.Mem.Write(dest.Path, buf.String()) }
		return &buf, flush, noop, nil
	}
	disk := e.Paths.Disk(dest)
	if err := os.MkdirAll(filepath.Dir(disk), 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("creating directory for %s: %w", dest.Path, err)
	}
	f, err := os.Create(disk)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening capture file %s: %w", dest.Path, err)
	}
	return f, noop, func() { f.Close() }, nil
}
