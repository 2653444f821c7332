package app_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvil-build/anvil/internal/app"
)

// writeTree lays out a workspace under a temp dir.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		mode := os.FileMode(0o644)
		if filepath.Ext(rel) == ".sh" {
			mode = 0o755
		}
		require.NoError(t, os.WriteFile(full, []byte(content), mode))
	}
	return root
}

// fakeToolchain writes shell stand-ins for cc, ar and ld that concatenate
// their inputs, so "compiled" and "linked" outputs are just the joined
// source texts and the whole pipeline is checkable byte for byte.
func fakeToolchain(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, "toolchain")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	tools := map[string]string{
		// argv: cc -c <src> -o <obj>
		"cc.sh": "#!/bin/sh\ncp \"$2\" \"$4\"\n",
		// argv: ar rcs <lib> <objs...>
		"ar.sh": "#!/bin/sh\nout=\"$2\"; shift 2; cat \"$@\" > \"$out\"\n",
		// argv: ld -o <bin> <inputs...>
		"ld.sh": "#!/bin/sh\nout=\"$2\"; shift 2; cat \"$@\" > \"$out\"\n",
	}
	for name, body := range tools {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755))
	}
	return dir
}

func workspaceConfig(toolDir string) string {
	return fmt.Sprintf(`
configuration "target" {
  vars = { cc = %q, ar = %q, ld = %q }
}

configuration "host" {
  vars = { cc = %q, ar = %q, ld = %q }
}
`,
		filepath.Join(toolDir, "cc.sh"), filepath.Join(toolDir, "ar.sh"), filepath.Join(toolDir, "ld.sh"),
		filepath.Join(toolDir, "cc.sh"), filepath.Join(toolDir, "ar.sh"), filepath.Join(toolDir, "ld.sh"))
}

func newSession(t *testing.T, root string) (*app.Session, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	session, err := app.NewSession(&app.Config{Root: root, Jobs: 2, LogLevel: "error"}, out, os.Stderr)
	require.NoError(t, err)
	return session, out
}

func TestBuild_TransitiveLinking(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"src/foo/BUILD.hcl": `
library "foo" {
  srcs = ["foo.c"]
}
`,
		"src/foo/foo.c": "foo-code\n",
		"src/bar/BUILD.hcl": `
library "bar" {
  srcs = ["bar.c"]
  deps = ["foo"]
}
`,
		"src/bar/bar.c": "bar-code\n",
		"src/prog/BUILD.hcl": `
binary "prog" {
  srcs = ["main.c"]
  deps = ["bar"]
}
`,
		"src/prog/main.c": "main-code\n",
	})
	toolDir := fakeToolchain(t, root)
	require.NoError(t, os.WriteFile(filepath.Join(root, "anvil.hcl"), []byte(workspaceConfig(toolDir)), 0o644))

	session, out := newSession(t, root)
	require.NoError(t, session.Build(context.Background(), []string{"prog"}))
	assert.Contains(t, out.String(), "OK:")

	// Own objects link first, then dependency archives nearest-first.
	bin, err := os.ReadFile(filepath.Join(root, "bin", "prog"))
	require.NoError(t, err)
	assert.Equal(t, "main-code\nbar-code\nfoo-code\n", string(bin))

	// Intermediates landed under tmp, sources stayed untouched.
	assert.FileExists(t, filepath.Join(root, "tmp", "foo", "foo.a"))
	src, err := os.ReadFile(filepath.Join(root, "src", "foo", "foo.c"))
	require.NoError(t, err)
	assert.Equal(t, "foo-code\n", string(src))
}

func TestBuild_GeneratedSources(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"src/gen/BUILD.hcl": `
sh_binary "mkhdr" {
  src = "mkhdr.sh"
}

genrule "version_c" {
  tool = ":mkhdr"
  srcs = ["version.in"]
  outs = ["version.c"]
}

library "version" {
  srcs = [":version_c"]
}
`,
		"src/gen/mkhdr.sh":   "#!/bin/sh\ncp \"$1\" \"$2\"\n",
		"src/gen/version.in": "v1.2.3\n",
	})
	toolDir := fakeToolchain(t, root)
	require.NoError(t, os.WriteFile(filepath.Join(root, "anvil.hcl"), []byte(workspaceConfig(toolDir)), 0o644))

	session, _ := newSession(t, root)
	require.NoError(t, session.Build(context.Background(), []string{"gen:version"}))

	// The generator ran from the host partition, its product fed the
	// target-configured compile.
	assert.FileExists(t, filepath.Join(root, "tmp", "host", "bin", "mkhdr"))
	lib, err := os.ReadFile(filepath.Join(root, "tmp", "gen", "version.a"))
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3\n", string(lib))
}

func TestBuild_MissingSourceAbortsBeforeExecution(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"src/mix/BUILD.hcl": `
library "broken" {
  srcs = ["missing.c"]
}

library "fine" {
  srcs = ["fine.c"]
}
`,
		"src/mix/fine.c": "fine\n",
	})
	toolDir := fakeToolchain(t, root)
	require.NoError(t, os.WriteFile(filepath.Join(root, "anvil.hcl"), []byte(workspaceConfig(toolDir)), 0o644))

	session, _ := newSession(t, root)
	err := session.Build(context.Background(), []string{"mix"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.c")
	assert.NoFileExists(t, filepath.Join(root, "tmp", "mix", "fine.a"),
		"a definition error aborts before any action executes")
}

func TestTest_PassAndFail(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"src/t/BUILD.hcl": `
sh_test "passing" {
  src = "pass.sh"
}

sh_test "failing" {
  src = "fail.sh"
}
`,
		"src/t/pass.sh": "#!/bin/sh\necho all good\nexit 0\n",
		"src/t/fail.sh": "#!/bin/sh\necho went sideways >&2\nexit 1\n",
	})

	session, out := newSession(t, root)
	err := session.Test(context.Background(), []string{"t"})
	require.ErrorIs(t, err, app.ErrBuildFailed)

	console := out.String()
	assert.Contains(t, console, "PASS:")
	assert.Contains(t, console, "t:passing")
	assert.Contains(t, console, "FAIL:")
	assert.Contains(t, console, "t:failing")

	// The failing test's log is retained with both streams interleaved.
	log, err := os.ReadFile(filepath.Join(root, "tmp", "t", "failing.log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "went sideways")
}

func TestTest_AllPassing(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"src/t/BUILD.hcl": `
sh_test "only" {
  src = "pass.sh"
}
`,
		"src/t/pass.sh": "#!/bin/sh\nexit 0\n",
	})

	session, out := newSession(t, root)
	require.NoError(t, session.Test(context.Background(), []string{"t:only"}))
	assert.Contains(t, out.String(), "PASS:")
}

func TestTest_NoTestsInTargets(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"src/f/BUILD.hcl": `
filegroup "files" {
  srcs = ["a.txt"]
}
`,
		"src/f/a.txt": "a\n",
	})

	session, _ := newSession(t, root)
	err := session.Test(context.Background(), []string{"f"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tests found")
}

func TestClean(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"src/t/BUILD.hcl": `
sh_test "only" {
  src = "pass.sh"
}
`,
		"src/t/pass.sh": "#!/bin/sh\nexit 0\n",
	})

	session, _ := newSession(t, root)
	require.NoError(t, session.Test(context.Background(), []string{"t:only"}))
	require.DirExists(t, filepath.Join(root, "tmp"))

	require.NoError(t, session.Clean(context.Background()))
	assert.NoDirExists(t, filepath.Join(root, "tmp"))
	assert.DirExists(t, filepath.Join(root, "src"), "sources are never touched")
}

func TestBuild_UnknownTarget(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"src/p/BUILD.hcl": `
filegroup "files" {
  srcs = ["a.txt"]
}
`,
		"src/p/a.txt": "a\n",
	})

	session, _ := newSession(t, root)
	err := session.Build(context.Background(), []string{"p:nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such rule")

	err = session.Build(context.Background(), []string{"q:x"})
	require.Error(t, err, "a package without a build file cannot be loaded")
}
