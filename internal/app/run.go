package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/anvil-build/anvil/internal/ctxlog"
	"github.com/anvil-build/anvil/internal/executor"
	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/label"
)

// ErrBuildFailed is returned when actions failed or tests did not pass; the
// details have already been printed.
var ErrBuildFailed = errors.New("build failed")

// Build brings the named targets up to date and reports the result.
func (s *Session) Build(ctx context.Context, targets []string) error {
	ctx = ctxlog.WithLogger(ctx, s.logger)

	rules, err := s.resolve(ctx, targets)
	if err != nil {
		return err
	}
	artifacts, _, err := s.expand(ctx, rules)
	if err != nil {
		return err
	}

	result, err := s.exec.Execute(ctx, artifacts)
	if err != nil {
		return err
	}
	s.reportActions(result)
	s.printer.BuildSummary(result.Ran, len(result.Failed), len(result.Blocked))
	if !result.OK() {
		return ErrBuildFailed
	}
	return nil
}

// Test builds the named targets, runs every test among them, and prints one
// PASS or FAIL line per test.
func (s *Session) Test(ctx context.Context, targets []string) error {
	ctx = ctxlog.WithLogger(ctx, s.logger)

	rules, err := s.resolve(ctx, targets)
	if err != nil {
		return err
	}
	artifacts, tests, err := s.expand(ctx, rules)
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		return fmt.Errorf("no tests found in the requested targets")
	}
	for _, tc := range tests {
		artifacts = append(artifacts, tc.info.Log, tc.info.Status)
	}

	result, err := s.exec.Execute(ctx, artifacts)
	if err != nil {
		return err
	}
	s.reportActions(result)

	passed, failed := 0, 0
	for _, tc := range tests {
		status, ok := s.mem.Read(tc.info.Status.Path)
		if ok && status == "0" {
			passed++
			s.printer.Pass(tc.label)
			continue
		}
		failed++
		s.printer.Fail(tc.label, tc.info.Log.Path)
	}
	s.printer.TestSummary(passed, failed)
	if failed > 0 || !result.OK() {
		return ErrBuildFailed
	}
	return nil
}

// Clean removes everything the engine ever writes: the intermediate root and
// the installable output directories. Sources are never touched.
func (s *Session) Clean(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, s.logger)
	logger := ctxlog.FromContext(ctx)
	for _, dir := range []string{"tmp", "bin", "include", "lib", "share"} {
		target := filepath.Join(s.root, dir)
		logger.Debug("removing", "dir", target)
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("cleaning %s: %w", dir, err)
		}
	}
	return nil
}

// testCase pairs a test rule's label with its captured artifacts.
type testCase struct {
	label string
	info  *graph.TestInfo
}

// resolve parses the target addresses and loads the packages they name.
// Distinct packages load concurrently; the first load error stops the rest.
func (s *Session) resolve(ctx context.Context, targets []string) ([]*graph.Rule, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets requested")
	}

	labels := make([]label.Label, 0, len(targets))
	pkgs := make(map[string]bool)
	for _, t := range targets {
		l, err := label.Parse(t, "")
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", t, err)
		}
		labels = append(labels, l)
		if !l.Recursive {
			pkgs[l.Pkg] = true
		}
	}

	grp, grpCtx := errgroup.WithContext(ctx)
	for pkg := range pkgs {
		pkg := pkg
		grp.Go(func() error {
			_, err := s.loader.Load(grpCtx, pkg)
			return err
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	var rules []*graph.Rule
	seen := make(map[*graph.Rule]bool)
	for _, l := range labels {
		resolved, err := s.loader.ResolveTargets(ctx, l)
		if err != nil {
			return nil, err
		}
		for _, r := range resolved {
			if !seen[r] {
				seen[r] = true
				rules = append(rules, r)
			}
		}
	}
	return rules, nil
}

// expand expands every rule under the default configuration, accumulating
// independent definition errors instead of stopping at the first. Any error
// aborts before execution.
func (s *Session) expand(ctx context.Context, rules []*graph.Rule) ([]*graph.Artifact, []*testCase, error) {
	var (
		artifacts []*graph.Artifact
		tests     []*testCase
		errs      []error
	)
	config := s.configs.Default()
	for _, r := range rules {
		exp, err := s.graph.ExpandOnce(ctx, r, config)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		artifacts = append(artifacts, exp.Outputs...)
		if exp.Test != nil {
			tests = append(tests, &testCase{label: r.Label.String(), info: exp.Test})
		}
	}
	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	return artifacts, tests, nil
}

func (s *Session) reportActions(result *executor.Result) {
	for _, a := range result.Failed {
		s.printer.ActionError(a)
	}
	for _, a := range result.Blocked {
		s.printer.Blocked(a)
	}
}
