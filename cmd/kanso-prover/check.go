// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"kanso-prover/internal/config"
	"kanso-prover/internal/errors"
)

// checkResult is the rendered outcome of checking one file
type checkResult struct {
	path     string
	report   string
	failed   bool
	errors   int
	warnings int
}

// checkFile loads and verifies one file, rendering its diagnostics
func checkFile(cfg *config.Config, path string) (checkResult, error) {
	s, err := loadSession(cfg, path)
	if err != nil {
		return checkResult{}, err
	}
	if !s.env.HasErrors() {
		if err := s.run(nil); err != nil {
			return checkResult{}, err
		}
	}

	diags := s.env.Diagnostics.Sorted()
	reporter := errors.NewReporter(s.env, path)
	var out strings.Builder
	for _, diag := range diags {
		out.WriteString(reporter.FormatError(diag))
	}
	return checkResult{
		path:     path,
		report:   out.String(),
		failed:   s.env.HasErrors(),
		errors:   s.env.Diagnostics.Count(errors.Error) + s.env.Diagnostics.Count(errors.Bug),
		warnings: s.env.Diagnostics.Count(errors.Warning),
	}, nil
}

// checkFiles checks the files concurrently. Results keep the order of paths.
func checkFiles(ctx context.Context, cfg *config.Config, paths []string) ([]checkResult, error) {
	results := make([]checkResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := checkFile(cfg, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// printResults writes every report and a summary, returning whether any
// file failed
func printResults(results []checkResult, duration time.Duration) bool {
	var errs, warnings int
	var failed []string
	for _, r := range results {
		fmt.Print(r.report)
		errs += r.errors
		warnings += r.warnings
		if r.failed {
			failed = append(failed, r.path)
		}
	}
	if summary := errors.Summary(errs, warnings); summary != "" {
		fmt.Println(summary)
	}

	elapsed := formatDuration(duration)
	if len(failed) > 0 {
		color.Red("Verification pipeline failed for %s after %s", strings.Join(failed, ", "), elapsed)
		return true
	}
	color.Green("Successfully processed %s in %s", plural(len(results), "file"), elapsed)
	return false
}

func checkCommand(c *cli.Context) error {
	paths := c.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("usage: kanso-prover %s %s", c.Command.Name, c.Command.ArgsUsage)
	}
	cfg := configOf(c)

	startTime := time.Now()
	results, err := checkFiles(c.Context, cfg, paths)
	if err != nil {
		return err
	}
	failed := printResults(results, time.Since(startTime))

	if c.Bool(watchFlag.Name) {
		return watch(c.Context, cfg, paths)
	}
	if failed {
		return cli.Exit("", 1)
	}
	return nil
}

// watch re-checks a file whenever it is written. Directories are watched
// rather than files so editors that replace files on save are still seen.
func watch(ctx context.Context, cfg *config.Config, paths []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool, len(paths))
	var dirs []string
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		watched[abs] = true
		if dir := filepath.Dir(abs); !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	color.Cyan("Watching %s for changes", plural(len(paths), "file"))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("watcher: %s", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[event.Name] || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			log.Debugf("%s: %s", event.Name, event.Op)
			recheck(cfg, event.Name)
		}
	}
}

func recheck(cfg *config.Config, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	startTime := time.Now()
	result, err := checkFile(cfg, path)
	if err != nil {
		color.Red("%v", err)
		return
	}
	printResults([]checkResult{result}, time.Since(startTime))
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
