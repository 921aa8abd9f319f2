// SPDX-License-Identifier: Apache-2.0
package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/kylelemons/godebug/diff"
	"github.com/olekukonko/tablewriter"
	cli "github.com/urfave/cli/v2"

	"kanso-prover/grammar"
	"kanso-prover/internal/analysis"
	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/cfg"
	"kanso-prover/internal/config"
	"kanso-prover/internal/errors"
	"kanso-prover/internal/loader"
	"kanso-prover/internal/mergeins"
	"kanso-prover/internal/model"
	"kanso-prover/internal/passes"
	"kanso-prover/internal/pipeline"
	"kanso-prover/internal/structure"
	"kanso-prover/internal/target"
)

// session is a loaded file together with its function targets
type session struct {
	cfg      *config.Config
	path     string
	env      *model.GlobalEnv
	targets  *target.FunctionTargetsHolder
	pipeline *pipeline.Pipeline
}

func openSession(c *cli.Context) (*session, error) {
	path, err := fileArg(c)
	if err != nil {
		return nil, err
	}
	return loadSession(configOf(c), path)
}

func loadSession(cfg *config.Config, path string) (*session, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	env := loader.LoadString(path, string(content))
	return &session{
		cfg:     cfg,
		path:    path,
		env:     env,
		targets: target.TargetsFor(env),
	}, nil
}

// run executes the configured pipeline. An aborted run is not an error
// here; its diagnostics are in the environment.
func (s *session) run(after pipeline.Hook) error {
	p, err := passes.NewPipeline(s.cfg.Pipeline.Passes, s.cfg.PassOptions())
	if err != nil {
		return err
	}
	s.pipeline = p

	err = p.RunWithHook(s.env, s.targets, nil, after)
	var abort *pipeline.AbortError
	if err != nil && !stderrors.As(err, &abort) {
		return err
	}
	return nil
}

func (s *session) printDiagnostics() {
	reporter := errors.NewReporter(s.env, s.path)
	if err := reporter.Report(os.Stdout, s.env.Diagnostics.Sorted()); err != nil {
		log.Errorf("writing diagnostics: %s", err)
	}
}

// failIfErrors prints the diagnostics and stops when loading failed
func (s *session) failIfErrors() error {
	if !s.env.HasErrors() {
		return nil
	}
	s.printDiagnostics()
	return cli.Exit(color.RedString("failed to load %s", s.path), 1)
}

// functions returns the functions selected by --function, or all of them
func (s *session) functions(c *cli.Context) ([]*model.FunctionEnv, error) {
	name := c.String(functionFlag.Name)
	if name == "" {
		return s.env.Functions(), nil
	}
	fun, ok := s.env.FindFunction(name)
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	return []*model.FunctionEnv{fun}, nil
}

func dumpCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	if err := s.failIfErrors(); err != nil {
		return err
	}
	funs, err := s.functions(c)
	if err != nil {
		return err
	}

	var after pipeline.Hook
	if c.Bool(eachPassFlag.Name) || s.cfg.Dump.AfterEachPass {
		after = func(step int, processor pipeline.FunctionTargetProcessor, targets *target.FunctionTargetsHolder) {
			color.Cyan("// after pass %d: %s", step, processor.Name())
			s.printTargets(funs, nil)
		}
	}
	if err := s.run(after); err != nil {
		return err
	}

	var annotators []pipeline.AnnotationPrinter
	if s.cfg.Dump.Annotations {
		for _, processor := range s.pipeline.Processors() {
			if printer, ok := processor.(pipeline.AnnotationPrinter); ok {
				annotators = append(annotators, printer)
			}
		}
	}
	color.Cyan("// final")
	s.printTargets(funs, annotators)
	s.printDiagnostics()
	return nil
}

func (s *session) printTargets(funs []*model.FunctionEnv, printers []pipeline.AnnotationPrinter) {
	for _, fun := range funs {
		for _, variant := range s.targets.Variants(fun.ID) {
			t, ok := s.targets.Target(fun, variant)
			if !ok {
				continue
			}
			annotators := make([]bytecode.Annotator, 0, len(printers))
			for _, printer := range printers {
				annotators = append(annotators, printer.Annotator(t))
			}
			fmt.Println(t.Print(annotators...))
		}
	}
}

func structureCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	if err := s.failIfErrors(); err != nil {
		return err
	}
	funs, err := s.functions(c)
	if err != nil {
		return err
	}

	for _, fun := range funs {
		if len(fun.Code) == 0 {
			fmt.Printf("%s: no body\n\n", fun.QualifiedName())
			continue
		}
		tree, reason := structure.ReconstructWithReason(fun.Code)
		if reason != structure.NoFailure {
			fmt.Printf("%s: %s\n\n", fun.QualifiedName(), color.YellowString("not structurable (%s)", reason))
			continue
		}
		if c.Bool(chainFlag.Name) {
			tree = structure.OptimizeToChain(tree)
		}
		fmt.Printf("%s:\n%s\n", fun.QualifiedName(), tree)
	}
	return nil
}

func cfgCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	if err := s.failIfErrors(); err != nil {
		return err
	}
	funs, err := s.functions(c)
	if err != nil {
		return err
	}
	if len(funs) != 1 {
		return fmt.Errorf("select a function with --%s", functionFlag.Name)
	}

	fun := funs[0]
	if len(fun.Code) == 0 {
		return fmt.Errorf("function %s has no body", fun.QualifiedName())
	}
	var graph *cfg.Graph
	if c.Bool(backwardFlag.Name) {
		graph = cfg.NewBackward(fun.Code, false)
	} else {
		graph = cfg.NewForward(fun.Code)
	}
	fmt.Println(graph.DOT(fun.Code))
	return nil
}

func statsCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	if err := s.failIfErrors(); err != nil {
		return err
	}
	if err := s.run(nil); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Function", "Variants", "Instructions", "Blocks", "Structured", "Merges", "May abort"})
	table.AppendBulk(statsRows(s.env, s.targets))
	table.Render()

	s.printDiagnostics()
	return nil
}

// statsRows describes the baseline of every function after the pipeline
func statsRows(env *model.GlobalEnv, targets *target.FunctionTargetsHolder) [][]string {
	summary, hasSummary := model.GetExtension[*analysis.NoAbortSummary](env)

	var rows [][]string
	for _, fun := range env.Functions() {
		data, ok := targets.GetData(fun.ID, target.BaselineVariant)
		if !ok {
			continue
		}
		row := []string{fun.QualifiedName(), fmt.Sprint(len(targets.Variants(fun.ID))), fmt.Sprint(len(data.Code))}

		if len(data.Code) == 0 {
			row = append(row, "-", "-", "-")
		} else {
			graph := cfg.NewForward(data.Code)
			blocks := 0
			for _, id := range graph.Blocks() {
				if !graph.IsDummy(id) {
					blocks++
				}
			}
			_, structured := structure.Reconstruct(data.Code)
			merges := 0
			if info, ok := target.Get[*mergeins.MergeSummary](data.Annotations); ok {
				merges = len(info.Merges)
			}
			row = append(row, fmt.Sprint(blocks), yesNo(structured), fmt.Sprint(merges))
		}

		if hasSummary {
			row = append(row, yesNo(summary.Aborts(fun.ID)))
		} else {
			row = append(row, "-")
		}
		rows = append(rows, row)
	}
	return rows
}

func fmtCommand(c *cli.Context) error {
	path, err := fileArg(c)
	if err != nil {
		return err
	}
	file, source, err := grammar.ParseFile(path)
	if err != nil {
		if source == "" {
			return err
		}
		reporter := errors.NewErrorReporter(path, source)
		fmt.Print(reporter.FormatError(loader.SyntaxError(path, err)))
		return cli.Exit("", 1)
	}

	formatted := file.String()
	if !c.Bool(diffFlag.Name) {
		fmt.Print(formatted)
		return nil
	}
	if formatted == source {
		return nil
	}
	fmt.Println(formatDiff(source, formatted))
	return cli.Exit("", 1)
}

// formatDiff renders a line diff from the file as written to its canonical
// layout, colored like a patch
func formatDiff(original, formatted string) string {
	lines := strings.Split(diff.Diff(original, formatted), "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "+"):
			lines[i] = color.GreenString("%s", line)
		case strings.HasPrefix(line, "-"):
			lines[i] = color.RedString("%s", line)
		}
	}
	return strings.Join(lines, "\n")
}

func explainCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: kanso-prover %s %s", c.Command.Name, c.Command.ArgsUsage)
	}
	code := strings.ToUpper(c.Args().First())
	description := errors.GetErrorDescription(code)
	if description == errors.GetErrorDescription("") {
		return cli.Exit(color.RedString("unknown diagnostic code %s", code), 1)
	}
	fmt.Printf("%s: %s\n", color.New(color.Bold).Sprint(code), description)
	return nil
}

func passesCommand(c *cli.Context) error {
	defaults := passes.Default()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Pass", "Default step", "Description"})
	for _, name := range passes.Names() {
		step := "-"
		for i, d := range defaults {
			if d == name {
				step = fmt.Sprint(i)
			}
		}
		description, _ := passes.Describe(name)
		table.Append([]string{name, step, description})
	}
	table.Render()
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return fmt.Sprintf("%.2fmin", d.Minutes())
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1000000.0)
	case d >= time.Microsecond:
		return fmt.Sprintf("%.1fμs", float64(d.Nanoseconds())/1000.0)
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}
