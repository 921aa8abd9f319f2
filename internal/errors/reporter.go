package errors

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// SourceLookup resolves a filename to the text that was loaded from it.
// *model.GlobalEnv satisfies it.
type SourceLookup interface {
	Source(filename string) (string, bool)
}

type singleSource struct {
	filename string
	content  string
}

func (s singleSource) Source(filename string) (string, bool) {
	if filename == s.filename {
		return s.content, true
	}
	return "", false
}

// ErrorReporter renders diagnostics with a source excerpt. Excerpts may come
// from any file the lookup knows about.
type ErrorReporter struct {
	sources  SourceLookup
	fallback string
	lines    map[string][]string
}

// NewReporter creates a reporter over every file known to sources.
// Diagnostics without a filename are attributed to fallback.
func NewReporter(sources SourceLookup, fallback string) *ErrorReporter {
	return &ErrorReporter{
		sources:  sources,
		fallback: fallback,
		lines:    make(map[string][]string),
	}
}

// NewErrorReporter creates a reporter for a single file
func NewErrorReporter(filename, content string) *ErrorReporter {
	return NewReporter(singleSource{filename: filename, content: content}, filename)
}

func (er *ErrorReporter) fileLines(filename string) []string {
	if lines, ok := er.lines[filename]; ok {
		return lines
	}
	var lines []string
	if content, ok := er.sources.Source(filename); ok {
		lines = strings.Split(content, "\n")
	}
	er.lines[filename] = lines
	return lines
}

// Report writes every diagnostic followed by a one-line summary
func (er *ErrorReporter) Report(w io.Writer, diags []Diagnostic) error {
	var errs, warnings int
	for _, diag := range diags {
		switch {
		case diag.Level.IsError():
			errs++
		case diag.Level == Warning:
			warnings++
		}
		if _, err := io.WriteString(w, er.FormatError(diag)); err != nil {
			return err
		}
	}
	if summary := Summary(errs, warnings); summary != "" {
		if _, err := fmt.Fprintln(w, summary); err != nil {
			return err
		}
	}
	return nil
}

// Summary describes how many errors and warnings were emitted, or returns
// the empty string when there were none
func Summary(errs, warnings int) string {
	var parts []string
	if errs > 0 {
		parts = append(parts, color.New(color.FgRed, color.Bold).Sprint(plural(errs, "error")))
	}
	if warnings > 0 {
		parts = append(parts, color.New(color.FgYellow, color.Bold).Sprint(plural(warnings, "warning")))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ", ") + " emitted"
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// excerpt is the part of a file shown under a diagnostic header
type excerpt struct {
	first  int // line number of lines[0]
	lines  []string
	target int // line number carrying the marker
}

func (er *ErrorReporter) excerptAt(filename string, line int) (excerpt, bool) {
	all := er.fileLines(filename)
	if line < 1 || line > len(all) {
		return excerpt{}, false
	}
	lo, hi := max(1, line-1), min(len(all), line+1)
	return excerpt{first: lo, lines: all[lo-1 : hi], target: line}, true
}

// FormatError renders one diagnostic
func (er *ErrorReporter) FormatError(diag Diagnostic) string {
	var out strings.Builder
	st := styleFor(diag.Level)

	out.WriteString(st.level(string(diag.Level)))
	if diag.Code != "" {
		out.WriteString(st.level("[" + diag.Code + "]"))
	}
	out.WriteString(": ")
	out.WriteString(color.New(color.Bold).Sprint(diag.Message))
	out.WriteString("\n")

	gutter := 3
	if diag.Loc.IsKnown() {
		pos := diag.Loc.Start
		filename := pos.Filename
		if filename == "" {
			filename = er.fallback
		}
		ex, ok := er.excerptAt(filename, pos.Line)
		if ok {
			gutter = max(gutter, len(strconv.Itoa(ex.first+len(ex.lines)-1)))
		}
		pad := strings.Repeat(" ", gutter)
		fmt.Fprintf(&out, "%s %s %s:%d:%d\n", pad, st.dim("-->"), filename, pos.Line, pos.Column)
		if ok {
			er.writeExcerpt(&out, ex, gutter, pos.Column, diag.Loc.Length, st)
		}
	}
	er.writeTrailer(&out, diag, strings.Repeat(" ", gutter), st)
	out.WriteString("\n")
	return out.String()
}

func (er *ErrorReporter) writeExcerpt(out *strings.Builder, ex excerpt, gutter, column, length int, st style) {
	bar := st.dim("│")
	pad := strings.Repeat(" ", gutter)
	fmt.Fprintf(out, "%s %s\n", pad, bar)
	for i, text := range ex.lines {
		n := ex.first + i
		number := fmt.Sprintf("%*d", gutter, n)
		if n == ex.target {
			fmt.Fprintf(out, "%s %s %s\n", color.New(color.Bold).Sprint(number), bar, text)
			fmt.Fprintf(out, "%s %s %s\n", pad, bar, st.underline(column, length))
		} else {
			fmt.Fprintf(out, "%s %s %s\n", st.dim(number), bar, text)
		}
	}
}

func (er *ErrorReporter) writeTrailer(out *strings.Builder, diag Diagnostic, pad string, st style) {
	bar := st.dim("│")
	cyan := color.New(color.FgCyan).SprintFunc()
	for i, s := range diag.Suggestions {
		if i == 0 {
			fmt.Fprintf(out, "%s %s\n", pad, bar)
		}
		fmt.Fprintf(out, "%s %s %s\n", pad, cyan("= try:"), s.Message)
		if s.Replacement == "" {
			continue
		}
		for _, line := range strings.Split(s.Replacement, "\n") {
			fmt.Fprintf(out, "%s %s %s\n", pad, cyan("│"), cyan(line))
		}
	}
	for _, note := range diag.Notes {
		fmt.Fprintf(out, "%s %s %s\n", pad, color.New(color.FgBlue).Sprint("= note:"), note)
	}
	if diag.HelpText != "" {
		fmt.Fprintf(out, "%s %s %s\n", pad, color.New(color.FgGreen).Sprint("= help:"), diag.HelpText)
	}
}

// style holds the colors used for one diagnostic level
type style struct {
	level  func(...interface{}) string
	marker func(...interface{}) string
	dim    func(...interface{}) string
}

func styleFor(level ErrorLevel) style {
	st := style{dim: color.New(color.Faint).SprintFunc()}
	switch level {
	case Warning:
		st.level = color.New(color.FgYellow, color.Bold).SprintFunc()
		st.marker = st.level
	case Note:
		st.level = color.New(color.FgBlue, color.Bold).SprintFunc()
		st.marker = color.New(color.FgRed, color.Bold).SprintFunc()
	case Help:
		st.level = color.New(color.FgGreen, color.Bold).SprintFunc()
		st.marker = color.New(color.FgRed, color.Bold).SprintFunc()
	default:
		st.level = color.New(color.FgRed, color.Bold).SprintFunc()
		st.marker = st.level
	}
	return st
}

// underline returns the caret line pointing at column, at least one caret wide
func (st style) underline(column, length int) string {
	return strings.Repeat(" ", max(0, column-1)) + st.marker(strings.Repeat("^", max(1, length)))
}
