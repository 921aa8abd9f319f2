package lsp

import (
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"kanso-prover/internal/errors"
)

const diagnosticSource = "kanso-prover"

// ConvertDiagnostics turns the diagnostics of one file into LSP diagnostics.
// Diagnostics without a location are attached to the first line.
func ConvertDiagnostics(path string, diags []errors.Diagnostic) []protocol.Diagnostic {
	result := []protocol.Diagnostic{}
	for _, d := range diags {
		if d.Loc.IsKnown() && d.Loc.Start.Filename != path {
			continue
		}
		result = append(result, protocol.Diagnostic{
			Range:    toRange(d),
			Severity: ptrSeverity(severity(d.Level)),
			Code:     &protocol.IntegerOrString{Value: d.Code},
			Source:   ptrString(diagnosticSource),
			Message:  message(d),
		})
	}
	return result
}

func toRange(d errors.Diagnostic) protocol.Range {
	if !d.Loc.IsKnown() {
		return protocol.Range{}
	}
	line := uint32(d.Loc.Start.Line - 1)
	start := uint32(d.Loc.Start.Column - 1)
	length := d.Loc.Length
	if length < 1 {
		length = 1
	}
	return protocol.Range{
		Start: protocol.Position{Line: line, Character: start},
		End:   protocol.Position{Line: line, Character: start + uint32(length)},
	}
}

func severity(level errors.ErrorLevel) protocol.DiagnosticSeverity {
	switch level {
	case errors.Bug, errors.Error:
		return protocol.DiagnosticSeverityError
	case errors.Warning:
		return protocol.DiagnosticSeverityWarning
	case errors.Note:
		return protocol.DiagnosticSeverityInformation
	default:
		return protocol.DiagnosticSeverityHint
	}
}

// message folds suggestions, notes and help into the LSP message
func message(d errors.Diagnostic) string {
	var b strings.Builder
	b.WriteString(d.Message)
	for _, s := range d.Suggestions {
		b.WriteString("\n" + s.Message)
	}
	for _, note := range d.Notes {
		b.WriteString("\nnote: " + note)
	}
	if d.HelpText != "" {
		b.WriteString("\nhelp: " + d.HelpText)
	}
	return b.String()
}

func ptrSeverity(s protocol.DiagnosticSeverity) *protocol.DiagnosticSeverity {
	return &s
}

func ptrString(s string) *string {
	return &s
}
