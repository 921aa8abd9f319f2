package bytecode

import (
	"fmt"
	"strings"
)

// Annotator renders extra information for an instruction, or "" for none
type Annotator func(offset CodeOffset, instr Bytecode) string

// Listing is everything needed to print a function body
type Listing struct {
	Name        string
	Attributes  []string
	ParamCount  int
	LocalTypes  []*Type
	ReturnTypes []*Type
	Code        []Bytecode
}

// Printer provides pretty-printing for bytecode
type Printer struct {
	indent     int
	output     strings.Builder
	annotators []Annotator
}

// NewPrinter creates a new bytecode printer
func NewPrinter(annotators ...Annotator) *Printer {
	return &Printer{annotators: annotators}
}

// Print returns the string representation of a function listing
func Print(listing *Listing, annotators ...Annotator) string {
	p := NewPrinter(annotators...)
	p.PrintListing(listing)
	return p.String()
}

// PrintCode returns the string representation of a bare instruction stream
func PrintCode(code []Bytecode, annotators ...Annotator) string {
	p := NewPrinter(annotators...)
	p.printCode(code)
	return p.String()
}

func (p *Printer) String() string {
	return p.output.String()
}

// Helper methods

func (p *Printer) writeIndent() {
	for i := 0; i < p.indent; i++ {
		p.output.WriteString("  ")
	}
}

func (p *Printer) writeLine(format string, args ...interface{}) {
	p.writeIndent()
	p.output.WriteString(fmt.Sprintf(format, args...))
	p.output.WriteString("\n")
}

// PrintListing prints a function signature, its locals and its code
func (p *Printer) PrintListing(listing *Listing) {
	for _, attr := range listing.Attributes {
		p.writeLine("#[%s]", attr)
	}

	params := make([]string, 0, listing.ParamCount)
	for i := 0; i < listing.ParamCount && i < len(listing.LocalTypes); i++ {
		params = append(params, fmt.Sprintf("%s: %s", temp(TempIndex(i)), listing.LocalTypes[i]))
	}
	sig := fmt.Sprintf("fun %s(%s)", listing.Name, strings.Join(params, ", "))
	if len(listing.ReturnTypes) > 0 {
		rets := make([]string, len(listing.ReturnTypes))
		for i, t := range listing.ReturnTypes {
			rets[i] = t.String()
		}
		sig += " : " + strings.Join(rets, ", ")
	}
	p.writeLine("%s {", sig)

	p.indent++
	for i := listing.ParamCount; i < len(listing.LocalTypes); i++ {
		p.writeLine("local %s: %s;", temp(TempIndex(i)), listing.LocalTypes[i])
	}
	p.printCode(listing.Code)
	p.indent--

	p.writeLine("}")
}

// printCode prints one instruction per line, prefixed by its offset
func (p *Printer) printCode(code []Bytecode) {
	width := len(fmt.Sprintf("%d", len(code)))
	for pc, instr := range code {
		line := fmt.Sprintf("%*d: %s;", width, pc, instr)
		var notes []string
		for _, annotate := range p.annotators {
			if note := annotate(CodeOffset(pc), instr); note != "" {
				notes = append(notes, note)
			}
		}
		if len(notes) > 0 {
			line += " // " + strings.Join(notes, " ")
		}
		p.writeLine("%s", line)
	}
}
