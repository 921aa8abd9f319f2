package source

import "fmt"

// Position is a 1-based location in a source file
type Position struct {
	Filename string
	Line     int
	Column   int
}

// Loc is a span in a source file. Diagnostics are keyed by Loc.
type Loc struct {
	Start  Position
	Length int
}

// NoLoc is used when no source information is available
var NoLoc = Loc{}

// NewLoc creates a location at the given position
func NewLoc(filename string, line, column, length int) Loc {
	return Loc{
		Start:  Position{Filename: filename, Line: line, Column: column},
		Length: length,
	}
}

// IsKnown reports whether the location refers to an actual source line
func (l Loc) IsKnown() bool {
	return l.Start.Line > 0
}

func (p Position) String() string {
	if p.Filename == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

func (l Loc) String() string {
	if !l.IsKnown() {
		return "<unknown>"
	}
	return l.Start.String()
}
