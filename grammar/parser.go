package grammar

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var parser = participle.MustBuild[File](
	participle.Lexer(BytecodeLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(4),
)

// ParseFile reads and parses a .kbc file
func ParseFile(path string) (*File, string, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	file, err := ParseString(path, string(source))
	return file, string(source), err
}

// ParseString parses .kbc source text
func ParseString(filename, source string) (*File, error) {
	return parser.ParseString(filename, source)
}

// ErrorPosition extracts the position and message of a syntax error
func ErrorPosition(err error) (lexer.Position, string, bool) {
	var pe participle.Error
	if !errors.As(err, &pe) {
		return lexer.Position{}, "", false
	}
	return pe.Position(), pe.Message(), true
}
