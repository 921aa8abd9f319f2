package lsp

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"golang.org/x/exp/slices"

	"kanso-prover/grammar"
	"kanso-prover/internal/bytecode"
)

// SemanticTokenTypes is the legend of token types, indexed by SemanticToken.TokenType
var SemanticTokenTypes = []string{
	"namespace",
	"type",
	"function",
	"variable",
	"parameter",
	"enumMember",
	"keyword",
	"number",
	"operator",
	"modifier",
	"comment",
}

// SemanticTokenModifiers is the legend of modifier bits
var SemanticTokenModifiers = []string{
	"declaration",
	"readonly",
}

// SemanticToken represents a single LSP semantic token entry
// Line and StartChar are 0-based positions
type SemanticToken struct {
	Line           uint32
	StartChar      uint32
	Length         uint32
	TokenType      int // index into SemanticTokenTypes
	TokenModifiers int // bitmask
}

var keywords = []string{
	"module", "fun", "local", "label", "goto", "if", "else", "switch",
	"return", "abort", "nop", "on_abort", "with", "mut", "true", "false",
}

// collectSemanticTokens classifies the tokens of a .kbc document from
// their neighbours, so documents with syntax errors still get highlighting
func collectSemanticTokens(filename, content string) ([]SemanticToken, error) {
	lex, err := grammar.BytecodeLexer.Lex(filename, strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	all, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, err
	}

	symbols := grammar.BytecodeLexer.Symbols()
	var significant []lexer.Token
	var tokens []SemanticToken
	for _, tok := range all {
		switch tok.Type {
		case symbols["Whitespace"], lexer.EOF:
			continue
		case symbols["Comment"]:
			tokens = append(tokens, makeToken(tok, "comment", false))
			continue
		}
		significant = append(significant, tok)
	}

	c := &classifier{tokens: significant, symbols: symbols}
	for i := range significant {
		if token, ok := c.classify(i); ok {
			tokens = append(tokens, token)
		}
	}

	slices.SortStableFunc(tokens, func(a, b SemanticToken) int {
		if a.Line != b.Line {
			return int(a.Line) - int(b.Line)
		}
		return int(a.StartChar) - int(b.StartChar)
	})
	return tokens, nil
}

type classifier struct {
	tokens  []lexer.Token
	symbols map[string]lexer.TokenType

	inParams      bool
	inTargets     bool
	pendingSwitch bool
	parenDepth    int
}

func (c *classifier) value(i int) string {
	if i < 0 || i >= len(c.tokens) {
		return ""
	}
	return c.tokens[i].Value
}

func (c *classifier) classify(i int) (SemanticToken, bool) {
	tok := c.tokens[i]
	prev, next := c.value(i-1), c.value(i+1)

	switch tok.Type {
	case c.symbols["Integer"], c.symbols["Address"]:
		return makeToken(tok, "number", false), true
	case c.symbols["Operator"]:
		return makeToken(tok, "operator", false), true
	case c.symbols["Punctuation"]:
		c.track(tok.Value)
		return SemanticToken{}, false
	}

	switch {
	case prev == "[" && c.value(i-2) == "#":
		return makeToken(tok, "modifier", false), true
	case prev == "(" && c.value(i-3) == "[" && c.value(i-4) == "#":
		// #[spec(name)]
		return makeToken(tok, "function", false), true
	case prev == "module":
		return makeToken(tok, "namespace", true), true
	case prev == "fun":
		c.inParams = true
		c.parenDepth = 0
		return makeToken(tok, "function", true), true
	case prev == "label":
		return makeToken(tok, "enumMember", true), true
	case prev == "goto" || c.inTargets:
		return makeToken(tok, "enumMember", false), true
	case slices.Contains(keywords, tok.Value):
		c.pendingSwitch = tok.Value == "switch"
		return makeToken(tok, "keyword", false), true
	case isType(tok.Value) && (prev == ":" || prev == "&" || prev == "mut" || prev == ","):
		return makeToken(tok, "type", false), true
	case next == "::":
		return makeToken(tok, "namespace", false), true
	case next == "(":
		return makeToken(tok, "function", false), true
	case c.inParams && next == ":":
		return makeToken(tok, "parameter", true), true
	case prev == "local":
		return makeToken(tok, "variable", true), true
	}
	return makeToken(tok, "variable", false), true
}

// track follows the brackets that change how identifiers are classified
func (c *classifier) track(punct string) {
	switch punct {
	case "(":
		c.parenDepth++
	case ")":
		c.parenDepth--
		if c.inParams && c.parenDepth == 0 {
			c.inParams = false
		}
	case "[":
		c.inTargets = c.pendingSwitch
		c.pendingSwitch = false
	case "]":
		c.inTargets = false
	}
}

func isType(name string) bool {
	_, ok := bytecode.PrimitiveTypes[name]
	return ok
}

func makeToken(tok lexer.Token, tokenType string, declaration bool) SemanticToken {
	modifiers := 0
	if declaration {
		modifiers = 1 << slices.Index(SemanticTokenModifiers, "declaration")
	}
	return SemanticToken{
		Line:           uint32(tok.Pos.Line - 1),
		StartChar:      uint32(tok.Pos.Column - 1),
		Length:         uint32(len(tok.Value)),
		TokenType:      slices.Index(SemanticTokenTypes, tokenType),
		TokenModifiers: modifiers,
	}
}

// encodeSemanticTokens produces the LSP wire format (delta-line, delta-start)
func encodeSemanticTokens(tokens []SemanticToken) []uint32 {
	var data []uint32
	var prevLine, prevStart uint32

	for _, token := range tokens {
		deltaLine := token.Line - prevLine
		deltaStart := token.StartChar
		if deltaLine == 0 {
			deltaStart = token.StartChar - prevStart
		}
		data = append(data, deltaLine, deltaStart, token.Length, uint32(token.TokenType), uint32(token.TokenModifiers))

		prevLine = token.Line
		prevStart = token.StartChar
	}
	return data
}
