package grammar

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// BytecodeLexer tokenizes .kbc listings. Comments and whitespace are elided
// by the parser but kept by the lexer for semantic highlighting.
var BytecodeLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{"Comment", `//[^\n]*`, nil},

		// Temps may carry the `$` of printed listings
		{"Ident", `\$?[a-zA-Z_][a-zA-Z0-9_]*`, nil},

		// @0x.. or decimal account addresses
		{"Address", `@(0x[0-9a-fA-F]+|[0-9]+)`, nil},

		{"Integer", `0x[0-9a-fA-F]+|[0-9]+`, nil},

		// Operators (before punctuation so `:=` is one token)
		{"Operator", `:=|::`, nil},

		{"Punctuation", `[{}[\]#:,;()&]`, nil},

		{"Whitespace", `[ \t\r\n]+`, nil},
	},
})
