package lsp_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"kanso-prover/internal/errors"
	"kanso-prover/internal/lsp"
)

func fixture(t *testing.T, name string) (protocol.DocumentUri, string) {
	t.Helper()
	absPath, err := filepath.Abs(filepath.Join("..", "..", "testdata", name))
	require.NoError(t, err)
	content, err := os.ReadFile(absPath)
	require.NoError(t, err)
	return "file://" + filepath.ToSlash(absPath), string(content)
}

func TestAnalyzeCleanDocument(t *testing.T) {
	handler := lsp.NewProverHandler(nil)
	uri, content := fixture(t, "token.kbc")

	diagnostics, err := handler.Analyze(uri, content)
	require.NoError(t, err)
	assert.Empty(t, diagnostics)

	env, ok := handler.Env(uri)
	require.True(t, ok)
	assert.Len(t, env.Functions(), 6)
}

func TestAnalyzeReusesUnchangedText(t *testing.T) {
	handler := lsp.NewProverHandler(nil)
	uri, content := fixture(t, "token.kbc")

	_, err := handler.Analyze(uri, content)
	require.NoError(t, err)
	first, ok := handler.Env(uri)
	require.True(t, ok)

	_, err = handler.Analyze(uri, content)
	require.NoError(t, err)
	second, _ := handler.Env(uri)
	assert.Same(t, first, second)

	_, err = handler.Analyze(uri, content+"\n")
	require.NoError(t, err)
	third, _ := handler.Env(uri)
	assert.NotSame(t, first, third)
}

func TestAnalyzeLoadErrors(t *testing.T) {
	handler := lsp.NewProverHandler(nil)
	uri, content := fixture(t, "undefined.kbc")

	diagnostics, err := handler.Analyze(uri, content)
	require.NoError(t, err)
	require.Len(t, diagnostics, 4)

	first := diagnostics[0]
	assert.Equal(t, errors.ErrorInvalidAttribute, first.Code.Value)
	assert.Equal(t, protocol.DiagnosticSeverityError, *first.Severity)
	assert.Equal(t, uint32(1), first.Range.Start.Line)
	assert.Equal(t, uint32(4), first.Range.Start.Character)
	assert.Contains(t, first.Message, "did you mean '#[verify]'?")
	assert.Contains(t, first.Message, "help: attributes must be one of")

	assert.Equal(t, errors.ErrorUndefinedFunction, diagnostics[3].Code.Value)
	assert.Equal(t, uint32(10), diagnostics[3].Range.Start.Line)
}

func TestAnalyzePipelineErrors(t *testing.T) {
	handler := lsp.NewProverHandler(nil)
	uri, content := fixture(t, "loop.kbc")

	diagnostics, err := handler.Analyze(uri, content)
	require.NoError(t, err)
	require.Len(t, diagnostics, 1)
	assert.Equal(t, errors.ErrorLoopsNotSupported, diagnostics[0].Code.Value)
	assert.Contains(t, diagnostics[0].Message, "Loops::count")
}

func TestAnalyzeSyntaxError(t *testing.T) {
	handler := lsp.NewProverHandler(nil)
	uri, content := fixture(t, "syntax_error.kbc")

	diagnostics, err := handler.Analyze(uri, content)
	require.NoError(t, err)
	require.Len(t, diagnostics, 1)
	assert.Equal(t, errors.ErrorSyntax, diagnostics[0].Code.Value)
	assert.Equal(t, uint32(2), diagnostics[0].Range.Start.Line)
}

func TestOpenChangeClose(t *testing.T) {
	handler := lsp.NewProverHandler(nil)
	uri, content := fixture(t, "token.kbc")
	ctx := &glsp.Context{}

	require.NoError(t, handler.TextDocumentDidOpen(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, LanguageID: "kbc", Text: content},
	}))
	_, ok := handler.Env(uri)
	assert.True(t, ok)

	require.NoError(t, handler.TextDocumentDidChange(ctx, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
			Version:                2,
		},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: "module M { fun f() { return; } }"}},
	}))
	env, ok := handler.Env(uri)
	require.True(t, ok)
	assert.Equal(t, []string{"M::f"}, env.FunctionNames())

	require.NoError(t, handler.TextDocumentDidClose(ctx, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}))
	_, ok = handler.Env(uri)
	assert.False(t, ok)
}

func TestTextDocumentSemanticTokensFull(t *testing.T) {
	handler := lsp.NewProverHandler(nil)
	uri := protocol.DocumentUri("file:///tmp/semantic.kbc")
	source := `module M {
    #[pure]
    fun f(x: u64) : u64 {
        local y: u64;
        y := add(x, x);
        return y;
    }
}`
	_, err := handler.Analyze(uri, source)
	require.NoError(t, err)

	tokens, err := handler.TextDocumentSemanticTokensFull(&glsp.Context{}, &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
	require.NoError(t, err)

	decoded, err := decodeSemanticTokens(tokens.Data)
	require.NoError(t, err)
	require.Len(t, decoded, 18)

	assertToken(t, &decoded[0], 1, 1, 6, "keyword", nil)
	assertToken(t, &decoded[1], 1, 8, 1, "namespace", []string{"declaration"})
	assertToken(t, &decoded[2], 2, 7, 4, "modifier", nil)
	assertToken(t, &decoded[3], 3, 5, 3, "keyword", nil)
	assertToken(t, &decoded[4], 3, 9, 1, "function", []string{"declaration"})
	assertToken(t, &decoded[5], 3, 11, 1, "parameter", []string{"declaration"})
	assertToken(t, &decoded[6], 3, 14, 3, "type", nil)
	assertToken(t, &decoded[7], 3, 21, 3, "type", nil)
	assertToken(t, &decoded[8], 4, 9, 5, "keyword", nil)
	assertToken(t, &decoded[9], 4, 15, 1, "variable", []string{"declaration"})
	assertToken(t, &decoded[10], 4, 18, 3, "type", nil)
	assertToken(t, &decoded[11], 5, 9, 1, "variable", nil)
	assertToken(t, &decoded[12], 5, 11, 2, "operator", nil)
	assertToken(t, &decoded[13], 5, 14, 3, "function", nil)
	assertToken(t, &decoded[14], 5, 18, 1, "variable", nil)
	assertToken(t, &decoded[15], 5, 21, 1, "variable", nil)
	assertToken(t, &decoded[16], 6, 9, 6, "keyword", nil)
	assertToken(t, &decoded[17], 6, 16, 1, "variable", nil)
}

func TestSemanticTokensOfLabelsAndCalls(t *testing.T) {
	handler := lsp.NewProverHandler(nil)
	uri := protocol.DocumentUri("file:///tmp/labels.kbc")
	source := `module M {
    fun f(c: u8) {
        switch (c) [L0, L1];
        label L0;
        N::g();
        label L1;
        return;
    }
}`
	_, err := handler.Analyze(uri, source)
	require.NoError(t, err)

	tokens, err := handler.TextDocumentSemanticTokensFull(&glsp.Context{}, &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
	require.NoError(t, err)
	decoded, err := decodeSemanticTokens(tokens.Data)
	require.NoError(t, err)

	byPosition := map[string]DecodedToken{}
	for _, tok := range decoded {
		byPosition[fmt.Sprintf("%d:%d", tok.Line, tok.Char)] = tok
	}
	assert.Equal(t, "enumMember", byPosition["3:21"].Type)
	assert.Equal(t, "enumMember", byPosition["3:25"].Type)
	assert.Equal(t, "enumMember", byPosition["4:15"].Type)
	assert.Equal(t, "namespace", byPosition["5:9"].Type)
	assert.Equal(t, "function", byPosition["5:12"].Type)
}

func TestSemanticTokensOfUnknownDocument(t *testing.T) {
	handler := lsp.NewProverHandler(nil)
	_, err := handler.TextDocumentSemanticTokensFull(&glsp.Context{}, &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///tmp/unknown.kbc"},
	})
	assert.Error(t, err)
}

type DecodedToken struct {
	Index     int
	Line      uint32
	Char      uint32
	Length    uint32
	Type      string
	Modifiers []string
}

func decodeSemanticTokens(raw []uint32) ([]DecodedToken, error) {
	if len(raw)%5 != 0 {
		return nil, fmt.Errorf("raw token data length %d is not a multiple of 5", len(raw))
	}

	var (
		decoded []DecodedToken
		line    uint32
		char    uint32
	)

	for i := 0; i < len(raw); i += 5 {
		deltaLine := raw[i]
		deltaStart := raw[i+1]

		if deltaLine == 0 {
			char += deltaStart
		} else {
			line += deltaLine
			char = deltaStart
		}

		var modifiers []string
		for j, name := range lsp.SemanticTokenModifiers {
			if raw[i+4]&(1<<j) != 0 {
				modifiers = append(modifiers, name)
			}
		}

		decoded = append(decoded, DecodedToken{
			Index:     i / 5,
			Line:      line + 1,
			Char:      char + 1,
			Length:    raw[i+2],
			Type:      lsp.SemanticTokenTypes[raw[i+3]],
			Modifiers: modifiers,
		})
	}

	return decoded, nil
}

func assertToken(t *testing.T, token *DecodedToken, expectedLine, expectedChar, expectedLength uint32, expectedType string, expectedModifiers []string) {
	require.Equal(t, expectedLine, token.Line, "line mismatch (expected line %d)", expectedLine)
	require.Equal(t, expectedChar, token.Char, "char mismatch (expected char %d)", expectedChar)
	require.Equal(t, expectedLength, token.Length, "length mismatch")
	require.Equal(t, expectedType, token.Type, "type mismatch")
	require.ElementsMatch(t, expectedModifiers, token.Modifiers, "modifiers mismatch")
}
