package lsp

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"kanso-prover/internal/config"
	"kanso-prover/internal/loader"
	"kanso-prover/internal/model"
	"kanso-prover/internal/passes"
	"kanso-prover/internal/target"
)

var log = commonlog.GetLogger("kanso-prover.lsp")

// analysisCacheSize bounds how many document versions keep their analysis
const analysisCacheSize = 64

// ProverHandler implements the LSP server handlers for .kbc files
type ProverHandler struct {
	mu       sync.RWMutex
	cfg      *config.Config
	content  map[string]string
	envs     map[string]*model.GlobalEnv
	analyses *lru.Cache
}

// analysisKey identifies one version of a document
type analysisKey struct {
	path string
	sum  [sha256.Size]byte
}

type analysis struct {
	env         *model.GlobalEnv
	diagnostics []protocol.Diagnostic
}

// NewProverHandler creates a handler running the configured pipeline
func NewProverHandler(cfg *config.Config) *ProverHandler {
	if cfg == nil {
		cfg = config.Default()
	}
	analyses, _ := lru.New(analysisCacheSize)
	return &ProverHandler{
		cfg:      cfg,
		content:  make(map[string]string),
		envs:     make(map[string]*model.GlobalEnv),
		analyses: analyses,
	}
}

// Initialize advertises full document sync and semantic tokens
func (h *ProverHandler) Initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("initialize")

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: ptrBool(true),
				Change:    ptrSyncKind(protocol.TextDocumentSyncKindFull),
			},
			SemanticTokensProvider: &protocol.SemanticTokensOptions{
				Legend: protocol.SemanticTokensLegend{
					TokenTypes:     SemanticTokenTypes,
					TokenModifiers: SemanticTokenModifiers,
				},
				Full: ptrBool(true),
			},
		},
	}, nil
}

func (h *ProverHandler) Initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	log.Info("initialized")
	return nil
}

func (h *ProverHandler) Shutdown(ctx *glsp.Context) error {
	log.Info("shutdown")
	return nil
}

func (h *ProverHandler) SetTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// TextDocumentDidOpen analyzes the opened document and publishes its diagnostics
func (h *ProverHandler) TextDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	log.Debugf("opened %s", params.TextDocument.URI)

	diagnostics, err := h.Analyze(params.TextDocument.URI, params.TextDocument.Text)
	if err != nil {
		return err
	}
	sendDiagnosticNotification(ctx, params.TextDocument.URI, diagnostics)
	return nil
}

// TextDocumentDidChange re-analyzes the document after a full-text change
func (h *ProverHandler) TextDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	log.Debugf("changed %s", params.TextDocument.URI)

	text, ok := lastFullText(params.ContentChanges)
	if !ok {
		return fmt.Errorf("no full text change for %s", params.TextDocument.URI)
	}
	diagnostics, err := h.Analyze(params.TextDocument.URI, text)
	if err != nil {
		return err
	}
	sendDiagnosticNotification(ctx, params.TextDocument.URI, diagnostics)
	return nil
}

// TextDocumentDidClose forgets the document and clears its diagnostics
func (h *ProverHandler) TextDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	log.Debugf("closed %s", params.TextDocument.URI)

	path, err := uriToPath(params.TextDocument.URI)
	if err != nil {
		return err
	}

	h.mu.Lock()
	delete(h.content, path)
	delete(h.envs, path)
	h.mu.Unlock()

	sendDiagnosticNotification(ctx, params.TextDocument.URI, []protocol.Diagnostic{})
	return nil
}

// TextDocumentSemanticTokensFull classifies the tokens of an open document
func (h *ProverHandler) TextDocumentSemanticTokensFull(ctx *glsp.Context, params *protocol.SemanticTokensParams) (*protocol.SemanticTokens, error) {
	path, err := uriToPath(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	content, ok := h.content[path]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("document %s is not open", params.TextDocument.URI)
	}

	tokens, err := collectSemanticTokens(path, content)
	if err != nil {
		return nil, err
	}
	return &protocol.SemanticTokens{Data: encodeSemanticTokens(tokens)}, nil
}

// Analyze loads a document, runs the pipeline when loading succeeded, and
// returns the diagnostics that belong to the document. Text that was
// analyzed before is served from the cache.
func (h *ProverHandler) Analyze(uri protocol.DocumentUri, content string) ([]protocol.Diagnostic, error) {
	path, err := uriToPath(uri)
	if err != nil {
		return nil, err
	}

	key := analysisKey{path: path, sum: sha256.Sum256([]byte(content))}
	result, err := h.cachedAnalysis(key, content)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.content[path] = content
	h.envs[path] = result.env
	h.mu.Unlock()

	return result.diagnostics, nil
}

func (h *ProverHandler) cachedAnalysis(key analysisKey, content string) (*analysis, error) {
	if cached, ok := h.analyses.Get(key); ok {
		log.Debugf("%s: unchanged, reusing analysis", key.path)
		return cached.(*analysis), nil
	}

	env := loader.LoadString(key.path, content)
	if !env.HasErrors() {
		p, err := passes.NewPipeline(h.cfg.Pipeline.Passes, h.cfg.PassOptions())
		if err != nil {
			return nil, err
		}
		if err := p.Run(env, target.TargetsFor(env)); err != nil {
			log.Debugf("%s: %s", key.path, err)
		}
	}

	result := &analysis{env: env, diagnostics: ConvertDiagnostics(key.path, env.Diagnostics.Sorted())}
	h.analyses.Add(key, result)
	return result, nil
}

// Env returns the environment of the last analysis of a document
func (h *ProverHandler) Env(uri protocol.DocumentUri) (*model.GlobalEnv, bool) {
	path, err := uriToPath(uri)
	if err != nil {
		return nil, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	env, ok := h.envs[path]
	return env, ok
}

func lastFullText(changes []any) (string, bool) {
	for i := len(changes) - 1; i >= 0; i-- {
		switch change := changes[i].(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			return change.Text, true
		case *protocol.TextDocumentContentChangeEventWhole:
			return change.Text, true
		}
	}
	return "", false
}

// uriToPath maps a file:// document URI to a local path. Other schemes keep
// their path so untitled buffers still get diagnostics.
func uriToPath(rawURI string) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", fmt.Errorf("bad document URI %q: %w", rawURI, err)
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	if runtime.GOOS == "windows" && len(p) > 3 && strings.HasPrefix(p, "/") && p[2] == ':' {
		p = strings.TrimPrefix(p, "/")
	}
	return filepath.FromSlash(p), nil
}

func sendDiagnosticNotification(ctx *glsp.Context, uri protocol.URI, diagnostics []protocol.Diagnostic) {
	if ctx == nil || ctx.Notify == nil {
		return
	}
	log.Debugf("sending %d diagnostics for %s", len(diagnostics), uri)

	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

func ptrBool(b bool) *bool {
	return &b
}

func ptrSyncKind(k protocol.TextDocumentSyncKind) *protocol.TextDocumentSyncKind {
	return &k
}
