package loader

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/tliron/commonlog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"kanso-prover/grammar"
	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/errors"
	"kanso-prover/internal/model"
	"kanso-prover/internal/source"
)

var log = commonlog.GetLogger("kanso-prover.loader")

// LoadFile reads a .kbc file into a fresh GlobalEnv. Only I/O failures are
// returned as errors; problems with the file are reported as diagnostics.
func LoadFile(path string) (*model.GlobalEnv, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return LoadString(path, string(content)), nil
}

// LoadString loads .kbc source text into a fresh GlobalEnv
func LoadString(filename, content string) *model.GlobalEnv {
	env := model.NewGlobalEnv()
	Load(env, filename, content)
	return env
}

// Load parses .kbc source text and adds its functions to env
func Load(env *model.GlobalEnv, filename, content string) {
	env.AddSource(filename, content)

	file, err := grammar.ParseString(filename, content)
	if err != nil {
		env.Report(SyntaxError(filename, err))
		return
	}

	l := &loader{env: env, filename: filename}
	decls := l.declare(file)
	for _, d := range decls {
		l.resolveSpec(d)
	}
	for _, d := range decls {
		l.loadBody(d)
	}
	log.Debugf("loaded %d functions from %s", len(decls), filename)
}

// SyntaxError converts a parse error into a diagnostic at the offending token
func SyntaxError(filename string, err error) errors.Diagnostic {
	pos, message, ok := grammar.ErrorPosition(err)
	if !ok {
		return errors.NewError(errors.ErrorSyntax, err.Error(), source.NoLoc).Build()
	}
	if pos.Filename != "" {
		filename = pos.Filename
	}
	return errors.NewError(errors.ErrorSyntax, message, source.NewLoc(filename, pos.Line, pos.Column, 1)).Build()
}

type loader struct {
	env      *model.GlobalEnv
	filename string
}

type declaration struct {
	fun *model.FunctionEnv
	ast *grammar.Function
}

func (l *loader) loc(pos, end lexer.Position) source.Loc {
	filename := pos.Filename
	if filename == "" {
		filename = l.filename
	}
	length := end.Offset - pos.Offset
	if length < 1 || end.Line > pos.Line {
		length = 1
	}
	return source.NewLoc(filename, pos.Line, pos.Column, length)
}

// declare registers every function signature so that bodies can call
// functions declared later in the file
func (l *loader) declare(file *grammar.File) []declaration {
	var decls []declaration
	for _, m := range file.Modules {
		for _, f := range m.Functions {
			loc := l.loc(f.Pos, f.EndPos)
			qualified := m.Name + "::" + f.Name
			if _, exists := l.env.FindFunction(qualified); exists {
				l.env.Report(errors.DuplicateDeclaration("function", qualified, loc))
				continue
			}

			fun := model.NewFunctionEnv(m.Name, f.Name, loc)
			for _, p := range f.Params {
				fun.Params = append(fun.Params, model.Parameter{Name: p.Name, Type: l.resolveType(p.Type)})
			}
			for _, r := range f.Returns {
				fun.ReturnTypes = append(fun.ReturnTypes, l.resolveType(r))
			}
			for _, attr := range f.Attributes {
				l.addAttribute(fun, attr)
			}

			l.env.AddFunction(fun)
			decls = append(decls, declaration{fun: fun, ast: f})
		}
	}
	return decls
}

func (l *loader) resolveType(t *grammar.Type) *bytecode.Type {
	prim, ok := bytecode.PrimitiveTypes[t.Name]
	if !ok {
		names := maps.Keys(bytecode.PrimitiveTypes)
		slices.Sort(names)
		l.env.Report(errors.NewError(errors.ErrorInvalidType, fmt.Sprintf("unknown type '%s'", t.Name), l.loc(t.Pos, t.EndPos)).
			WithHelp(fmt.Sprintf("types must be one of: %s", strings.Join(names, ", "))).
			Build())
		return nil
	}
	if t.Ref {
		return bytecode.NewReference(prim, t.Mut)
	}
	return prim
}

func (l *loader) addAttribute(fun *model.FunctionEnv, attr *grammar.Attribute) {
	loc := l.loc(attr.Pos, attr.EndPos)
	if !slices.Contains(model.KnownAttributes, attr.Name) {
		l.env.Report(errors.InvalidAttribute(attr.Name, loc, model.KnownAttributes))
		return
	}

	name := model.Attribute(attr.Name)
	switch {
	case name == model.AttrSpec && attr.Arg == "":
		l.env.Report(errors.NewError(errors.ErrorInvalidAttribute, "attribute #[spec] requires a function name", loc).
			WithSuggestion("write #[spec(name)]").
			Build())
		return
	case name != model.AttrSpec && attr.Arg != "":
		l.env.Report(errors.NewError(errors.ErrorInvalidAttribute,
			fmt.Sprintf("attribute #[%s] takes no argument", attr.Name), loc).Build())
		return
	}
	fun.Attributes.Add(name)
}

func (l *loader) resolveSpec(d declaration) {
	for _, attr := range d.ast.Attributes {
		if attr.Name != string(model.AttrSpec) || attr.Arg == "" {
			continue
		}
		qualified := d.fun.Module + "::" + attr.Arg
		spec, ok := l.env.FindFunction(qualified)
		if !ok {
			l.env.Report(errors.UndefinedName(errors.ErrorUndefinedFunction, "function", qualified,
				l.loc(attr.Pos, attr.EndPos), l.env.FunctionNames()))
			continue
		}
		d.fun.SetSpecFunction(spec.ID)
	}
}

func (l *loader) loadBody(d declaration) {
	if d.ast.Body == nil {
		return
	}

	b := &bodyLoader{
		loader: l,
		fun:    d.fun,
		temps:  make(map[string]bytecode.TempIndex),
		labels: make(map[string]bytecode.Label),
	}
	for _, p := range d.ast.Params {
		b.declareTemp(p.Name, l.resolveTypeQuiet(p.Type), l.loc(p.Pos, p.EndPos))
	}
	for _, local := range d.ast.Body.Locals {
		b.declareTemp(local.Name, l.resolveType(local.Type), l.loc(local.Pos, local.EndPos))
	}
	for _, stmt := range d.ast.Body.Statements {
		if stmt.Label != nil {
			b.declareLabel(stmt.Label.Name, l.loc(stmt.Pos, stmt.EndPos))
		}
	}
	for _, stmt := range d.ast.Body.Statements {
		b.statement(stmt)
	}

	if len(d.ast.Body.Statements) == 0 {
		l.env.Report(errors.NewWarning(errors.WarningEmptyFunction,
			fmt.Sprintf("function '%s' has an empty body", d.fun.QualifiedName()), d.fun.Loc).
			WithHelp("declare the function with ';' instead of a body to mark it as opaque").
			Build())
	}
}

// resolveTypeQuiet resolves a parameter type already reported by declare
func (l *loader) resolveTypeQuiet(t *grammar.Type) *bytecode.Type {
	prim, ok := bytecode.PrimitiveTypes[t.Name]
	if !ok {
		return nil
	}
	if t.Ref {
		return bytecode.NewReference(prim, t.Mut)
	}
	return prim
}

// parseAddress turns @0x.. or @decimal into lowercase hex digits
func parseAddress(text string) (string, bool) {
	text = strings.TrimPrefix(text, "@")
	if hex, ok := strings.CutPrefix(text, "0x"); ok {
		return strings.ToLower(hex), true
	}
	v, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return "", false
	}
	return v.Text(16), true
}
