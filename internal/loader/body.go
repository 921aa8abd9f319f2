package loader

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"kanso-prover/grammar"
	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/errors"
	"kanso-prover/internal/model"
	"kanso-prover/internal/source"
)

// bodyLoader lowers the statements of one function body into bytecode
type bodyLoader struct {
	*loader
	fun    *model.FunctionEnv
	temps  map[string]bytecode.TempIndex
	labels map[string]bytecode.Label
}

func (b *bodyLoader) declareTemp(name string, t *bytecode.Type, loc source.Loc) {
	if _, exists := b.temps[name]; exists {
		b.env.Report(errors.DuplicateDeclaration("local", name, loc))
		return
	}
	b.temps[name] = bytecode.TempIndex(len(b.fun.LocalTypes))
	b.fun.LocalTypes = append(b.fun.LocalTypes, t)
	b.fun.LocalNames = append(b.fun.LocalNames, name)
}

func (b *bodyLoader) declareLabel(name string, loc source.Loc) {
	if _, exists := b.labels[name]; exists {
		b.env.Report(errors.DuplicateDeclaration("label", name, loc))
		return
	}
	b.labels[name] = bytecode.Label(len(b.labels))
}

func (b *bodyLoader) temp(name string, loc source.Loc) (bytecode.TempIndex, bool) {
	idx, ok := b.temps[name]
	if !ok {
		b.env.Report(errors.UndefinedName(errors.ErrorUndefinedTemp, "local", name, loc, sortedKeys(b.temps)))
	}
	return idx, ok
}

func (b *bodyLoader) tempList(names []string, loc source.Loc) ([]bytecode.TempIndex, bool) {
	result := make([]bytecode.TempIndex, 0, len(names))
	valid := true
	for _, name := range names {
		idx, ok := b.temp(name, loc)
		valid = valid && ok
		result = append(result, idx)
	}
	return result, valid
}

func (b *bodyLoader) label(name string, loc source.Loc) (bytecode.Label, bool) {
	l, ok := b.labels[name]
	if !ok {
		b.env.Report(errors.UndefinedName(errors.ErrorUndefinedLabel, "label", name, loc, sortedKeys(b.labels)))
	}
	return l, ok
}

func (b *bodyLoader) typeOf(t bytecode.TempIndex) *bytecode.Type {
	return b.fun.LocalTypes[t]
}

// statement appends the instruction of stmt; invalid statements are
// reported and dropped
func (b *bodyLoader) statement(stmt *grammar.Statement) {
	loc := b.loc(stmt.Pos, stmt.EndPos)
	attr := bytecode.AttrID(len(b.fun.Locations))

	var instr bytecode.Bytecode
	switch {
	case stmt.Label != nil:
		if l, ok := b.labels[stmt.Label.Name]; ok {
			instr = &bytecode.LabelInstruction{Attr: attr, Label: l}
		}
	case stmt.Goto != nil:
		if target, ok := b.label(stmt.Goto.Target, loc); ok {
			instr = &bytecode.JumpTerminator{Attr: attr, Target: target}
		}
	case stmt.If != nil:
		instr = b.branch(stmt.If, attr, loc)
	case stmt.Switch != nil:
		instr = b.switchStmt(stmt.Switch, attr, loc)
	case stmt.Return != nil:
		instr = b.returnStmt(stmt.Return, attr, loc)
	case stmt.Abort != nil:
		if code, ok := b.temp(stmt.Abort.Code, loc); ok {
			instr = &bytecode.AbortTerminator{Attr: attr, Code: code}
		}
	case stmt.Nop:
		instr = &bytecode.NopInstruction{Attr: attr}
	case stmt.Assign != nil:
		instr = b.assign(stmt.Assign, attr, loc)
	case stmt.Call != nil:
		instr = b.call(stmt.Call, nil, attr, loc)
	}

	if instr == nil {
		return
	}
	b.fun.Locations[attr] = loc
	b.fun.Code = append(b.fun.Code, instr)
}

func (b *bodyLoader) branch(stmt *grammar.IfStmt, attr bytecode.AttrID, loc source.Loc) bytecode.Bytecode {
	cond, okCond := b.temp(stmt.Cond, loc)
	then, okThen := b.label(stmt.Then, loc)
	els, okElse := b.label(stmt.Else, loc)
	if !okCond || !okThen || !okElse {
		return nil
	}
	if !b.expectType(cond, bytecode.BoolType, loc) {
		return nil
	}
	return &bytecode.BranchTerminator{Attr: attr, Cond: cond, Then: then, Else: els}
}

func (b *bodyLoader) switchStmt(stmt *grammar.SwitchStmt, attr bytecode.AttrID, loc source.Loc) bytecode.Bytecode {
	cond, ok := b.temp(stmt.Cond, loc)
	targets := make([]bytecode.Label, 0, len(stmt.Targets))
	for _, name := range stmt.Targets {
		l, found := b.label(name, loc)
		ok = ok && found
		targets = append(targets, l)
	}
	if !ok {
		return nil
	}
	if t := b.typeOf(cond); t != nil && !t.IsInteger() {
		b.env.Report(errors.NewError(errors.ErrorInvalidType,
			fmt.Sprintf("switch condition '%s' must be an integer, found %s", stmt.Cond, t), loc).Build())
		return nil
	}
	return &bytecode.SwitchTerminator{Attr: attr, Cond: cond, Targets: targets}
}

func (b *bodyLoader) returnStmt(stmt *grammar.ReturnStmt, attr bytecode.AttrID, loc source.Loc) bytecode.Bytecode {
	srcs, ok := b.tempList(stmt.Values, loc)
	if !ok {
		return nil
	}
	if len(srcs) != len(b.fun.ReturnTypes) {
		b.env.Report(errors.InvalidArguments("return", len(b.fun.ReturnTypes), len(srcs), loc))
		return nil
	}
	return &bytecode.ReturnTerminator{Attr: attr, Srcs: srcs}
}

func (b *bodyLoader) assign(stmt *grammar.AssignStmt, attr bytecode.AttrID, loc source.Loc) bytecode.Bytecode {
	dests, ok := b.tempList(stmt.Dests, loc)
	if !ok {
		return nil
	}
	value := stmt.Value
	if value.Call != nil {
		return b.call(value.Call, dests, attr, loc)
	}
	if len(dests) != 1 {
		b.env.Report(errors.InvalidArguments(":=", 1, len(dests), loc))
		return nil
	}
	dest := dests[0]

	switch {
	case value.Temp != nil:
		src, ok := b.temp(*value.Temp, loc)
		if !ok {
			return nil
		}
		return &bytecode.AssignInstruction{Attr: attr, Dest: dest, Src: src}
	case value.Bool != nil:
		if !b.expectType(dest, bytecode.BoolType, loc) {
			return nil
		}
		return &bytecode.LoadInstruction{Attr: attr, Dest: dest, Value: bytecode.BoolConstant(*value.Bool == "true")}
	case value.Integer != nil:
		return b.loadInteger(dest, *value.Integer, attr, loc)
	case value.Address != nil:
		if !b.expectType(dest, bytecode.AddressType, loc) {
			return nil
		}
		hex, ok := parseAddress(*value.Address)
		if !ok {
			b.env.Report(errors.NewError(errors.ErrorInvalidType,
				fmt.Sprintf("invalid address literal %s", *value.Address), loc).Build())
			return nil
		}
		return &bytecode.LoadInstruction{Attr: attr, Dest: dest, Value: bytecode.AddressConstant(hex)}
	}
	return nil
}

func (b *bodyLoader) loadInteger(dest bytecode.TempIndex, text string, attr bytecode.AttrID, loc source.Loc) bytecode.Bytecode {
	constant, err := bytecode.ParseIntConstant(text)
	if err != nil {
		b.env.Report(errors.NewError(errors.ErrorInvalidType, err.Error(), loc).Build())
		return nil
	}
	t := b.typeOf(dest)
	if t == nil {
		return nil
	}
	if !t.IsInteger() {
		b.env.Report(errors.NewError(errors.ErrorInvalidType,
			fmt.Sprintf("cannot load integer %s into '%s' of type %s", text, b.fun.LocalNames[dest], t), loc).Build())
		return nil
	}
	if !constant.FitsIn(t.BitWidth()) {
		b.env.Report(errors.NewError(errors.ErrorInvalidType,
			fmt.Sprintf("integer %s does not fit in %s", text, t), loc).
			WithHelp(fmt.Sprintf("'%s' is declared as %s", b.fun.LocalNames[dest], t)).
			Build())
		return nil
	}
	return &bytecode.LoadInstruction{Attr: attr, Dest: dest, Value: constant}
}

func (b *bodyLoader) expectType(t bytecode.TempIndex, expected *bytecode.Type, loc source.Loc) bool {
	actual := b.typeOf(t)
	if actual == nil {
		return false
	}
	if !actual.Equals(expected) {
		b.env.Report(errors.NewError(errors.ErrorInvalidType,
			fmt.Sprintf("expected '%s' to be %s, found %s", b.fun.LocalNames[t], expected, actual), loc).Build())
		return false
	}
	return true
}

// call resolves builtins first, then functions of the current module, then
// Module::name references
func (b *bodyLoader) call(expr *grammar.CallExpr, dests []bytecode.TempIndex, attr bytecode.AttrID, loc source.Loc) bytecode.Bytecode {
	srcs, ok := b.tempList(expr.Args, loc)
	if !ok {
		return nil
	}

	op, ok := b.operation(expr, loc)
	if !ok {
		return nil
	}
	if !b.checkArity(op, expr, srcs, dests, loc) {
		return nil
	}

	instr := &bytecode.CallInstruction{Attr: attr, Dests: dests, Op: op, Srcs: srcs}
	if expr.OnAbort != nil {
		target, okTarget := b.label(expr.OnAbort.Target, loc)
		code, okCode := b.temp(expr.OnAbort.Code, loc)
		if !okTarget || !okCode {
			return nil
		}
		instr.Abort = &bytecode.AbortAction{Target: target, Code: code}
	}
	return instr
}

func (b *bodyLoader) operation(expr *grammar.CallExpr, loc source.Loc) (bytecode.Operation, bool) {
	if expr.Module == "" {
		if kind, ok := bytecode.LookupBuiltin(expr.Name); ok {
			return bytecode.Builtin(kind), true
		}
	}
	module := expr.Module
	if module == "" {
		module = b.fun.Module
	}
	qualified := module + "::" + expr.Name
	callee, ok := b.env.FindFunction(qualified)
	if !ok {
		b.env.Report(errors.UndefinedName(errors.ErrorUndefinedFunction, "function", qualified, loc, b.env.FunctionNames()))
		return bytecode.Operation{}, false
	}
	return bytecode.FunctionOp(callee.ID, callee.QualifiedName()), true
}

func (b *bodyLoader) checkArity(op bytecode.Operation, expr *grammar.CallExpr, srcs, dests []bytecode.TempIndex, loc source.Loc) bool {
	expectedSrcs, expectedDests := op.Arity()
	name := expr.Name
	if op.IsFunctionCall() {
		callee := b.env.Function(op.Callee)
		expectedSrcs, expectedDests = len(callee.Params), len(callee.ReturnTypes)
		name = callee.QualifiedName()
	}
	if expectedSrcs >= 0 && expectedSrcs != len(srcs) {
		b.env.Report(errors.InvalidArguments(name, expectedSrcs, len(srcs), loc))
		return false
	}
	if expectedDests >= 0 && expectedDests != len(dests) {
		b.env.Report(errors.NewError(errors.ErrorInvalidArguments,
			fmt.Sprintf("'%s' produces %d results but %d are assigned", name, expectedDests, len(dests)), loc).Build())
		return false
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
