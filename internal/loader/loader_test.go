package loader

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/errors"
	"kanso-prover/internal/model"
)

func loadFixture(t *testing.T, name string) *model.GlobalEnv {
	t.Helper()
	env, err := LoadFile(filepath.Join("..", "..", "testdata", name))
	require.NoError(t, err)
	return env
}

func codes(env *model.GlobalEnv) []string {
	var result []string
	for _, d := range env.Diagnostics.Sorted() {
		result = append(result, d.Code)
	}
	return result
}

func mustFind(t *testing.T, env *model.GlobalEnv, name string) *model.FunctionEnv {
	t.Helper()
	f, ok := env.FindFunction(name)
	require.True(t, ok, "function %s not loaded", name)
	return f
}

func TestLoadTokenModule(t *testing.T) {
	env := loadFixture(t, "token.kbc")
	require.False(t, env.HasErrors(), "%v", env.Diagnostics.All())

	assert.Equal(t, []string{
		"Token::transfer", "Token::max", "Token::sign", "Token::identity",
		"Fees::apply", "Fees::apply_spec",
	}, env.FunctionNames())

	transfer := mustFind(t, env, "Token::transfer")
	assert.True(t, transfer.HasAttribute(model.AttrVerify))
	assert.Equal(t, []string{"balance", "amount", "strict", "ok", "result", "code"}, transfer.LocalNames)
	assert.Len(t, transfer.Params, 3)
	assert.True(t, transfer.LocalTypes[2].Equals(bytecode.BoolType))
	assert.False(t, transfer.IsOpaque())

	apply := mustFind(t, env, "Fees::apply")
	assert.Equal(t, []bytecode.FunID{apply.ID}, transfer.CalledFunctions())

	spec := mustFind(t, env, "Fees::apply_spec")
	assert.True(t, spec.IsOpaque())
	specID, ok := apply.SpecFunction()
	require.True(t, ok)
	assert.Equal(t, spec.ID, specID)

	assert.True(t, mustFind(t, env, "Token::max").HasAttribute(model.AttrPure))
	assert.True(t, mustFind(t, env, "Token::identity").HasAttribute(model.AttrNoAbort))
}

func TestLoweredInstructions(t *testing.T) {
	env := loadFixture(t, "token.kbc")
	transfer := mustFind(t, env, "Token::transfer")

	listing := bytecode.PrintCode(transfer.Code)
	assert.Contains(t, listing, "$t3 := ge($t0, $t1)")
	assert.Contains(t, listing, "if ($t3) goto L0 else goto L1")
	assert.Contains(t, listing, "$t5 := 7")
	assert.Contains(t, listing, "abort $t5")
	assert.Contains(t, listing, "$t4 := Fees::apply($t4)")

	call, ok := transfer.Code[len(transfer.Code)-2].(*bytecode.CallInstruction)
	require.True(t, ok)
	assert.Equal(t, bytecode.OpFunction, call.Op.Kind)
	assert.Equal(t, "Fees::apply", call.Op.Name)
}

func TestAttributeLocations(t *testing.T) {
	env := loadFixture(t, "token.kbc")
	transfer := mustFind(t, env, "Token::transfer")

	assert.Len(t, transfer.Locations, len(transfer.Code))
	for i, instr := range transfer.Code {
		assert.Equal(t, bytecode.AttrID(i), instr.GetAttrID())
	}

	first := transfer.GetLoc(transfer.Code[0].GetAttrID())
	assert.Equal(t, 8, first.Start.Line)
	assert.Equal(t, 9, first.Start.Column)
	assert.Positive(t, first.Length)
	assert.Equal(t, 3, transfer.Loc.Start.Line)
}

func TestLabelsNumberedInDeclarationOrder(t *testing.T) {
	env := LoadString("order.kbc", `
module M {
    fun f(c: bool) {
        if (c) goto Late else goto Early;
        label Early;
        return;
        label Late;
        return;
    }
}`)
	require.False(t, env.HasErrors(), "%v", env.Diagnostics.All())

	f := mustFind(t, env, "M::f")
	branch := f.Code[0].(*bytecode.BranchTerminator)
	assert.Equal(t, bytecode.Label(1), branch.Then)
	assert.Equal(t, bytecode.Label(0), branch.Else)
}

func TestUndefinedNames(t *testing.T) {
	env := loadFixture(t, "undefined.kbc")
	require.True(t, env.HasErrors())

	assert.Equal(t, []string{
		errors.ErrorInvalidAttribute,
		errors.ErrorUndefinedTemp,
		errors.ErrorUndefinedLabel,
		errors.ErrorUndefinedFunction,
	}, codes(env))

	diags := env.Diagnostics.Sorted()
	assert.Equal(t, 5, diags[1].Loc.Start.Line)
	assert.Equal(t, "undefined local 'z'", diags[1].Message)
	assert.Equal(t, 6, diags[2].Loc.Start.Line)

	assert.Contains(t, diags[3].Message, "Broken::helpr")
	require.NotEmpty(t, diags[3].Suggestions)
	assert.Contains(t, diags[3].Suggestions[0].Message, "Broken::helper")
}

func TestSyntaxError(t *testing.T) {
	env := loadFixture(t, "syntax_error.kbc")

	require.Equal(t, []string{errors.ErrorSyntax}, codes(env))
	diag := env.Diagnostics.All()[0]
	assert.Equal(t, 3, diag.Loc.Start.Line)
	assert.Equal(t, "syntax_error.kbc", filepath.Base(diag.Loc.Start.Filename))
	assert.Empty(t, env.Functions())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join("..", "..", "testdata", "missing.kbc"))
	assert.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		code    string
		message string
	}{
		{
			name:    "duplicate function",
			source:  "module M { fun f() { return; } fun f() { return; } }",
			code:    errors.ErrorDuplicateDeclaration,
			message: "'M::f'",
		},
		{
			name:    "duplicate local",
			source:  "module M { fun f(x: u64) { local x: u64; return; } }",
			code:    errors.ErrorDuplicateDeclaration,
			message: "'x'",
		},
		{
			name:    "duplicate label",
			source:  "module M { fun f() { label L0; label L0; return; } }",
			code:    errors.ErrorDuplicateDeclaration,
			message: "'L0'",
		},
		{
			name:    "unknown type",
			source:  "module M { fun f(x: u32) { return; } }",
			code:    errors.ErrorInvalidType,
			message: "unknown type 'u32'",
		},
		{
			name:    "constant too wide",
			source:  "module M { fun f() { local x: u8; x := 256; return; } }",
			code:    errors.ErrorInvalidType,
			message: "does not fit in u8",
		},
		{
			name:    "integer into bool",
			source:  "module M { fun f() { local x: bool; x := 1; return; } }",
			code:    errors.ErrorInvalidType,
			message: "cannot load integer 1",
		},
		{
			name:    "branch on integer",
			source:  "module M { fun f(x: u64) { if (x) goto L0 else goto L0; label L0; return; } }",
			code:    errors.ErrorInvalidType,
			message: "expected 'x' to be bool",
		},
		{
			name:    "address into integer",
			source:  "module M { fun f() { local x: u64; x := @0x1; return; } }",
			code:    errors.ErrorInvalidType,
			message: "expected 'x' to be address",
		},
		{
			name:    "builtin arity",
			source:  "module M { fun f(x: u64) { local y: u64; y := add(x); return; } }",
			code:    errors.ErrorInvalidArguments,
			message: "operation 'add' expects 2 operands, got 1",
		},
		{
			name:    "call results",
			source:  "module M { fun g() { return; } fun f() { local y: u64; y := g(); return; } }",
			code:    errors.ErrorInvalidArguments,
			message: "'M::g' produces 0 results but 1 are assigned",
		},
		{
			name:    "return count",
			source:  "module M { fun f(x: u64) : u64 { return; } }",
			code:    errors.ErrorInvalidArguments,
			message: "operation 'return' expects 1 operands, got 0",
		},
		{
			name:    "spec without argument",
			source:  "module M { #[spec] fun f() { return; } }",
			code:    errors.ErrorInvalidAttribute,
			message: "requires a function name",
		},
		{
			name:    "argument on flag attribute",
			source:  "module M { #[pure(x)] fun f() { return; } }",
			code:    errors.ErrorInvalidAttribute,
			message: "takes no argument",
		},
		{
			name:    "unknown spec function",
			source:  "module M { #[spec(g_spec)] fun f() { return; } }",
			code:    errors.ErrorUndefinedFunction,
			message: "'M::g_spec'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := LoadString("test.kbc", tt.source)
			require.True(t, env.HasErrors())
			diag := env.Diagnostics.Sorted()[0]
			assert.Equal(t, tt.code, diag.Code)
			assert.Contains(t, diag.Message, tt.message)
		})
	}
}

func TestConstants(t *testing.T) {
	env := LoadString("constants.kbc", `
module M {
    fun f() {
        local a: address;
        local b: address;
        local w: u256;
        local flag: bool;
        a := @0xCAFE;
        b := @255;
        w := 0xffffffffffffffffffffffffffffffff;
        flag := false;
        return;
    }
}`)
	require.False(t, env.HasErrors(), "%v", env.Diagnostics.All())

	f := mustFind(t, env, "M::f")
	assert.Equal(t, "cafe", f.Code[0].(*bytecode.LoadInstruction).Value.Address)
	assert.Equal(t, "ff", f.Code[1].(*bytecode.LoadInstruction).Value.Address)
	assert.True(t, f.Code[2].(*bytecode.LoadInstruction).Value.FitsIn(128))
	assert.True(t, f.Code[3].(*bytecode.LoadInstruction).Value.Equals(bytecode.BoolConstant(false)))
}

func TestCallWithAbortAction(t *testing.T) {
	env := LoadString("abort.kbc", `
module M {
    fun g() { return; }
    fun f() {
        local code: u64;
        g() on_abort goto L0 with code;
        return;
        label L0;
        abort code;
    }
}`)
	require.False(t, env.HasErrors(), "%v", env.Diagnostics.All())

	f := mustFind(t, env, "M::f")
	call := f.Code[0].(*bytecode.CallInstruction)
	require.NotNil(t, call.Abort)
	assert.Equal(t, bytecode.Label(0), call.Abort.Target)
	assert.Equal(t, bytecode.TempIndex(0), call.Abort.Code)
	assert.True(t, call.IsTerminator())
}

func TestEmptyBodyWarning(t *testing.T) {
	env := LoadString("empty.kbc", "module M { fun f() { } }")

	assert.False(t, env.HasErrors())
	assert.Equal(t, []string{errors.WarningEmptyFunction}, codes(env))
	assert.True(t, mustFind(t, env, "M::f").IsOpaque())
}

func TestReferenceTypes(t *testing.T) {
	env := LoadString("refs.kbc", "module M { fun f(r: &mut u64, s: &u64) { return; } }")
	require.False(t, env.HasErrors(), "%v", env.Diagnostics.All())

	f := mustFind(t, env, "M::f")
	assert.True(t, f.Params[0].Type.IsMutableReference())
	assert.True(t, f.Params[1].Type.IsReference())
	assert.False(t, f.Params[1].Type.IsMutableReference())
}
