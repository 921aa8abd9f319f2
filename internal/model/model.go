package model

import (
	"fmt"
	"reflect"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"

	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/errors"
	"kanso-prover/internal/source"
)

// Attribute is a function attribute such as #[verify]
type Attribute string

const (
	AttrVerify        Attribute = "verify"
	AttrPure          Attribute = "pure"
	AttrDeterministic Attribute = "deterministic"
	AttrNoAbort       Attribute = "no_abort"
	AttrOpaque        Attribute = "opaque"
	AttrSpec          Attribute = "spec" // #[spec(fun)] registers a specification function
)

// KnownAttributes lists every attribute accepted on functions
var KnownAttributes = []string{
	string(AttrVerify),
	string(AttrPure),
	string(AttrDeterministic),
	string(AttrNoAbort),
	string(AttrOpaque),
	string(AttrSpec),
}

// Parameter is a named, typed function parameter
type Parameter struct {
	Name string
	Type *bytecode.Type
}

// FunctionEnv is the semantic model of one function
type FunctionEnv struct {
	ID          bytecode.FunID
	Module      string
	Name        string
	Params      []Parameter
	ReturnTypes []*bytecode.Type
	Attributes  mapset.Set[Attribute]
	Loc         source.Loc

	// Baseline body as produced by the front end
	Code       []bytecode.Bytecode
	LocalTypes []*bytecode.Type
	LocalNames []string
	Locations  map[bytecode.AttrID]source.Loc

	specFun    bytecode.FunID
	hasSpecFun bool
}

// NewFunctionEnv creates a function without a body
func NewFunctionEnv(module, name string, loc source.Loc) *FunctionEnv {
	return &FunctionEnv{
		Module:     module,
		Name:       name,
		Attributes: mapset.NewThreadUnsafeSet[Attribute](),
		Loc:        loc,
		Locations:  make(map[bytecode.AttrID]source.Loc),
	}
}

// QualifiedName returns Module::Name
func (f *FunctionEnv) QualifiedName() string {
	return fmt.Sprintf("%s::%s", f.Module, f.Name)
}

func (f *FunctionEnv) HasAttribute(attr Attribute) bool {
	return f.Attributes.Contains(attr)
}

// SetSpecFunction registers the specification function of f
func (f *FunctionEnv) SetSpecFunction(spec bytecode.FunID) {
	f.specFun = spec
	f.hasSpecFun = true
}

// SpecFunction returns the registered specification function, if any
func (f *FunctionEnv) SpecFunction() (bytecode.FunID, bool) {
	return f.specFun, f.hasSpecFun
}

// IsOpaque reports whether callers must not look into the body
func (f *FunctionEnv) IsOpaque() bool {
	return f.HasAttribute(AttrOpaque) || len(f.Code) == 0
}

// CalledFunctions returns the direct callees of the baseline code, ascending
func (f *FunctionEnv) CalledFunctions() []bytecode.FunID {
	callees := mapset.NewThreadUnsafeSet[bytecode.FunID]()
	for _, instr := range f.Code {
		if call, ok := instr.(*bytecode.CallInstruction); ok && call.Op.IsFunctionCall() {
			callees.Add(call.Op.Callee)
		}
	}
	ids := callees.ToSlice()
	slices.Sort(ids)
	return ids
}

// GetLoc returns the source location of an instruction, or the function's
func (f *FunctionEnv) GetLoc(attr bytecode.AttrID) source.Loc {
	if loc, ok := f.Locations[attr]; ok {
		return loc
	}
	return f.Loc
}

// GlobalEnv holds every function of a program, the shared diagnostic
// sink, and global facts produced by pipeline passes
type GlobalEnv struct {
	functions  []*FunctionEnv
	byName     map[string]bytecode.FunID
	sources    map[string]string
	extensions map[reflect.Type]any

	Diagnostics *errors.Diagnostics
}

// NewGlobalEnv creates an empty environment
func NewGlobalEnv() *GlobalEnv {
	return &GlobalEnv{
		byName:      make(map[string]bytecode.FunID),
		sources:     make(map[string]string),
		extensions:  make(map[reflect.Type]any),
		Diagnostics: errors.NewDiagnostics(),
	}
}

// AddFunction registers a function and assigns its id
func (env *GlobalEnv) AddFunction(f *FunctionEnv) bytecode.FunID {
	f.ID = bytecode.FunID(len(env.functions))
	env.functions = append(env.functions, f)
	env.byName[f.QualifiedName()] = f.ID
	return f.ID
}

// Function returns the function with the given id
func (env *GlobalEnv) Function(id bytecode.FunID) *FunctionEnv {
	if int(id) < 0 || int(id) >= len(env.functions) {
		panic(fmt.Sprintf("model: unknown function id %d", id))
	}
	return env.functions[id]
}

// Functions returns every function in id order
func (env *GlobalEnv) Functions() []*FunctionEnv {
	return env.functions
}

// FindFunction looks up a function by its qualified name
func (env *GlobalEnv) FindFunction(qualifiedName string) (*FunctionEnv, bool) {
	id, ok := env.byName[qualifiedName]
	if !ok {
		return nil, false
	}
	return env.functions[id], true
}

// FunctionNames returns the qualified names of all functions
func (env *GlobalEnv) FunctionNames() []string {
	names := make([]string, len(env.functions))
	for i, f := range env.functions {
		names[i] = f.QualifiedName()
	}
	return names
}

// AddSource records the text of a loaded file
func (env *GlobalEnv) AddSource(filename, content string) {
	env.sources[filename] = content
}

// Source returns the text of a loaded file
func (env *GlobalEnv) Source(filename string) (string, bool) {
	content, ok := env.sources[filename]
	return content, ok
}

// Report adds a diagnostic to the shared sink
func (env *GlobalEnv) Report(diag errors.Diagnostic) {
	env.Diagnostics.Add(diag)
}

// HasErrors reports whether an error-severity diagnostic was reported
func (env *GlobalEnv) HasErrors() bool {
	return env.Diagnostics.HasErrors()
}

// SetExtension stores a global fact, keyed by its dynamic type
func (env *GlobalEnv) SetExtension(value any) {
	env.extensions[reflect.TypeOf(value)] = value
}

// GetExtension retrieves a global fact stored with SetExtension
func GetExtension[T any](env *GlobalEnv) (T, bool) {
	var zero T
	value, ok := env.extensions[reflect.TypeOf(zero)]
	if !ok {
		return zero, false
	}
	return value.(T), true
}
