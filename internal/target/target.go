package target

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/model"
	"kanso-prover/internal/source"
)

// FunctionData is one annotated copy of a function body
type FunctionData struct {
	Variant     FunctionVariant
	Code        []bytecode.Bytecode
	LocalTypes  []*bytecode.Type
	LocalNames  []string
	ParamCount  int
	ReturnTypes []*bytecode.Type
	NameToIndex map[string]bytecode.TempIndex
	Locations   map[bytecode.AttrID]source.Loc
	NextAttrID  bytecode.AttrID
	Annotations *Annotations
}

// NewFunctionData creates the baseline data of a function from the model
func NewFunctionData(fun *model.FunctionEnv) *FunctionData {
	data := &FunctionData{
		Variant:     BaselineVariant,
		Code:        slices.Clone(fun.Code),
		LocalTypes:  slices.Clone(fun.LocalTypes),
		LocalNames:  slices.Clone(fun.LocalNames),
		ParamCount:  len(fun.Params),
		ReturnTypes: slices.Clone(fun.ReturnTypes),
		NameToIndex: make(map[string]bytecode.TempIndex),
		Locations:   maps.Clone(fun.Locations),
		Annotations: NewAnnotations(),
	}
	if data.Locations == nil {
		data.Locations = make(map[bytecode.AttrID]source.Loc)
	}
	for i, name := range fun.LocalNames {
		data.NameToIndex[name] = bytecode.TempIndex(i)
	}
	for _, instr := range fun.Code {
		if id := instr.GetAttrID(); id >= data.NextAttrID {
			data.NextAttrID = id + 1
		}
	}
	for id := range data.Locations {
		if id >= data.NextAttrID {
			data.NextAttrID = id + 1
		}
	}
	return data
}

// Clone copies the data into another variant. Annotations are copied shallowly.
func (d *FunctionData) Clone(variant FunctionVariant) *FunctionData {
	return &FunctionData{
		Variant:     variant,
		Code:        slices.Clone(d.Code),
		LocalTypes:  slices.Clone(d.LocalTypes),
		LocalNames:  slices.Clone(d.LocalNames),
		ParamCount:  d.ParamCount,
		ReturnTypes: slices.Clone(d.ReturnTypes),
		NameToIndex: maps.Clone(d.NameToIndex),
		Locations:   maps.Clone(d.Locations),
		NextAttrID:  d.NextAttrID,
		Annotations: d.Annotations.Clone(),
	}
}

// NewTemp allocates a fresh local slot of the given type
func (d *FunctionData) NewTemp(t *bytecode.Type) bytecode.TempIndex {
	d.LocalTypes = append(d.LocalTypes, t)
	d.LocalNames = append(d.LocalNames, "")
	return bytecode.TempIndex(len(d.LocalTypes) - 1)
}

// NewAttrID allocates an attribute id carrying the given location
func (d *FunctionData) NewAttrID(loc source.Loc) bytecode.AttrID {
	id := d.NextAttrID
	d.NextAttrID++
	d.Locations[id] = loc
	return id
}

// LocalCount returns the number of local slots, parameters included
func (d *FunctionData) LocalCount() int {
	return len(d.LocalTypes)
}

// HasMutableReferences reports whether any local slot is a &mut reference
func (d *FunctionData) HasMutableReferences() bool {
	for _, t := range d.LocalTypes {
		if t != nil && t.IsMutableReference() {
			return true
		}
	}
	return false
}

// TempName returns the source name of a temp, or its index
func (d *FunctionData) TempName(temp bytecode.TempIndex) string {
	if int(temp) < len(d.LocalNames) && d.LocalNames[temp] != "" {
		return d.LocalNames[temp]
	}
	return fmt.Sprintf("$t%d", temp)
}

// FunctionTargetsHolder stores, per function and variant, the one owned
// copy of its data
type FunctionTargetsHolder struct {
	targets map[bytecode.FunID]map[FunctionVariant]*FunctionData
}

// NewFunctionTargetsHolder creates an empty store
func NewFunctionTargetsHolder() *FunctionTargetsHolder {
	return &FunctionTargetsHolder{targets: make(map[bytecode.FunID]map[FunctionVariant]*FunctionData)}
}

// TargetsFor creates a store holding the baseline variant of every function of env
func TargetsFor(env *model.GlobalEnv) *FunctionTargetsHolder {
	h := NewFunctionTargetsHolder()
	for _, fun := range env.Functions() {
		h.AddTarget(fun)
	}
	return h
}

// AddTarget creates the baseline variant of a function
func (h *FunctionTargetsHolder) AddTarget(fun *model.FunctionEnv) {
	h.InsertData(fun.ID, BaselineVariant, NewFunctionData(fun))
}

// GetData returns the data of a variant without transferring ownership
func (h *FunctionTargetsHolder) GetData(id bytecode.FunID, variant FunctionVariant) (*FunctionData, bool) {
	data, ok := h.targets[id][variant]
	return data, ok
}

// HasData reports whether a variant exists
func (h *FunctionTargetsHolder) HasData(id bytecode.FunID, variant FunctionVariant) bool {
	_, ok := h.GetData(id, variant)
	return ok
}

// TakeData removes the data of a variant and hands it to the caller, who
// must give it back with InsertData or drop it
func (h *FunctionTargetsHolder) TakeData(id bytecode.FunID, variant FunctionVariant) (*FunctionData, bool) {
	data, ok := h.GetData(id, variant)
	if ok {
		h.RemoveData(id, variant)
	}
	return data, ok
}

// InsertData stores the data of a variant
func (h *FunctionTargetsHolder) InsertData(id bytecode.FunID, variant FunctionVariant, data *FunctionData) {
	variants, ok := h.targets[id]
	if !ok {
		variants = make(map[FunctionVariant]*FunctionData)
		h.targets[id] = variants
	}
	data.Variant = variant
	variants[variant] = data
}

// RemoveData drops a variant
func (h *FunctionTargetsHolder) RemoveData(id bytecode.FunID, variant FunctionVariant) {
	delete(h.targets[id], variant)
	if len(h.targets[id]) == 0 {
		delete(h.targets, id)
	}
}

// FunIDs returns every function with at least one variant, ascending
func (h *FunctionTargetsHolder) FunIDs() []bytecode.FunID {
	ids := maps.Keys(h.targets)
	slices.Sort(ids)
	return ids
}

// Variants returns the variants of a function, baseline first
func (h *FunctionTargetsHolder) Variants(id bytecode.FunID) []FunctionVariant {
	variants := maps.Keys(h.targets[id])
	slices.SortFunc(variants, func(a, b FunctionVariant) int { return a.Compare(b) })
	return variants
}

// Target returns a read-only view combining the model and a variant's data
func (h *FunctionTargetsHolder) Target(fun *model.FunctionEnv, variant FunctionVariant) (*FunctionTarget, bool) {
	data, ok := h.GetData(fun.ID, variant)
	if !ok {
		return nil, false
	}
	return &FunctionTarget{Func: fun, Data: data}, true
}

// FunctionTarget is a function together with one of its variants
type FunctionTarget struct {
	Func *model.FunctionEnv
	Data *FunctionData
}

// Name returns the qualified name of the function
func (t *FunctionTarget) Name() string {
	return t.Func.QualifiedName()
}

// GetLoc returns the source location of an instruction
func (t *FunctionTarget) GetLoc(attr bytecode.AttrID) source.Loc {
	if loc, ok := t.Data.Locations[attr]; ok {
		return loc
	}
	return t.Func.Loc
}

// Listing prepares the variant for printing
func (t *FunctionTarget) Listing() *bytecode.Listing {
	attrs := make([]string, 0, t.Func.Attributes.Cardinality())
	for _, attr := range t.Func.Attributes.ToSlice() {
		if attr != model.AttrSpec {
			attrs = append(attrs, string(attr))
		}
	}
	slices.Sort(attrs)
	return &bytecode.Listing{
		Name:        fmt.Sprintf("%s [%s]", t.Name(), t.Data.Variant),
		Attributes:  attrs,
		ParamCount:  t.Data.ParamCount,
		LocalTypes:  t.Data.LocalTypes,
		ReturnTypes: t.Data.ReturnTypes,
		Code:        t.Data.Code,
	}
}

// Print renders the variant's code with optional annotations
func (t *FunctionTarget) Print(annotators ...bytecode.Annotator) string {
	return bytecode.Print(t.Listing(), annotators...)
}
