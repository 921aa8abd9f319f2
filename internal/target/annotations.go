package target

import (
	"reflect"
)

type annotation struct {
	value    any
	fixpoint bool
}

// Annotations is a heterogeneous bag of analysis results, one slot per
// Go type. Each slot records whether its last update reached a fixpoint.
type Annotations struct {
	entries map[reflect.Type]*annotation
}

// NewAnnotations creates an empty bag
func NewAnnotations() *Annotations {
	return &Annotations{entries: make(map[reflect.Type]*annotation)}
}

// Set stores value in the slot of its dynamic type
func (a *Annotations) Set(value any, fixpoint bool) {
	a.entries[reflect.TypeOf(value)] = &annotation{value: value, fixpoint: fixpoint}
}

// SetWithFixpointCheck stores value and marks the slot as having reached a
// fixpoint iff the previous value is deeply equal to the new one
func (a *Annotations) SetWithFixpointCheck(value any) {
	key := reflect.TypeOf(value)
	prev, ok := a.entries[key]
	fixpoint := ok && reflect.DeepEqual(prev.value, value)
	a.entries[key] = &annotation{value: value, fixpoint: fixpoint}
}

// Get retrieves the annotation of type T
func Get[T any](a *Annotations) (T, bool) {
	var zero T
	entry, ok := a.entries[reflect.TypeOf(zero)]
	if !ok {
		return zero, false
	}
	return entry.value.(T), true
}

// Has reports whether an annotation of the value's type is present
func (a *Annotations) Has(value any) bool {
	_, ok := a.entries[reflect.TypeOf(value)]
	return ok
}

// Remove deletes the annotation of the value's type
func (a *Annotations) Remove(value any) {
	delete(a.entries, reflect.TypeOf(value))
}

// ReachedFixpoint reports whether every slot reached a fixpoint
func (a *Annotations) ReachedFixpoint() bool {
	for _, entry := range a.entries {
		if !entry.fixpoint {
			return false
		}
	}
	return true
}

// Settle marks every slot as having reached a fixpoint, so that only
// slots updated afterwards can report a change
func (a *Annotations) Settle() {
	for _, entry := range a.entries {
		entry.fixpoint = true
	}
}

// Clear removes all annotations
func (a *Annotations) Clear() {
	a.entries = make(map[reflect.Type]*annotation)
}

// Len returns the number of annotations
func (a *Annotations) Len() int {
	return len(a.entries)
}

// Clone returns a shallow copy of the bag
func (a *Annotations) Clone() *Annotations {
	c := NewAnnotations()
	for key, entry := range a.entries {
		copied := *entry
		c.entries[key] = &copied
	}
	return c
}
