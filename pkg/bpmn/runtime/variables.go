package runtime

import (
	"maps"
	"slices"
)

// Variables is a detached view of the variables visible from one element.
// Handlers read and modify it freely; changes reach the process state only
// through ProcessState.MergeVariables.
type Variables struct {
	elementId string
	values    map[string]any
}

// NewVariables snapshots the variables visible from elementId.
// The caller holds the state lock.
func NewVariables(elementId string, state *ProcessState) *Variables {
	v := &Variables{elementId: elementId, values: map[string]any{}}
	for _, key := range state.Keys(elementId) {
		v.values[key] = state.Get(elementId, key)
	}
	return v
}

// NewVariablesFromMap builds an input container which is not bound to any
// element, used to pass values into BeginProcess or CompleteTask.
func NewVariablesFromMap(values map[string]any) *Variables {
	v := &Variables{values: map[string]any{}}
	maps.Copy(v.values, values)
	return v
}

// ElementId is the element the snapshot was taken for, "" for input containers.
func (v *Variables) ElementId() string { return v.elementId }

// Keys returns all names held by the container including cleared ones, sorted.
func (v *Variables) Keys() []string {
	return slices.Sorted(maps.Keys(v.values))
}

func (v *Variables) Get(key string) any {
	return v.values[key]
}

// Set stores a value; a nil value clears the variable when merged.
func (v *Variables) Set(key string, value any) {
	v.values[key] = value
}

func (v *Variables) Delete(key string) {
	v.values[key] = nil
}

// Map returns the non nil values.
func (v *Variables) Map() map[string]any {
	m := make(map[string]any, len(v.values))
	for k, val := range v.values {
		if val != nil {
			m[k] = val
		}
	}
	return m
}
