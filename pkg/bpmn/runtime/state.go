// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"slices"
	"sort"
	"sync"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

// GlobalScope is the element id of process wide variables.
const GlobalScope = ""

// ScopeResolver provides the structural parent of an element.
// *bpmn20.Graph satisfies it.
type ScopeResolver interface {
	ParentId(id string) string
}

// VariableEntry is one write into the variable history.
// A nil Value marks the variable as cleared for the owning element.
type VariableEntry struct {
	ElementId string `yaml:"elementId" json:"elementId"`
	Name      string `yaml:"name" json:"name"`
	Value     any    `yaml:"value" json:"value"`
	// Step is the number of path records present when the value was written.
	Step int `yaml:"step" json:"step"`
}

// ProcessState is the mutable aggregate of one process instance: the path
// tracker and the variables store guarded by a single mutex.
//
// Query and mutation methods do not lock, callers wrap every read-modify-write
// sequence in Lock/Unlock. Save and Load take the lock themselves.
type ProcessState struct {
	mu sync.Mutex

	Key       int64
	path      *Path
	variables []VariableEntry
	resolver  ScopeResolver
}

// NewProcessState creates an empty state. The resolver may be nil, in that case
// the scope chain skips structural ancestors.
func NewProcessState(resolver ScopeResolver) *ProcessState {
	return &ProcessState{
		path:     newPath(),
		resolver: resolver,
	}
}

func (s *ProcessState) Lock()   { s.mu.Lock() }
func (s *ProcessState) Unlock() { s.mu.Unlock() }

// Path returns the path tracker of this instance.
func (s *ProcessState) Path() *Path { return s.path }

// ScopeChain returns the element ids walked to resolve variables for elementId,
// most specific first and ending with GlobalScope. The chain follows the
// activating steps recorded in the path first, then the structural parents.
//
// A step is only listed once every reached step it activated is listed, so all
// branches consumed by a join come before the fork they started at. Branches
// are taken in the declaration order of the join's incoming flows.
func (s *ProcessState) ScopeChain(elementId string) []string {
	if elementId == GlobalScope {
		return []string{GlobalScope}
	}
	// discover the activation graph reachable from elementId
	discovered := []string{elementId}
	activators := map[string][]string{}
	pending := map[string]int{}
	for i := 0; i < len(discovered); i++ {
		id := discovered[i]
		for _, source := range s.path.ActivatedBy(id) {
			if source == GlobalScope {
				continue
			}
			activators[id] = append(activators[id], source)
			if _, seen := pending[source]; !seen && source != elementId {
				discovered = append(discovered, source)
			}
			pending[source]++
		}
	}

	visited := map[string]bool{}
	var chain []string
	queue := []string{elementId}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		chain = append(chain, id)
		for _, source := range activators[id] {
			if pending[source]--; pending[source] == 0 {
				queue = append(queue, source)
			}
		}
	}
	// loops in the history leave steps that are never released
	for _, id := range discovered {
		if !visited[id] {
			visited[id] = true
			chain = append(chain, id)
		}
	}
	if s.resolver != nil {
		for id := s.resolver.ParentId(elementId); id != GlobalScope && !visited[id]; id = s.resolver.ParentId(id) {
			visited[id] = true
			chain = append(chain, id)
		}
	}
	return append(chain, GlobalScope)
}

// lookup returns the latest visible entry written by elementId itself.
func (s *ProcessState) lookup(elementId string, key string) (any, bool) {
	limit := s.path.visibleSteps()
	for i := len(s.variables) - 1; i >= 0; i-- {
		v := s.variables[i]
		if v.Step > limit {
			continue
		}
		if v.ElementId == elementId && v.Name == key {
			return v.Value, true
		}
	}
	return nil, false
}

// Get returns the first value found walking the scope chain of elementId, or nil.
func (s *ProcessState) Get(elementId string, key string) any {
	for _, scope := range s.ScopeChain(elementId) {
		if value, ok := s.lookup(scope, key); ok {
			return value
		}
	}
	return nil
}

// Keys lists names visible from elementId which hold a value. A value cleared by
// a closer scope hides the inherited one.
func (s *ProcessState) Keys(elementId string) []string {
	decided := map[string]bool{}
	var keys []string
	for _, scope := range s.ScopeChain(elementId) {
		for _, name := range s.namesOf(scope) {
			if decided[name] {
				continue
			}
			decided[name] = true
			if value, _ := s.lookup(scope, name); value != nil {
				keys = append(keys, name)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *ProcessState) namesOf(elementId string) []string {
	limit := s.path.visibleSteps()
	var names []string
	for _, v := range s.variables {
		if v.Step <= limit && v.ElementId == elementId && !slices.Contains(names, v.Name) {
			names = append(names, v.Name)
		}
	}
	return names
}

// Set writes a value owned by elementId. Nothing is recorded when the visible
// value is already equal. Returns true when an entry was written.
//
// Values are stored in their document form, see NormalizeValue.
func (s *ProcessState) Set(elementId string, key string, value any) bool {
	value = NormalizeValue(value)
	if equalValues(s.Get(elementId, key), value) {
		return false
	}
	s.variables = append(s.variables, VariableEntry{
		ElementId: elementId,
		Name:      key,
		Value:     value,
		Step:      s.path.visibleSteps(),
	})
	return true
}

// MergeVariables writes the values of a scope returned by a handler into the
// scope of elementId: cleared values are nulled, new values are written and
// existing values are overwritten only when they differ.
// Returns the number of written entries.
func (s *ProcessState) MergeVariables(elementId string, vars *Variables) int {
	if vars == nil {
		return 0
	}
	written := 0
	for _, key := range vars.Keys() {
		if s.Set(elementId, key, vars.Get(key)) {
			written++
		}
	}
	return written
}

// AllKeys lists every variable name ever written, visible to the current
// animation frame, sorted.
func (s *ProcessState) AllKeys() []string {
	limit := s.path.visibleSteps()
	var keys []string
	for _, v := range s.variables {
		if v.Step <= limit && !slices.Contains(keys, v.Name) {
			keys = append(keys, v.Name)
		}
	}
	sort.Strings(keys)
	return keys
}

// Latest returns the most recent visible write of key in any scope.
func (s *ProcessState) Latest(key string) any {
	limit := s.path.visibleSteps()
	for i := len(s.variables) - 1; i >= 0; i-- {
		if v := s.variables[i]; v.Step <= limit && v.Name == key {
			return v.Value
		}
	}
	return nil
}

// VariableHistory returns a copy of the visible variable writes in write order.
func (s *ProcessState) VariableHistory() []VariableEntry {
	limit := s.path.visibleSteps()
	var history []VariableEntry
	for _, v := range s.variables {
		if v.Step <= limit {
			history = append(history, v)
		}
	}
	return history
}

// NormalizeValue converts a variable value into the types it has after a save
// and load of the state document: integral numbers become int, other numbers
// float64, maps map[string]any and slices []any. Values the document cannot
// hold are returned unchanged.
func NormalizeValue(value any) (normalized any) {
	switch v := value.(type) {
	case nil, string, bool, int:
		return value
	case float64:
		if v != float64(int(v)) {
			return value
		}
	}
	defer func() {
		if recover() != nil {
			normalized = value
		}
	}()
	data, err := yaml.Marshal(value)
	if err != nil {
		return value
	}
	if err := yaml.Unmarshal(data, &normalized); err != nil {
		return value
	}
	return normalized
}

// equalValues compares variable payloads, numbers by value. A comparison which
// cannot be made reports the values as different.
func equalValues(a, b any) (equal bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := asFloat(a); ok {
		if y, ok := asFloat(b); ok {
			return x == y
		}
	}
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return cmp.Equal(a, b)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
