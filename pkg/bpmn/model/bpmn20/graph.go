package bpmn20

import (
	"errors"
	"fmt"
)

// ErrNoDefinitions is returned when a graph is built without any definition root.
var ErrNoDefinitions = errors.New("no instance of definitions was located")

// Graph is a read-only forest of definitions with lookups precomputed once on
// construction. A Graph is safe for concurrent reads.
type Graph struct {
	definitions []*Element
	elements    []*Element // depth first, document order

	byId         map[string]*Element
	parents      map[string]string
	owningDef    map[string]*Element
	lanes        map[string]*Element
	defElements  map[*Element]map[string]*Element
	processes    []*Element
	intermediate map[*Element][]*Element // catch events per definition
}

// NewGraph indexes the given definition roots.
// Ids are expected to be unique within each definition; if two definitions
// share an id the global lookup resolves to the first one.
func NewGraph(definitions ...*Element) (*Graph, error) {
	g := &Graph{
		byId:         map[string]*Element{},
		parents:      map[string]string{},
		owningDef:    map[string]*Element{},
		lanes:        map[string]*Element{},
		defElements:  map[*Element]map[string]*Element{},
		intermediate: map[*Element][]*Element{},
	}
	for _, def := range definitions {
		if def == nil {
			continue
		}
		if def.Type != ElementTypeDefinition {
			return nil, fmt.Errorf("root element %s is of type %s, expected %s", def.Id, def.Type, ElementTypeDefinition)
		}
		g.definitions = append(g.definitions, def)
		g.defElements[def] = map[string]*Element{}
		if err := g.collect(def, def, ""); err != nil {
			return nil, err
		}
	}
	if len(g.definitions) == 0 {
		return nil, ErrNoDefinitions
	}
	for _, def := range g.definitions {
		if err := g.resolveReferences(def); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Graph) collect(def *Element, e *Element, parentId string) error {
	scope := g.defElements[def]
	if _, exists := scope[e.Id]; exists {
		return fmt.Errorf("duplicate element id %s in definition %s", e.Id, def.Id)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("element %s has unsupported type %q", e.Id, e.Type)
	}

	scope[e.Id] = e
	g.elements = append(g.elements, e)
	if _, exists := g.byId[e.Id]; !exists {
		g.byId[e.Id] = e
		g.owningDef[e.Id] = def
		if parentId != "" {
			g.parents[e.Id] = parentId
		}
	}
	switch {
	case e.Type == ElementTypeProcess:
		g.processes = append(g.processes, e)
	case e.Type == ElementTypeIntermediateCatchEvent:
		g.intermediate[def] = append(g.intermediate[def], e)
	case e.Type == ElementTypeLane:
		for _, ref := range e.FlowNodeRefs {
			if _, exists := g.lanes[ref]; !exists {
				g.lanes[ref] = e
			}
		}
	}
	for _, child := range e.Children {
		if err := g.collect(def, child, e.Id); err != nil {
			return err
		}
	}
	return nil
}

// resolveReferences checks flow references and derives incoming/outgoing
// associations for flow nodes which did not declare them.
func (g *Graph) resolveReferences(def *Element) error {
	scope := g.defElements[def]
	declared := map[string]bool{}
	for _, e := range scope {
		if len(e.Incoming) > 0 || len(e.Outgoing) > 0 {
			declared[e.Id] = true
		}
	}
	for _, e := range g.elements {
		if e.Type != ElementTypeSequenceFlow || scope[e.Id] != e {
			continue
		}
		source, ok := scope[e.SourceRef]
		if !ok {
			return fmt.Errorf("failed to resolve source reference %q of sequence flow %s", e.SourceRef, e.Id)
		}
		target, ok := scope[e.TargetRef]
		if !ok {
			return fmt.Errorf("failed to resolve target reference %q of sequence flow %s", e.TargetRef, e.Id)
		}
		if !declared[source.Id] {
			source.Outgoing = append(source.Outgoing, e.Id)
		}
		if !declared[target.Id] {
			target.Incoming = append(target.Incoming, e.Id)
		}
	}
	for _, e := range scope {
		if e.Default == "" {
			continue
		}
		flow, ok := scope[e.Default]
		if !ok || flow.Type != ElementTypeSequenceFlow {
			return fmt.Errorf("failed to resolve default sequence flow %q of gateway %s", e.Default, e.Id)
		}
	}
	return nil
}

// Definitions returns the definition roots in load order.
func (g *Graph) Definitions() []*Element { return g.definitions }

// Processes returns all process elements in document order.
func (g *Graph) Processes() []*Element { return g.processes }

// Elements returns every element of the forest, depth first in document order.
func (g *Graph) Elements() []*Element { return g.elements }

// Locate returns the element with the given id, or nil.
func (g *Graph) Locate(id string) *Element {
	return g.byId[id]
}

// LocateElement resolves an id scoped to one definition.
func (g *Graph) LocateElement(definition *Element, id string) *Element {
	scope, ok := g.defElements[definition]
	if !ok {
		return nil
	}
	return scope[id]
}

// DefinitionOf returns the definition owning the element with the given id.
func (g *Graph) DefinitionOf(id string) *Element {
	return g.owningDef[id]
}

// LaneOf returns the lane referencing the given flow node, or nil.
func (g *Graph) LaneOf(id string) *Element {
	return g.lanes[id]
}

// ParentId returns the structural parent of the element, or "" for roots and unknown ids.
func (g *Graph) ParentId(id string) string {
	return g.parents[id]
}

// ProcessOf walks the containment chain up to the owning process.
func (g *Graph) ProcessOf(id string) *Element {
	for current := g.parents[id]; current != ""; current = g.parents[current] {
		if e := g.byId[current]; e != nil && e.Type == ElementTypeProcess {
			return e
		}
	}
	return nil
}

// IntermediateCatchEvents returns the catch events of a definition in document order.
func (g *Graph) IntermediateCatchEvents(definition *Element) []*Element {
	return g.intermediate[definition]
}

// FindSequenceFlows returns the flows of a definition for the given ids, keeping the order of ids.
func (g *Graph) FindSequenceFlows(definition *Element, ids []string) []*Element {
	var ret []*Element
	for _, id := range ids {
		if flow := g.LocateElement(definition, id); flow != nil && flow.Type == ElementTypeSequenceFlow {
			ret = append(ret, flow)
		}
	}
	return ret
}
