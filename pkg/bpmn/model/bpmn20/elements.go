// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn20

import "strings"

// ElementType is the closed set of element kinds the engine understands.
// Every switch over ElementType in this module is expected to cover all values
// and panic with an invariant check otherwise.
type ElementType string

const (
	ElementTypeStartEvent             ElementType = "START_EVENT"
	ElementTypeEndEvent               ElementType = "END_EVENT"
	ElementTypeIntermediateCatchEvent ElementType = "INTERMEDIATE_CATCH_EVENT"

	ElementTypeExclusiveGateway ElementType = "EXCLUSIVE_GATEWAY"
	ElementTypeParallelGateway  ElementType = "PARALLEL_GATEWAY"
	ElementTypeInclusiveGateway ElementType = "INCLUSIVE_GATEWAY"

	ElementTypeSequenceFlow ElementType = "SEQUENCE_FLOW"

	ElementTypeTask             ElementType = "TASK"
	ElementTypeUserTask         ElementType = "USER_TASK"
	ElementTypeManualTask       ElementType = "MANUAL_TASK"
	ElementTypeServiceTask      ElementType = "SERVICE_TASK"
	ElementTypeScriptTask       ElementType = "SCRIPT_TASK"
	ElementTypeSendTask         ElementType = "SEND_TASK"
	ElementTypeReceiveTask      ElementType = "RECEIVE_TASK"
	ElementTypeBusinessRuleTask ElementType = "BUSINESS_RULE_TASK"

	ElementTypeLane       ElementType = "LANE"
	ElementTypeProcess    ElementType = "PROCESS"
	ElementTypeDefinition ElementType = "DEFINITION"
)

// ElementCategory groups element types by the transition rules the engine applies to them.
type ElementCategory int

const (
	CategoryEvent ElementCategory = iota
	CategoryGateway
	CategorySequenceFlow
	CategoryTask
	CategoryContainer
)

// Category maps the element type onto its dispatch category.
func (t ElementType) Category() ElementCategory {
	switch t {
	case ElementTypeStartEvent, ElementTypeEndEvent, ElementTypeIntermediateCatchEvent:
		return CategoryEvent
	case ElementTypeExclusiveGateway, ElementTypeParallelGateway, ElementTypeInclusiveGateway:
		return CategoryGateway
	case ElementTypeSequenceFlow:
		return CategorySequenceFlow
	case ElementTypeTask, ElementTypeUserTask, ElementTypeManualTask, ElementTypeServiceTask,
		ElementTypeScriptTask, ElementTypeSendTask, ElementTypeReceiveTask, ElementTypeBusinessRuleTask:
		return CategoryTask
	case ElementTypeLane, ElementTypeProcess, ElementTypeDefinition:
		return CategoryContainer
	}
	panic("[invariant check] unknown element type: " + string(t))
}

// Valid is false for types outside of the supported set.
func (t ElementType) Valid() bool {
	switch t {
	case ElementTypeStartEvent, ElementTypeEndEvent, ElementTypeIntermediateCatchEvent,
		ElementTypeExclusiveGateway, ElementTypeParallelGateway, ElementTypeInclusiveGateway,
		ElementTypeSequenceFlow,
		ElementTypeTask, ElementTypeUserTask, ElementTypeManualTask, ElementTypeServiceTask,
		ElementTypeScriptTask, ElementTypeSendTask, ElementTypeReceiveTask, ElementTypeBusinessRuleTask,
		ElementTypeLane, ElementTypeProcess, ElementTypeDefinition:
		return true
	}
	return false
}

func (t ElementType) IsTask() bool    { return t.Category() == CategoryTask }
func (t ElementType) IsEvent() bool   { return t.Category() == CategoryEvent }
func (t ElementType) IsGateway() bool { return t.Category() == CategoryGateway }

// IsAsync reports task kinds which are completed later by an outside actor.
func (t ElementType) IsAsync() bool {
	return t == ElementTypeManualTask || t == ElementTypeUserTask
}

// Element is a single node of the parsed definition tree.
// Containers (Definition, Process, Lane) own their Children; sequence flows
// reference their source and target by id only.
type Element struct {
	Id   string
	Name string
	Type ElementType

	Children []*Element

	// sequence flow
	SourceRef string
	TargetRef string
	// condition expression of a sequence flow or of a conditional event definition
	Condition string

	// flow nodes; filled from the definition or derived from sequence flows
	Incoming []string
	Outgoing []string

	// gateways
	Default string

	// lanes
	FlowNodeRefs []string

	// script tasks
	Script       string
	ScriptFormat string
}

// GetId returns the element id
func (e *Element) GetId() string { return e.Id }

// GetName returns the element name
func (e *Element) GetName() string { return e.Name }

// GetType returns the element type
func (e *Element) GetType() ElementType { return e.Type }

// HasCondition is true for sequence flows and conditional events with a non
// blank condition expression
func (e *Element) HasCondition() bool {
	return strings.TrimSpace(e.Condition) != ""
}

// ChildrenByType returns all direct children of the given type.
func (e *Element) ChildrenByType(elementType ElementType) []*Element {
	var children []*Element
	for _, child := range e.Children {
		if child.Type == elementType {
			children = append(children, child)
		}
	}
	return children
}

// StartEvents returns the start events directly owned by a process.
func (e *Element) StartEvents() []*Element {
	return e.ChildrenByType(ElementTypeStartEvent)
}

// ContainsNode is true for lanes referencing the given flow node.
func (e *Element) ContainsNode(id string) bool {
	for _, ref := range e.FlowNodeRefs {
		if ref == id {
			return true
		}
	}
	return false
}
