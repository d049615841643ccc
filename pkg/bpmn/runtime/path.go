// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"slices"

	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
)

// StepStatus is the kind of transition recorded in the path history.
type StepStatus string

const (
	StepStarted   StepStatus = "STARTED"
	StepSucceeded StepStatus = "SUCCEEDED"
	StepFailed    StepStatus = "FAILED"
	// StepJoined records a further arrival at a waiting parallel join. It
	// neither adds nor resolves a token.
	StepJoined StepStatus = "JOINED"
)

// PathEntry is one record of the append-only path history.
type PathEntry struct {
	Seq         int                `yaml:"seq" json:"seq"`
	ElementId   string             `yaml:"elementId" json:"elementId"`
	ElementType bpmn20.ElementType `yaml:"elementType" json:"elementType"`
	Status      StepStatus         `yaml:"status" json:"status"`
	SourceId    string             `yaml:"sourceId,omitempty" json:"sourceId,omitempty"`
	// Joined lists the incoming flows a parallel join consumed when it was
	// routed, in declaration order.
	Joined []string `yaml:"joined,omitempty" json:"joined,omitempty"`
}

// SignalKind tells the dispatcher how to continue after a path transition.
type SignalKind int

const (
	// SignalStepComplete asks the dispatcher to process NextId, activated by SourceId.
	SignalStepComplete SignalKind = iota
	// SignalStepError asks the dispatcher to look for a recovery path for SourceId.
	SignalStepError
)

// Signal is queued by path transitions and drained by the dispatcher once the
// state lock is released. The path never calls back into the dispatcher.
type Signal struct {
	Kind     SignalKind
	SourceId string
	NextId   string
}

// Path tracks the history of step transitions and the currently active tokens.
// Path does not lock; every call has to be made while holding the owning
// ProcessState lock.
type Path struct {
	entries  []PathEntry
	active   []string
	arrivals map[string][]string
	outbox   []Signal

	animating bool
	cursor    int
}

func newPath() *Path {
	return &Path{arrivals: map[string][]string{}}
}

func (p *Path) append(element *bpmn20.Element, status StepStatus, sourceId string) {
	p.entries = append(p.entries, PathEntry{
		Seq:         len(p.entries) + 1,
		ElementId:   element.Id,
		ElementType: element.Type,
		Status:      status,
		SourceId:    sourceId,
	})
}

func (p *Path) start(element *bpmn20.Element, sourceId string) {
	p.append(element, StepStarted, sourceId)
	p.active = append(p.active, element.Id)
}

func (p *Path) resolve(element *bpmn20.Element, status StepStatus) {
	p.append(element, status, "")
	if i := slices.Index(p.active, element.Id); i >= 0 {
		p.active = slices.Delete(p.active, i, i+1)
	}
}

func (p *Path) complete(sourceId string, nextIds []string) {
	for _, id := range nextIds {
		p.outbox = append(p.outbox, Signal{Kind: SignalStepComplete, SourceId: sourceId, NextId: id})
	}
}

func (p *Path) StartEvent(event *bpmn20.Element, sourceId string) { p.start(event, sourceId) }

func (p *Path) SucceedEvent(event *bpmn20.Element) {
	p.resolve(event, StepSucceeded)
	p.complete(event.Id, event.Outgoing)
}

func (p *Path) FailEvent(event *bpmn20.Element) { p.resolve(event, StepFailed) }

func (p *Path) StartTask(task *bpmn20.Element, sourceId string) { p.start(task, sourceId) }

func (p *Path) SucceedTask(task *bpmn20.Element) {
	p.resolve(task, StepSucceeded)
	p.complete(task.Id, task.Outgoing)
}

// FailTask resolves the task token and queues a step error so the dispatcher
// can look for a recovery path.
func (p *Path) FailTask(task *bpmn20.Element) {
	p.resolve(task, StepFailed)
	p.outbox = append(p.outbox, Signal{Kind: SignalStepError, SourceId: task.Id})
}

func (p *Path) StartGateway(gateway *bpmn20.Element, sourceId string) { p.start(gateway, sourceId) }

// SuccessGateway resolves the gateway and arms one token per outgoing flow id.
func (p *Path) SuccessGateway(gateway *bpmn20.Element, outgoing []string) {
	p.resolve(gateway, StepSucceeded)
	p.complete(gateway.Id, outgoing)
}

func (p *Path) FailGateway(gateway *bpmn20.Element) { p.resolve(gateway, StepFailed) }

// SuccessJoin resolves a parallel join which consumed the joined flows and
// arms one token per outgoing flow id.
func (p *Path) SuccessJoin(gateway *bpmn20.Element, joined []string, outgoing []string) {
	p.resolve(gateway, StepSucceeded)
	p.entries[len(p.entries)-1].Joined = slices.Clone(joined)
	p.complete(gateway.Id, outgoing)
}

// JoinGateway records an arrival at a join which is already waiting.
func (p *Path) JoinGateway(gateway *bpmn20.Element, flowId string) {
	p.append(gateway, StepJoined, flowId)
}

// ProcessSequenceFlow records the traversal of a flow and queues its target.
func (p *Path) ProcessSequenceFlow(flow *bpmn20.Element) {
	p.append(flow, StepSucceeded, flow.SourceRef)
	p.complete(flow.Id, []string{flow.TargetRef})
}

// Arrive records an incoming flow at a joining gateway and returns every flow
// waiting there. A flow arriving twice is kept twice, the second token waits
// for the next activation of the join.
func (p *Path) Arrive(gatewayId string, flowId string) []string {
	p.arrivals[gatewayId] = append(p.arrivals[gatewayId], flowId)
	return slices.Clone(p.arrivals[gatewayId])
}

func (p *Path) Arrivals(gatewayId string) []string {
	return slices.Clone(p.arrivals[gatewayId])
}

// ConsumeArrivals removes one arrival of each incoming flow and returns the
// consumed flows in the order of incoming.
func (p *Path) ConsumeArrivals(gatewayId string, incoming []string) []string {
	arrived := p.arrivals[gatewayId]
	var consumed []string
	for _, flowId := range incoming {
		if i := slices.Index(arrived, flowId); i >= 0 {
			arrived = slices.Delete(arrived, i, i+1)
			consumed = append(consumed, flowId)
		}
	}
	if len(arrived) == 0 {
		delete(p.arrivals, gatewayId)
	} else {
		p.arrivals[gatewayId] = arrived
	}
	return consumed
}

// TakeSignals returns and clears the queued signals.
func (p *Path) TakeSignals() []Signal {
	signals := p.outbox
	p.outbox = nil
	return signals
}

// visible is the part of the history the current animation frame shows.
func (p *Path) visible() []PathEntry {
	if p.animating {
		return p.entries[:min(p.cursor, len(p.entries))]
	}
	return p.entries
}

// Len is the number of visible history records.
func (p *Path) Len() int { return len(p.visible()) }

// History returns a copy of the visible history in append order.
func (p *Path) History() []PathEntry {
	return slices.Clone(p.visible())
}

// ActiveTokens returns the ids of elements started but not yet resolved.
// An element id appears once per token.
func (p *Path) ActiveTokens() []string {
	if p.animating {
		return replayActive(p.visible())
	}
	return slices.Clone(p.active)
}

// IsActive reports whether the element holds at least one token.
func (p *Path) IsActive(elementId string) bool {
	return slices.Contains(p.ActiveTokens(), elementId)
}

// Status returns the latest visible status of the element. Join arrivals do
// not change the status of a waiting gateway.
func (p *Path) Status(elementId string) (StepStatus, bool) {
	entries := p.visible()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ElementId == elementId && entries[i].Status != StepJoined {
			return entries[i].Status, true
		}
	}
	return "", false
}

// ActivatedBy returns the ids of the steps which activated the latest visible
// run of the element: the consumed flows of a routed join, otherwise the single
// activating step. Nil for process entry points.
func (p *Path) ActivatedBy(elementId string) []string {
	entries := p.visible()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.ElementId != elementId {
			continue
		}
		if len(e.Joined) > 0 {
			return slices.Clone(e.Joined)
		}
		if e.Status == StepStarted || e.ElementType == bpmn20.ElementTypeSequenceFlow {
			if e.SourceId == "" {
				return nil
			}
			return []string{e.SourceId}
		}
	}
	return nil
}

// StartAnimation moves the cursor to the first record; until FinishAnimation
// all queries only see the records up to the cursor.
func (p *Path) StartAnimation() {
	p.animating = true
	p.cursor = 1
}

func (p *Path) HasNext() bool {
	return p.animating && len(p.entries) > 0 && p.cursor <= len(p.entries)
}

func (p *Path) MoveToNextStep() {
	if p.animating {
		p.cursor++
	}
}

func (p *Path) FinishAnimation() {
	p.animating = false
	p.cursor = 0
}

// visibleSteps is the number of records a variable write may be attributed to.
func (p *Path) visibleSteps() int {
	if p.animating {
		return min(p.cursor, len(p.entries))
	}
	return len(p.entries)
}

func replayActive(entries []PathEntry) []string {
	var active []string
	for _, e := range entries {
		switch e.Status {
		case StepStarted:
			active = append(active, e.ElementId)
		case StepSucceeded, StepFailed:
			if i := slices.Index(active, e.ElementId); i >= 0 {
				active = slices.Delete(active, i, i+1)
			}
		case StepJoined:
		default:
			panic("[invariant check] unknown step status: " + string(e.Status))
		}
	}
	return active
}
