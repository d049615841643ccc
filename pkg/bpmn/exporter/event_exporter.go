// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package exporter

type EventExporter interface {
	NewProcessInstanceEvent(event *ProcessInstanceEvent)
	EndProcessEvent(event *ProcessInstanceEvent)
	NewElementEvent(event *ProcessInstanceEvent, elementInfo *ElementInfo)
}

type Intent string

const (
	ElementActivated  Intent = "ELEMENT_ACTIVATED"
	ElementCompleted  Intent = "ELEMENT_COMPLETED"
	ElementFailed     Intent = "ELEMENT_FAILED"
	SequenceFlowTaken Intent = "SEQUENCE_FLOW_TAKEN"
	Created           Intent = "CREATED"
	Completed         Intent = "COMPLETED"
	Failed            Intent = "FAILED"
)

type ProcessInstanceEvent struct {
	ProcessId          string
	ProcessInstanceKey int64
	Intent             string // CREATED || COMPLETED || FAILED
}

type ElementInfo struct {
	BpmnElementType string
	ElementId       string
	Intent          string // ELEMENT_ACTIVATED || ELEMENT_COMPLETED || ELEMENT_FAILED || SEQUENCE_FLOW_TAKEN
	Error           string
}
