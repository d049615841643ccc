package exporter

import (
	"bytes"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
)

func TestLogExporterWritesElementEvents(t *testing.T) {
	// setup
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{
		Output:     &buf,
		Level:      hclog.Info,
		JSONFormat: true,
	})
	exp := NewLogExporter(logger)

	// when
	exp.NewElementEvent(&ProcessInstanceEvent{ProcessId: "p", ProcessInstanceKey: 7}, &ElementInfo{
		BpmnElementType: "TASK",
		ElementId:       "task-a",
		Intent:          string(ElementFailed),
		Error:           "boom",
	})

	// then
	out := buf.String()
	assert.Contains(t, out, `"element-id":"task-a"`)
	assert.Contains(t, out, `"intent":"ELEMENT_FAILED"`)
	assert.Contains(t, out, `"error":"boom"`)
}
