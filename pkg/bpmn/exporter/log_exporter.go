package exporter

import (
	"github.com/hashicorp/go-hclog"
)

// LogExporter writes every event as a structured log line.
type LogExporter struct {
	logger hclog.Logger
}

var _ EventExporter = &LogExporter{}

// NewLogExporter creates an exporter writing info lines; a nil logger falls
// back to the default one.
func NewLogExporter(logger hclog.Logger) *LogExporter {
	if logger == nil {
		logger = hclog.Default().Named("event-exporter")
	}
	return &LogExporter{logger: logger}
}

func (e *LogExporter) NewProcessInstanceEvent(event *ProcessInstanceEvent) {
	e.logger.Info("process instance", "process-id", event.ProcessId, "key", event.ProcessInstanceKey, "intent", event.Intent)
}

func (e *LogExporter) EndProcessEvent(event *ProcessInstanceEvent) {
	e.logger.Info("process instance ended", "process-id", event.ProcessId, "key", event.ProcessInstanceKey, "intent", event.Intent)
}

func (e *LogExporter) NewElementEvent(event *ProcessInstanceEvent, elementInfo *ElementInfo) {
	args := []interface{}{
		"key", event.ProcessInstanceKey,
		"element-id", elementInfo.ElementId,
		"element-type", elementInfo.BpmnElementType,
		"intent", elementInfo.Intent,
	}
	if elementInfo.Error != "" {
		args = append(args, "error", elementInfo.Error)
	}
	e.logger.Info("element", args...)
}
