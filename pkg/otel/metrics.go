package otel

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
)

type EngineMetrics struct {
	ProcessesStarted metric.Int64Counter
	ProcessesEnded   metric.Int64Counter
	ProcessesFailed  metric.Int64Counter
	ProcessesRunning metric.Int64UpDownCounter
	TasksStarted     metric.Int64Counter
	TasksCompleted   metric.Int64Counter
	TasksFailed      metric.Int64Counter
	GatewaysFailed   metric.Int64Counter
	FlowsTaken       metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*EngineMetrics, error) {
	var errJoin error

	processesStartedTotal, err := meter.Int64Counter("processes_started", metric.WithDescription("Number of processes started"))
	errJoin = errors.Join(errJoin, err)

	processesCompletedTotal, err := meter.Int64Counter("processes_completed", metric.WithDescription("Number of processes completed"))
	errJoin = errors.Join(errJoin, err)

	processesFailedTotal, err := meter.Int64Counter("processes_failed", metric.WithDescription("Number of branches terminated by a failure without recovery"))
	errJoin = errors.Join(errJoin, err)

	processesRunning, err := meter.Int64UpDownCounter("processes_running", metric.WithDescription("Number of processes currently running"))
	errJoin = errors.Join(errJoin, err)

	tasksStarted, err := meter.Int64Counter("tasks_started", metric.WithDescription("Number of tasks started"))
	errJoin = errors.Join(errJoin, err)

	tasksCompleted, err := meter.Int64Counter("tasks_completed", metric.WithDescription("Number of tasks completed"))
	errJoin = errors.Join(errJoin, err)

	tasksFailed, err := meter.Int64Counter("tasks_failed", metric.WithDescription("Number of tasks failed"))
	errJoin = errors.Join(errJoin, err)

	gatewaysFailed, err := meter.Int64Counter("gateways_failed", metric.WithDescription("Number of gateways without a routable outgoing flow"))
	errJoin = errors.Join(errJoin, err)

	flowsTaken, err := meter.Int64Counter("sequence_flows_taken", metric.WithDescription("Number of sequence flows traversed"))
	errJoin = errors.Join(errJoin, err)

	metrics := EngineMetrics{
		ProcessesStarted: processesStartedTotal,
		ProcessesEnded:   processesCompletedTotal,
		ProcessesFailed:  processesFailedTotal,
		ProcessesRunning: processesRunning,
		TasksStarted:     tasksStarted,
		TasksCompleted:   tasksCompleted,
		TasksFailed:      tasksFailed,
		GatewaysFailed:   gatewaysFailed,
		FlowsTaken:       flowsTaken,
	}
	return &metrics, errJoin
}
