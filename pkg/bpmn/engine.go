// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pbinitiative/zenpath/internal/appcontext"
	"github.com/pbinitiative/zenpath/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenpath/pkg/otel"
	"github.com/pbinitiative/zenpath/pkg/zenflake"
)

// instance is the part of a BusinessProcess shared by clones created with
// includeState. Every field except state and pending is guarded by the state lock.
type instance struct {
	state   *runtime.ProcessState
	pending *pendingTasks

	process   *bpmn20.Element
	started   bool
	completed bool
	inflight  int
}

func newInstance(state *runtime.ProcessState) *instance {
	return &instance{
		state:   state,
		pending: newPendingTasks(),
	}
}

// BusinessProcess drives tokens of one process instance through an element graph.
// It has no goroutine of its own: BeginProcess, CompleteTask and ErrorTask run
// the dispatch on the calling goroutine and are safe for concurrent use.
type BusinessProcess struct {
	name          string
	definitionKey int64
	graph         *bpmn20.Graph
	instance      *instance
	delegates     *Delegates
	exporters     []exporter.EventExporter
	snowflake     *snowflake.Node
	logger        hclog.Logger
	metrics       *otelPkg.EngineMetrics
	tracer        trace.Tracer
}

type BusinessProcessOption = func(*BusinessProcess)

// NewBusinessProcess creates a process instance for the graph.
// Might return BpmnEngineError, when the graph has no definition root.
func NewBusinessProcess(graph *bpmn20.Graph, options ...BusinessProcessOption) (*BusinessProcess, error) {
	if graph == nil || len(graph.Definitions()) == 0 {
		return nil, newEngineErrorf("unable to create a business process: %s", bpmn20.ErrNoDefinitions)
	}
	bp := &BusinessProcess{
		graph:     graph,
		delegates: &Delegates{},
		exporters: []exporter.EventExporter{},
		snowflake: zenflake.EnvironmentNode(),
		logger:    hclog.Default().Named("business-process"),
		tracer:    otel.Tracer("bpmn-engine"),
	}
	bp.instance = newInstance(runtime.NewProcessState(graph))
	bp.instance.state.Key = bp.generateKey()
	bp.name = fmt.Sprintf("Business-Process-%d", bp.instance.state.Key)

	for _, option := range options {
		option(bp)
	}

	if bp.metrics == nil {
		metrics, err := otelPkg.NewMetrics(otel.Meter("bpmn-engine"))
		if err != nil {
			return nil, errors.Join(newEngineErrorf("failed to create engine metrics"), err)
		}
		bp.metrics = metrics
	}
	return bp, nil
}

func WithName(name string) BusinessProcessOption {
	return func(bp *BusinessProcess) {
		bp.name = name
	}
}

// WithDelegates sets the handlers, predicates and observers. The struct is
// shared, not copied.
func WithDelegates(delegates *Delegates) BusinessProcessOption {
	return func(bp *BusinessProcess) {
		if delegates != nil {
			bp.delegates = delegates
		}
	}
}

func WithExporter(exporter exporter.EventExporter) BusinessProcessOption {
	return func(bp *BusinessProcess) { bp.AddEventExporter(exporter) }
}

func WithLogger(logger hclog.Logger) BusinessProcessOption {
	return func(bp *BusinessProcess) {
		bp.logger = logger
	}
}

func WithMetrics(metrics *otelPkg.EngineMetrics) BusinessProcessOption {
	return func(bp *BusinessProcess) {
		bp.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) BusinessProcessOption {
	return func(bp *BusinessProcess) {
		bp.tracer = tracer
	}
}

// WithKey overrides the generated instance key, used when restoring a stored instance.
func WithKey(key int64) BusinessProcessOption {
	return func(bp *BusinessProcess) {
		bp.instance.state.Key = key
	}
}

// WithDefinitionKey records the key of the stored definition the graph was loaded from.
func WithDefinitionKey(key int64) BusinessProcessOption {
	return func(bp *BusinessProcess) {
		bp.definitionKey = key
	}
}

// Name returns the name of the process instance, only useful in case you control multiple ones
func (bp *BusinessProcess) Name() string {
	return bp.name
}

func (bp *BusinessProcess) Key() int64 {
	return bp.instance.state.Key
}

func (bp *BusinessProcess) DefinitionKey() int64 {
	return bp.definitionKey
}

// Completed reports whether the process completed: it was started and no token is active.
func (bp *BusinessProcess) Completed() bool {
	bp.instance.state.Lock()
	defer bp.instance.state.Unlock()
	return bp.instance.completed
}

// ProcessId returns the id of the begun process or "" before BeginProcess.
func (bp *BusinessProcess) ProcessId() string {
	bp.instance.state.Lock()
	defer bp.instance.state.Unlock()
	if bp.instance.process == nil {
		return ""
	}
	return bp.instance.process.Id
}

func (bp *BusinessProcess) Graph() *bpmn20.Graph {
	return bp.graph
}

func (bp *BusinessProcess) Delegates() *Delegates {
	return bp.delegates
}

// State returns the process state. Readers hold its lock while querying.
func (bp *BusinessProcess) State() *runtime.ProcessState {
	return bp.instance.state
}

// SaveState encodes the process state into its document form.
func (bp *BusinessProcess) SaveState() ([]byte, error) {
	return bp.instance.state.Save()
}

// LoadState replaces the process state with a saved document. No handler or
// observer is invoked; asynchronous tasks active in the document can be
// resolved through CompleteTask and ErrorTask.
func (bp *BusinessProcess) LoadState(doc []byte) error {
	state := bp.instance.state
	if err := state.Load(doc); err != nil {
		return errors.Join(newEngineErrorf("failed to load process state"), err)
	}
	state.Lock()
	defer state.Unlock()
	bp.instance.started = state.Path().Len() > 0
	bp.instance.completed = bp.instance.started && len(state.Path().ActiveTokens()) == 0
	bp.instance.process = nil
	for _, entry := range state.Path().History() {
		if entry.ElementType == bpmn20.ElementTypeStartEvent {
			bp.instance.process = bp.graph.ProcessOf(entry.ElementId)
			break
		}
	}
	return nil
}

// Clone creates another BusinessProcess over the same graph. With includeState
// both share one process state; otherwise the clone starts empty. With
// includeDelegates both share one Delegates struct.
func (bp *BusinessProcess) Clone(includeState bool, includeDelegates bool) *BusinessProcess {
	clone := &BusinessProcess{
		name:          bp.name,
		definitionKey: bp.definitionKey,
		graph:         bp.graph,
		instance:      bp.instance,
		delegates:     bp.delegates,
		exporters:     append([]exporter.EventExporter{}, bp.exporters...),
		snowflake:     bp.snowflake,
		logger:        bp.logger,
		metrics:       bp.metrics,
		tracer:        bp.tracer,
	}
	if !includeState {
		clone.instance = newInstance(runtime.NewProcessState(bp.graph))
		clone.instance.state.Key = clone.generateKey()
		clone.name = fmt.Sprintf("Business-Process-%d", clone.instance.state.Key)
	}
	if !includeDelegates {
		clone.delegates = &Delegates{}
	}
	return clone
}

// BeginProcess activates the start events of the first process which validates.
// The variables are copied into the scope of every activated start event.
// Returns true when at least one start event was activated.
// Might return BpmnEngineError, when a mandatory start predicate is missing.
func (bp *BusinessProcess) BeginProcess(ctx context.Context, vars *runtime.Variables) (activated bool, retErr error) {
	if bp.delegates.IsProcessStartValid == nil {
		return false, newEngineErrorf("no process start predicate registered")
	}
	if bp.delegates.IsEventStartValid == nil {
		return false, newEngineErrorf("no event start predicate registered")
	}
	if vars == nil {
		vars = runtime.NewVariablesFromMap(nil)
	}

	ctx = appcontext.WithExecutionKey(appcontext.WithInstanceKey(ctx, bp.Key()), bp.generateKey())
	ctx, span := bp.tracer.Start(ctx, fmt.Sprintf("begin:%d", bp.Key()), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, bp.Key()),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	state := bp.instance.state
	for _, process := range bp.graph.Processes() {
		if !bp.isValid(ctx, bp.delegates.IsProcessStartValid, process, vars) {
			continue
		}
		count := 0
		for _, event := range process.StartEvents() {
			if !bp.isValid(ctx, bp.delegates.IsEventStartValid, event, vars) {
				continue
			}
			bp.notifyStarted(ctx, event)
			state.Lock()
			state.Path().StartEvent(event, "")
			for _, key := range vars.Keys() {
				state.Set(event.Id, key, vars.Get(key))
			}
			state.Path().SucceedEvent(event)
			bp.instance.started = true
			bp.instance.completed = false
			bp.instance.process = process
			state.Unlock()
			bp.notifyCompleted(ctx, event)
			count++
		}
		if count == 0 {
			continue
		}
		span.SetAttributes(attribute.String(otelPkg.AttributeProcessId, process.Id))
		bp.logger.Debug("process started", "process", process.Id, "key", bp.Key(), "start-events", count)
		bp.processStarted(ctx, process)
		bp.drain(ctx)
		return true, nil
	}
	return false, nil
}

// drain processes queued path signals until none are left. The completion of
// the process is detected once no signal is queued or being processed by any
// goroutine and no token is active.
func (bp *BusinessProcess) drain(ctx context.Context) {
	inst := bp.instance
	for {
		inst.state.Lock()
		signals := inst.state.Path().TakeSignals()
		inst.inflight += len(signals)
		done := len(signals) == 0 && inst.inflight == 0 && inst.started && !inst.completed &&
			len(inst.state.Path().ActiveTokens()) == 0
		if done {
			inst.completed = true
		}
		process := inst.process
		inst.state.Unlock()

		if len(signals) == 0 {
			if done {
				bp.processCompleted(ctx, process)
			}
			return
		}
		for _, signal := range signals {
			bp.processSignal(ctx, signal)
			inst.state.Lock()
			inst.inflight--
			inst.state.Unlock()
		}
	}
}

func (bp *BusinessProcess) processSignal(ctx context.Context, signal runtime.Signal) {
	switch signal.Kind {
	case runtime.SignalStepComplete:
		bp.processStepComplete(ctx, signal.SourceId, signal.NextId)
	case runtime.SignalStepError:
		bp.processStepError(ctx, signal.SourceId)
	default:
		panic(fmt.Sprintf("[invariant check] unknown signal kind %d", signal.Kind))
	}
}

// processStepComplete dispatches the element nextId which was activated by sourceId.
func (bp *BusinessProcess) processStepComplete(ctx context.Context, sourceId string, nextId string) {
	element := bp.locate(sourceId, nextId)
	if element == nil {
		bp.logger.Debug("next element not found", "source", sourceId, "next", nextId)
		return
	}

	ctx, span := bp.tracer.Start(ctx, fmt.Sprintf("step:%s", element.Id), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, bp.Key()),
		attribute.String(otelPkg.AttributeElementId, element.Id),
		attribute.String(otelPkg.AttributeElementName, element.Name),
		attribute.String(otelPkg.AttributeElementType, string(element.Type)),
		attribute.String(otelPkg.AttributeSourceId, sourceId),
	))
	defer span.End()

	state := bp.instance.state
	switch element.Type {
	case bpmn20.ElementTypeSequenceFlow:
		state.Lock()
		state.Path().ProcessSequenceFlow(element)
		state.Unlock()
		bp.notifyCompleted(ctx, element)
	case bpmn20.ElementTypeExclusiveGateway, bpmn20.ElementTypeParallelGateway, bpmn20.ElementTypeInclusiveGateway:
		bp.processGateway(ctx, element, sourceId)
	case bpmn20.ElementTypeStartEvent, bpmn20.ElementTypeEndEvent, bpmn20.ElementTypeIntermediateCatchEvent:
		bp.processEvent(ctx, element, sourceId)
	case bpmn20.ElementTypeTask, bpmn20.ElementTypeUserTask, bpmn20.ElementTypeManualTask, bpmn20.ElementTypeServiceTask,
		bpmn20.ElementTypeScriptTask, bpmn20.ElementTypeSendTask, bpmn20.ElementTypeReceiveTask, bpmn20.ElementTypeBusinessRuleTask:
		bp.processTask(ctx, element, sourceId)
	case bpmn20.ElementTypeLane, bpmn20.ElementTypeProcess, bpmn20.ElementTypeDefinition:
		bp.logger.Debug("sequence flow targets a container, branch ends", "source", sourceId, "target", element.Id)
	default:
		panic(fmt.Sprintf("[invariant check] unsupported element: id=%s, type=%s", element.Id, element.Type))
	}
}

// processStepError looks for an intermediate catch event of the owning
// definition which accepts the failed element as its source.
func (bp *BusinessProcess) processStepError(ctx context.Context, elementId string) {
	failed := bp.graph.Locate(elementId)
	if failed == nil {
		return
	}
	if bp.delegates.IsEventStartValid != nil {
		state := bp.instance.state
		state.Lock()
		vars := runtime.NewVariables(elementId, state)
		state.Unlock()
		for _, catchEvent := range bp.graph.IntermediateCatchEvents(bp.graph.DefinitionOf(elementId)) {
			if bp.isValid(ctx, bp.delegates.IsEventStartValid, catchEvent, vars) {
				bp.logger.Debug("recovering failed element", "element", elementId, "catch-event", catchEvent.Id)
				bp.processStepComplete(ctx, elementId, catchEvent.Id)
				return
			}
		}
	}
	bp.branchTerminated(ctx, failed)
}

// processEvent starts the event and resolves it by the event start predicate;
// events without a registered predicate succeed.
func (bp *BusinessProcess) processEvent(ctx context.Context, event *bpmn20.Element, sourceId string) {
	bp.notifyStarted(ctx, event)
	state := bp.instance.state
	state.Lock()
	state.Path().StartEvent(event, sourceId)
	vars := runtime.NewVariables(event.Id, state)
	state.Unlock()

	valid, err := true, error(nil)
	if bp.delegates.IsEventStartValid != nil {
		valid, err = bp.evaluate(ctx, bp.delegates.IsEventStartValid, event, vars)
		valid = valid && err == nil
	}

	state.Lock()
	if valid {
		state.Path().SucceedEvent(event)
	} else {
		state.Path().FailEvent(event)
	}
	state.Unlock()

	if valid {
		bp.notifyCompleted(ctx, event)
		return
	}
	if err == nil {
		err = fmt.Errorf("event %s is not valid", event.Id)
	}
	bp.notifyFailed(ctx, event, err)
	bp.branchTerminated(ctx, event)
}

// isValid evaluates a predicate, treating errors as invalid.
func (bp *BusinessProcess) isValid(ctx context.Context, predicate Predicate, element *bpmn20.Element, vars *runtime.Variables) bool {
	valid, err := bp.evaluate(ctx, predicate, element, vars)
	if err != nil {
		bp.logger.Debug("predicate failed", "element", element.Id, "err", err)
	}
	return valid && err == nil
}

// evaluate calls a predicate and turns a panic into an error.
func (bp *BusinessProcess) evaluate(ctx context.Context, predicate Predicate, element *bpmn20.Element, vars *runtime.Variables) (valid bool, err error) {
	if predicate == nil {
		return false, newEngineErrorf("no predicate registered for element %s", element.Id)
	}
	defer func() {
		if r := recover(); r != nil {
			valid, err = false, recoveredError(r)
		}
	}()
	return predicate(ctx, element, vars)
}

// locate resolves nextId within the definition owning sourceId.
func (bp *BusinessProcess) locate(sourceId string, nextId string) *bpmn20.Element {
	if definition := bp.graph.DefinitionOf(sourceId); definition != nil {
		if element := bp.graph.LocateElement(definition, nextId); element != nil {
			return element
		}
	}
	return bp.graph.Locate(nextId)
}
