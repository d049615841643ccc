package bpmn

import (
	"context"
	"errors"
	"slices"

	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
)

// EvaluateOutgoingPaths selects the outgoing flows of a gateway, in declaration
// order. Exclusive gateways return the first valid flow, inclusive gateways all
// valid flows, both falling back to the default flow. Parallel gateways return
// every outgoing flow without evaluating isFlowValid.
//
// Any predicate failure or an empty selection is returned as *GatewayRoutingError.
func EvaluateOutgoingPaths(ctx context.Context, graph *bpmn20.Graph, definition *bpmn20.Element, gateway *bpmn20.Element, isFlowValid Predicate, vars *runtime.Variables) ([]string, error) {
	flows := graph.FindSequenceFlows(definition, gateway.Outgoing)
	var defaultFlow *bpmn20.Element
	if gateway.Default != "" {
		defaultFlow = graph.LocateElement(definition, gateway.Default)
	}

	var selected []*bpmn20.Element
	var err error
	switch gateway.Type {
	case bpmn20.ElementTypeParallelGateway:
		selected = flows
	case bpmn20.ElementTypeExclusiveGateway:
		selected, err = exclusivelyFilterByPredicate(ctx, flows, defaultFlow, isFlowValid, vars)
	case bpmn20.ElementTypeInclusiveGateway:
		selected, err = inclusivelyFilterByPredicate(ctx, flows, defaultFlow, isFlowValid, vars)
	default:
		err = newEngineErrorf("element %s of type %s is not a gateway", gateway.Id, gateway.Type)
	}
	if err != nil {
		return nil, &GatewayRoutingError{GatewayId: gateway.Id, Err: err}
	}
	if len(selected) == 0 {
		return nil, &GatewayRoutingError{GatewayId: gateway.Id, Err: errors.New("no outgoing sequence flow")}
	}
	ids := make([]string, 0, len(selected))
	for _, flow := range selected {
		ids = append(ids, flow.Id)
	}
	return ids, nil
}

// processGateway records the gateway start and routes it. A parallel gateway
// with several incoming flows is started by the first arrival of a run, every
// further arrival is recorded as joined, and it is routed once each incoming
// flow arrived. A flow arriving again while the join waits is kept for the
// next run.
func (bp *BusinessProcess) processGateway(ctx context.Context, gateway *bpmn20.Element, sourceId string) {
	state := bp.instance.state
	definition := bp.graph.DefinitionOf(gateway.Id)
	joining := gateway.Type == bpmn20.ElementTypeParallelGateway && len(gateway.Incoming) > 1

	state.Lock()
	started, ready, repeated := true, true, false
	if joining {
		waiting := state.Path().Arrivals(gateway.Id)
		repeated = slices.Contains(waiting, sourceId)
		started = !state.Path().IsActive(gateway.Id)
		ready = containsAll(state.Path().Arrive(gateway.Id, sourceId), gateway.Incoming)
	}
	if started {
		state.Path().StartGateway(gateway, sourceId)
	} else {
		state.Path().JoinGateway(gateway, sourceId)
	}
	state.Unlock()

	if started {
		bp.notifyStarted(ctx, gateway)
	}
	if repeated {
		bp.logger.Debug("gateway flow arrived again, kept for the next join", "gateway", gateway.Id, "source", sourceId)
	}
	if !ready {
		bp.logger.Debug("gateway waits for incoming flows", "gateway", gateway.Id, "source", sourceId)
		return
	}

	state.Lock()
	var joined []string
	if joining {
		joined = state.Path().ConsumeArrivals(gateway.Id, gateway.Incoming)
	}
	vars := runtime.NewVariables(gateway.Id, state)
	outgoing, err := EvaluateOutgoingPaths(ctx, bp.graph, definition, gateway, bp.delegates.IsFlowValid, vars)
	switch {
	case err != nil:
		state.Path().FailGateway(gateway)
	case joining:
		state.Path().SuccessJoin(gateway, joined, outgoing)
	default:
		state.Path().SuccessGateway(gateway, outgoing)
	}
	state.Unlock()

	if err != nil {
		bp.notifyFailed(ctx, gateway, err)
		bp.branchTerminated(ctx, gateway)
		return
	}
	bp.logger.Debug("gateway routed", "gateway", gateway.Id, "flows", outgoing)
	bp.notifyCompleted(ctx, gateway)
}

func containsAll(have []string, want []string) bool {
	for _, id := range want {
		if !slices.Contains(have, id) {
			return false
		}
	}
	return true
}
