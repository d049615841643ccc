package bpmn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelPkg "github.com/pbinitiative/zenpath/pkg/otel"
	"github.com/pbinitiative/zenpath/pkg/storage"
)

// Checkpoint writes the current process state to the store under the instance key.
func (bp *BusinessProcess) Checkpoint(ctx context.Context, store storage.StateStorageWriter) (retErr error) {
	ctx, span := bp.tracer.Start(ctx, fmt.Sprintf("checkpoint:%d", bp.Key()), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, bp.Key()),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	doc, err := bp.SaveState()
	if err != nil {
		return errors.Join(newEngineErrorf("failed to checkpoint process instance %d", bp.Key()), err)
	}
	record := storage.StateRecord{
		Key:           bp.Key(),
		DefinitionKey: bp.definitionKey,
		ProcessId:     bp.ProcessId(),
		Document:      doc,
		Completed:     bp.Completed(),
		UpdatedAt:     time.Now(),
	}
	if err := store.SaveState(ctx, record); err != nil {
		return errors.Join(newEngineErrorf("failed to checkpoint process instance %d", bp.Key()), err)
	}
	bp.logger.Debug("process instance checkpointed", "key", bp.Key(), "completed", record.Completed)
	return nil
}

// Restore replaces the process state with the checkpoint stored under key.
// Like LoadState it invokes no handler or observer.
// Returns an error wrapping storage.ErrNotFound when no checkpoint exists.
func (bp *BusinessProcess) Restore(ctx context.Context, store storage.StateStorageReader, key int64) (retErr error) {
	ctx, span := bp.tracer.Start(ctx, fmt.Sprintf("restore:%d", key), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, key),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	record, err := store.FindStateByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to find checkpoint of process instance %d: %w", key, err)
	}
	if err := bp.LoadState(record.Document); err != nil {
		return err
	}
	if record.DefinitionKey != 0 {
		bp.definitionKey = record.DefinitionKey
	}
	return nil
}
