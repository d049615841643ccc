// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package engine

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pbinitiative/zenpath/pkg/bpmn"
	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpath/pkg/storage"
)

// DelegatesFactory returns the delegates of a new or restored process instance.
type DelegatesFactory func(definition storage.DefinitionRecord) *bpmn.Delegates

// Engine deploys definitions and keeps their running instances. Every instance
// is checkpointed after it was started and after each task resolution, so an
// instance evicted from memory can be restored from the store.
type Engine struct {
	store     storage.Storage
	instances *bpmn.RunningInstancesCache
	delegates DelegatesFactory
	options   []bpmn.BusinessProcessOption
	logger    hclog.Logger

	// serializes restoring instances which are not cached
	loadMu sync.Mutex
}

func New(store storage.Storage, delegates DelegatesFactory, logger hclog.Logger, options ...bpmn.BusinessProcessOption) *Engine {
	if logger == nil {
		logger = hclog.Default().Named("engine")
	}
	return &Engine{
		store:     store,
		instances: bpmn.NewRunningInstancesCache(),
		delegates: delegates,
		options:   options,
		logger:    logger,
	}
}

// Deploy parses and stores a definition document. Deploying the same document
// twice returns the definition stored first.
func (e *Engine) Deploy(ctx context.Context, resourceName string, data []byte) (storage.DefinitionRecord, error) {
	def, err := bpmn20.ParseDefinition(data)
	if err != nil {
		return storage.DefinitionRecord{}, err
	}
	if _, err := bpmn20.NewGraph(def); err != nil {
		return storage.DefinitionRecord{}, err
	}
	checksum := md5.Sum(data)
	existing, err := e.store.FindDefinitionsById(ctx, def.Id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return storage.DefinitionRecord{}, fmt.Errorf("failed to find definitions %s: %w", def.Id, err)
	}
	for _, record := range existing {
		if record.Checksum == checksum {
			return record, nil
		}
	}

	record := storage.DefinitionRecord{
		Key:          e.store.GenerateId(),
		DefinitionId: def.Id,
		ResourceName: resourceName,
		Data:         data,
		Checksum:     checksum,
		CreatedAt:    time.Now(),
	}
	batch := e.store.NewBatch()
	if err := batch.SaveDefinition(ctx, record); err != nil {
		return storage.DefinitionRecord{}, err
	}
	if err := batch.Flush(ctx); err != nil {
		return storage.DefinitionRecord{}, fmt.Errorf("failed to save definition %s: %w", def.Id, err)
	}
	e.logger.Info("definition deployed", "key", record.Key, "definitionId", record.DefinitionId, "resource", resourceName)
	return record, nil
}

func (e *Engine) Definition(ctx context.Context, key int64) (storage.DefinitionRecord, error) {
	return e.store.FindDefinitionByKey(ctx, key)
}

func (e *Engine) newProcess(definition storage.DefinitionRecord, options ...bpmn.BusinessProcessOption) (*bpmn.BusinessProcess, error) {
	graph, err := bpmn20.LoadFromBytes(definition.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %d: %w", definition.Key, err)
	}
	opts := append([]bpmn.BusinessProcessOption{}, e.options...)
	opts = append(opts, bpmn.WithDefinitionKey(definition.Key), bpmn.WithDelegates(e.delegates(definition)))
	opts = append(opts, options...)
	return bpmn.NewBusinessProcess(graph, opts...)
}

// Start begins a new instance of the stored definition and checkpoints it.
func (e *Engine) Start(ctx context.Context, definitionKey int64, vars *runtime.Variables) (*bpmn.BusinessProcess, bool, error) {
	definition, err := e.store.FindDefinitionByKey(ctx, definitionKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find definition %d: %w", definitionKey, err)
	}
	bp, err := e.newProcess(definition)
	if err != nil {
		return nil, false, err
	}
	activated, err := bp.BeginProcess(ctx, vars)
	if err != nil {
		return nil, false, err
	}
	if !activated {
		return bp, false, nil
	}
	e.instances.Add(bp)
	if err := e.checkpoint(ctx, bp); err != nil {
		return bp, true, err
	}
	return bp, true, nil
}

// checkpoint stores the state of bp and drops it from memory once it completed.
func (e *Engine) checkpoint(ctx context.Context, bp *bpmn.BusinessProcess) error {
	if err := bp.Checkpoint(ctx, e.store); err != nil {
		return err
	}
	if bp.Completed() {
		e.instances.Remove(bp.Key())
		e.logger.Debug("completed process instance evicted", "key", bp.Key())
	}
	return nil
}

// Instance returns a cached instance or restores it from its last checkpoint.
func (e *Engine) Instance(ctx context.Context, key int64) (*bpmn.BusinessProcess, error) {
	if bp, ok := e.instances.Get(key); ok {
		return bp, nil
	}
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if bp, ok := e.instances.Get(key); ok {
		return bp, nil
	}

	state, err := e.store.FindStateByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find process instance %d: %w", key, err)
	}
	definition, err := e.store.FindDefinitionByKey(ctx, state.DefinitionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find definition %d of process instance %d: %w", state.DefinitionKey, key, err)
	}
	bp, err := e.newProcess(definition, bpmn.WithKey(key))
	if err != nil {
		return nil, err
	}
	if err := bp.Restore(ctx, e.store, key); err != nil {
		return nil, err
	}
	e.logger.Debug("process instance restored", "key", key)
	if !bp.Completed() {
		e.instances.Add(bp)
	}
	return bp, nil
}

func (e *Engine) CompleteTask(ctx context.Context, key int64, taskId string, vars *runtime.Variables) error {
	bp, err := e.Instance(ctx, key)
	if err != nil {
		return err
	}
	if err := bp.CompleteTask(ctx, taskId, vars); err != nil {
		return err
	}
	return e.checkpoint(ctx, bp)
}

func (e *Engine) ErrorTask(ctx context.Context, key int64, taskId string, cause error) error {
	bp, err := e.Instance(ctx, key)
	if err != nil {
		return err
	}
	if err := bp.ErrorTask(ctx, taskId, cause); err != nil {
		return err
	}
	return e.checkpoint(ctx, bp)
}

func (e *Engine) Checkpoint(ctx context.Context, key int64) error {
	bp, err := e.Instance(ctx, key)
	if err != nil {
		return err
	}
	return e.checkpoint(ctx, bp)
}

// Instances lists the keys of the instances held in memory.
func (e *Engine) Instances() []int64 {
	return e.instances.Keys()
}

// EvictCompleted drops completed instances from memory. Their last checkpoint
// stays in the store.
func (e *Engine) EvictCompleted() []int64 {
	evicted := e.instances.EvictCompleted()
	if len(evicted) > 0 {
		e.logger.Debug("completed process instances evicted", "count", len(evicted))
	}
	return evicted
}

// EvictCompletedEvery sweeps completed instances until ctx is done. Instances
// completed by asynchronous task resolutions never pass a checkpoint of the
// engine and are only dropped by the sweep.
func (e *Engine) EvictCompletedEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.EvictCompleted()
		}
	}
}

// StatesOf lists the checkpoints of every instance of a definition.
func (e *Engine) StatesOf(ctx context.Context, definitionKey int64) ([]storage.StateRecord, error) {
	return e.store.FindStatesByDefinitionKey(ctx, definitionKey)
}
