package inmemory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/pbinitiative/zenpath/pkg/storage"
	"github.com/pbinitiative/zenpath/pkg/zenflake"
)

// Storage keeps definitions and states in memory,
// please use NewStorage to create a new object of this type.
type Storage struct {
	mu          sync.RWMutex
	Definitions map[int64]storage.DefinitionRecord
	States      map[int64]storage.StateRecord
}

func (mem *Storage) GenerateId() int64 {
	return zenflake.Generate()
}

func NewStorage() *Storage {
	return &Storage{
		Definitions: make(map[int64]storage.DefinitionRecord),
		States:      make(map[int64]storage.StateRecord),
	}
}

var _ storage.Storage = &Storage{}

func (mem *Storage) NewBatch() storage.Batch {
	return &StorageBatch{
		db:        mem,
		stmtToRun: make([]func() error, 0, 10),
	}
}

var _ storage.DefinitionStorageReader = &Storage{}

func (mem *Storage) FindDefinitionByKey(ctx context.Context, definitionKey int64) (storage.DefinitionRecord, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.Definitions[definitionKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindDefinitionsById(ctx context.Context, definitionId string) ([]storage.DefinitionRecord, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]storage.DefinitionRecord, 0)
	for _, def := range mem.Definitions {
		if def.DefinitionId != definitionId {
			continue
		}
		res = append(res, def)
	}
	slices.SortFunc(res, func(a, b storage.DefinitionRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return res, nil
}

var _ storage.DefinitionStorageWriter = &Storage{}

func (mem *Storage) SaveDefinition(ctx context.Context, definition storage.DefinitionRecord) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.Definitions[definition.Key] = definition
	return nil
}

var _ storage.StateStorageReader = &Storage{}

func (mem *Storage) FindStateByKey(ctx context.Context, key int64) (storage.StateRecord, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.States[key]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindStatesByDefinitionKey(ctx context.Context, definitionKey int64) ([]storage.StateRecord, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]storage.StateRecord, 0)
	for _, state := range mem.States {
		if state.DefinitionKey != definitionKey {
			continue
		}
		res = append(res, state)
	}
	slices.SortFunc(res, func(a, b storage.StateRecord) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return res, nil
}

var _ storage.StateStorageWriter = &Storage{}

func (mem *Storage) SaveState(ctx context.Context, state storage.StateRecord) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.States[state.Key] = state
	return nil
}

func (mem *Storage) DeleteState(ctx context.Context, key int64) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if _, ok := mem.States[key]; !ok {
		return storage.ErrNotFound
	}
	delete(mem.States, key)
	return nil
}

type StorageBatch struct {
	db        *Storage
	stmtToRun []func() error
}

var _ storage.Batch = &StorageBatch{}

func (b *StorageBatch) Flush(ctx context.Context) error {
	var joinErr error
	for _, stmt := range b.stmtToRun {
		err := stmt()
		if err != nil {
			joinErr = errors.Join(joinErr, err)
		}
	}
	if joinErr != nil {
		return joinErr
	}
	b.stmtToRun = make([]func() error, 0)
	return nil
}

func (b *StorageBatch) SaveDefinition(ctx context.Context, definition storage.DefinitionRecord) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.SaveDefinition(ctx, definition)
	})
	return nil
}

func (b *StorageBatch) SaveState(ctx context.Context, state storage.StateRecord) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.SaveState(ctx, state)
	})
	return nil
}

func (b *StorageBatch) DeleteState(ctx context.Context, key int64) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.DeleteState(ctx, key)
	})
	return nil
}
