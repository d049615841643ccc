// Package cache puts an expiring LRU in front of another storage.Storage.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pbinitiative/zenpath/pkg/storage"
)

type Config struct {
	DefinitionCacheSize int           `yaml:"definitionCacheSize" env:"DEFINITION_CACHE_SIZE" env-default:"200"`
	DefinitionCacheTTL  time.Duration `yaml:"definitionCacheTTL" env:"DEFINITION_CACHE_TTL" env-default:"24h"`
	StateCacheSize      int           `yaml:"stateCacheSize" env:"STATE_CACHE_SIZE" env-default:"1000"`
	StateCacheTTL       time.Duration `yaml:"stateCacheTTL" env:"STATE_CACHE_TTL" env-default:"10m"`
}

// Storage serves key lookups from memory. Definitions are immutable and cached
// on read and write; states are replaced on every write through this storage.
type Storage struct {
	storage.Storage
	defCache   *expirable.LRU[int64, storage.DefinitionRecord]
	stateCache *expirable.LRU[int64, storage.StateRecord]
}

var _ storage.Storage = &Storage{}

func New(backend storage.Storage, cfg Config) *Storage {
	return &Storage{
		Storage:    backend,
		defCache:   expirable.NewLRU[int64, storage.DefinitionRecord](cfg.DefinitionCacheSize, nil, cfg.DefinitionCacheTTL),
		stateCache: expirable.NewLRU[int64, storage.StateRecord](cfg.StateCacheSize, nil, cfg.StateCacheTTL),
	}
}

func (c *Storage) FindDefinitionByKey(ctx context.Context, definitionKey int64) (storage.DefinitionRecord, error) {
	if def, ok := c.defCache.Get(definitionKey); ok {
		return def, nil
	}
	def, err := c.Storage.FindDefinitionByKey(ctx, definitionKey)
	if err != nil {
		return def, err
	}
	c.defCache.Add(definitionKey, def)
	return def, nil
}

func (c *Storage) SaveDefinition(ctx context.Context, definition storage.DefinitionRecord) error {
	if err := c.Storage.SaveDefinition(ctx, definition); err != nil {
		c.defCache.Remove(definition.Key)
		return err
	}
	c.defCache.Add(definition.Key, definition)
	return nil
}

func (c *Storage) FindStateByKey(ctx context.Context, key int64) (storage.StateRecord, error) {
	if state, ok := c.stateCache.Get(key); ok {
		return state, nil
	}
	state, err := c.Storage.FindStateByKey(ctx, key)
	if err != nil {
		return state, err
	}
	c.stateCache.Add(key, state)
	return state, nil
}

func (c *Storage) SaveState(ctx context.Context, state storage.StateRecord) error {
	c.stateCache.Remove(state.Key)
	if err := c.Storage.SaveState(ctx, state); err != nil {
		return err
	}
	c.stateCache.Add(state.Key, state)
	return nil
}

func (c *Storage) DeleteState(ctx context.Context, key int64) error {
	c.stateCache.Remove(key)
	return c.Storage.DeleteState(ctx, key)
}

func (c *Storage) NewBatch() storage.Batch {
	return &batch{Batch: c.Storage.NewBatch(), cache: c}
}

// batch forgets every state and definition it touched once flushed.
type batch struct {
	storage.Batch
	cache       *Storage
	definitions []int64
	states      []int64
}

func (b *batch) SaveDefinition(ctx context.Context, definition storage.DefinitionRecord) error {
	b.definitions = append(b.definitions, definition.Key)
	return b.Batch.SaveDefinition(ctx, definition)
}

func (b *batch) SaveState(ctx context.Context, state storage.StateRecord) error {
	b.states = append(b.states, state.Key)
	return b.Batch.SaveState(ctx, state)
}

func (b *batch) DeleteState(ctx context.Context, key int64) error {
	b.states = append(b.states, key)
	return b.Batch.DeleteState(ctx, key)
}

func (b *batch) Flush(ctx context.Context) error {
	err := b.Batch.Flush(ctx)
	for _, key := range b.definitions {
		b.cache.defCache.Remove(key)
	}
	for _, key := range b.states {
		b.cache.stateCache.Remove(key)
	}
	if err == nil {
		b.definitions, b.states = nil, nil
	}
	return err
}
