package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbinitiative/zenpath/pkg/storage"
	"github.com/pbinitiative/zenpath/pkg/storage/cache"
	"github.com/pbinitiative/zenpath/pkg/storage/inmemory"
	"github.com/pbinitiative/zenpath/pkg/storage/storagetest"
)

var testConfig = cache.Config{
	DefinitionCacheSize: 10,
	DefinitionCacheTTL:  time.Minute,
	StateCacheSize:      10,
	StateCacheTTL:       time.Minute,
}

func TestCachedStorage(t *testing.T) {
	var store storage.Storage = cache.New(inmemory.NewStorage(), testConfig)

	tester := storagetest.StorageTester{}

	tests := tester.GetTests()
	tester.PrepareTestData(store, t)
	for name, testFunc := range tests {
		t.Run(name, testFunc(store, t))
	}
}

// countingStorage counts the state lookups reaching the backend.
type countingStorage struct {
	*inmemory.Storage
	stateReads int
}

func (c *countingStorage) FindStateByKey(ctx context.Context, key int64) (storage.StateRecord, error) {
	c.stateReads++
	return c.Storage.FindStateByKey(ctx, key)
}

func Test_state_reads_are_served_from_cache_until_batch_flush(t *testing.T) {
	// setup
	backend := &countingStorage{Storage: inmemory.NewStorage()}
	store := cache.New(backend, testConfig)

	// given
	require.NoError(t, backend.Storage.SaveState(t.Context(), storage.StateRecord{Key: 1, ProcessId: "a"}))

	// when
	first, err := store.FindStateByKey(t.Context(), 1)
	require.NoError(t, err)
	second, err := store.FindStateByKey(t.Context(), 1)
	require.NoError(t, err)

	// then
	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.stateReads)

	// when
	batch := store.NewBatch()
	require.NoError(t, batch.SaveState(t.Context(), storage.StateRecord{Key: 1, ProcessId: "b"}))
	require.NoError(t, batch.Flush(t.Context()))
	third, err := store.FindStateByKey(t.Context(), 1)

	// then
	require.NoError(t, err)
	assert.Equal(t, "b", third.ProcessId)
	assert.Equal(t, 2, backend.stateReads)
}
