package storagetest

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	stdruntime "runtime"

	"github.com/pbinitiative/zenpath/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type StorageTestFunc func(s storage.Storage, t *testing.T) func(t *testing.T)

// StorageTester is a suite every storage.Storage implementation has to pass.
type StorageTester struct {
	definition storage.DefinitionRecord
	state      storage.StateRecord
}

func (st *StorageTester) GetTests() map[string]StorageTestFunc {
	tests := map[string]StorageTestFunc{}

	// all test functions need to be registered here
	functions := []StorageTestFunc{
		st.TestDefinitionStorageWriter,
		st.TestDefinitionStorageReader,
		st.TestDefinitionStorageReaderOrder,
		st.TestStateStorageWriter,
		st.TestStateStorageReader,
		st.TestStateStorageDelete,
		st.TestNotFound,
		st.TestBatchFlush,
	}

	for _, function := range functions {
		funcName := getFunctionName(function)
		strippedName := funcName[strings.LastIndex(funcName, ".")+1:]
		strippedName = strings.TrimSuffix(strippedName, "-fm")
		tests[strippedName] = function
	}
	return tests
}

func getFunctionName(i any) string {
	return stdruntime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func getDefinition(r int64) storage.DefinitionRecord {
	data := `<?xml version="1.0" encoding="UTF-8"?><bpmn:definitions id="definitions-%d"><bpmn:process id="Simple_Task_Process%d" name="aName" isExecutable="true"></bpmn:process></bpmn:definitions>`
	return storage.DefinitionRecord{
		Key:          r,
		DefinitionId: fmt.Sprintf("definitions-%d", r),
		ResourceName: fmt.Sprintf("resource-%d", r),
		Data:         []byte(fmt.Sprintf(data, r, r)),
		Checksum:     [16]byte{1},
		CreatedAt:    time.Now().Truncate(time.Millisecond),
	}
}

func getState(r int64, definition storage.DefinitionRecord) storage.StateRecord {
	return storage.StateRecord{
		Key:           r,
		DefinitionKey: definition.Key,
		ProcessId:     fmt.Sprintf("Simple_Task_Process%d", definition.Key),
		Document:      []byte(fmt.Sprintf("key: \"%d\"\npath: []\nvariables: []\n", r)),
		UpdatedAt:     time.Now().Truncate(time.Millisecond),
	}
}

// PrepareTestData will prepare common data for the tests
func (st *StorageTester) PrepareTestData(s storage.Storage, t *testing.T) {
	r := s.GenerateId()

	st.definition = getDefinition(r)
	err := s.SaveDefinition(t.Context(), st.definition)
	require.NoError(t, err)

	st.state = getState(r, st.definition)
	err = s.SaveState(t.Context(), st.state)
	require.NoError(t, err)
}

func (st *StorageTester) TestDefinitionStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()

		def := getDefinition(r)

		err := s.SaveDefinition(t.Context(), def)
		assert.NoError(t, err)

		definition, err := s.FindDefinitionByKey(t.Context(), r)
		assert.NoError(t, err)
		assert.Equal(t, r, definition.Key)
		assert.Equal(t, def.Data, definition.Data)
		assert.Equal(t, def.Checksum, definition.Checksum)
	}
}

func (st *StorageTester) TestDefinitionStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		definition, err := s.FindDefinitionByKey(t.Context(), st.definition.Key)
		assert.NoError(t, err)
		assert.Equal(t, st.definition.DefinitionId, definition.DefinitionId)
		assert.True(t, st.definition.CreatedAt.Equal(definition.CreatedAt))

		definitions, err := s.FindDefinitionsById(t.Context(), st.definition.DefinitionId)
		assert.NoError(t, err)
		assert.Len(t, definitions, 1)
		assert.Equal(t, st.definition.Key, definitions[0].Key)
	}
}

func (st *StorageTester) TestDefinitionStorageReaderOrder(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		first := getDefinition(s.GenerateId())
		first.DefinitionId = fmt.Sprintf("versioned-%d", first.Key)
		second := getDefinition(s.GenerateId())
		second.DefinitionId = first.DefinitionId
		second.CreatedAt = first.CreatedAt.Add(time.Second)

		assert.NoError(t, s.SaveDefinition(t.Context(), second))
		assert.NoError(t, s.SaveDefinition(t.Context(), first))

		definitions, err := s.FindDefinitionsById(t.Context(), first.DefinitionId)
		assert.NoError(t, err)
		require.Len(t, definitions, 2)
		assert.Equal(t, first.Key, definitions[0].Key)
		assert.Equal(t, second.Key, definitions[1].Key)
	}
}

func (st *StorageTester) TestStateStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		state := getState(r, st.definition)

		err := s.SaveState(t.Context(), state)
		assert.NoError(t, err)

		state.Completed = true
		state.Document = []byte("key: \"1\"\n")
		err = s.SaveState(t.Context(), state)
		assert.NoError(t, err)

		stored, err := s.FindStateByKey(t.Context(), r)
		assert.NoError(t, err)
		assert.True(t, stored.Completed)
		assert.Equal(t, state.Document, stored.Document)
	}
}

func (st *StorageTester) TestStateStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		stored, err := s.FindStateByKey(t.Context(), st.state.Key)
		assert.NoError(t, err)
		assert.Equal(t, st.state.ProcessId, stored.ProcessId)
		assert.Equal(t, st.state.Document, stored.Document)
		assert.True(t, st.state.UpdatedAt.Equal(stored.UpdatedAt))

		states, err := s.FindStatesByDefinitionKey(t.Context(), st.definition.Key)
		assert.NoError(t, err)
		assert.NotEmpty(t, states)
		for i := 1; i < len(states); i++ {
			assert.Less(t, states[i-1].Key, states[i].Key)
		}

		states, err = s.FindStatesByDefinitionKey(t.Context(), -1)
		assert.NoError(t, err)
		assert.NotNil(t, states)
		assert.Empty(t, states)
	}
}

func (st *StorageTester) TestStateStorageDelete(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		err := s.SaveState(t.Context(), getState(r, st.definition))
		assert.NoError(t, err)

		err = s.DeleteState(t.Context(), r)
		assert.NoError(t, err)

		_, err = s.FindStateByKey(t.Context(), r)
		assert.True(t, errors.Is(err, storage.ErrNotFound))

		err = s.DeleteState(t.Context(), r)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	}
}

func (st *StorageTester) TestNotFound(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		_, err := s.FindDefinitionByKey(t.Context(), -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = s.FindStateByKey(t.Context(), -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		definitions, err := s.FindDefinitionsById(t.Context(), "missing")
		assert.NoError(t, err)
		assert.Empty(t, definitions)
	}
}

func (st *StorageTester) TestBatchFlush(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		def := getDefinition(r)
		state := getState(r, def)

		batch := s.NewBatch()
		assert.NoError(t, batch.SaveDefinition(t.Context(), def))
		assert.NoError(t, batch.SaveState(t.Context(), state))

		_, err := s.FindStateByKey(t.Context(), r)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		err = batch.Flush(t.Context())
		assert.NoError(t, err)

		_, err = s.FindDefinitionByKey(t.Context(), r)
		assert.NoError(t, err)
		_, err = s.FindStateByKey(t.Context(), r)
		assert.NoError(t, err)
	}
}
