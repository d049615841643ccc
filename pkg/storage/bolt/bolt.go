// Package bolt is a storage.Storage kept in a single BoltDB file.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"github.com/pbinitiative/zenpath/pkg/storage"
	"github.com/pbinitiative/zenpath/pkg/zenflake"
)

var (
	definitionsBucket = []byte("definitions")
	statesBucket      = []byte("states")
)

// Storage stores definitions and states in the buckets "definitions" and
// "states", keyed by the big endian record key.
type Storage struct {
	db *bbolt.DB
}

var _ storage.Storage = &Storage{}

// Open opens or creates the database file. The call blocks up to timeout
// when another process holds the file.
func Open(file string, mode os.FileMode, timeout time.Duration) (*Storage, error) {
	if mode == 0 {
		mode = 0600
	}
	db, err := bbolt.Open(file, mode, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", file, err)
	}
	return New(db)
}

// New uses an already opened database.
func New(db *bbolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{definitionsBucket, statesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) GenerateId() int64 {
	return zenflake.Generate()
}

func (s *Storage) NewBatch() storage.Batch {
	return &StorageBatch{db: s}
}

func (s *Storage) FindDefinitionByKey(ctx context.Context, definitionKey int64) (storage.DefinitionRecord, error) {
	var res storage.DefinitionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(definitionsBucket).Get(encodeKey(definitionKey))
		if data == nil {
			return storage.ErrNotFound
		}
		var err error
		res, err = unmarshalDefinition(data)
		return err
	})
	return res, err
}

func (s *Storage) FindDefinitionsById(ctx context.Context, definitionId string) ([]storage.DefinitionRecord, error) {
	res := make([]storage.DefinitionRecord, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(definitionsBucket).ForEach(func(_, data []byte) error {
			def, err := unmarshalDefinition(data)
			if err != nil {
				return err
			}
			if def.DefinitionId == definitionId {
				res = append(res, def)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find definitions by id %s: %w", definitionId, err)
	}
	slices.SortFunc(res, func(a, b storage.DefinitionRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return res, nil
}

func (s *Storage) SaveDefinition(ctx context.Context, definition storage.DefinitionRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putDefinition(tx, definition)
	})
}

func (s *Storage) FindStateByKey(ctx context.Context, key int64) (storage.StateRecord, error) {
	var res storage.StateRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(statesBucket).Get(encodeKey(key))
		if data == nil {
			return storage.ErrNotFound
		}
		var err error
		res, err = unmarshalState(data)
		return err
	})
	return res, err
}

func (s *Storage) FindStatesByDefinitionKey(ctx context.Context, definitionKey int64) ([]storage.StateRecord, error) {
	res := make([]storage.StateRecord, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(statesBucket).ForEach(func(_, data []byte) error {
			state, err := unmarshalState(data)
			if err != nil {
				return err
			}
			if state.DefinitionKey == definitionKey {
				res = append(res, state)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find states of definition %d: %w", definitionKey, err)
	}
	// negative keys do not sort by their big endian bytes
	slices.SortFunc(res, func(a, b storage.StateRecord) int {
		return bytes.Compare(sortableKey(a.Key), sortableKey(b.Key))
	})
	return res, nil
}

func (s *Storage) SaveState(ctx context.Context, state storage.StateRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putState(tx, state)
	})
}

func (s *Storage) DeleteState(ctx context.Context, key int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return deleteState(tx, key)
	})
}

// StorageBatch applies all collected writes in one bolt transaction.
type StorageBatch struct {
	db        *Storage
	stmtToRun []func(tx *bbolt.Tx) error
}

var _ storage.Batch = &StorageBatch{}

func (b *StorageBatch) SaveDefinition(ctx context.Context, definition storage.DefinitionRecord) error {
	b.stmtToRun = append(b.stmtToRun, func(tx *bbolt.Tx) error {
		return putDefinition(tx, definition)
	})
	return nil
}

func (b *StorageBatch) SaveState(ctx context.Context, state storage.StateRecord) error {
	b.stmtToRun = append(b.stmtToRun, func(tx *bbolt.Tx) error {
		return putState(tx, state)
	})
	return nil
}

func (b *StorageBatch) DeleteState(ctx context.Context, key int64) error {
	b.stmtToRun = append(b.stmtToRun, func(tx *bbolt.Tx) error {
		return deleteState(tx, key)
	})
	return nil
}

func (b *StorageBatch) Flush(ctx context.Context) error {
	err := b.db.db.Update(func(tx *bbolt.Tx) error {
		for _, stmt := range b.stmtToRun {
			if err := stmt(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to flush batch: %w", err)
	}
	b.stmtToRun = nil
	return nil
}

// definitionValue and stateValue carry the fields hidden from the JSON form of the records.
type definitionValue struct {
	storage.DefinitionRecord
	Data     []byte   `json:"data"`
	Checksum [16]byte `json:"checksum"`
}

type stateValue struct {
	storage.StateRecord
	Document []byte `json:"document"`
}

func putDefinition(tx *bbolt.Tx, definition storage.DefinitionRecord) error {
	data, err := json.Marshal(definitionValue{
		DefinitionRecord: definition,
		Data:             definition.Data,
		Checksum:         definition.Checksum,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal definition %d: %w", definition.Key, err)
	}
	return tx.Bucket(definitionsBucket).Put(encodeKey(definition.Key), data)
}

func unmarshalDefinition(data []byte) (storage.DefinitionRecord, error) {
	var value definitionValue
	if err := json.Unmarshal(data, &value); err != nil {
		return storage.DefinitionRecord{}, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	res := value.DefinitionRecord
	res.Data = value.Data
	res.Checksum = value.Checksum
	return res, nil
}

func putState(tx *bbolt.Tx, state storage.StateRecord) error {
	data, err := json.Marshal(stateValue{
		StateRecord: state,
		Document:    state.Document,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal state %d: %w", state.Key, err)
	}
	return tx.Bucket(statesBucket).Put(encodeKey(state.Key), data)
}

func unmarshalState(data []byte) (storage.StateRecord, error) {
	var value stateValue
	if err := json.Unmarshal(data, &value); err != nil {
		return storage.StateRecord{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	res := value.StateRecord
	res.Document = value.Document
	return res, nil
}

func deleteState(tx *bbolt.Tx, key int64) error {
	bucket := tx.Bucket(statesBucket)
	k := encodeKey(key)
	if bucket.Get(k) == nil {
		return storage.ErrNotFound
	}
	return bucket.Delete(k)
}

func encodeKey(key int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(key))
	return b
}

func sortableKey(key int64) []byte {
	return encodeKey(key ^ (-1 << 63))
}
