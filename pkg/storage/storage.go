package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// DefinitionRecord is a stored definition document.
type DefinitionRecord struct {
	Key          int64     `json:"key,string"`
	DefinitionId string    `json:"definitionId"` // id attribute of the definitions root
	ResourceName string    `json:"resourceName"` // optional, can be empty
	Data         []byte    `json:"-"`            // the raw XML
	Checksum     [16]byte  `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// StateRecord is a checkpoint of one process instance.
type StateRecord struct {
	Key           int64     `json:"key,string"` // process instance key
	DefinitionKey int64     `json:"definitionKey,string"`
	ProcessId     string    `json:"processId"`
	Document      []byte    `json:"-"` // the state document, see runtime.ProcessState.Save
	Completed     bool      `json:"completed"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Storage interface {
	DefinitionStorageReader
	DefinitionStorageWriter
	StateStorageReader
	StateStorageWriter

	GenerateId() int64
	NewBatch() Batch
}

// Batch collects writes and applies them on Flush. Applied writes are not
// rolled back when a later one fails.
type Batch interface {
	DefinitionStorageWriter
	StateStorageWriter

	Flush(ctx context.Context) error
}

type DefinitionStorageReader interface {
	FindDefinitionByKey(ctx context.Context, definitionKey int64) (DefinitionRecord, error)

	// FindDefinitionsById returns the definitions stored under the given id,
	// ordered by CreatedAt, oldest first.
	FindDefinitionsById(ctx context.Context, definitionId string) ([]DefinitionRecord, error)
}

type DefinitionStorageWriter interface {
	SaveDefinition(ctx context.Context, definition DefinitionRecord) error
}

type StateStorageReader interface {
	FindStateByKey(ctx context.Context, key int64) (StateRecord, error)

	// FindStatesByDefinitionKey returns the states of one definition, ordered by key.
	FindStatesByDefinitionKey(ctx context.Context, definitionKey int64) ([]StateRecord, error)
}

type StateStorageWriter interface {
	SaveState(ctx context.Context, state StateRecord) error
	DeleteState(ctx context.Context, key int64) error
}
