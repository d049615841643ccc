// Package storage defines the records and interfaces through which definitions
// and checkpointed process states are persisted. Backends live in the
// sub packages inmemory, bolt and cache.
//
// Implementations must:
//   - return ErrNotFound if the method is looking for one exact item and it is not found
//   - return an empty slice for methods that can return multiple results and no result is found
//   - apply every write of a Batch or none of them on Flush
package storage
