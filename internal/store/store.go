// internal/store/store.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document key does not exist.
	ErrNotFound = errors.New("store: document not found")

	// ErrConflict is returned when an optimistic transaction keeps losing
	// races past its retry budget. Callers may treat it as transient.
	ErrConflict = errors.New("store: transaction conflict")
)

// maxTxAttempts bounds optimistic retries before surfacing ErrConflict.
const maxTxAttempts = 5

// Doc is a versioned document. Version increments on every write and is the
// basis for optimistic concurrency checks.
type Doc struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
	Data    []byte `json:"data"`
}

// Tx is the view a transaction body gets. Reads observe a consistent
// snapshot; writes are staged and become visible only on commit. A body must
// be a pure function of what it reads: it is re-executed on conflict.
type Tx interface {
	Get(ctx context.Context, key string) (Doc, error)
	// List returns all documents whose key starts with prefix, in key order.
	List(ctx context.Context, prefix string) ([]Doc, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Store is the document store the engine runs against.
type Store interface {
	// RunTransaction executes fn atomically with bounded retry on conflict.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	// Get reads a single document outside any transaction.
	Get(ctx context.Context, key string) (Doc, error)
	// List reads a collection (key prefix) outside any transaction.
	List(ctx context.Context, prefix string) ([]Doc, error)
}

// Notifier observes committed document changes as point-in-time snapshots.
// Deletions are reported with empty Data.
type Notifier interface {
	DocChanged(ctx context.Context, doc Doc)
}

// GetJSON reads and unmarshals a document into out.
func GetJSON[T any](ctx context.Context, tx Tx, key string, out *T) error {
	doc, err := tx.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc.Data, out); err != nil {
		return fmt.Errorf("store: decode %s: %w", key, err)
	}
	return nil
}

// PutJSON marshals v and stages it under key.
func PutJSON[T any](ctx context.Context, tx Tx, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return tx.Put(ctx, key, data)
}

// ListJSON reads a collection and unmarshals every document.
func ListJSON[T any](ctx context.Context, tx Tx, prefix string) ([]T, error) {
	docs, err := tx.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := json.Unmarshal(d.Data, &v); err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", d.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
