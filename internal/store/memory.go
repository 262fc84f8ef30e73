// internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process document store with optimistic transactions. Used
// for tests and single-node play; the Postgres store carries the same
// contract for real deployments.
type Memory struct {
	mu       sync.Mutex
	docs     map[string]Doc
	notifier Notifier
}

// NewMemory returns an empty store. notifier may be nil.
func NewMemory(notifier Notifier) *Memory {
	return &Memory{
		docs:     make(map[string]Doc),
		notifier: notifier,
	}
}

func (m *Memory) Get(ctx context.Context, key string) (Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	if !ok {
		return Doc{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return cloneDoc(doc), nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(prefix), nil
}

func (m *Memory) listLocked(prefix string) []Doc {
	keys := m.keysLocked(prefix)
	out := make([]Doc, 0, len(keys))
	for _, k := range keys {
		out = append(out, cloneDoc(m.docs[k]))
	}
	return out
}

func (m *Memory) keysLocked(prefix string) []string {
	keys := make([]string, 0)
	for k := range m.docs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// RunTransaction executes fn against a recorded read set and commits only if
// none of the documents read have changed since. Conflicting commits retry
// the whole body up to maxTxAttempts times.
func (m *Memory) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{m: m, reads: make(map[string]int64), listReads: make(map[string][]string)}
		if err := fn(tx); err != nil {
			return err
		}
		changed, ok := m.commit(tx)
		if !ok {
			continue
		}
		if m.notifier != nil {
			for _, doc := range changed {
				m.notifier.DocChanged(ctx, doc)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: gave up after %d attempts", ErrConflict, maxTxAttempts)
}

// commit verifies the read set and applies staged writes atomically.
func (m *Memory) commit(tx *memTx) ([]Doc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, seen := range tx.reads {
		var current int64
		if doc, ok := m.docs[key]; ok {
			current = doc.Version
		}
		if current != seen {
			return nil, false
		}
	}

	// Per-key versions cannot catch documents inserted under a listed
	// prefix after the list; compare the key set itself.
	for prefix, seen := range tx.listReads {
		if !slices.Equal(m.keysLocked(prefix), seen) {
			return nil, false
		}
	}

	// Collapse repeated writes to the same key; only the final value commits.
	final := make(map[string][]byte, len(tx.writes))
	order := make([]string, 0, len(tx.writes))
	for _, w := range tx.writes {
		if _, ok := final[w.key]; !ok {
			order = append(order, w.key)
		}
		final[w.key] = w.data
	}

	changed := make([]Doc, 0, len(final)+len(tx.deletes))
	for _, key := range order {
		prev := m.docs[key]
		doc := Doc{Key: key, Version: prev.Version + 1, Data: append([]byte(nil), final[key]...)}
		m.docs[key] = doc
		changed = append(changed, cloneDoc(doc))
	}
	for key := range tx.deletes {
		prev, ok := m.docs[key]
		if !ok {
			continue
		}
		delete(m.docs, key)
		changed = append(changed, Doc{Key: key, Version: prev.Version + 1})
	}
	return changed, true
}

type stagedWrite struct {
	key  string
	data []byte
}

// memTx records the versions of everything it reads and stages writes until
// commit. Staged state shadows committed state within the transaction.
type memTx struct {
	m         *Memory
	reads     map[string]int64
	listReads map[string][]string
	writes    []stagedWrite
	deletes   map[string]bool
}

func (tx *memTx) staged(key string) ([]byte, bool) {
	if tx.deletes[key] {
		return nil, true
	}
	for i := len(tx.writes) - 1; i >= 0; i-- {
		if tx.writes[i].key == key {
			return tx.writes[i].data, true
		}
	}
	return nil, false
}

func (tx *memTx) Get(ctx context.Context, key string) (Doc, error) {
	if data, ok := tx.staged(key); ok {
		if data == nil {
			return Doc{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Doc{Key: key, Data: append([]byte(nil), data...)}, nil
	}

	tx.m.mu.Lock()
	doc, ok := tx.m.docs[key]
	if ok {
		tx.recordRead(key, doc.Version)
	} else {
		tx.recordRead(key, 0)
	}
	tx.m.mu.Unlock()

	if !ok {
		return Doc{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return cloneDoc(doc), nil
}

func (tx *memTx) List(ctx context.Context, prefix string) ([]Doc, error) {
	tx.m.mu.Lock()
	committed := tx.m.listLocked(prefix)
	for _, doc := range committed {
		tx.recordRead(doc.Key, doc.Version)
	}
	tx.recordListRead(prefix, committed)
	tx.m.mu.Unlock()

	// Overlay staged writes and deletions.
	byKey := make(map[string]Doc, len(committed))
	for _, doc := range committed {
		byKey[doc.Key] = doc
	}
	for _, w := range tx.writes {
		if strings.HasPrefix(w.key, prefix) {
			byKey[w.key] = Doc{Key: w.key, Data: append([]byte(nil), w.data...)}
		}
	}
	for key := range tx.deletes {
		delete(byKey, key)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Doc, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out, nil
}

func (tx *memTx) Put(ctx context.Context, key string, data []byte) error {
	delete(tx.deletes, key)
	tx.writes = append(tx.writes, stagedWrite{key: key, data: append([]byte(nil), data...)})
	return nil
}

func (tx *memTx) Delete(ctx context.Context, key string) error {
	if tx.deletes == nil {
		tx.deletes = make(map[string]bool)
	}
	tx.deletes[key] = true
	return nil
}

// recordRead keeps the first observed version per key; a transaction that
// reads the same key twice must see its own staged value, not a second
// snapshot.
func (tx *memTx) recordRead(key string, version int64) {
	if _, ok := tx.reads[key]; !ok {
		tx.reads[key] = version
	}
}

// recordListRead keeps the committed key set observed for each listed
// prefix. Callers hold tx.m.mu.
func (tx *memTx) recordListRead(prefix string, committed []Doc) {
	if _, ok := tx.listReads[prefix]; ok {
		return
	}
	keys := make([]string, len(committed))
	for i, doc := range committed {
		keys[i] = doc.Key
	}
	tx.listReads[prefix] = keys
}

func cloneDoc(d Doc) Doc {
	return Doc{Key: d.Key, Version: d.Version, Data: append([]byte(nil), d.Data...)}
}
