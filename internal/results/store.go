// Package results holds the shared key-value state of one workflow execution.
//
// The store is a single JSON object. Writes go through sjson, reads through
// gjson, so every value a task stores must be JSON-serialisable. A Snapshot is
// an immutable view: the store never edits a document in place, it swaps in a
// new one on every successful Apply.
package results

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrMergeConflict is returned when a merge would descend into a value that is
// not an object.
var ErrMergeConflict = errors.New("merge target is not an object")

// Store is the shared Result Store of a workflow execution.
type Store struct {
	mu  sync.RWMutex
	doc []byte
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{doc: []byte("{}")}
}

// FromJSON restores a store from a document previously returned by JSON.
func FromJSON(data []byte) (*Store, error) {
	if len(data) == 0 {
		return NewStore(), nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid result document")
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("result document must be a JSON object")
	}
	return &Store{doc: append([]byte(nil), data...)}, nil
}

// Apply applies all writes or none of them. The writes are run against a copy
// of the document and the copy is swapped in only if every write succeeds.
func (s *Store) Apply(writes ...Write) error {
	if len(writes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := append([]byte(nil), s.doc...)
	for i, w := range writes {
		next, err := apply(doc, w)
		if err != nil {
			return fmt.Errorf("write %d (%s): %w", i, w, err)
		}
		doc = next
	}

	s.doc = doc
	return nil
}

// Snapshot returns a read-only view of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{doc: s.doc}
}

// JSON returns a copy of the current document.
func (s *Store) JSON() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.doc...)
}

func apply(doc []byte, w Write) ([]byte, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}

	switch w.Mode {
	case ModeReplace:
		return sjson.SetBytes(doc, writePath(w.Path), w.Value)
	default:
		return mergeValue(doc, w.Path, w.Value)
	}
}

// mergeValue writes value at path without touching sibling keys. Map values
// are merged key by key, so merging {"a": 1} into {"a": 0, "b": 2} keeps "b".
func mergeValue(doc []byte, path []string, value any) ([]byte, error) {
	if err := checkObjectPrefixes(doc, path); err != nil {
		return nil, err
	}

	m, ok := value.(map[string]any)
	if !ok {
		return sjson.SetBytes(doc, writePath(path), value)
	}

	current := gjson.GetBytes(doc, readPath(path))
	if current.Exists() && !current.IsObject() {
		return nil, fmt.Errorf("%q: %w", readPath(path), ErrMergeConflict)
	}
	if !current.Exists() {
		var err error
		doc, err = sjson.SetRawBytes(doc, writePath(path), []byte("{}"))
		if err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		child := append(append([]string(nil), path...), k)
		var err error
		doc, err = mergeValue(doc, child, m[k])
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// checkObjectPrefixes verifies every proper prefix of path is either missing
// or an object.
func checkObjectPrefixes(doc []byte, path []string) error {
	for i := 1; i < len(path); i++ {
		r := gjson.GetBytes(doc, readPath(path[:i]))
		if r.Exists() && !r.IsObject() {
			return fmt.Errorf("%q: %w", readPath(path[:i]), ErrMergeConflict)
		}
	}
	return nil
}
