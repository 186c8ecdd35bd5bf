package results

import (
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Snapshot is an immutable view of the store at one point in time.
// Numbers come back as float64 and nested objects as map[string]any.
type Snapshot struct {
	doc []byte
}

// EmptySnapshot is a snapshot of an empty store.
func EmptySnapshot() Snapshot {
	return Snapshot{doc: []byte("{}")}
}

func (s Snapshot) result(path []string) gjson.Result {
	if len(s.doc) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(s.doc, readPath(path))
}

// Get returns the value stored at a top-level key.
func (s Snapshot) Get(key string) (any, bool) {
	return s.Lookup(key)
}

// Lookup returns the value at a nested path.
func (s Snapshot) Lookup(path ...string) (any, bool) {
	r := s.result(path)
	if !r.Exists() {
		return nil, false
	}
	return r.Value(), true
}

// String returns the string at key, or "" if missing.
func (s Snapshot) String(key string) string {
	return s.result([]string{key}).String()
}

// Bool returns the boolean at key, false if missing.
func (s Snapshot) Bool(key string) bool {
	return s.result([]string{key}).Bool()
}

// Map returns the object at key, nil if missing or not an object.
func (s Snapshot) Map(key string) map[string]any {
	r := s.result([]string{key})
	if !r.IsObject() {
		return nil
	}
	m, _ := r.Value().(map[string]any)
	return m
}

// Keys returns the top-level keys in sorted order.
func (s Snapshot) Keys() []string {
	var keys []string
	gjson.ParseBytes(s.document()).ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	sort.Strings(keys)
	return keys
}

// All returns the whole snapshot as a map.
func (s Snapshot) All() map[string]any {
	m, _ := gjson.ParseBytes(s.document()).Value().(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m
}

// JSON returns a copy of the underlying document.
func (s Snapshot) JSON() []byte {
	return append([]byte(nil), s.document()...)
}

// With returns a snapshot where each overlay key replaces the stored value.
// The receiver is not modified.
func (s Snapshot) With(overlay map[string]any) (Snapshot, error) {
	if len(overlay) == 0 {
		return s, nil
	}

	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := append([]byte(nil), s.document()...)
	for _, k := range keys {
		var err error
		doc, err = sjson.SetBytes(doc, writePath([]string{k}), overlay[k])
		if err != nil {
			return Snapshot{}, err
		}
	}
	return Snapshot{doc: doc}, nil
}

func (s Snapshot) document() []byte {
	if len(s.doc) == 0 {
		return []byte("{}")
	}
	return s.doc
}
