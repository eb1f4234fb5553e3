// Package keydir implements the in-memory index mapping a key to the
// location of its newest value: (segment id, value size, value offset,
// timestamp). Insertion order is preserved so list/fold operations return
// keys in first-insertion order within a session.
package keydir

import "github.com/epokhe/bitkv/internal/clock"

// Entry is one keydir record.
type Entry struct {
	SegmentID uint32
	ValueSize uint32
	ValuePos  int64
	Timestamp clock.Timestamp
}

// Keydir is an insertion-ordered map from key bytes (as a string) to Entry.
type Keydir struct {
	entries map[string]Entry
	order   []string
}

// New returns an empty Keydir.
func New() *Keydir {
	return &Keydir{entries: make(map[string]Entry)}
}

// Insert records or overwrites the entry for key. A first insertion is
// appended to the order; an overwrite keeps the key's original position.
func (k *Keydir) Insert(key string, e Entry) {
	if _, exists := k.entries[key]; !exists {
		k.order = append(k.order, key)
	}
	k.entries[key] = e
}

// Lookup returns the entry for key, if present.
func (k *Keydir) Lookup(key string) (Entry, bool) {
	e, ok := k.entries[key]
	return e, ok
}

// Remove deletes key from the keydir, including its position in
// insertion order.
func (k *Keydir) Remove(key string) {
	if _, ok := k.entries[key]; !ok {
		return
	}
	delete(k.entries, key)
	for i, kk := range k.order {
		if kk == key {
			k.order = append(k.order[:i], k.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of live keys.
func (k *Keydir) Len() int { return len(k.entries) }

// Keys returns a snapshot slice of keys in first-insertion order. The
// slice is safe to range over even if the keydir mutates afterward.
func (k *Keydir) Keys() []string {
	out := make([]string, len(k.order))
	copy(out, k.order)
	return out
}

// Iter calls f for every (key, entry) pair in insertion order, over a
// point-in-time snapshot taken before the first call. It stops early if f
// returns false.
func (k *Keydir) Iter(f func(key string, e Entry) bool) {
	for _, key := range k.Keys() {
		e, ok := k.entries[key]
		if !ok {
			// removed after the snapshot was taken; spec only requires
			// mutations during iteration to be tolerated, not observed.
			continue
		}
		if !f(key, e) {
			return
		}
	}
}
