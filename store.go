// Package bitkv implements a log-structured, append-only key-value store
// modeled on Bitcask: durable put/get/delete/list/fold/merge over opaque
// byte keys and values, backed by an in-memory keydir pointing into
// immutable on-disk segment files plus one mutable active segment.
package bitkv

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/epokhe/bitkv/internal/clock"
	"github.com/epokhe/bitkv/internal/keydir"
	"github.com/epokhe/bitkv/internal/lock"
	"github.com/epokhe/bitkv/internal/record"
	"github.com/epokhe/bitkv/internal/recovery"
	"github.com/epokhe/bitkv/internal/segment"
)

// Store is the top-level engine object: it owns the active segment, the
// set of sealed segments, the keydir, and the data directory. A Store
// starts closed; call Open before any other operation.
type Store struct {
	mu sync.RWMutex

	dir       string
	opened    bool
	threshold int64
	fsync     bool
	logger    *slog.Logger

	segments map[uint32]*segment.Segment // all segments, including active
	activeID uint32
	keydir   *keydir.Keydir

	dirLock *lock.Lock
}

func (s *Store) isMemory() bool { return s.dir == MemoryDir }

// Open transitions a closed Store to open, populating the keydir via
// recovery. It does not create the active segment; the first Put does.
func (s *Store) Open(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return ErrAlreadyOpen
	}

	if dir != MemoryDir {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return ErrNotADirectory
		}

		dl, err := lock.Acquire(dir)
		if err != nil {
			return fmt.Errorf("bitkv: open %q: %w", dir, err)
		}

		res, err := recovery.Scan(dir)
		if err != nil {
			_ = dl.Release()
			return fmt.Errorf("bitkv: recover %q: %w", dir, err)
		}

		segments := make(map[uint32]*segment.Segment, len(res.Segments))
		for _, seg := range res.Segments {
			segments[seg.ID()] = seg
		}

		s.dir = dir
		s.dirLock = dl
		s.segments = segments
		s.keydir = res.Keydir
		s.logger.Debug("bitkv: recovered store", "dir", dir, "keys", s.keydir.Len(), "segments", len(segments))
	} else {
		s.dir = dir
		s.segments = make(map[uint32]*segment.Segment)
		s.keydir = keydir.New()
	}

	s.opened = true
	return nil
}

// Put stores value under key. value must be non-empty; an empty value is
// reserved to encode a tombstone and is only ever written internally by
// Delete.
func (s *Store) Put(key, value []byte) error {
	if len(value) == 0 {
		return ErrInvalidValue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return ErrNotOpen
	}

	return s.put(key, value)
}

// put appends a record for key/value (value may be empty, for a
// tombstone) and updates the keydir. The caller holds s.mu.
func (s *Store) put(key, value []byte) error {
	active := s.segments[s.activeID]
	if active == nil || active.Size() > s.threshold {
		var err error
		active, err = s.rotate()
		if err != nil {
			return err
		}
	}

	ts := clock.New()
	buf := record.Encode(key, value, ts)

	off, err := active.Append(buf)
	if err != nil {
		return fmt.Errorf("bitkv: put %q: %w", key, err)
	}

	if s.fsync {
		if err := active.Flush(); err != nil {
			return fmt.Errorf("bitkv: put %q: %w", key, err)
		}
	}

	valuePos := off + int64(record.HeaderLen) + int64(len(key))
	s.keydir.Insert(string(key), keydir.Entry{
		SegmentID: active.ID(),
		ValueSize: uint32(len(value)),
		ValuePos:  valuePos,
		Timestamp: ts,
	})

	return nil
}

// rotate seals the current active segment (if any) and installs a fresh
// one as active. The caller holds s.mu.
func (s *Store) rotate() (*segment.Segment, error) {
	stem := clock.New().Stem()

	dir := s.dir
	if s.isMemory() {
		dir = ""
	}

	newSeg, err := segment.CreateActive(dir, stem)
	if err != nil {
		return nil, fmt.Errorf("bitkv: rotate: %w", err)
	}

	if prev := s.segments[s.activeID]; prev != nil {
		sealed, err := prev.Seal()
		if err != nil {
			return nil, fmt.Errorf("bitkv: rotate: seal %s: %w", prev.Stem, err)
		}
		s.segments[sealed.ID()] = sealed
	}

	s.segments[newSeg.ID()] = newSeg
	s.activeID = newSeg.ID()

	s.logger.Debug("bitkv: rotated active segment", "stem", stem)
	return newSeg, nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.opened {
		return nil, ErrNotOpen
	}

	e, ok := s.keydir.Lookup(string(key))
	if !ok {
		return nil, ErrNotFound
	}

	return s.readValue(e)
}

func (s *Store) readValue(e keydir.Entry) ([]byte, error) {
	seg, ok := s.segments[e.SegmentID]
	if !ok {
		return nil, fmt.Errorf("bitkv: keydir points at unknown segment %d", e.SegmentID)
	}

	val, err := seg.ReadAt(e.ValuePos, int(e.ValueSize))
	if err != nil {
		return nil, fmt.Errorf("bitkv: read value: %w", err)
	}
	return val, nil
}

// Delete removes key. It appends a tombstone record before removing the
// key from the keydir, so a subsequent recovery sees the deletion too.
func (s *Store) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return ErrNotOpen
	}

	if _, ok := s.keydir.Lookup(string(key)); !ok {
		return ErrNotFound
	}

	if err := s.put(key, nil); err != nil {
		return fmt.Errorf("bitkv: delete %q: %w", key, err)
	}

	s.keydir.Remove(string(key))
	return nil
}

// ListKeys returns every live key in keydir insertion order: keys
// recovered by Open come first, sorted by byte value, then keys added
// during this session in the order of their first Put. An overwrite keeps
// a key's position; a key re-added after Delete, or rewritten by Merge,
// moves to the end.
func (s *Store) ListKeys() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.keydir.Keys()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = []byte(k)
	}
	return out
}

// Fold iterates values in keydir insertion order, threading acc through f.
// Each value is re-read from disk; nothing is cached. Fold observes a
// snapshot of the keydir taken at the start of iteration.
func (s *Store) Fold(f func(acc any, value []byte) any, acc any) any {
	s.mu.RLock()
	keys := s.keydir.Keys()
	s.mu.RUnlock()

	for _, key := range keys {
		s.mu.RLock()
		e, ok := s.keydir.Lookup(key)
		var val []byte
		var err error
		if ok {
			val, err = s.readValue(e)
		}
		s.mu.RUnlock()

		if !ok || err != nil {
			continue
		}
		acc = f(acc, val)
	}
	return acc
}

// Iterate returns a range-over-func iterator yielding values only, in the
// same order as Fold.
func (s *Store) Iterate() func(yield func([]byte) bool) {
	return func(yield func([]byte) bool) {
		s.mu.RLock()
		keys := s.keydir.Keys()
		s.mu.RUnlock()

		for _, key := range keys {
			s.mu.RLock()
			e, ok := s.keydir.Lookup(key)
			var val []byte
			var err error
			if ok {
				val, err = s.readValue(e)
			}
			s.mu.RUnlock()

			if !ok || err != nil {
				continue
			}
			if !yield(val) {
				return
			}
		}
	}
}

// Sync flushes the active segment. It fails with ErrUnsupportedInMemory on
// an in-memory store.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return ErrNotOpen
	}
	if s.isMemory() {
		return ErrUnsupportedInMemory
	}

	active := s.segments[s.activeID]
	if active == nil {
		return nil
	}
	if err := active.Flush(); err != nil {
		return fmt.Errorf("bitkv: sync: %w", err)
	}
	return nil
}

// Close flushes and closes all open segments and resets internal state.
// Closing a never-opened or already-closed store is also success.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil
	}

	for _, seg := range s.segments {
		if err := seg.Flush(); err != nil {
			return fmt.Errorf("bitkv: close: flush %s: %w", seg.Stem, err)
		}
		if err := seg.Close(); err != nil {
			return fmt.Errorf("bitkv: close: %s: %w", seg.Stem, err)
		}
	}

	if s.dirLock != nil {
		if err := s.dirLock.Release(); err != nil {
			return fmt.Errorf("bitkv: close: %w", err)
		}
	}

	s.opened = false
	s.dir = ""
	s.segments = nil
	s.keydir = nil
	s.activeID = 0
	s.dirLock = nil

	return nil
}

// Stats reports basic operational counters: live key count, open segment
// count, and total bytes on disk (or in memory).
type Stats struct {
	Keys     int
	Segments int
	Bytes    int64
}

// Stats returns a snapshot of store-wide counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bytes int64
	for _, seg := range s.segments {
		bytes += seg.Size()
	}

	var keys int
	if s.keydir != nil {
		keys = s.keydir.Len()
	}

	return Stats{Keys: keys, Segments: len(s.segments), Bytes: bytes}
}
