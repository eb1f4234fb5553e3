package bitkv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/epokhe/bitkv/internal/clock"
	"github.com/epokhe/bitkv/internal/keydir"
	"github.com/epokhe/bitkv/internal/record"
	"github.com/epokhe/bitkv/internal/segment"
)

type mergeItem struct {
	key   string
	entry keydir.Entry
}

type hintRecord struct {
	key       string
	valueSize uint32
	valuePos  uint32
	timestamp clock.Timestamp
}

type segmentHints struct {
	stem    string
	entries []hintRecord
}

// Merge compacts the store: it rewrites every live record backed by a
// non-active segment into fresh sealed segments under a sibling
// directory, emits hint files for them, and atomically swaps them in for
// the old segments. It returns the number of records rewritten. Merge
// fails with ErrUnsupportedInMemory on a ":memory" store.
func (s *Store) Merge() (int, error) {
	s.mu.RLock()
	if !s.opened {
		s.mu.RUnlock()
		return 0, ErrNotOpen
	}
	if s.isMemory() {
		s.mu.RUnlock()
		return 0, ErrUnsupportedInMemory
	}

	// Single-writer model: nothing else mutates this store while Merge
	// runs, so the active segment captured here is still the active
	// segment when we swap results back in at the end.
	activeID := s.activeID
	dir := s.dir
	threshold := s.threshold

	var items []mergeItem
	for _, key := range s.keydir.Keys() {
		e, ok := s.keydir.Lookup(key)
		if ok && e.SegmentID != activeID {
			items = append(items, mergeItem{key: key, entry: e})
		}
	}

	segByID := make(map[uint32]*segment.Segment, len(s.segments))
	for id, seg := range s.segments {
		segByID[id] = seg
	}
	s.mu.RUnlock()

	mergeDir := filepath.Join(dir, "merge")
	if err := os.RemoveAll(mergeDir); err != nil {
		return 0, fmt.Errorf("bitkv: merge: clear stale merge dir: %w", err)
	}
	if err := os.MkdirAll(mergeDir, 0o755); err != nil {
		return 0, fmt.Errorf("bitkv: merge: create merge dir: %w", err)
	}

	mergeStore := New(WithThreshold(threshold), WithLogger(s.logger))
	if err := mergeStore.Open(mergeDir); err != nil {
		return 0, fmt.Errorf("bitkv: merge: open merge store: %w", err)
	}

	var fingerprint strings.Builder
	merged := 0
	for _, it := range items {
		seg := segByID[it.entry.SegmentID]
		if seg == nil {
			continue
		}
		val, err := seg.ReadAt(it.entry.ValuePos, int(it.entry.ValueSize))
		if err != nil {
			_ = mergeStore.Close()
			return merged, fmt.Errorf("bitkv: merge: read %q: %w", it.key, err)
		}
		if err := mergeStore.Put([]byte(it.key), val); err != nil {
			_ = mergeStore.Close()
			return merged, fmt.Errorf("bitkv: merge: rewrite %q: %w", it.key, err)
		}
		fingerprint.WriteString(it.key)
		merged++
	}

	s.logger.Debug("bitkv: merge batch",
		"candidates", len(items), "rewritten", merged,
		"fingerprint", fmt.Sprintf("%x", xxh3.HashString(fingerprint.String())))

	hints, err := mergeStore.sealAndBuildHints(mergeDir)
	if err != nil {
		_ = mergeStore.Close()
		return merged, fmt.Errorf("bitkv: merge: build hints: %w", err)
	}

	if err := mergeStore.Close(); err != nil {
		return merged, fmt.Errorf("bitkv: merge: close merge store: %w", err)
	}

	if err := moveMergeOutput(mergeDir, dir); err != nil {
		return merged, fmt.Errorf("bitkv: merge: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.keydir.Keys() {
		e, ok := s.keydir.Lookup(key)
		if ok && e.SegmentID != activeID {
			s.keydir.Remove(key)
		}
	}

	for id, seg := range s.segments {
		if id == activeID {
			continue
		}
		_ = seg.Close()
		if err := seg.Remove(); err != nil {
			return merged, fmt.Errorf("bitkv: merge: remove old segment: %w", err)
		}
		delete(s.segments, id)
	}

	for _, h := range hints {
		seg, err := segment.OpenReadOnly(dir, h.stem)
		if err != nil {
			return merged, fmt.Errorf("bitkv: merge: open merged segment %q: %w", h.stem, err)
		}
		s.segments[seg.ID()] = seg
		for _, he := range h.entries {
			s.keydir.Insert(he.key, keydir.Entry{
				SegmentID: seg.ID(),
				ValueSize: he.valueSize,
				ValuePos:  int64(he.valuePos),
				Timestamp: he.timestamp,
			})
		}
	}

	return merged, nil
}

// sealAndBuildHints seals the merge store's active segment (dropping it
// unused if nothing was ever written to it), then emits one hint file per
// sealed segment by walking the merge store's own keydir. The caller owns
// mergeDir's lifetime; sealAndBuildHints only writes .hint files into it.
func (s *Store) sealAndBuildHints(dir string) ([]segmentHints, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if active := s.segments[s.activeID]; active != nil {
		if active.Size() > 0 {
			sealed, err := active.Seal()
			if err != nil {
				return nil, fmt.Errorf("bitkv: seal final merge segment: %w", err)
			}
			s.segments[sealed.ID()] = sealed
		} else {
			_ = active.Remove()
			delete(s.segments, s.activeID)
		}
	}
	s.activeID = 0

	grouped := make(map[uint32][]mergeItem)
	for _, key := range s.keydir.Keys() {
		e, ok := s.keydir.Lookup(key)
		if !ok {
			continue
		}
		grouped[e.SegmentID] = append(grouped[e.SegmentID], mergeItem{key: key, entry: e})
	}

	out := make([]segmentHints, 0, len(grouped))
	for id, items := range grouped {
		seg := s.segments[id]
		if seg == nil {
			continue
		}

		hintPath := filepath.Join(dir, seg.Stem+".hint")
		f, err := os.Create(hintPath)
		if err != nil {
			return nil, fmt.Errorf("bitkv: create hint %q: %w", hintPath, err)
		}

		entries := make([]hintRecord, 0, len(items))
		for _, it := range items {
			buf := record.EncodeHint([]byte(it.key), it.entry.ValueSize, uint32(it.entry.ValuePos), it.entry.Timestamp)
			if _, err := f.Write(buf); err != nil {
				f.Close()
				return nil, fmt.Errorf("bitkv: write hint %q: %w", hintPath, err)
			}
			entries = append(entries, hintRecord{
				key:       it.key,
				valueSize: it.entry.ValueSize,
				valuePos:  uint32(it.entry.ValuePos),
				timestamp: it.entry.Timestamp,
			})
		}

		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("bitkv: sync hint %q: %w", hintPath, err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("bitkv: close hint %q: %w", hintPath, err)
		}

		out = append(out, segmentHints{stem: seg.Stem, entries: entries})
	}

	return out, nil
}

// moveMergeOutput moves every .db/.hint file produced under mergeDir into
// dir, then removes mergeDir (including the now-released advisory lock
// file the merge store held).
func moveMergeOutput(mergeDir, dir string) error {
	entries, err := os.ReadDir(mergeDir)
	if err != nil {
		return fmt.Errorf("read merge dir: %w", err)
	}

	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".db") && !strings.HasSuffix(name, ".hint") {
			continue
		}
		if err := os.Rename(filepath.Join(mergeDir, name), filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("move %q: %w", name, err)
		}
	}

	if err := os.RemoveAll(mergeDir); err != nil {
		return fmt.Errorf("remove merge dir: %w", err)
	}
	return nil
}
