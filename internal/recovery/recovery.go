// Package recovery reconstructs a store's keydir at Open time, preferring
// a segment's paired hint file when present and falling back to scanning
// the data file, resolving duplicate keys across segments by keeping the
// candidate with the largest timestamp.
package recovery

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/epokhe/bitkv/internal/clock"
	"github.com/epokhe/bitkv/internal/keydir"
	"github.com/epokhe/bitkv/internal/record"
	"github.com/epokhe/bitkv/internal/segment"
)

// candidate is one key's winning state from a single segment, before
// cross-segment last-writer-wins resolution.
type candidate struct {
	stem      string
	timestamp clock.Timestamp
	valueSize uint32
	valuePos  int64
	tombstone bool
}

// Result is the outcome of a directory recovery scan.
type Result struct {
	// Segments holds every discovered .db file, opened read-only, in
	// stem-ascending (creation) order.
	Segments []*segment.Segment
	Keydir   *keydir.Keydir
}

// Scan recovers dir: enumerates segment files, prefers hint files over
// scanning data files, and resolves cross-segment duplicates by
// last-writer-wins on the record timestamp.
func Scan(dir string) (*Result, error) {
	stems, err := listStems(dir)
	if err != nil {
		return nil, err
	}

	winners := make(map[string]candidate)

	for _, stem := range stems {
		cands, err := candidatesForStem(dir, stem)
		if err != nil {
			return nil, err
		}

		for key, c := range cands {
			cur, ok := winners[key]
			if !ok || !c.timestamp.Less(cur.timestamp) {
				// newer, or a deterministic tie-break favoring the
				// lexicographically later stem (stems are processed in
				// ascending order, so the later one overwrites on ties).
				winners[key] = c
			}
		}
	}

	segments := make([]*segment.Segment, 0, len(stems))
	opened := make(map[string]*segment.Segment, len(stems))
	for _, stem := range stems {
		seg, err := segment.OpenReadOnly(dir, stem)
		if err != nil {
			return nil, fmt.Errorf("recovery: open segment %q: %w", stem, err)
		}
		segments = append(segments, seg)
		opened[stem] = seg
	}

	kd := keydir.New()
	// populate in a stable order so list/fold order is reproducible
	// across recoveries of the same directory.
	keys := make([]string, 0, len(winners))
	for k := range winners {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		c := winners[key]
		if c.tombstone {
			continue
		}
		seg := opened[c.stem]
		kd.Insert(key, keydir.Entry{
			SegmentID: seg.ID(),
			ValueSize: c.valueSize,
			ValuePos:  c.valuePos,
			Timestamp: c.timestamp,
		})
	}

	checkOrphans(dir, stems)

	return &Result{Segments: segments, Keydir: kd}, nil
}

// checkOrphans warns (does not fail) when the directory holds files that
// don't belong to the recognized .db/.hint pattern for any known stem —
// this only ever happens after a crash mid-merge.
func checkOrphans(dir string, stems []string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	known := mapset.NewSet[string]()
	for _, stem := range stems {
		known.Add(stem + ".db")
		known.Add(stem + ".hint")
	}

	actual := mapset.NewSet[string]()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		actual.Add(e.Name())
	}

	if orphans := actual.Difference(known); orphans.Cardinality() > 0 {
		var names []string
		orphans.Each(func(n string) bool {
			if n == ".bitkv.lock" {
				return true
			}
			names = append(names, n)
			return true
		})
		if len(names) > 0 {
			fmt.Fprintf(os.Stderr, "bitkv: warning: unrecognized files in %s: %v\n", dir, names)
		}
	}
}

// listStems returns the stems of every <stem>.db file in dir, sorted
// ascending (which is also creation order, since stems are timestamps).
// Files outside the <stem>.db / <stem>.hint pattern are ignored.
func listStems(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("recovery: read dir %q: %w", dir, err)
	}

	var stems []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".db") {
			continue
		}
		stems = append(stems, strings.TrimSuffix(name, ".db"))
	}

	sort.Strings(stems)
	return stems, nil
}

// candidatesForStem returns the per-key winning candidate found within a
// single segment (hint file if present, else the scanned data file).
func candidatesForStem(dir, stem string) (map[string]candidate, error) {
	hintPath := filepath.Join(dir, stem+".hint")
	if info, err := os.Stat(hintPath); err == nil && info.Size() >= record.HintHeaderLen {
		return candidatesFromHint(hintPath, stem)
	}

	return candidatesFromData(dir, stem)
}

func candidatesFromHint(path, stem string) (map[string]candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recovery: open hint %q: %w", path, err)
	}
	defer f.Close()

	out := make(map[string]candidate)
	r := bufio.NewReader(f)

	for {
		var hdr [record.HintHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if isEOF(err) {
				break
			}
			return nil, fmt.Errorf("recovery: read hint header in %q: %w", path, err)
		}

		h, err := record.DecodeHintHeader(hdr[:])
		if err != nil {
			return nil, fmt.Errorf("recovery: decode hint header in %q: %w", path, err)
		}

		key := make([]byte, h.KeySize)
		if _, err := io.ReadFull(r, key); err != nil {
			if isEOF(err) {
				break
			}
			return nil, fmt.Errorf("recovery: read hint key in %q: %w", path, err)
		}

		out[string(key)] = candidate{
			stem:      stem,
			timestamp: h.Timestamp,
			valueSize: h.ValueSize,
			valuePos:  int64(h.ValuePos),
			tombstone: h.ValueSize == 0,
		}
	}

	return out, nil
}

func candidatesFromData(dir, stem string) (map[string]candidate, error) {
	path := filepath.Join(dir, stem+".db")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recovery: open segment %q: %w", path, err)
	}
	defer f.Close()

	out := make(map[string]candidate)
	r := bufio.NewReader(f)
	var offset int64

	for {
		var hdr [record.HeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if isEOF(err) {
				break
			}
			return nil, fmt.Errorf("recovery: read header in %q: %w", path, err)
		}

		h, err := record.DecodeHeader(hdr[:])
		if err != nil {
			return nil, fmt.Errorf("recovery: decode header in %q: %w", path, err)
		}

		body := make([]byte, int(h.KeySize)+int(h.ValueSize))
		if _, err := io.ReadFull(r, body); err != nil {
			// a torn tail (short read at EOF) silently ends the scan;
			// recovery never errors out of CorruptRecord.
			if isEOF(err) {
				break
			}
			return nil, fmt.Errorf("recovery: read body in %q: %w", path, err)
		}

		recordLen := int64(record.HeaderLen) + int64(len(body))

		if err := record.Verify(h, body); err != nil {
			if !errors.Is(err, record.ErrCRC) {
				return nil, err
			}
			// a mid-file checksum mismatch means the record was
			// persisted and acknowledged, so it is a real corruption,
			// not a torn tail; recovery stops decoding the file at
			// that point rather than propagating the error.
			break
		}

		key := body[:h.KeySize]
		out[string(key)] = candidate{
			stem:      stem,
			timestamp: h.Timestamp,
			valueSize: h.ValueSize,
			valuePos:  offset + int64(record.HeaderLen) + int64(h.KeySize),
			tombstone: h.IsTombstone(),
		}

		offset += recordLen
	}

	return out, nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
