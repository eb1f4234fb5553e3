package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/epokhe/bitkv/internal/clock"
	"github.com/epokhe/bitkv/internal/record"
)

func writeSegment(t *testing.T, dir, stem string, kvs [][2]string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, stem+".db"))
	if err != nil {
		t.Fatalf("create segment: %v", err)
	}
	defer f.Close()

	for _, kv := range kvs {
		buf := record.Encode([]byte(kv[0]), []byte(kv[1]), clock.New())
		if _, err := f.Write(buf); err != nil {
			t.Fatalf("write record: %v", err)
		}
	}
}

func TestScanRecoversLatestValuePerKey(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, "0001", [][2]string{{"a", "1"}})
	writeSegment(t, dir, "0002", [][2]string{{"a", "2"}, {"b", "3"}})

	res, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if res.Keydir.Len() != 2 {
		t.Fatalf("got %d keys, want 2", res.Keydir.Len())
	}
	e, ok := res.Keydir.Lookup("a")
	if !ok {
		t.Fatalf("expected key a")
	}
	if e.ValueSize != 1 {
		t.Fatalf("expected newest value size 1, got %d", e.ValueSize)
	}
}

func TestScanDropsTombstonedKeys(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "0001.db"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.Write(record.Encode([]byte("a"), []byte("1"), clock.New()))
	f.Write(record.Encode([]byte("a"), nil, clock.New()))
	f.Close()

	res, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if _, ok := res.Keydir.Lookup("a"); ok {
		t.Fatalf("expected tombstoned key to be absent")
	}
}

func TestScanStopsAtTornTail(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "0001.db"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.Write(record.Encode([]byte("a"), []byte("1"), clock.New()))
	// torn tail: a truncated second record's header only
	f.Write([]byte{0, 1, 2, 3})
	f.Close()

	res, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if _, ok := res.Keydir.Lookup("a"); !ok {
		t.Fatalf("expected key a to survive recovery")
	}
}

func TestScanStopsAtBitFlip(t *testing.T) {
	dir := t.TempDir()
	buf1 := record.Encode([]byte("a"), []byte("1"), clock.New())
	buf2 := record.Encode([]byte("b"), []byte("2"), clock.New())
	buf2[len(buf2)-1] ^= 0x01 // corrupt the tail record

	f, err := os.Create(filepath.Join(dir, "0001.db"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.Write(buf1)
	f.Write(buf2)
	f.Close()

	res, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if _, ok := res.Keydir.Lookup("a"); !ok {
		t.Fatalf("expected key a to survive recovery")
	}
	if _, ok := res.Keydir.Lookup("b"); ok {
		t.Fatalf("expected corrupted key b to be dropped")
	}
}

func TestScanPrefersHintFileOverData(t *testing.T) {
	dir := t.TempDir()

	// data file says "a" -> "stale", but the hint claims a different
	// (smaller) value size at a different offset, proving the hint was
	// consulted instead of the data file being rescanned.
	buf := record.Encode([]byte("a"), []byte("stale-value"), clock.New())
	if err := os.WriteFile(filepath.Join(dir, "0001.db"), buf, 0o644); err != nil {
		t.Fatalf("write data: %v", err)
	}

	ts := clock.New()
	hint := record.EncodeHint([]byte("a"), 2, 0, ts)
	if err := os.WriteFile(filepath.Join(dir, "0001.hint"), hint, 0o644); err != nil {
		t.Fatalf("write hint: %v", err)
	}

	res, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	e, ok := res.Keydir.Lookup("a")
	if !ok {
		t.Fatalf("expected key a")
	}
	if e.ValueSize != 2 {
		t.Fatalf("expected hint-derived value size 2, got %d", e.ValueSize)
	}
}
