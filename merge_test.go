package bitkv_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/epokhe/bitkv"
)

func TestMergeFidelity(t *testing.T) {
	dir := t.TempDir()
	s := bitkv.New(bitkv.WithThreshold(256))
	if err := s.Open(dir); err != nil {
		t.Fatalf("Open: %v", err)
	}

	const n = 120
	for i := range n {
		mustPut(t, s, fmt.Sprintf("k%03d", i), fmt.Sprintf("value-%03d", i))
	}
	for i := 0; i < n; i += 2 {
		if err := s.Delete([]byte(fmt.Sprintf("k%03d", i))); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	}

	before := countDBFiles(t, dir)

	rewritten, err := s.Merge()
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if rewritten == 0 {
		t.Fatalf("Merge rewrote 0 records, expected some non-active survivors")
	}

	after := countDBFiles(t, dir)
	if after > before {
		t.Fatalf(".db file count increased after merge: before=%d after=%d", before, after)
	}

	for i := 1; i < n; i += 2 {
		key := fmt.Sprintf("k%03d", i)
		v, err := s.Get([]byte(key))
		if err != nil || string(v) != fmt.Sprintf("value-%03d", i) {
			t.Fatalf("Get(%s) after merge = %q, %v, want value-%03d, nil", key, v, err, i)
		}
	}
	for i := 0; i < n; i += 2 {
		key := fmt.Sprintf("k%03d", i)
		if _, err := s.Get([]byte(key)); !errors.Is(err, bitkv.ErrNotFound) {
			t.Fatalf("Get(%s) after merge = %v, want ErrNotFound", key, err)
		}
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2 := bitkv.New()
	if err := s2.Open(dir); err != nil {
		t.Fatalf("reopen after merge: %v", err)
	}
	defer s2.Close()

	if got := len(s2.ListKeys()); got != n/2 {
		t.Fatalf("ListKeys after merge+reopen = %d keys, want %d", got, n/2)
	}
	for i := 1; i < n; i += 2 {
		key := fmt.Sprintf("k%03d", i)
		v, err := s2.Get([]byte(key))
		if err != nil || string(v) != fmt.Sprintf("value-%03d", i) {
			t.Fatalf("Get(%s) after merge+reopen = %q, %v, want value-%03d, nil", key, v, err, i)
		}
	}
}

func TestMergeLeavesActiveSegmentWritable(t *testing.T) {
	s, _ := openTemp(t, bitkv.WithThreshold(256))
	mustPut(t, s, "a", "1")

	if _, err := s.Merge(); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if err := s.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put after merge: %v", err)
	}
	v, err := s.Get([]byte("b"))
	if err != nil || string(v) != "2" {
		t.Fatalf("Get(b) after merge = %q, %v, want 2, nil", v, err)
	}
}

func countDBFiles(t *testing.T, dir string) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.db"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return len(matches)
}
