package record

import (
	"bytes"
	"testing"

	"github.com/epokhe/bitkv/internal/clock"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := clock.New()
	buf := Encode([]byte("foo"), []byte("bar"), ts)

	h, err := DecodeHeader(buf[:HeaderLen])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h.KeySize != 3 || h.ValueSize != 3 {
		t.Fatalf("got key/value sizes %d/%d, want 3/3", h.KeySize, h.ValueSize)
	}
	if h.Timestamp != ts {
		t.Fatalf("timestamp mismatch: got %x, want %x", h.Timestamp, ts)
	}

	body := buf[HeaderLen:]
	if err := Verify(h, body); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	key := body[:h.KeySize]
	val := body[h.KeySize:]
	if !bytes.Equal(key, []byte("foo")) || !bytes.Equal(val, []byte("bar")) {
		t.Fatalf("got key=%q val=%q", key, val)
	}
}

func TestTombstoneHasZeroValueSize(t *testing.T) {
	buf := Encode([]byte("foo"), nil, clock.New())
	h, err := DecodeHeader(buf[:HeaderLen])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if !h.IsTombstone() {
		t.Fatalf("expected tombstone")
	}
}

func TestVerifyDetectsBitFlip(t *testing.T) {
	ts := clock.New()
	buf := Encode([]byte("foo"), []byte("bar"), ts)

	// flip one bit in the value payload
	buf[len(buf)-1] ^= 0x01

	h, err := DecodeHeader(buf[:HeaderLen])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if err := Verify(h, buf[HeaderLen:]); err == nil {
		t.Fatalf("expected CRC mismatch after bit flip")
	}
}

func TestHintEncodeDecodeRoundTrip(t *testing.T) {
	ts := clock.New()
	buf := EncodeHint([]byte("foo"), 7, 42, ts)

	h, err := DecodeHintHeader(buf[:HintHeaderLen])
	if err != nil {
		t.Fatalf("DecodeHintHeader: %v", err)
	}
	if h.ValueSize != 7 || h.ValuePos != 42 || h.KeySize != 3 {
		t.Fatalf("got %+v", h)
	}
	if h.Timestamp != ts {
		t.Fatalf("timestamp mismatch")
	}
	if !bytes.Equal(buf[HintHeaderLen:], []byte("foo")) {
		t.Fatalf("key mismatch: %q", buf[HintHeaderLen:])
	}
}
