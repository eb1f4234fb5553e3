// Package record encodes and decodes the on-disk record and hint-entry
// formats. All multi-byte integers are big-endian; the record checksum is
// CRC32 (IEEE/zlib polynomial, initial value 0, final xor 0).
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/epokhe/bitkv/internal/clock"
)

// HeaderLen is the fixed-size prefix of every on-disk record:
// crc32(4) || timestamp(16) || key_sz(4) || value_sz(4).
const HeaderLen = 4 + 16 + 4 + 4

// HintHeaderLen is the fixed-size prefix of every hint entry:
// timestamp(16) || key_sz(4) || value_sz(4) || value_pos(4).
const HintHeaderLen = 16 + 4 + 4 + 4

// ErrTorn names the torn-tail condition: a record or hint entry that could
// not be fully decoded because the file ends mid-record. The decoders in
// this package do not return it; the recovery scanner detects a torn tail
// from a short read (io.EOF / io.ErrUnexpectedEOF) and stops scanning there.
var ErrTorn = errors.New("record: torn tail")

// ErrCRC marks a record whose stored checksum does not match its bytes.
var ErrCRC = errors.New("record: checksum mismatch")

// Header is the decoded fixed-size prefix of a data record.
type Header struct {
	Timestamp  clock.Timestamp
	KeySize    uint32
	ValueSize  uint32
	ClaimedCRC uint32
}

// Encode builds a complete on-disk record for key/value at ts. A
// zero-length value produces a valid tombstone record.
func Encode(key, value []byte, ts clock.Timestamp) []byte {
	total := HeaderLen + len(key) + len(value)
	buf := make([]byte, total)

	copy(buf[4:20], ts[:])
	binary.BigEndian.PutUint32(buf[20:24], uint32(len(key)))
	binary.BigEndian.PutUint32(buf[24:28], uint32(len(value)))
	copy(buf[HeaderLen:], key)
	copy(buf[HeaderLen+len(key):], value)

	crc := crc32.ChecksumIEEE(buf[4:])
	binary.BigEndian.PutUint32(buf[0:4], crc)

	return buf
}

// DecodeHeader parses the fixed HeaderLen-byte prefix of a record. It does
// not verify the checksum; callers read KeySize+ValueSize more bytes and
// call Verify.
func DecodeHeader(hdr []byte) (Header, error) {
	if len(hdr) != HeaderLen {
		return Header{}, fmt.Errorf("record: header must be %d bytes, got %d", HeaderLen, len(hdr))
	}

	var h Header
	h.ClaimedCRC = binary.BigEndian.Uint32(hdr[0:4])
	copy(h.Timestamp[:], hdr[4:20])
	h.KeySize = binary.BigEndian.Uint32(hdr[20:24])
	h.ValueSize = binary.BigEndian.Uint32(hdr[24:28])
	return h, nil
}

// headerTail re-serializes h's fixed-size prefix, excluding the checksum
// field, for CRC verification or re-computation.
func headerTail(h Header) []byte {
	buf := make([]byte, HeaderLen-4)
	copy(buf[0:16], h.Timestamp[:])
	binary.BigEndian.PutUint32(buf[16:20], h.KeySize)
	binary.BigEndian.PutUint32(buf[20:24], h.ValueSize)
	return buf
}

// Verify recomputes the CRC over header-minus-checksum || key || value and
// compares it against h.ClaimedCRC. body must be exactly the bytes
// following the header (key || value).
func Verify(h Header, body []byte) error {
	buf := append(headerTail(h), body...)
	if computed := crc32.ChecksumIEEE(buf); computed != h.ClaimedCRC {
		return fmt.Errorf("%w: expected %x, got %x", ErrCRC, h.ClaimedCRC, computed)
	}
	return nil
}

// IsTombstone reports whether a header describes a tombstone record.
func (h Header) IsTombstone() bool {
	return h.ValueSize == 0
}

// Hint is the decoded form of one hint-file entry.
type Hint struct {
	Timestamp clock.Timestamp
	KeySize   uint32
	ValueSize uint32
	ValuePos  uint32
	Key       []byte
}

// EncodeHint builds one hint entry. value_pos is the absolute byte offset
// of the value within the paired data segment.
func EncodeHint(key []byte, valueSize uint32, valuePos uint32, ts clock.Timestamp) []byte {
	buf := make([]byte, HintHeaderLen+len(key))
	copy(buf[0:16], ts[:])
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(key)))
	binary.BigEndian.PutUint32(buf[20:24], valueSize)
	binary.BigEndian.PutUint32(buf[24:28], valuePos)
	copy(buf[HintHeaderLen:], key)
	return buf
}

// DecodeHintHeader parses the fixed HintHeaderLen-byte prefix of a hint
// entry. The caller then reads KeySize more bytes for the key.
func DecodeHintHeader(hdr []byte) (Hint, error) {
	if len(hdr) != HintHeaderLen {
		return Hint{}, fmt.Errorf("record: hint header must be %d bytes, got %d", HintHeaderLen, len(hdr))
	}

	var h Hint
	copy(h.Timestamp[:], hdr[0:16])
	h.KeySize = binary.BigEndian.Uint32(hdr[16:20])
	h.ValueSize = binary.BigEndian.Uint32(hdr[20:24])
	h.ValuePos = binary.BigEndian.Uint32(hdr[24:28])
	return h, nil
}
