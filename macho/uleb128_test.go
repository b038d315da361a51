package macho

import (
	"bytes"
	"testing"
)

func TestUleb128RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 2, 127, 128, 300, 1 << 20, 1<<63 - 1, 1 << 63, ^uint64(0)}
	for _, v := range values {
		buf := PutUleb128(nil, v)
		buf = append(buf, 0) // trailing zero byte, per the round-trip property
		r := bytes.NewReader(buf)
		got, err := ReadUleb128Strict(r)
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip mismatch: put %d, got %d", v, got)
		}
		tail, err := r.ReadByte()
		if err != nil {
			t.Fatalf("expected trailing zero byte to remain readable: %v", err)
		}
		if tail != 0 {
			t.Fatalf("expected trailing byte 0, got %d", tail)
		}
		if r.Len() != 0 {
			t.Fatalf("expected empty tail after consuming trailing byte, got %d bytes left", r.Len())
		}
	}
}

func TestUleb128RejectsOverlongEncoding(t *testing.T) {
	// 9 bytes of 0xff followed by a final byte whose payload is not in
	// {0,1} at shift 63: not representable, must fail.
	buf := bytes.Repeat([]byte{0xff}, 9)
	buf = append(buf, 0x02) // payload 2 at shift 63
	_, err := ReadUleb128Strict(bytes.NewReader(buf))
	if err == nil {
		t.Fatal("expected overlong encoding to be rejected")
	}
}

func TestUleb128AcceptsMaxShiftZeroOrOne(t *testing.T) {
	buf := bytes.Repeat([]byte{0xff}, 9)
	buf = append(buf, 0x01)
	if _, err := ReadUleb128Strict(bytes.NewReader(buf)); err != nil {
		t.Fatalf("payload 1 at shift 63 should be accepted: %v", err)
	}
}
