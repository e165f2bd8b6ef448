package page

import "testing"

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	p := New(7, KindData)
	copy(p.Payload[:], []byte("hello world"))
	p.LSN = 42

	buf := p.Marshal()
	if len(buf) != Size {
		t.Fatalf("marshal produced %d bytes, want %d", len(buf), Size)
	}

	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != 7 || got.LSN != 42 || got.Kind != KindData {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if string(got.Payload[:11]) != "hello world" {
		t.Fatalf("payload mismatch: %q", got.Payload[:11])
	}
}

func TestUnmarshalDetectsCorruption(t *testing.T) {
	p := New(1, KindData)
	copy(p.Payload[:], []byte("intact"))
	buf := p.Marshal()

	// Flip a payload byte without recomputing the checksum.
	buf[HeaderSize] ^= 0xFF

	if _, err := Unmarshal(buf); err == nil {
		t.Fatal("expected corruption error, got nil")
	}
	if VerifyChecksum(buf) {
		t.Fatal("VerifyChecksum should report false for corrupted payload")
	}
}

func TestUnmarshalRejectsWrongSize(t *testing.T) {
	if _, err := Unmarshal(make([]byte, Size-1)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}
