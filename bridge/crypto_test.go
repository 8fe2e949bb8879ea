package bridge

import (
	"strings"
	"testing"
)

func TestSealOpen(t *testing.T) {
	a, _ := GenerateKeyPair()
	b, _ := GenerateKeyPair()

	sealed, err := Seal(a, ClientID(b), []byte("hello"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	plain, err := Open(b, ClientID(a), sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(plain) != "hello" {
		t.Errorf("got %q", plain)
	}

	sealed[len(sealed)-1] ^= 0xff
	if _, err := Open(b, ClientID(a), sealed); err == nil {
		t.Error("tampered message must not decrypt")
	}
	if _, err := Open(b, ClientID(a), sealed[:10]); err == nil {
		t.Error("short message must not decrypt")
	}
	if _, err := Seal(a, "zz", []byte("x")); err == nil {
		t.Error("invalid peer id must fail")
	}
}

func TestReadFrames(t *testing.T) {
	stream := ": keepalive\n\n" +
		"event: heartbeat\n\n" +
		"id: 3\nevent: message\ndata: {\"a\":\ndata: 1}\n\n" +
		"id: 4\ndata: x"

	var frames []sseFrame
	err := readFrames(strings.NewReader(stream), func(f sseFrame) error {
		frames = append(frames, f)
		return nil
	})
	if err != nil {
		t.Fatalf("readFrames failed: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %+v", len(frames), frames)
	}
	if frames[0].Event != "heartbeat" {
		t.Errorf("unexpected first frame %+v", frames[0])
	}
	if frames[1].ID != "3" || frames[1].Data != "{\"a\":\n1}" {
		t.Errorf("unexpected second frame %+v", frames[1])
	}
	if frames[2].ID != "4" || frames[2].Data != "x" {
		t.Errorf("unexpected trailing frame %+v", frames[2])
	}
}
