package frames

import "testing"

func TestSeqGenMonotonePerSession(t *testing.T) {
	g := NewSeqGen()
	var prev uint64
	for i := 0; i < 100; i++ {
		n := g.Next("session-a")
		if n <= prev {
			t.Fatalf("sequence not monotone: %d after %d", n, prev)
		}
		prev = n
	}
	if g.Next("session-b") != 1 {
		t.Fatalf("expected independent counter per session")
	}
}

func TestAudioFramePooledRelease(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	f := NewAudioFrameFromPool("session-a", 1, data, 16000, 1, nil)
	if string(f.RawPayload()) != string(data) {
		t.Fatalf("pooled frame payload mismatch")
	}
	if !ReleaseAudioFrame(f) {
		t.Fatalf("expected pooled frame to release")
	}
	plain := NewAudioFrame("session-a", 2, data, 16000, 1, nil)
	if ReleaseAudioFrame(plain) {
		t.Fatalf("expected non-pooled frame to be a no-op release")
	}
}

func TestMetaMergeAndClone(t *testing.T) {
	f := NewTextFrame("session-a", 3, "hello", map[string]string{MetaIsFinal: "true"})
	m := f.Meta()
	if m[MetaSessionID] != "session-a" || m[MetaIsFinal] != "true" {
		t.Fatalf("unexpected meta: %v", m)
	}
	m[MetaIsFinal] = "false"
	if f.Meta()[MetaIsFinal] != "true" {
		t.Fatalf("meta clone leaked a mutation")
	}
}
