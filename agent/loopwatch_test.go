package agent

import (
	"encoding/json"
	"fmt"
	"testing"
)

func key(name, args string) toolCallKey {
	return toolCallKey{name: name, arguments: json.RawMessage(args)}
}

func TestLoopWatchDetectsSingleCallRepetition(t *testing.T) {
	w := newLoopWatch(4)

	for i := 0; i < 3; i++ {
		if w.observe([]toolCallKey{key("read", `{"path":"/a"}`)}) {
			t.Fatalf("detected before the window filled (observation %d)", i+1)
		}
	}
	if !w.observe([]toolCallKey{key("read", `{"path":"/a"}`)}) {
		t.Fatal("identical calls filling the window should be detected")
	}
}

func TestLoopWatchDetectsAlternatingPair(t *testing.T) {
	w := newLoopWatch(4)

	w.observe([]toolCallKey{key("read", `{"path":"/a"}`), key("write", `{"path":"/b"}`)})
	if !w.observe([]toolCallKey{key("read", `{"path":"/a"}`), key("write", `{"path":"/b"}`)}) {
		t.Fatal("alternating pairs filling the window should be detected")
	}
}

func TestLoopWatchIgnoresVariedCalls(t *testing.T) {
	w := newLoopWatch(4)

	for i := 0; i < 8; i++ {
		args := fmt.Sprintf(`{"path":"/file-%d"}`, i)
		if w.observe([]toolCallKey{key("read", args)}) {
			t.Fatalf("varied arguments should not trip detection (observation %d)", i+1)
		}
	}
}

func TestLoopWatchSlidesItsWindow(t *testing.T) {
	w := newLoopWatch(4)

	// Four varied calls, then four identical ones. Only the recent window
	// counts.
	for i := 0; i < 4; i++ {
		w.observe([]toolCallKey{key("read", fmt.Sprintf(`{"n":%d}`, i))})
	}
	for i := 0; i < 3; i++ {
		if w.observe([]toolCallKey{key("list", `{}`)}) {
			t.Fatalf("detected too early (observation %d)", i+1)
		}
	}
	if !w.observe([]toolCallKey{key("list", `{}`)}) {
		t.Fatal("window should have slid onto the repeated calls")
	}
}

func TestLoopWatchDisabled(t *testing.T) {
	w := newLoopWatch(0)
	for i := 0; i < 20; i++ {
		if w.observe([]toolCallKey{key("read", `{}`)}) {
			t.Fatal("zero window disables detection")
		}
	}

	var nilWatch *loopWatch
	if nilWatch.observe([]toolCallKey{key("read", `{}`)}) {
		t.Fatal("nil watch should be inert")
	}
}

func TestCallSignatureDistinguishesArguments(t *testing.T) {
	a := callSignature("read", json.RawMessage(`{"path":"/a"}`))
	b := callSignature("read", json.RawMessage(`{"path":"/b"}`))
	if a == b {
		t.Fatal("different arguments must produce different signatures")
	}
	if a != callSignature("read", json.RawMessage(`{"path":"/a"}`)) {
		t.Fatal("signatures must be deterministic")
	}
}
