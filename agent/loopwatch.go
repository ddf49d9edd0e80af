package agent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// loopWatch tracks recent tool-call signatures and detects short repeating
// patterns. Detection only produces a log warning; the event stream carries
// no loop events and the turn is never interrupted.
type loopWatch struct {
	window int
	sigs   []string
}

func newLoopWatch(window int) *loopWatch {
	return &loopWatch{window: window}
}

// callSignature is deterministic per (name, arguments) pair.
func callSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// observe records a round's calls and reports whether the last window
// signatures now form a repeating pattern of length 1, 2, or 3.
func (w *loopWatch) observe(calls []toolCallKey) bool {
	if w == nil || w.window <= 0 {
		return false
	}
	for _, c := range calls {
		w.sigs = append(w.sigs, callSignature(c.name, c.arguments))
	}
	if over := len(w.sigs) - w.window; over > 0 {
		w.sigs = w.sigs[over:]
	}
	return detectRepeat(w.sigs, w.window)
}

// toolCallKey is the signature-relevant part of a tool call.
type toolCallKey struct {
	name      string
	arguments json.RawMessage
}

// detectRepeat reports whether sigs fills the window with a repeating
// pattern of length 1, 2, or 3.
func detectRepeat(sigs []string, window int) bool {
	if len(sigs) < window {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if window%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < window && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}

	return false
}
