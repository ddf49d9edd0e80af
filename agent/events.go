package agent

import (
	"sync"

	"go.uber.org/zap"

	"github.com/loom-agent/loom/llm"
)

// EventType discriminates the events a turn produces. The set is closed:
// presentation layers switch exhaustively over it.
type EventType string

const (
	// EventTextDelta carries an incremental fragment of assistant text.
	EventTextDelta EventType = "text_delta"
	// EventToolCallStart announces a tool invocation before it executes.
	EventToolCallStart EventType = "tool_call_start"
	// EventToolCallEnd delivers the call with its attached result.
	EventToolCallEnd EventType = "tool_call_end"
	// EventTurnEnd marks successful completion of the turn.
	EventTurnEnd EventType = "turn_end"
	// EventError reports a transport or session failure; terminal. A
	// cancelled turn closes its channel without any terminal event.
	EventError EventType = "error"
)

// Event is one entry in a turn's event sequence. Events are transient; they
// are streamed, never stored. ToolCall is populated for the two tool event
// types and carries the full, untruncated result on EventToolCallEnd.
type Event struct {
	Type     EventType     `json:"type"`
	Delta    string        `json:"delta,omitempty"`
	ToolCall *llm.ToolCall `json:"tool_call,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// Listener receives every event of every turn on the session. Delivery is
// synchronous and ordered; long work in a listener delays the turn.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// broadcaster fans events out to subscribed listeners in subscription order.
// A panicking listener is logged and skipped; delivery continues.
type broadcaster struct {
	mu        sync.Mutex
	nextID    int
	listeners []listenerEntry
	logger    *zap.Logger
}

func newBroadcaster(logger *zap.Logger) *broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &broadcaster{logger: logger}
}

// subscribe adds a listener and returns its unsubscribe function. The
// returned function is idempotent.
func (b *broadcaster) subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners = append(b.listeners, listenerEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, entry := range b.listeners {
			if entry.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// emit delivers ev to every listener subscribed at call time. Listeners run
// outside the broadcaster lock so they may subscribe or unsubscribe freely.
func (b *broadcaster) emit(ev Event) {
	b.mu.Lock()
	snapshot := make([]listenerEntry, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, entry := range snapshot {
		b.deliver(entry, ev)
	}
}

func (b *broadcaster) deliver(entry listenerEntry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event listener panicked",
				zap.Int("listener_id", entry.id),
				zap.String("event_type", string(ev.Type)),
				zap.Any("panic", r))
		}
	}()
	entry.fn(ev)
}

func (b *broadcaster) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
