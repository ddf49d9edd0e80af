package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loom-agent/loom/llm"
)

// turnDraft accumulates the assistant side of the active turn. Rounds
// partition text and calls by model round trip so the wire transcript can be
// replayed faithfully; the finalized history message flattens them into one
// assistant message.
type turnDraft struct {
	rounds []turnRound
}

type turnRound struct {
	text  string
	calls []llm.ToolCall
}

func (d *turnDraft) openRound() {
	d.rounds = append(d.rounds, turnRound{})
}

func (d *turnDraft) appendText(delta string) {
	if len(d.rounds) == 0 {
		d.openRound()
	}
	d.rounds[len(d.rounds)-1].text += delta
}

func (d *turnDraft) attachCalls(calls []llm.ToolCall) {
	if len(d.rounds) == 0 {
		d.openRound()
	}
	d.rounds[len(d.rounds)-1].calls = calls
}

// text returns the concatenation of every round's streamed text.
func (d *turnDraft) text() string {
	var sb strings.Builder
	for _, r := range d.rounds {
		sb.WriteString(r.text)
	}
	return sb.String()
}

func (d *turnDraft) allCalls() []llm.ToolCall {
	var calls []llm.ToolCall
	for _, r := range d.rounds {
		for _, c := range r.calls {
			calls = append(calls, c.Clone())
		}
	}
	return calls
}

// message renders the draft as the trailing assistant message, when it has
// accumulated anything yet.
func (d *turnDraft) message() (llm.Message, bool) {
	text := d.text()
	calls := d.allCalls()
	if text == "" && len(calls) == 0 {
		return llm.Message{}, false
	}
	return llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls}, true
}

// runTurn drives one prompt turn: stream rounds from the model, execute
// requested tools between rounds, repeat until the model stops asking for
// tools. The loop imposes no round cap; cancellation is the only bound.
// Always closes ch and restores the session to idle.
func (s *Session) runTurn(ctx context.Context, ch chan Event) {
	started := time.Now()
	outcome := "success"
	s.metrics.TurnStarted()
	defer func() {
		// Turn state resets before ch closes so a caller that drained the
		// channel can prompt again immediately.
		s.mu.Lock()
		s.turnCancel = nil
		s.draft = nil
		if s.state != StateClosed {
			s.state = StateIdle
		}
		s.mu.Unlock()
		s.metrics.TurnFinished(outcome, time.Since(started))
		close(ch)
	}()

	watch := newLoopWatch(s.cfg.LoopWindow)
	loopWarned := false

	for {
		req := s.buildRequest()
		s.openRound()

		events, err := s.client.Stream(ctx, req)
		if err != nil {
			outcome = s.failTurn(ctx, ch, err)
			return
		}

		var (
			roundCalls []llm.ToolCall
			streamErr  error
			finished   bool
			usage      *llm.Usage
		)
		for ev := range events {
			switch ev.Type {
			case llm.TextDelta:
				s.appendDraftText(ev.Delta)
				if !s.emit(ctx, ch, Event{Type: EventTextDelta, Delta: ev.Delta}) {
					outcome = s.cancelTurn()
					return
				}
			case llm.ToolCallEnd:
				if ev.ToolCall != nil {
					roundCalls = append(roundCalls, ev.ToolCall.Clone())
				}
			case llm.StreamFinish:
				finished = true
				if ev.Response != nil {
					usage = &ev.Response.Usage
				} else {
					usage = ev.Usage
				}
			case llm.StreamError:
				streamErr = ev.Err
			}
		}

		if streamErr != nil {
			var abort *llm.AbortError
			if errors.As(streamErr, &abort) || ctx.Err() != nil {
				outcome = s.cancelTurn()
				return
			}
			outcome = s.failTurn(ctx, ch, streamErr)
			return
		}
		if !finished {
			if ctx.Err() != nil {
				outcome = s.cancelTurn()
				return
			}
			outcome = s.failTurn(ctx, ch, &llm.StreamProtocolError{ClientError: llm.ClientError{
				Message: "stream ended without a finish event",
			}})
			return
		}

		s.metrics.RoundCompleted()
		if usage != nil {
			s.metrics.AddUsage(usage.InputTokens, usage.OutputTokens)
		}

		if len(roundCalls) == 0 {
			s.setState(StateFinalizing)
			s.finalizeHistory()
			if !s.emit(ctx, ch, Event{Type: EventTurnEnd}) {
				outcome = "cancelled"
			}
			return
		}

		executed, ok := s.runTools(ctx, ch, roundCalls)
		if !ok {
			outcome = s.cancelTurn()
			return
		}
		s.attachDraftCalls(executed)

		keys := make([]toolCallKey, len(executed))
		for i, c := range executed {
			keys[i] = toolCallKey{name: c.Name, arguments: c.Arguments}
		}
		if watch.observe(keys) && !loopWarned {
			loopWarned = true
			s.logger.Warn("repeating tool-call pattern detected",
				zap.String("session_id", s.id),
				zap.Int("window", s.cfg.LoopWindow))
		}

		if ctx.Err() != nil {
			outcome = s.cancelTurn()
			return
		}
	}
}

// runTools announces, executes, and reports one round's calls. Start events
// preserve the order the server declared; execution is parallel; end events
// carry each call's result in that same declared order. The returned calls
// embed truncated result copies for the model, while events carry the full
// output. ok is false when the turn context ended mid-phase.
func (s *Session) runTools(ctx context.Context, ch chan Event, calls []llm.ToolCall) ([]llm.ToolCall, bool) {
	for i := range calls {
		call := calls[i].Clone()
		if !s.emit(ctx, ch, Event{Type: EventToolCallStart, ToolCall: &call}) {
			return nil, false
		}
	}

	executed := llm.ExecuteCalls(ctx, s.toolMap(), calls)

	truncated := make([]llm.ToolCall, len(executed))
	for i := range executed {
		full := executed[i]
		if full.Result != nil {
			s.metrics.ToolExecuted(full.Name, full.Result.IsError)
		}
		evCall := full.Clone()
		if !s.emit(ctx, ch, Event{Type: EventToolCallEnd, ToolCall: &evCall}) {
			return nil, false
		}
		truncated[i] = truncateResult(full, s.cfg.ToolOutputLimits, s.cfg.ToolLineLimits)
	}
	return truncated, true
}

// emit broadcasts ev to extension listeners, then delivers it to the
// caller. Reports false when the turn context ends before delivery.
func (s *Session) emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	s.broadcaster.emit(ev)

	select {
	case ch <- ev:
		return true
	default:
	}
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// buildRequest renders the durable history plus the draft's completed
// rounds into the provider-neutral request shape. Assistant messages with
// embedded results explode into the assistant turn followed by one
// tool-result turn per call, which is what the wire formats expect.
func (s *Session) buildRequest() llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]llm.Message, 0, len(s.history))
	for _, m := range s.history[1:] {
		msgs = append(msgs, m.Clone())
		if m.Role == llm.RoleAssistant {
			msgs = appendResultTurns(msgs, m.ToolCalls)
		}
	}
	if s.draft != nil {
		for _, r := range s.draft.rounds {
			if len(r.calls) == 0 {
				continue
			}
			msgs = append(msgs, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   r.text,
				ToolCalls: cloneCalls(r.calls),
			})
			msgs = appendResultTurns(msgs, r.calls)
		}
	}

	tools := s.Tools()
	defs := make([]llm.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = t.Definition()
	}

	return llm.Request{
		Provider:    s.cfg.Provider,
		Model:       s.cfg.Model,
		System:      s.history[0].Content,
		Messages:    msgs,
		Tools:       defs,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}
}

func appendResultTurns(msgs []llm.Message, calls []llm.ToolCall) []llm.Message {
	for _, c := range calls {
		if c.Result != nil {
			msgs = append(msgs, llm.ToolResultMessage(c.ID, c.Result.Content, c.Result.IsError))
		}
	}
	return msgs
}

func cloneCalls(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = c.Clone()
	}
	return out
}

func (s *Session) toolMap() map[string]llm.Tool {
	tools := s.Tools()
	m := make(map[string]llm.Tool, len(tools))
	for _, t := range tools {
		m[t.Name] = t
	}
	return m
}

func (s *Session) openRound() {
	s.mu.Lock()
	if s.draft != nil {
		s.draft.openRound()
	}
	s.mu.Unlock()
}

func (s *Session) appendDraftText(delta string) {
	s.mu.Lock()
	if s.draft != nil {
		s.draft.appendText(delta)
	}
	s.mu.Unlock()
}

func (s *Session) attachDraftCalls(calls []llm.ToolCall) {
	s.mu.Lock()
	if s.draft != nil {
		s.draft.attachCalls(calls)
	}
	s.mu.Unlock()
}

// finalizeHistory appends the turn's accumulated assistant message when any
// text streamed; a turn that produced no text appends nothing. Called once
// per turn on every outcome, since partial text is retained across error and
// cancellation as well.
func (s *Session) finalizeHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return
	}
	text := s.draft.text()
	calls := s.draft.allCalls()
	s.draft = nil
	if text == "" {
		return
	}
	s.history = append(s.history, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   text,
		ToolCalls: calls,
	})
}

// cancelTurn finalizes whatever streamed before the abort. No terminal event
// is emitted; the closing channel is the caller's signal.
func (s *Session) cancelTurn() string {
	s.setState(StateCancelling)
	s.finalizeHistory()
	return "cancelled"
}

// failTurn retains already-streamed text as the assistant message and
// surfaces the failure as a terminal error event.
func (s *Session) failTurn(ctx context.Context, ch chan Event, err error) string {
	s.setState(StateErroring)
	s.finalizeHistory()
	s.metrics.StreamFailed(s.cfg.Provider)
	s.logger.Error("turn failed",
		zap.String("session_id", s.id),
		zap.Error(err))
	s.emit(ctx, ch, Event{Type: EventError, Message: err.Error()})
	return "error"
}
