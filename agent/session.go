package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loom-agent/loom/agentfs"
	"github.com/loom-agent/loom/llm"
	"github.com/loom-agent/loom/observability"
	"github.com/loom-agent/loom/skills"
	"github.com/loom-agent/loom/templates"
)

// Session errors.
var (
	// ErrTurnActive is returned by Prompt while another turn is in flight.
	// Reentrant prompting is rejected rather than interleaving histories.
	ErrTurnActive = errors.New("a turn is already in flight on this session")
	// ErrSessionClosed is returned by Prompt after Close.
	ErrSessionClosed = errors.New("session is closed")
)

// State names the session's position in the turn lifecycle. Only one turn
// may occupy the non-idle states at a time.
type State string

const (
	StateIdle       State = "idle"
	StateExpanding  State = "expanding"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
	StateErroring   State = "erroring"
	StateCancelling State = "cancelling"
	StateClosed     State = "closed"
)

const (
	defaultLoopWindow    = 10
	defaultSubagentDepth = 1
	eventBuffer          = 64
)

// CredentialStore persists the provider API key between runs. The session
// reads it at construction when Config.APIKey is empty; submission flows
// write through SetCredential. Implementations are injected, never reached
// through ambient process state.
type CredentialStore interface {
	Credential() (string, error)
	SetCredential(key string) error
}

// Config seeds a session. Zero values fall back to defaults; credentials are
// the only genuinely required field, and those may come through an injected
// Client instead.
type Config struct {
	// APIKey authenticates against the provider endpoint. Ignored when
	// Client is set.
	APIKey string
	// BaseURL overrides the default provider endpoint. Ignored when Client
	// is set.
	BaseURL string
	// Provider selects the adapter; defaults to "anthropic".
	Provider string
	// Model overrides llm.DefaultModel for every round.
	Model string
	// SystemPrompt replaces the built-in base prompt. The skill listing is
	// appended to either.
	SystemPrompt string

	// Extensions load asynchronously after construction, in order.
	Extensions []Extension
	// Skills and Templates seed the respective registries.
	Skills    []skills.Skill
	Templates []templates.Template

	// History seeds the conversation with previously persisted turns, as
	// returned by GetMessages. Entries are cloned; system messages among
	// them are dropped in favor of the freshly composed prompt.
	History []llm.Message

	MaxTokens   int
	Temperature *float64

	// ToolOutputLimits and ToolLineLimits override the per-tool truncation
	// applied to result copies fed back to the model. Events always carry
	// the full output.
	ToolOutputLimits map[string]int
	ToolLineLimits   map[string]int

	// LoopWindow sizes the repeated tool-call warning window. 0 means the
	// default of 10; negative disables the warning.
	LoopWindow int

	// MaxSubagentDepth limits spawn_agent nesting. 0 means the default of
	// 1; negative removes the tool.
	MaxSubagentDepth int

	// Store supplies a persisted API key when APIKey is empty. Ignored
	// when Client is set; nil disables the lookup.
	Store CredentialStore

	Logger  *zap.Logger
	Client  *llm.Client
	Metrics *observability.Metrics
}

// Session is the single entry point presentation layers drive. It owns the
// conversation history, the workspace filesystem, and the tool, skill, and
// template registries, and runs at most one turn at a time. All methods are
// safe for concurrent use.
type Session struct {
	id          string
	cfg         Config
	depth       int
	logger      *zap.Logger
	metrics     *observability.Metrics
	client      *llm.Client
	ownsClient  bool
	fs          *agentfs.FS
	tools       *ToolRegistry
	skills      *skills.Registry
	templates   *templates.Registry
	broadcaster *broadcaster

	mu           sync.Mutex
	state        State
	history      []llm.Message
	draft        *turnDraft
	inputHandler InputHandler
	turnCancel   context.CancelFunc

	readyCh chan struct{}
	loadMu  sync.Mutex
	loadErr error
}

// New builds a session and begins loading its extensions in the background.
// Construction never blocks on extension setup; await Ready to observe load
// completion and any setup failures.
func New(cfg Config) *Session {
	return newSession(cfg, 0, nil, nil)
}

func newSession(cfg Config, depth int, client *llm.Client, fs *agentfs.FS) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Provider == "" {
		cfg.Provider = "anthropic"
	}
	if cfg.Model == "" {
		cfg.Model = llm.DefaultModel
	}
	if cfg.LoopWindow == 0 {
		cfg.LoopWindow = defaultLoopWindow
	}
	if cfg.MaxSubagentDepth == 0 {
		cfg.MaxSubagentDepth = defaultSubagentDepth
	}
	if fs == nil {
		fs = agentfs.New()
	}

	s := &Session{
		id:          uuid.NewString(),
		cfg:         cfg,
		depth:       depth,
		logger:      logger,
		metrics:     cfg.Metrics,
		client:      client,
		fs:          fs,
		tools:       NewToolRegistry(logger),
		skills:      skills.NewRegistry(logger),
		templates:   templates.NewRegistry(logger),
		broadcaster: newBroadcaster(logger),
		state:       StateIdle,
		readyCh:     make(chan struct{}),
	}

	if s.client == nil {
		s.client = cfg.Client
	}
	if s.client == nil {
		apiKey := cfg.APIKey
		if apiKey == "" && cfg.Store != nil {
			if key, err := cfg.Store.Credential(); err == nil {
				apiKey = key
			} else {
				logger.Debug("no stored credential", zap.Error(err))
			}
		}
		s.client = llm.NewDefaultClient(apiKey, cfg.BaseURL,
			llm.WithLogger(logger),
			llm.WithDefaultProvider(cfg.Provider))
		s.ownsClient = true
	}

	s.skills.RegisterAll(cfg.Skills)
	s.templates.RegisterAll(cfg.Templates)
	s.history = []llm.Message{llm.SystemMessage(composeSystemPrompt(cfg.SystemPrompt, s.skills))}
	for _, m := range cfg.History {
		if m.Role == llm.RoleSystem {
			continue
		}
		s.history = append(s.history, m.Clone())
	}

	for _, tool := range BuiltinTools(s.fs) {
		s.tools.Register(tool)
	}
	if s.depth < s.cfg.MaxSubagentDepth {
		s.tools.Register(s.spawnAgentTool())
	}

	go s.loadExtensions(cfg.Extensions)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FS returns the session's workspace filesystem. Subagents spawned by this
// session share it.
func (s *Session) FS() *agentfs.FS { return s.fs }

// Skills returns the skill registry.
func (s *Session) Skills() *skills.Registry { return s.skills }

// Templates returns the template registry.
func (s *Session) Templates() *templates.Registry { return s.templates }

// Ready blocks until extension loading completes, then returns the joined
// setup failures, if any. Idempotent and safe to call from any goroutine.
func (s *Session) Ready(ctx context.Context) error {
	select {
	case <-s.readyCh:
		s.loadMu.Lock()
		defer s.loadMu.Unlock()
		return s.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tools returns the model-visible tool list: built-ins, extension-registered
// tools, and the skill reader when any skills are registered. Recomputed on
// every call since extensions may register tools after construction.
func (s *Session) Tools() []llm.Tool {
	tools := s.tools.All()
	if s.skills.Len() > 0 && !s.tools.Has("read_skill") {
		tools = append(tools, s.skills.ReadSkillTool())
	}
	return tools
}

// Prompt runs one turn. When text matches a registered slash template it is
// replaced by the expanded body first. The returned channel carries the
// turn's events and closes when the turn finishes: a successful turn ends
// with EventTurnEnd, a failed one with EventError, and a cancelled one
// closes without a terminal event. Only one turn may be in flight at a time;
// a reentrant call fails with ErrTurnActive.
func (s *Session) Prompt(ctx context.Context, text string) (<-chan Event, error) {
	if err := s.Ready(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("prompting with degraded extension load", zap.Error(err))
	}

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil, ErrSessionClosed
	case StateIdle:
	default:
		s.mu.Unlock()
		return nil, ErrTurnActive
	}

	s.state = StateExpanding
	if expanded, ok := s.templates.Expand(text); ok {
		text = expanded
	}
	s.history = append(s.history, llm.UserMessage(text))
	s.draft = &turnDraft{}

	turnCtx, cancel := context.WithCancel(ctx)
	s.turnCancel = cancel
	s.state = StateStreaming
	s.mu.Unlock()

	ch := make(chan Event, eventBuffer)
	go s.runTurn(turnCtx, ch)
	return ch, nil
}

// Abort cancels the active turn, if any; a no-op otherwise. The turn's
// channel closes without a terminal event and assistant text streamed before
// the abort is retained in history.
func (s *Session) Abort() {
	s.mu.Lock()
	cancel := s.turnCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// GetMessages returns a defensive snapshot of the conversation history,
// including the accumulating assistant draft while a turn is streaming.
func (s *Session) GetMessages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]llm.Message, 0, len(s.history)+1)
	for _, m := range s.history {
		out = append(out, m.Clone())
	}
	if s.draft != nil {
		if m, ok := s.draft.message(); ok {
			out = append(out, m)
		}
	}
	return out
}

// SetUserInputHandler installs the handler that fulfills extension input
// requests. The last installed handler wins; nil uninstalls.
func (s *Session) SetUserInputHandler(h InputHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputHandler = h
}

// RequestUserInput routes a form to the installed handler. Confirm fields in
// the response are normalized to the canonical "yes"/"no" values. Without a
// handler the request fails immediately with ErrNoInputHandler.
func (s *Session) RequestUserInput(ctx context.Context, req InputRequest) (map[string]string, error) {
	s.mu.Lock()
	handler := s.inputHandler
	s.mu.Unlock()
	if handler == nil {
		return nil, ErrNoInputHandler
	}

	s.metrics.InputRequested()
	values, err := handler(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(values))
	for name, value := range values {
		out[name] = value
	}
	for _, field := range req.Fields {
		if field.Type != FieldConfirm {
			continue
		}
		if value, ok := out[field.Name]; ok {
			out[field.Name] = NormalizeConfirm(value)
		}
	}
	return out, nil
}

// Close aborts any active turn and marks the session unusable. The llm
// client is closed only when the session created it.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	cancel := s.turnCancel
	s.state = StateClosed
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = state
	}
	s.mu.Unlock()
}
