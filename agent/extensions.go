package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/loom-agent/loom/llm"
)

// Capabilities is the surface a session hands each extension during setup.
// Tools registered here become visible to the model alongside the built-in
// set; a name collision with an already-registered tool is warned and
// skipped. Subscriptions receive every event of every turn.
type Capabilities interface {
	// RegisterTool adds a model-visible tool and reports whether it was
	// accepted.
	RegisterTool(tool llm.Tool) bool

	// Subscribe attaches a listener to the session's event stream and
	// returns its unsubscribe function.
	Subscribe(listener Listener) func()

	// RequestUserInput asks the presentation layer to show a form and
	// blocks until the user responds, ctx is done, or the request fails.
	// When no handler is installed it fails immediately with
	// ErrNoInputHandler.
	RequestUserInput(ctx context.Context, req InputRequest) (map[string]string, error)
}

// Extension installs a pluggable capability into a session. Setup runs once
// during asynchronous session loading, in registration order; Ready resolves
// after the last extension returns. A Setup error or panic marks the load
// degraded but does not prevent other extensions from loading.
type Extension interface {
	Name() string
	Setup(ctx context.Context, caps Capabilities) error
}

type funcExtension struct {
	name  string
	setup func(ctx context.Context, caps Capabilities) error
}

func (e funcExtension) Name() string { return e.name }

func (e funcExtension) Setup(ctx context.Context, caps Capabilities) error {
	return e.setup(ctx, caps)
}

// ExtensionFunc adapts a setup function into a named Extension.
func ExtensionFunc(name string, setup func(ctx context.Context, caps Capabilities) error) Extension {
	return funcExtension{name: name, setup: setup}
}

// sessionCaps is the Capabilities view a session exposes to its extensions.
type sessionCaps struct {
	s *Session
}

func (c sessionCaps) RegisterTool(tool llm.Tool) bool {
	return c.s.tools.Register(tool)
}

func (c sessionCaps) Subscribe(listener Listener) func() {
	return c.s.broadcaster.subscribe(listener)
}

func (c sessionCaps) RequestUserInput(ctx context.Context, req InputRequest) (map[string]string, error) {
	return c.s.RequestUserInput(ctx, req)
}

// loadExtensions runs every configured extension in order and records which
// ones failed. Runs on its own goroutine; Ready observes completion.
func (s *Session) loadExtensions(exts []Extension) {
	defer close(s.readyCh)

	var errs []error
	for _, ext := range exts {
		if ext == nil {
			continue
		}
		if err := s.setupExtension(ext); err != nil {
			s.logger.Warn("extension setup failed",
				zap.String("extension", ext.Name()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("extension %s: %w", ext.Name(), err))
		}
	}

	if len(errs) > 0 {
		s.loadMu.Lock()
		s.loadErr = errors.Join(errs...)
		s.loadMu.Unlock()
	}
}

func (s *Session) setupExtension(ext Extension) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("setup panicked: %v", r)
		}
	}()
	return ext.Setup(context.Background(), sessionCaps{s: s})
}
