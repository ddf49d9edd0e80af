package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loom-agent/loom/agent"
	"github.com/loom-agent/loom/config"
	"github.com/loom-agent/loom/llm"
	"github.com/loom-agent/loom/mcpext"
	"github.com/loom-agent/loom/observability"
	"github.com/loom-agent/loom/skills"
	"github.com/loom-agent/loom/store"
	"github.com/loom-agent/loom/templates"
)

type chatFlags struct {
	apiKey       string
	saveKey      bool
	model        string
	provider     string
	resume       string
	skillsDir    string
	templatesDir string
	metricsAddr  string
}

// NewChatCmd starts an interactive agent session in the terminal.
func NewChatCmd(opts *Options) *cobra.Command {
	flags := &chatFlags{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive agent session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, flags)
		},
	}

	cmd.Flags().StringVar(&flags.apiKey, "api-key", "", "Provider API key (overrides config and stored credential)")
	cmd.Flags().BoolVar(&flags.saveKey, "save-key", false, "Persist the resolved API key in the credential store")
	cmd.Flags().StringVar(&flags.model, "model", "", "Override the configured model")
	cmd.Flags().StringVar(&flags.provider, "provider", "", "Override the configured provider")
	cmd.Flags().StringVar(&flags.resume, "resume", "", "Resume a stored thread by id")
	cmd.Flags().StringVar(&flags.skillsDir, "skills-dir", "", "Load skills from a directory of markdown files")
	cmd.Flags().StringVar(&flags.templatesDir, "templates-dir", "", "Load slash templates from a directory")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func runChat(cmd *cobra.Command, opts *Options, flags *chatFlags) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := buildLogger(opts, cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort

	st, err := openStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()

	apiKey := firstNonEmpty(flags.apiKey, cfg.Provider.APIKey)
	if flags.saveKey {
		if apiKey == "" {
			return errors.New("--save-key needs --api-key or a configured key")
		}
		if err := st.SetCredential(apiKey); err != nil {
			return fmt.Errorf("save credential: %w", err)
		}
		fmt.Fprintln(out, "Credential saved.")
	}

	metrics := observability.NewMetrics()
	if addr := firstNonEmpty(flags.metricsAddr, cfg.Metrics.Addr); addr != "" {
		serveMetrics(addr, metrics, logger)
	}

	skillList := loadSkills(firstNonEmpty(flags.skillsDir, cfg.Skills.Dir), logger)
	templateList := loadTemplates(firstNonEmpty(flags.templatesDir, cfg.Templates.Dir), logger)

	var exts []agent.Extension
	if len(cfg.MCP) > 0 {
		ext := mcpext.New(mcpServerConfigs(cfg.MCP), logger.Named("mcp"))
		defer ext.Close()
		exts = append(exts, ext)
	}

	var history []llm.Message
	if flags.resume != "" {
		history, err = st.Thread(flags.resume)
		if err != nil {
			return fmt.Errorf("resume thread: %w", err)
		}
		fmt.Fprintf(out, "Resumed thread %s (%d messages)\n", flags.resume, len(history))
	}

	reader := newLineReader(cmd.InOrStdin(), out)
	buildSession := func(history []llm.Message) *agent.Session {
		s := agent.New(agent.Config{
			APIKey:           apiKey,
			BaseURL:          cfg.Provider.BaseURL,
			Provider:         firstNonEmpty(flags.provider, cfg.Provider.Name),
			Model:            firstNonEmpty(flags.model, cfg.Provider.Model),
			SystemPrompt:     cfg.Agent.SystemPrompt,
			Extensions:       exts,
			Skills:           skillList,
			Templates:        templateList,
			History:          history,
			MaxTokens:        cfg.Agent.MaxTokens,
			Temperature:      cfg.Agent.Temperature,
			LoopWindow:       cfg.Agent.LoopWindow,
			MaxSubagentDepth: cfg.Agent.MaxSubagentDepth,
			Store:            st,
			Logger:           logger,
			Metrics:          metrics,
		})
		s.SetUserInputHandler(terminalInputHandler(out, reader))
		return s
	}

	r := &repl{
		out:     out,
		reader:  reader,
		store:   st,
		session: buildSession(history),
		rebuild: buildSession,
		sigCh:   make(chan os.Signal, 1),
	}
	r.threadID = firstNonEmpty(flags.resume, r.session.ID())
	defer func() { _ = r.session.Close() }()

	signal.Notify(r.sigCh, syscall.SIGINT)
	defer signal.Stop(r.sigCh)

	readyCtx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	err = r.session.Ready(readyCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(out, "warning: extension load incomplete: %v\n", err)
	}

	return r.loop(cmd.Context())
}

type repl struct {
	out      io.Writer
	reader   *lineReader
	store    *store.Store
	session  *agent.Session
	rebuild  func(history []llm.Message) *agent.Session
	threadID string
	sigCh    chan os.Signal
}

func (r *repl) loop(ctx context.Context) error {
	fmt.Fprintln(r.out, "loom interactive session. /help lists commands, /quit exits.")
	for {
		line, err := r.reader.ReadLine("loom> ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/help":
			r.printHelp()
			continue
		case "/tools":
			r.printTools()
			continue
		case "/threads":
			r.printThreads()
			continue
		case "/copy":
			r.copyLast()
			continue
		case "/save":
			r.saveThread()
			continue
		case "/clear":
			r.clear()
			continue
		}

		r.turn(ctx, line)
	}
}

// turn runs one prompt to completion, streaming output as it arrives. The
// first SIGINT aborts the turn; a second one exits hard.
func (r *repl) turn(ctx context.Context, input string) {
	events, err := r.session.Prompt(ctx, input)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}

	// Interrupts delivered while idle at the prompt must not cancel this
	// turn.
	select {
	case <-r.sigCh:
	default:
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		aborted := false
		for {
			select {
			case <-r.sigCh:
				if aborted {
					os.Exit(130)
				}
				aborted = true
				r.session.Abort()
				fmt.Fprint(os.Stderr, "\n[interrupt] cancelling turn, ^C again to quit\n")
			case <-done:
				return
			}
		}
	}()

	sawTerminal := false
	for ev := range events {
		switch ev.Type {
		case agent.EventTextDelta:
			fmt.Fprint(r.out, ev.Delta)
		case agent.EventToolCallStart:
			fmt.Fprintf(r.out, "\n[tool %s]\n", ev.ToolCall.Name)
		case agent.EventToolCallEnd:
			if ev.ToolCall.Result != nil && ev.ToolCall.Result.IsError {
				fmt.Fprintf(r.out, "[tool %s failed] %s\n", ev.ToolCall.Name, firstLine(ev.ToolCall.Result.Content))
			}
		case agent.EventTurnEnd:
			sawTerminal = true
			fmt.Fprintln(r.out)
		case agent.EventError:
			sawTerminal = true
			fmt.Fprintf(r.out, "\n[error] %s\n", ev.Message)
		}
	}
	if !sawTerminal {
		fmt.Fprintln(r.out, "\n[cancelled]")
	}
}

func (r *repl) printHelp() {
	fmt.Fprint(r.out, `Commands:
  /help     Show this help
  /tools    List available tools
  /threads  List stored threads
  /copy     Copy the last reply to the clipboard
  /save     Save this conversation to the thread store
  /clear    Start a fresh conversation
  /quit     Exit

Anything else is sent to the agent. Lines starting with / that match a
registered template expand before sending. Ctrl-C cancels a running turn.
`)
}

func (r *repl) printTools() {
	tools := r.session.Tools()
	if len(tools) == 0 {
		fmt.Fprintln(r.out, "No tools registered.")
		return
	}
	for _, tool := range tools {
		fmt.Fprintf(r.out, "  %-24s %s\n", tool.Name, firstLine(tool.Description))
	}
}

func (r *repl) printThreads() {
	infos, err := r.store.Threads()
	if err != nil {
		fmt.Fprintf(r.out, "threads: %v\n", err)
		return
	}
	if len(infos) == 0 {
		fmt.Fprintln(r.out, "No stored threads.")
		return
	}
	for _, info := range infos {
		fmt.Fprintf(r.out, "  %s  %-40s %3d msgs  %s\n",
			info.ID, info.Title, info.Messages, info.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
}

func (r *repl) copyLast() {
	var last string
	for _, m := range r.session.GetMessages() {
		if m.Role == llm.RoleAssistant && m.Content != "" {
			last = m.Content
		}
	}
	if last == "" {
		fmt.Fprintln(r.out, "Nothing to copy yet.")
		return
	}
	if err := clipboard.WriteAll(last); err != nil {
		fmt.Fprintf(r.out, "clipboard: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, "Copied last reply to clipboard.")
}

func (r *repl) saveThread() {
	msgs := r.session.GetMessages()
	if len(msgs) <= 1 {
		fmt.Fprintln(r.out, "Nothing to save yet.")
		return
	}
	if err := r.store.SaveThread(r.threadID, msgs); err != nil {
		fmt.Fprintf(r.out, "save: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "Saved thread %s (%d messages).\n", r.threadID, len(msgs))
}

func (r *repl) clear() {
	_ = r.session.Close()
	r.session = r.rebuild(nil)
	r.threadID = r.session.ID()
	fmt.Fprintln(r.out, "Conversation cleared.")
}

// lineReader serializes stdin access between the prompt loop and user
// input requests raised from extension goroutines.
type lineReader struct {
	mu      sync.Mutex
	out     io.Writer
	scanner *bufio.Scanner
}

func newLineReader(in io.Reader, out io.Writer) *lineReader {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &lineReader{out: out, scanner: sc}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	fmt.Fprint(lr.out, prompt)
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return lr.scanner.Text(), nil
}

// terminalInputHandler fulfills extension input requests by prompting on
// the terminal, one field per line. Empty answers take the field default;
// confirm normalization happens in the session.
func terminalInputHandler(out io.Writer, reader *lineReader) agent.InputHandler {
	return func(ctx context.Context, req agent.InputRequest) (map[string]string, error) {
		fmt.Fprintf(out, "\n[input] %s\n", req.Question)
		if req.Description != "" {
			fmt.Fprintln(out, req.Description)
		}

		values := make(map[string]string, len(req.Fields))
		for _, field := range req.Fields {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			label := field.Label
			if label == "" {
				label = field.Name
			}
			prompt := "  " + label
			switch field.Type {
			case agent.FieldConfirm:
				prompt += " [y/n]"
			case agent.FieldSelect:
				prompt += " (" + strings.Join(field.Options, "/") + ")"
			}
			if field.DefaultValue != "" {
				prompt += " (default " + field.DefaultValue + ")"
			}
			prompt += ": "

			line, err := reader.ReadLine(prompt)
			if err != nil {
				return nil, err
			}
			line = strings.TrimSpace(line)
			if line == "" {
				line = field.DefaultValue
			}
			if line == "" && field.Required {
				return nil, fmt.Errorf("field %s is required", field.Name)
			}
			values[field.Name] = line
		}
		return values, nil
	}
}

func loadSkills(dir string, logger *zap.Logger) []skills.Skill {
	if dir == "" {
		return nil
	}
	reg := skills.NewRegistry(logger)
	if err := reg.LoadDir(dir); err != nil {
		logger.Warn("loading skills", zap.String("dir", dir), zap.Error(err))
	}
	return reg.List()
}

func loadTemplates(dir string, logger *zap.Logger) []templates.Template {
	if dir == "" {
		return nil
	}
	reg := templates.NewRegistry(logger)
	if err := reg.LoadDir(dir); err != nil {
		logger.Warn("loading templates", zap.String("dir", dir), zap.Error(err))
	}
	return reg.List()
}

func mcpServerConfigs(cfgs []config.MCPServerConfig) []mcpext.ServerConfig {
	out := make([]mcpext.ServerConfig, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, mcpext.ServerConfig{
			ID:      c.ID,
			Command: c.Command,
			Args:    c.Args,
			Env:     c.Env,
			URL:     c.URL,
		})
	}
	return out
}

func serveMetrics(addr string, metrics *observability.Metrics, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}
