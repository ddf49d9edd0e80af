package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loom-agent/loom/agent"
	"github.com/loom-agent/loom/agentfs"
	"github.com/loom-agent/loom/llm"
)

// NewRunCmd sends a single prompt through the model with the built-in
// toolset over a scratch workspace and prints the final text.
func NewRunCmd(opts *Options) *cobra.Command {
	var (
		prompt    string
		apiKey    string
		model     string
		provider  string
		maxRounds int
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single prompt and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(prompt) == "" && len(args) > 0 {
				prompt = strings.Join(args, " ")
			}
			if strings.TrimSpace(prompt) == "" {
				return errors.New("prompt cannot be empty")
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := buildLogger(opts, cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			key := firstNonEmpty(apiKey, cfg.Provider.APIKey)
			if key == "" {
				if st, err := openStore(cfg.Store.Path); err == nil {
					if stored, err := st.Credential(); err == nil {
						key = stored
					}
					_ = st.Close()
				}
			}

			client := llm.NewDefaultClient(key, cfg.Provider.BaseURL,
				llm.WithLogger(logger),
				llm.WithDefaultProvider(firstNonEmpty(provider, cfg.Provider.Name)))
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := llm.Generate(ctx, llm.GenerateOptions{
				Client:        client,
				Model:         firstNonEmpty(model, cfg.Provider.Model),
				Prompt:        prompt,
				Tools:         agent.BuiltinTools(agentfs.New()),
				MaxToolRounds: maxRounds,
				MaxTokens:     cfg.Agent.MaxTokens,
				Temperature:   cfg.Agent.Temperature,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(result.Text, "\n"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt text (or pass as a positional argument)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Provider API key")
	cmd.Flags().StringVar(&model, "model", "", "Override the configured model")
	cmd.Flags().StringVar(&provider, "provider", "", "Override the configured provider")
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 8, "Tool-execution round cap")
	return cmd
}
