package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loom-agent/loom/llm"
)

// NewModelsCmd prints the built-in model catalog, and optionally the
// models an ollama server has pulled locally.
func NewModelsCmd() *cobra.Command {
	var (
		provider string
		local    bool
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List known models",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if local {
				adapter, err := llm.NewOllamaAdapter("", "")
				if err != nil {
					return err
				}
				models, err := adapter.ListLocalModels(cmd.Context())
				if err != nil {
					return err
				}
				if len(models) == 0 {
					fmt.Fprintln(out, "No local ollama models.")
					return nil
				}
				for _, m := range models {
					fmt.Fprintf(out, "%-18s %s\n", m.Provider, m.ID)
				}
				return nil
			}

			models := llm.ListModels(provider)
			if len(models) == 0 {
				fmt.Fprintln(out, "No models for that provider.")
				return nil
			}
			for _, m := range models {
				aliases := ""
				if len(m.Aliases) > 0 {
					aliases = " (" + strings.Join(m.Aliases, ", ") + ")"
				}
				fmt.Fprintf(out, "%-12s %-20s ctx %7d  out %6d%s\n",
					m.Provider, m.ID, m.ContextWindow, m.MaxOutput, aliases)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider")
	cmd.Flags().BoolVar(&local, "local", false, "List models pulled on the local ollama server")
	return cmd
}
