package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loom-agent/loom/templates"
)

// NewTemplatesCmd groups slash-template inspection commands.
func NewTemplatesCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect slash-command templates",
	}
	cmd.AddCommand(newTemplatesListCmd(opts))
	return cmd
}

func newTemplatesListCmd(opts *Options) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates in a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			target := firstNonEmpty(dir, cfg.Templates.Dir)
			if target == "" {
				return errors.New("no templates directory: pass --dir or set templates.dir")
			}

			reg := templates.NewRegistry(zap.NewNop())
			if err := reg.LoadDir(target); err != nil {
				return err
			}
			list := reg.List()
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No templates found.")
				return nil
			}
			for _, t := range list {
				desc := t.Description
				if desc == "" {
					desc = firstLine(t.Body)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "/%-23s %s\n", t.Name, desc)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory of template files (default: templates.dir from config)")
	return cmd
}
