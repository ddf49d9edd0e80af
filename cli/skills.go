package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loom-agent/loom/skills"
)

// NewSkillsCmd groups skill inspection commands.
func NewSkillsCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect skill definitions",
	}
	cmd.AddCommand(newSkillsListCmd(opts))
	return cmd
}

func newSkillsListCmd(opts *Options) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List skills in a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			target := firstNonEmpty(dir, cfg.Skills.Dir)
			if target == "" {
				return errors.New("no skills directory: pass --dir or set skills.dir")
			}

			reg := skills.NewRegistry(zap.NewNop())
			if err := reg.LoadDir(target); err != nil {
				return err
			}
			list := reg.List()
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No skills found.")
				return nil
			}
			for _, s := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", s.Name, s.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory of skill markdown files (default: skills.dir from config)")
	return cmd
}
