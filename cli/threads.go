package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewThreadsCmd manages stored conversation threads.
func NewThreadsCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Manage stored conversation threads",
	}
	cmd.AddCommand(newThreadsListCmd(opts))
	cmd.AddCommand(newThreadsDeleteCmd(opts))
	return cmd
}

func newThreadsListCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored threads, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			st, err := openStore(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			infos, err := st.Threads()
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored threads.")
				return nil
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-40s %3d msgs  %s\n",
					info.ID, info.Title, info.Messages, info.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newThreadsDeleteCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			st, err := openStore(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteThread(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted thread %s\n", args[0])
			return nil
		},
	}
}
