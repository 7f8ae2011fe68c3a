package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"palbridge.ai/internal/sim/memsim"
	"palbridge.ai/internal/sim/primconfig"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect primitive configuration",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigValidateCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var task, category string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved config for a task and where each value came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			r, err := primconfig.Load(s.ConfigDir)
			if err != nil {
				return err
			}
			fields := r.Summary(task, category)
			if s.JSON {
				return outputJSON(cmd.OutOrStdout(), fields)
			}
			for _, f := range fields {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task id")
	cmd.Flags().StringVar(&category, "category", "", "task category")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [task-file...]",
		Short: "Check override files against the schema",
		Long: `Without arguments, loads the whole config directory (and the scene
file when it exists) and validates every task. With arguments, checks only the
named task files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				for _, path := range args {
					if _, err := primconfig.LoadTaskFile(path); err != nil {
						return err
					}
					fmt.Fprintf(out, "%s: ok\n", path)
				}
				return nil
			}

			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			r, err := primconfig.Load(s.ConfigDir)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, id := range r.Tasks() {
				fmt.Fprintf(tw, "task\t%s\tok\n", id)
			}
			if s.Scene != "" && cmd.Flags().Changed("scene") {
				spec, err := memsim.LoadScene(s.Scene)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "scene\t%s\t%d objects\n", s.Scene, len(spec.Objects))
			}
			return tw.Flush()
		},
	}
	return cmd
}
