package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	tracelog "palbridge.ai/internal/persistence/log"
	"palbridge.ai/internal/sim/primitives"
)

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Read primitive traces",
	}
	cmd.AddCommand(newTraceCatCmd())
	return cmd
}

func newTraceCatCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "cat [file-or-dir...]",
		Short: "Decode trace files and print their outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				if s.TraceDir == "" {
					return fmt.Errorf("no trace files given and --trace-dir is empty")
				}
				args = []string{s.TraceDir}
			}
			var files []string
			for _, a := range args {
				fi, err := os.Stat(a)
				if err != nil {
					return err
				}
				if !fi.IsDir() {
					files = append(files, a)
					continue
				}
				fs, err := tracelog.TraceFiles(a)
				if err != nil {
					return err
				}
				files = append(files, fs...)
			}

			out := cmd.OutOrStdout()
			n := 0
			for _, path := range files {
				err := tracelog.ReadTrace(path, func(o primitives.Outcome) error {
					if runID != "" && o.RunID != runID {
						return nil
					}
					n++
					if s.JSON {
						return outputJSON(out, o)
					}
					result := "ok"
					if !o.OK {
						result = "false"
						if o.Code != "" {
							result = o.Code
						}
					}
					_, err := fmt.Fprintf(out, "%s %s #%d %s %s %s ticks=%d\n",
						o.Started.UTC().Format("2006-01-02T15:04:05.000Z"), o.RunID, o.Seq, o.Primitive, o.Object, result, o.Ticks)
					return err
				})
				if err != nil {
					return err
				}
			}
			if n == 0 && !s.JSON {
				fmt.Fprintln(cmd.ErrOrStderr(), "no outcomes")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only outcomes of this run id")
	return cmd
}
