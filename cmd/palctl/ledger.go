package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"palbridge.ai/internal/persistence/indexdb"
)

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query the sqlite outcome ledger",
	}
	cmd.AddCommand(newLedgerSummaryCmd(), newLedgerRunsCmd())
	return cmd
}

func openLedger(cmd *cobra.Command) (*indexdb.SQLiteIndex, settings, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, s, err
	}
	if s.Ledger == "" {
		return nil, s, fmt.Errorf("--ledger is required")
	}
	db, err := indexdb.OpenSQLite(s.Ledger)
	return db, s, err
}

func newLedgerSummaryCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Per-primitive call counts, successes and ticks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, s, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			rows, err := db.Summary(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if s.JSON {
				return outputJSON(cmd.OutOrStdout(), rows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRIMITIVE\tCALLS\tOK\tTICKS\tFAILURES")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", r.Primitive, r.Calls, r.OK, r.Ticks, formatCodes(r.Codes))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "restrict to one run id")
	return cmd
}

func newLedgerRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, s, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			runs, err := db.Runs(cmd.Context())
			if err != nil {
				return err
			}
			if s.JSON {
				return outputJSON(cmd.OutOrStdout(), runs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tTASK\tFIRST SEEN\tCALLS\tFAILED\tSTEPS")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n", r.RunID, r.TaskID, r.FirstSeen, r.Calls, r.Failed, r.Steps)
			}
			return tw.Flush()
		},
	}
}

func formatCodes(codes map[string]int) string {
	if len(codes) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(codes))
	for k := range codes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for i, k := range keys {
		if i > 0 {
			s += ","
		}
		name := k
		if name == "" {
			name = "false"
		}
		s += fmt.Sprintf("%s=%d", name, codes[k])
	}
	return s
}
