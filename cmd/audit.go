package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/shadowscan/internal/coverage"
)

var (
	auditRunID string
	auditJSON  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print the coverage report",
	Long:  "Computes the coverage report fresh from the classification cache. With --run-id the report includes that run's access stats and retry summary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		report, err := coverage.Compute(ctx, st, auditRunID)
		if err != nil {
			return eris.Wrap(err, "audit")
		}

		if auditJSON {
			return json.NewEncoder(os.Stdout).Encode(report)
		}
		printReport(cmd, report)
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditRunID, "run-id", "", "scope the report to one run")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "emit the report as JSON")
	rootCmd.AddCommand(auditCmd)
}
