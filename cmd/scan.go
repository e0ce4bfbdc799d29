package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/shadowscan/internal/pipeline"
)

var (
	scanRunKey string
	scanJSON   bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <logfile.jsonl>",
	Short: "Run a scan over a JSONL proxy log",
	Long:  "Reads one JSON event per line ({url_full, http_method, bytes_sent}), fingerprints the traffic, classifies unknown fingerprints, and prints the coverage report for the run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ingestor, err := pipeline.NewJSONLIngestor(args[0])
		if err != nil {
			return err
		}

		runKey := scanRunKey
		if runKey == "" {
			runKey = uuid.NewString()
		}

		report, err := env.Pipeline.Run(ctx, runKey, ingestor)
		if err != nil {
			return eris.Wrap(err, "scan")
		}

		if scanJSON {
			return json.NewEncoder(os.Stdout).Encode(report)
		}
		printReport(cmd, report)
		return nil
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanRunKey, "run-key", "", "caller-provided run key (default: random UUID)")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "emit the report as JSON")
	rootCmd.AddCommand(scanCmd)
}
