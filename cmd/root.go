package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/shadowscan/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "shadowscan",
	Short: "Shadow IT/Shadow AI detection from proxy logs",
	Long:  "Normalizes proxy/gateway log URLs into stable fingerprints, classifies the service behind each fingerprint once (host rules, then an LLM), and caches results so overlapping runs never re-pay classification cost.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
