// Command ideaflowctl runs discussion transcripts through the pipeline
// offline, without the HTTP surface or any cloud backend.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logLevel    string
	policyFile  string
	environment string
)

var rootCmd = &cobra.Command{
	Use:           "ideaflowctl",
	Short:         "Offline tools for the ideaflow pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level written to stderr")
	rootCmd.PersistentFlags().StringVar(&policyFile, "policy", "", "YAML policy overlay")
	rootCmd.PersistentFlags().StringVar(&environment, "env", "development", "policy preset")
	rootCmd.AddCommand(newReplayCmd())
}

func newLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
