package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hibikido/config"
	"hibikido/logger"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "hibikido",
	Short: "Hibikidō is a semantic audio retrieval and orchestration server.",
	Long: `Hibikidō answers free-text queries with catalog segments whose
descriptions resonate with the query, gating each result on a Bark-band
niche so concurrent sounds share the spectrum instead of masking each
other.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the JSON config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// Execute runs the CLI. Initialization failures exit non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and brings the logger up; shared by every
// subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(logLevel),
		OutputPath: cfg.Log.OutputPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	})
	return cfg, nil
}
