package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hibikido/logger"
	"hibikido/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the retrieval and orchestration server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	// SIGINT/SIGTERM behave like the stop command.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Info("signal received, shutting down", logger.String("signal", sig.String()))
		srv.Shutdown()
	}()

	return srv.Run()
}
