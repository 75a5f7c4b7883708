package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/focusprobe/internal/api"
	"github.com/bryanchriswhite/focusprobe/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the focusprobe API server",
	Long: `Start an HTTP server that lets a remote test runner start opacity
watchers, collect their traces and stream values over a websocket.`,
	Example: `  # Start server on the configured port (default 8090)
  focusprobe serve

  # Start server on custom port
  focusprobe serve --port 9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "server port (default is server_port from config)")
	viper.BindPFlag("server_port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	if port := viper.GetInt("server_port"); port > 0 {
		configMgr.SetPort(port)
	}
	cfg := configMgr.Get()

	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	server := api.NewServer(conn, cfg.GracePeriod.Std())
	defer server.Shutdown()

	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(cfg.ServerPort)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Int("port", cfg.ServerPort).
		Str("api", fmt.Sprintf("http://localhost:%d/api", cfg.ServerPort)).
		Msg("focusprobe is running, press Ctrl+C to stop")

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
		return nil
	}
}
