package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/bryanchriswhite/focusprobe/internal/config"
	"github.com/bryanchriswhite/focusprobe/internal/logger"
	"github.com/bryanchriswhite/focusprobe/internal/xconn"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	configMgr *config.Manager
	rootCmd   = &cobra.Command{
		Use:   "focusprobe",
		Short: "focusprobe - test harness for focus-flash daemons",
		Long: `focusprobe drives and observes an X11 session so that a daemon which
animates window opacity on focus changes can be tested end to end.

Features:
  • Create and tear down disposable windows
  • Record the opacity trace of a window while focus moves
  • Bound a daemon's focus loop to a fixed number of cycles
  • Capture flash requests sent over the daemon's unix socket
  • HTTP and websocket API for remote test runners`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/focusprobe/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("display", "", "X display to use (default is $DISPLAY)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human readable log output")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("display", rootCmd.PersistentFlags().Lookup("display"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))

	viper.SetEnvPrefix("FOCUSPROBE")
	viper.AutomaticEnv()
}

// loadConfig reads the config file and applies flag and environment overrides
func loadConfig(cmd *cobra.Command, args []string) error {
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	if level := viper.GetString("log_level"); level != "" {
		mgr.SetLogLevel(level)
	}
	if display := viper.GetString("display"); display != "" {
		mgr.SetDisplay(display)
	}

	cfg := mgr.Get()
	logger.Init(cfg.LogLevel, viper.GetBool("pretty"))
	logger.WithComponent("cli").Debug().
		Str("config", mgr.GetConfigPath()).
		Str("command", cmd.Name()).
		Msg("Configuration loaded")

	configMgr = mgr
	return nil
}

// dial connects to the configured display
func dial() (*xconn.Conn, error) {
	return xconn.Dial(configMgr.Get().Display)
}

// parseWindowID accepts decimal or 0x-prefixed hex window ids, as printed by
// xdotool and xprop respectively
func parseWindowID(s string) (xconn.Window, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid window id %q: %w", s, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("invalid window id %q: must be non-zero", s)
	}
	return xconn.Window(v), nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
