package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/focusprobe/internal/session"
	"github.com/spf13/cobra"
)

var windowsCmd = &cobra.Command{
	Use:   "windows [TITLE...]",
	Short: "Open disposable test windows",
	Long: `Create one blank window per title (window_titles from config when none
are given), print their ids, and destroy them when --hold elapses or on Ctrl+C.`,
	Example: `  # Open the configured windows until interrupted
  focusprobe windows

  # Open two windows for five seconds and focus the first
  focusprobe windows left right --hold 5s --focus`,
	RunE: runWindows,
}

var (
	windowsHold  time.Duration
	windowsFocus bool
)

func init() {
	rootCmd.AddCommand(windowsCmd)

	windowsCmd.Flags().DurationVar(&windowsHold, "hold", 0, "how long to keep the windows open (0 waits for Ctrl+C)")
	windowsCmd.Flags().BoolVar(&windowsFocus, "focus", false, "activate the first window after creating them")
}

func runWindows(cmd *cobra.Command, args []string) error {
	titles := args
	if len(titles) == 0 {
		titles = configMgr.Get().WindowTitles
	}

	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	s, err := session.New(conn, titles...)
	if err != nil {
		return err
	}
	defer s.Destroy()

	for i, id := range s.IDs() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, titles[i])
	}

	if windowsFocus {
		if err := session.ChangeFocus(conn, s.IDs()[0]); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if windowsHold > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, windowsHold)
		defer cancel()
	}
	<-ctx.Done()

	return s.Destroy()
}
