package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/focusprobe/internal/focuswait"
	"github.com/spf13/cobra"
)

var waitFocusCmd = &cobra.Command{
	Use:   "wait-focus",
	Short: "Follow focus changes for a bounded number of cycles",
	Long: `Block on _NET_ACTIVE_WINDOW changes the way a focus-flash daemon's main
loop does, printing the newly active window after each one. The run ends on
the (limit-1)th wait, so limit-2 focus changes are reported.

With --exit-code the process exits with that status at the end of the budget,
which lets a test observe the bounded loop from outside.`,
	Example: `  # Report one focus change, then stop
  focusprobe wait-focus --limit 3

  # Exit with status 3 after two focus changes
  focusprobe wait-focus --limit 4 --exit-code 3`,
	RunE: runWaitFocus,
}

var (
	waitLimit    int
	waitExitCode int
)

func init() {
	rootCmd.AddCommand(waitFocusCmd)

	waitFocusCmd.Flags().IntVar(&waitLimit, "limit", 0, "invocation budget (default is focus_limit from config)")
	waitFocusCmd.Flags().IntVar(&waitExitCode, "exit-code", -1, "exit the process with this status when the budget is spent")
}

func runWaitFocus(cmd *cobra.Command, args []string) error {
	cfg := configMgr.Get()

	limit := cfg.FocusLimit
	if waitLimit > 0 {
		limit = waitLimit
	}

	opts := []focuswait.Option{focuswait.WithTimeout(cfg.EventTimeout.Std())}
	if waitExitCode >= 0 {
		opts = append(opts, focuswait.WithExit(waitExitCode))
	}

	w, err := focuswait.Dial(cfg.Display, limit, opts...)
	if err != nil {
		return err
	}
	defer w.Close()

	// a second connection so reading the active window never competes with
	// the waiter's event stream
	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	err = focuswait.Run(ctx, w.Func(), func(context.Context) error {
		active, err := conn.ActiveWindow()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d\t%s\n", w.Calls(), active)
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "budget of %d exhausted after %d calls\n", w.Limit(), w.Calls())
	return nil
}
