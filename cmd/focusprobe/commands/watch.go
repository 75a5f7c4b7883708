package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/focusprobe/internal/session"
	"github.com/bryanchriswhite/focusprobe/internal/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch WINDOW",
	Short: "Record a window's opacity trace",
	Long: `Sample _NET_WM_WINDOW_OPACITY of WINDOW until --duration elapses (or
Ctrl+C), then print every distinct value observed, in order.`,
	Example: `  # Watch for one second while focusing the window
  focusprobe watch 0x1a00003 --focus

  # Raw CARDINAL values as JSON
  focusprobe watch 27262979 --duration 500ms --raw --json`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchDuration time.Duration
	watchFocus    bool
	watchRaw      bool
	watchJSON     bool
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchDuration, "duration", time.Second, "observation window")
	watchCmd.Flags().BoolVar(&watchFocus, "focus", false, "activate the window after the watcher starts")
	watchCmd.Flags().BoolVar(&watchRaw, "raw", false, "print raw CARDINAL values instead of fractions")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "print the trace as a JSON array")
}

func runWatch(cmd *cobra.Command, args []string) error {
	win, err := parseWindowID(args[0])
	if err != nil {
		return err
	}

	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	w, err := watch.Watch(conn, win, watch.WithGracePeriod(configMgr.Get().GracePeriod.Std()))
	if err != nil {
		return err
	}
	// the sampler must be stopped before conn is closed
	defer w.Report()

	if watchFocus {
		if err := session.ChangeFocus(conn, win); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
	case <-time.After(watchDuration):
	}

	trace, err := w.Report()
	if printErr := printTrace(cmd, trace); printErr != nil {
		return printErr
	}
	return err
}

func printTrace(cmd *cobra.Command, trace watch.Trace) error {
	out := cmd.OutOrStdout()

	values := make([]interface{}, len(trace))
	for i, o := range trace {
		switch {
		case !o.IsSet():
			values[i] = nil
		case watchRaw:
			values[i] = int64(o)
		default:
			values[i] = o.Fraction()
		}
	}

	if watchJSON {
		return json.NewEncoder(out).Encode(values)
	}

	for _, v := range values {
		switch v := v.(type) {
		case nil:
			fmt.Fprintln(out, "unset")
		case int64:
			fmt.Fprintf(out, "%d\n", v)
		case float64:
			fmt.Fprintf(out, "%.4f\n", v)
		}
	}
	return nil
}
