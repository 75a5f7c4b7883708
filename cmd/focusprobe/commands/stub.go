package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/focusprobe/internal/sockets"
	"github.com/bryanchriswhite/focusprobe/internal/stubserver"
	"github.com/spf13/cobra"
)

var stubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Stand in for the daemon's socket and print what clients send",
	Long: `Listen on the flash socket, receive --count single-byte chunks from the
first client to connect and print each one.`,
	Example: `  # Wait for one flash request on the default socket
  focusprobe stub

  # Use a private socket and give up after two seconds
  focusprobe stub --socket /tmp/probe.sock --timeout 2s`,
	RunE: runStub,
}

var (
	stubSocket  string
	stubCount   int
	stubTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(stubCmd)

	stubCmd.Flags().StringVar(&stubSocket, "socket", "", "socket path (default is socket_path from config, then $XDG_RUNTIME_DIR/.flashfocus_socket)")
	stubCmd.Flags().IntVar(&stubCount, "count", 1, "number of chunks to receive")
	stubCmd.Flags().DurationVar(&stubTimeout, "timeout", 0, "give up after this long (0 waits forever)")
}

// socketAddress picks the flag, then config, then the default location
func socketAddress(flag string) string {
	if flag != "" {
		return flag
	}
	return sockets.Resolve(configMgr.Get().SocketPath)
}

func runStub(cmd *cobra.Command, args []string) error {
	addr := socketAddress(stubSocket)

	l, err := sockets.Listen(addr)
	if err != nil {
		return err
	}
	defer l.Close()
	defer os.Remove(addr)

	s := stubserver.New(l)
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if stubTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stubTimeout)
		defer cancel()
	}

	for i := 0; i < stubCount; i++ {
		if err := s.AwaitData(ctx); err != nil {
			return err
		}
	}

	for _, chunk := range s.Data() {
		fmt.Fprintf(cmd.OutOrStdout(), "%q\n", chunk)
	}
	return nil
}
