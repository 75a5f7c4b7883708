package commands

import (
	"github.com/bryanchriswhite/focusprobe/internal/sockets"
	"github.com/spf13/cobra"
)

var flashSocket string

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Ask a running daemon to flash the focused window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sockets.RequestFlash(socketAddress(flashSocket))
	},
}

func init() {
	rootCmd.AddCommand(flashCmd)

	flashCmd.Flags().StringVar(&flashSocket, "socket", "", "socket path (default is socket_path from config, then $XDG_RUNTIME_DIR/.flashfocus_socket)")
}
