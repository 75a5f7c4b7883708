// Package sockets locates and opens the unix socket a flash daemon listens
// on for flash requests.
package sockets

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"

	"github.com/bryanchriswhite/focusprobe/internal/logger"
)

const (
	SocketName    = ".flashfocus_socket"
	FallbackDir   = "/tmp"
	runtimeDirEnv = "XDG_RUNTIME_DIR"
	flashRequest  = "1"
	socketNetwork = "unix"
)

// ChooseAddress returns $XDG_RUNTIME_DIR/.flashfocus_socket, or the same
// name under /tmp when XDG_RUNTIME_DIR is unset
func ChooseAddress() string {
	dir := os.Getenv(runtimeDirEnv)
	if dir == "" {
		dir = FallbackDir
	}
	return filepath.Join(dir, SocketName)
}

// Resolve returns addr, or ChooseAddress when addr is empty
func Resolve(addr string) string {
	if addr == "" {
		return ChooseAddress()
	}
	return addr
}

// Listen binds a stream socket at addr, replacing a stale socket file
func Listen(addr string) (net.Listener, error) {
	addr = Resolve(addr)

	if err := os.Remove(addr); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket %s: %w", addr, err)
	}

	l, err := net.Listen(socketNetwork, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	logger.WithComponent("sockets").Debug().Str("addr", addr).Msg("Listening")
	return l, nil
}

// Dial connects a client stream socket to addr
func Dial(addr string) (net.Conn, error) {
	addr = Resolve(addr)
	conn, err := net.Dial(socketNetwork, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return conn, nil
}

// RequestFlash asks the daemon listening at addr to flash the current window
func RequestFlash(addr string) error {
	conn, err := Dial(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(flashRequest)); err != nil {
		return fmt.Errorf("failed to send flash request: %w", err)
	}
	return nil
}
