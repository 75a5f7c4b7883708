// Package stubserver records what a client writes to a socket so tests can
// assert on it.
package stubserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bryanchriswhite/focusprobe/internal/logger"
)

// ChunkSize is how many bytes a single AwaitData call reads at most
const ChunkSize = 1

type deadliner interface {
	SetDeadline(t time.Time) error
}

// StubServer accepts one client connection and records each chunk it reads
type StubServer struct {
	listener net.Listener

	mu   sync.Mutex
	conn net.Conn
	data [][]byte
}

// New wraps a bound, listening socket
func New(l net.Listener) *StubServer {
	return &StubServer{listener: l}
}

// AwaitData accepts a client if none is connected yet, then reads a single
// chunk and records it. A closed connection records an empty chunk. The call
// blocks until data arrives, the peer closes or ctx is done.
func (s *StubServer) AwaitData(ctx context.Context) error {
	conn, err := s.client(ctx)
	if err != nil {
		return err
	}

	defer expireOnDone(ctx, conn.SetReadDeadline)()

	buf := make([]byte, ChunkSize)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to receive data: %w", err)
	}

	s.mu.Lock()
	s.data = append(s.data, buf[:n])
	s.mu.Unlock()

	logger.WithComponent("stubserver").Debug().
		Int("bytes", n).
		Msg("Received chunk")
	return nil
}

func (s *StubServer) client(ctx context.Context) (net.Conn, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		return conn, nil
	}

	if d, ok := s.listener.(deadliner); ok {
		defer expireOnDone(ctx, d.SetDeadline)()
	}

	conn, err := s.listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to accept client: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return conn, nil
}

// expireOnDone moves a deadline to now once ctx is done, unblocking any
// pending I/O. The returned func detaches the hook and clears the deadline;
// if the hook already fired it waits for it first, so the clear always lands
// last.
func expireOnDone(ctx context.Context, set func(time.Time) error) func() {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		set(time.Now())
	})
	return func() {
		if !stop() {
			<-fired
		}
		set(time.Time{})
	}
}

// Data returns a copy of the recorded chunks
func (s *StubServer) Data() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(s.data))
	for i, d := range s.data {
		out[i] = append([]byte{}, d...)
	}
	return out
}

// Close closes the client connection, if any. The listener stays with its
// owner.
func (s *StubServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
