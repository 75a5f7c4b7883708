package focuswait

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/bryanchriswhite/focusprobe/internal/xconn"
)

const (
	activeAtom  xconn.Atom = 301
	opacityAtom xconn.Atom = 302
)

// chanSource serves events pushed by the test
type chanSource struct {
	events chan xconn.Event
}

func newChanSource() *chanSource {
	return &chanSource{events: make(chan xconn.Event, 64)}
}

func (s *chanSource) NextEvent(ctx context.Context) (xconn.Event, error) {
	select {
	case <-ctx.Done():
		return xconn.Event{}, ctx.Err()
	case ev := <-s.events:
		return ev, nil
	}
}

func (s *chanSource) ActiveWindowAtom() xconn.Atom {
	return activeAtom
}

func (s *chanSource) focusShift() {
	s.events <- xconn.Event{Kind: xconn.EventPropertyNotify, Window: 1, Atom: activeAtom}
}

func TestNewRejectsNonPositiveLimit(t *testing.T) {
	for _, limit := range []int{0, -1} {
		_, err := New(limit, newChanSource())
		assert.ErrorIs(t, err, ErrInvalidLimit)
	}
}

func TestWaitSkipsIrrelevantEvents(t *testing.T) {
	src := newChanSource()
	w, err := New(5, src)
	require.NoError(t, err)

	src.events <- xconn.Event{Kind: xconn.EventOther, Detail: "KeyPress"}
	src.events <- xconn.Event{Kind: xconn.EventPropertyNotify, Atom: opacityAtom}
	src.events <- xconn.Event{Kind: xconn.EventOther, Atom: activeAtom}
	src.focusShift()
	src.events <- xconn.Event{Kind: xconn.EventOther, Detail: "left over"}

	require.NoError(t, w.Wait(context.Background()))
	assert.Len(t, src.events, 1)
	assert.Equal(t, 1, w.Calls())
}

func TestTerminationIsOffByOne(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(2, 12).Draw(rt, "limit")

		src := newChanSource()
		exits := 0
		w, err := New(limit, src, WithExitFunc(func() { exits++ }))
		if err != nil {
			rt.Fatalf("New: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for call := 1; call <= limit-2; call++ {
			src.focusShift()
			if err := w.Wait(ctx); err != nil {
				rt.Fatalf("call %d of limit %d: %v", call, limit, err)
			}
			if exits != 0 {
				rt.Fatalf("terminated early on call %d of limit %d", call, limit)
			}
		}

		// no events queued: termination must not depend on them
		if err := w.Wait(ctx); !errors.Is(err, ErrBudgetExhausted) {
			rt.Fatalf("call %d of limit %d returned %v, want ErrBudgetExhausted", limit-1, limit, err)
		}
		if exits != 1 {
			rt.Fatalf("exit called %d times, want 1", exits)
		}
		if w.Calls() != limit-1 {
			rt.Fatalf("Calls() = %d, want %d", w.Calls(), limit-1)
		}
	})
}

func TestLimitOneNeverTerminates(t *testing.T) {
	src := newChanSource()
	w, err := New(1, src)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		src.focusShift()
		require.NoError(t, w.Wait(context.Background()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Wait(ctx), context.DeadlineExceeded)
}

func TestWaitHonoursTimeout(t *testing.T) {
	w, err := New(5, newChanSource(), WithTimeout(10*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	err = w.Wait(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunStopsAfterBudget(t *testing.T) {
	src := newChanSource()
	w, err := New(5, src)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		src.focusShift()
	}

	handled := 0
	err = Run(context.Background(), w.Func(), func(context.Context) error {
		handled++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, handled)
	assert.Equal(t, 4, w.Calls())
}

func TestRunPropagatesHandlerError(t *testing.T) {
	src := newChanSource()
	w, err := New(10, src)
	require.NoError(t, err)
	src.focusShift()

	boom := errors.New("flash failed")
	err = Run(context.Background(), w.Func(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

const exitChildEnv = "FOCUSWAIT_EXIT_CHILD"

// The terminating call ends the process, so the bounded cycle is observed
// from a child process through its exit status.
func TestBoundedCyclesExitCode(t *testing.T) {
	if os.Getenv(exitChildEnv) == "1" {
		src := newChanSource()
		w, err := New(3, src, WithExit(7))
		if err != nil {
			fmt.Println("new failed:", err)
			os.Exit(2)
		}
		src.focusShift()
		if err := w.Wait(context.Background()); err != nil {
			fmt.Println("first call failed:", err)
			os.Exit(2)
		}
		fmt.Println("cycle 1 complete")
		_ = w.Wait(context.Background())
		fmt.Println("second call returned")
		os.Exit(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=^TestBoundedCyclesExitCode$")
	cmd.Env = append(os.Environ(), exitChildEnv+"=1")
	out, err := cmd.Output()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr, "child output:\n%s", out)
	assert.Equal(t, 7, exitErr.ExitCode())
	assert.Contains(t, string(out), "cycle 1 complete")
	assert.NotContains(t, string(out), "second call returned")
}
