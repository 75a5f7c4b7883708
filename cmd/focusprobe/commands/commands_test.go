package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/focusprobe/internal/session"
	"github.com/bryanchriswhite/focusprobe/internal/sockets"
	"github.com/bryanchriswhite/focusprobe/internal/watch"
	"github.com/bryanchriswhite/focusprobe/internal/xconn"
	"github.com/bryanchriswhite/focusprobe/internal/xconn/xtest"
)

func TestMain(m *testing.M) {
	os.Exit(xtest.Main(m))
}

func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	_, err = root.ExecuteC()
	return buf.String(), err
}

func tempConfig(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.yaml")
}

func TestParseWindowID(t *testing.T) {
	win, err := parseWindowID("0x1a00003")
	require.NoError(t, err)
	assert.Equal(t, xconn.Window(0x1a00003), win)

	win, err = parseWindowID("27262979")
	require.NoError(t, err)
	assert.Equal(t, xconn.Window(0x1a00003), win)

	_, err = parseWindowID("0")
	assert.Error(t, err)
	_, err = parseWindowID("window1")
	assert.Error(t, err)
	_, err = parseWindowID("0x100000000")
	assert.Error(t, err)
}

func TestConfigPath(t *testing.T) {
	path := tempConfig(t)

	out, err := executeCommand(rootCmd, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))

	_, err = os.Stat(path)
	assert.NoError(t, err, "defaults should be written on first use")
}

func TestConfigShowFormats(t *testing.T) {
	path := tempConfig(t)

	out, err := executeCommand(rootCmd, "--config", path, "config", "show", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "focus_limit: 3")
	assert.Contains(t, out, "grace_period: 10ms")

	out, err = executeCommand(rootCmd, "--config", path, "config", "show", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"focus_limit": 3`)

	_, err = executeCommand(rootCmd, "--config", path, "config", "show", "--format", "toml")
	assert.Error(t, err)
	formatFlag = "yaml"
}

func TestConfigSetAndGet(t *testing.T) {
	path := tempConfig(t)

	out, err := executeCommand(rootCmd, "--config", path, "config", "set", "focus_limit", "6")
	require.NoError(t, err)
	assert.Contains(t, out, "focus_limit = 6")

	out, err = executeCommand(rootCmd, "--config", path, "config", "get", "focus_limit")
	require.NoError(t, err)
	assert.Equal(t, "6", strings.TrimSpace(out))

	_, err = executeCommand(rootCmd, "--config", path, "config", "get", "nonsense")
	assert.Error(t, err)

	_, err = executeCommand(rootCmd, "--config", path, "config", "set", "focus_limit", "0")
	assert.Error(t, err)
}

func TestStubReceivesFlash(t *testing.T) {
	path := tempConfig(t)
	sock := filepath.Join(t.TempDir(), "flash.sock")

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := executeCommand(rootCmd, "--config", path, "stub", "--socket", sock, "--timeout", "5s")
		done <- result{out, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if err := sockets.RequestFlash(sock); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatal("stub never started listening")
		case <-time.After(10 * time.Millisecond):
		}
	}

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, `"1"`, strings.TrimSpace(r.out))
}

func TestPrintTraceMarksUnset(t *testing.T) {
	t.Cleanup(func() { watchRaw, watchJSON = false, false })
	trace := watch.Trace{xconn.OpacityUnset, xconn.MaxOpacity, 0, xconn.OpacityUnset}

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	require.NoError(t, printTrace(cmd, trace))
	assert.Equal(t, "unset\n1.0000\n0.0000\nunset\n", buf.String())

	watchRaw = true
	buf.Reset()
	require.NoError(t, printTrace(cmd, trace))
	assert.Equal(t, "unset\n4294967295\n0\nunset\n", buf.String())

	watchJSON = true
	buf.Reset()
	require.NoError(t, printTrace(cmd, trace))
	assert.JSONEq(t, `[null, 4294967295, 0, null]`, buf.String())
}

func TestWatchWithFocus(t *testing.T) {
	conn := xtest.Dial(t)
	t.Cleanup(func() { watchRaw, watchJSON, watchFocus = false, false, false })

	s, err := session.New(conn, "watched")
	require.NoError(t, err)
	defer s.Destroy()
	win := s.IDs()[0]

	out, err := executeCommand(rootCmd, "--config", tempConfig(t),
		"watch", win.String(), "--duration", "50ms", "--focus", "--raw", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `[null]`, strings.TrimSpace(out))
}
