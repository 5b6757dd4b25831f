package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roach88/indextrack/internal/config"
	"github.com/roach88/indextrack/internal/testutil"
)

var t0 = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// testEnv is a CLI harness around one SQLite database and a manual clock.
type testEnv struct {
	dbPath string
	clock  *testutil.ManualClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		dbPath: filepath.Join(t.TempDir(), "tracker.db"),
		clock:  testutil.NewManualClock(t0),
	}
}

// rootOptions returns options isolated from the process environment.
func (e *testEnv) rootOptions() *RootOptions {
	return &RootOptions{
		Getenv:  func(string) string { return "" },
		Clock:   e.clock,
		Configs: config.NewCache(nil),
	}
}

// run executes the full command tree against the env's database.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	return e.runContext(t, context.Background(), stdin, args...)
}

// runContext is run with a caller-supplied context.
func (e *testEnv) runContext(t *testing.T, ctx context.Context, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(e.rootOptions())
	cmd.SetContext(ctx)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(append([]string{}, args...), "--db", e.dbPath))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// jsonLines joins lines into index input.
func jsonLines(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// syncBuffer is a bytes.Buffer safe to read while a command writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
