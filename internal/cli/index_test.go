package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/indextrack/internal/shutdown"
	"github.com/roach88/indextrack/internal/testutil"
)

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestIndexGolden(t *testing.T) {
	env := newTestEnv(t)
	g := newGolden(t)

	stdout, stderr, err := env.run(t, jsonLines(
		`{"id": "u1", "precise": "20200101120000.0"}`,
		`{"id": "u2", "coarse": "200101"}`,
		`{"id": "u3", "declared": "2023-05-06T07:08:09Z"}`,
	), "index")
	require.NoError(t, err)
	g.Assert(t, "index_first_run", []byte(stdout))
	assert.Contains(t, stderr, "3 record(s) in biblio (3 created, 0 updated, 0 unchanged), 0 invalid")

	env.clock.Advance(time.Hour)

	stdout, stderr, err = env.run(t, jsonLines(
		`{"id": "u1", "precise": "20200101120000.0"}`,
		`{"id": "u2", "coarse": "210101"}`,
		`{"id": "u4"}`,
	), "index")
	require.NoError(t, err)
	g.Assert(t, "index_second_run", []byte(stdout))
	assert.Contains(t, stderr, "3 record(s) in biblio (1 created, 1 updated, 1 unchanged), 0 invalid")
}

func TestIndexFromFile(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "records.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(jsonLines(`{"id": "u1"}`, ``, `{"id": "u2"}`)), 0644))

	stdout, _, err := env.run(t, "", "index", path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(stdout, "\n"))
}

func TestIndexMissingFile(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run(t, "", "index", filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open input")
}

func TestIndexSkipsInvalidLines(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, err := env.run(t, jsonLines(
		`not json`,
		`{"id": "   "}`,
		`{"id": "u1"}`,
	), "index")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 invalid input line(s) skipped")
	assert.Contains(t, stdout, `"id":"u1"`)
	assert.Contains(t, stderr, "skipping malformed input line")
	assert.Contains(t, stderr, "skipping record with invalid key")

	// The valid record was still tracked.
	stdout, _, err = env.run(t, "", "show", "u1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "first_indexed:      2024-01-02T03:04:05Z")
}

func TestIndexPerRecordNamespace(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run(t, jsonLines(
		`{"id": "a1", "namespace": "authority"}`,
		`{"id": "u1"}`,
	), "index")
	require.NoError(t, err)

	_, _, err = env.run(t, "", "show", "a1", "--namespace", "authority")
	require.NoError(t, err)
	_, _, err = env.run(t, "", "show", "a1")
	require.Error(t, err)
	_, _, err = env.run(t, "", "show", "u1")
	require.NoError(t, err)
}

func TestIndexToleranceFlag(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run(t, jsonLines(`{"id": "u1", "declared": "2024-01-01T00:00:00Z"}`), "index")
	require.NoError(t, err)
	env.clock.Advance(time.Minute)

	stdout, _, err := env.run(t, jsonLines(`{"id": "u1", "declared": "2024-01-01T00:00:01.5Z"}`), "index", "--tolerance", "2s")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"outcome":"noop"`)

	stdout, _, err = env.run(t, jsonLines(`{"id": "u1", "declared": "2024-01-01T00:00:01.5Z"}`), "index")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"outcome":"update"`)
	assert.Contains(t, stdout, `"last_indexed":"2024-01-02T03:05:05Z"`)
}

func TestIndexConfigFile(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "indextrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("namespace: authority\ntolerance: 5s\n"), 0644))

	_, stderr, err := env.run(t, jsonLines(`{"id": "a1"}`), "index", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "1 record(s) in authority")

	_, _, err = env.run(t, "", "show", "a1", "--namespace", "authority")
	require.NoError(t, err)
}

func TestIndexInvalidConfigFile(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "indextrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("driver: mysql\n"), 0644))

	_, _, err := env.run(t, "", "index", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIndexJSONSummary(t *testing.T) {
	env := newTestEnv(t)
	root := env.rootOptions()
	root.Database = env.dbPath
	root.Format = "json"

	cmd := newIndexCommand(&IndexOptions{
		RootOptions: root,
		RunIDs:      testutil.NewFixedRunID("run-1"),
	})
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(jsonLines(`{"id": "u1"}`, `{"id": "u2"}`)))
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string       `json:"status"`
		RunID  string       `json:"run_id"`
		Data   IndexSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(summaryLine(t, stderr.String())), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, IndexSummary{
		RunID:     "run-1",
		Namespace: "biblio",
		Records:   2,
		Created:   2,
	}, resp.Data)
}

func TestIndexStopsCleanlyDuringShutdown(t *testing.T) {
	env := newTestEnv(t)
	root := env.rootOptions()
	root.Database = env.dbPath

	coord := shutdown.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, coord.Begin())

	cmd := newIndexCommand(&IndexOptions{
		RootOptions: root,
		RunIDs:      testutil.NewFixedRunID("run-1"),
		Shutdown:    coord,
	})
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(jsonLines(`{"id": "u1"}`, `{"id": "u2"}`)))
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "run run-1: 0 record(s) in biblio")
	assert.Contains(t, stderr.String(), "run interrupted by shutdown")
}

func TestIndexStalledInputStopsOnShutdown(t *testing.T) {
	env := newTestEnv(t)
	root := env.rootOptions()
	root.Database = env.dbPath

	coord := shutdown.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	cmd := newIndexCommand(&IndexOptions{
		RootOptions: root,
		RunIDs:      testutil.NewFixedRunID("run-1"),
		Shutdown:    coord,
	})

	pr, pw := io.Pipe()
	defer pw.Close()
	stdout := &syncBuffer{}
	stderr := &syncBuffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(pr)
	cmd.SetArgs([]string{})

	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()

	// One record gets through, then the producer stalls without closing.
	_, err := io.WriteString(pw, `{"id": "u1"}`+"\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), `"id":"u1"`)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, coord.Begin())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("index still blocked on stalled input after shutdown began")
	}
	assert.Contains(t, stderr.String(), "run run-1: 1 record(s) in biblio")
	assert.Contains(t, stderr.String(), "run interrupted by shutdown")
}

func TestIndexStalledInputStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	pr, pw := io.Pipe()
	defer pw.Close()

	cmd := newRootCommand(env.rootOptions())
	cmd.SetContext(ctx)
	cmd.SetOut(io.Discard)
	stderr := &syncBuffer{}
	cmd.SetErr(stderr)
	cmd.SetIn(pr)
	cmd.SetArgs([]string{"index", "--db", env.dbPath})

	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("index still blocked on stalled input after cancel")
	}
	assert.Contains(t, stderr.String(), "run interrupted by shutdown")
}

func TestIndexServesMetrics(t *testing.T) {
	env := newTestEnv(t)

	_, stderr, err := env.run(t, jsonLines(`{"id": "u1"}`), "index", "--metrics-addr", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, stderr, "serving metrics")
}

// summaryLine returns the JSON line from stderr, skipping log lines.
func summaryLine(t *testing.T, stderr string) string {
	t.Helper()
	for _, line := range strings.Split(stderr, "\n") {
		if strings.HasPrefix(line, "{") {
			return line
		}
	}
	t.Fatalf("no JSON summary in stderr:\n%s", stderr)
	return ""
}
