package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const surveysDir = "testdata/surveys"

// testEnv is a config file with its databases, media and blob directories in a
// temporary directory.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "media"), 0o755))

	config := filepath.Join(dir, "fieldsync.yaml")
	writeTestFile(t, config, `
database: local.db
media_dir: media
user_id: tester
log_level: warn
remote:
  database: remote.db
  blob_dir: blobs
scheduler:
  backoff:
    initial: 1ms
    max: 2ms
sync:
  interval: 20ms
metrics:
  addr: "127.0.0.1:0"
`)
	return &testEnv{dir: dir, config: config}
}

// run executes the root command with the env's config and returns stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// mustRun is run that fails the test on error.
func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, "fieldsync %v\n%s", args, out)
	return out
}

// runJSON runs with --format json and decodes the response.
func (e *testEnv) runJSON(t *testing.T, data any, args ...string) (CLIResponse, error) {
	t.Helper()
	out, err := e.run(t, append([]string{"--format", "json"}, args...)...)
	resp := CLIResponse{Data: data}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp, err
}

func (e *testEnv) path(name string) string {
	return filepath.Join(e.dir, name)
}

func (e *testEnv) writePhoto(t *testing.T, name string) {
	t.Helper()
	writeTestFile(t, filepath.Join(e.dir, "media", name), "jpeg:"+name)
}

// seedAndPull publishes the test surveys and pulls the wells survey locally.
func (e *testEnv) seedAndPull(t *testing.T) {
	t.Helper()
	e.mustRun(t, "seed", surveysDir)
	e.mustRun(t, "pull", "wells")
}

// mutations lists the local queue through the status command.
func (e *testEnv) mutations(t *testing.T) []MutationView {
	t.Helper()
	var result StatusResult
	resp, err := e.runJSON(t, &result, "status")
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Status)
	return result.Mutations
}

// syncBuffer is a bytes.Buffer safe for a command writing on another goroutine.
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

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
