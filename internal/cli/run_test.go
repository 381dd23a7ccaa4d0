package cli

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/remote/docstore"
)

// startDaemon runs the daemon in the background and returns its metrics address.
func startDaemon(t *testing.T, env *testEnv, ctx context.Context, opts *RunOptions) (string, <-chan error) {
	t.Helper()
	opts.RootOptions = &RootOptions{Format: "text", Config: env.config}

	ready := make(chan string, 1)
	opts.Ready = func(addr string) { ready <- addr }

	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(&syncBuffer{})
	cmd.SetErr(&syncBuffer{})

	errChan := make(chan error, 1)
	go func() {
		errChan <- runDaemon(opts, cmd)
	}()

	select {
	case addr := <-ready:
		return addr, errChan
	case err := <-errChan:
		t.Fatalf("daemon exited before ready: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not become ready")
	}
	return "", nil
}

func TestRun_SyncsQueueAndServesMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.seedAndPull(t)
	env.mustRun(t, "loi", "create", "--survey", "wells", "--job", "inspect", "--id", "loi-1", "--lat", "1", "--lng", "2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, errChan := startDaemon(t, env, ctx, &RunOptions{})
	require.NotEmpty(t, addr)

	docs, err := docstore.Open(env.path("remote.db"))
	require.NoError(t, err)
	defer docs.Close()
	require.Eventually(t, func() bool {
		_, err := docs.Get(context.Background(), model.LOIDocumentPath("wells", "loi-1"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "daemon should sync the queued location")

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		return resp.StatusCode == http.StatusOK &&
			strings.Contains(string(body), "fieldsync_mutations_synced_total") &&
			strings.Contains(string(body), "fieldsync_work_runs_total")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestRun_MetricsOff(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, errChan := startDaemon(t, env, ctx, &RunOptions{MetricsAddr: "off", Interval: 10 * time.Millisecond})
	assert.Empty(t, addr)

	cancel()
	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestRun_BadMetricsAddr(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "run", "--metrics-addr", "256.0.0.1:bad")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to listen for metrics")
}

func TestRun_MissingConfig(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--config", "/nonexistent/fieldsync.yaml", "run"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}
