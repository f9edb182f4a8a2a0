package agentproc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRequest(t *testing.T, binary string) SpawnRequest {
	t.Helper()
	return SpawnRequest{
		WorkerID:     "w1",
		TicketID:     "t1",
		WorkDir:      t.TempDir(),
		AgentBinary:  binary,
		SystemPrompt: "you are a test worker",
		ConfigDir:    t.TempDir(),
	}
}

func TestSpawnReportsPIDThenResult(t *testing.T) {
	s := New(zap.NewNop())

	pidCh := make(chan int, 1)
	doneCh := make(chan Result, 1)

	// echo prints its arguments and exits 0, standing in for the real
	// coding-agent binary.
	err := s.Spawn(context.Background(), testRequest(t, "echo"),
		func(pid int) { pidCh <- pid },
		func(res Result) { doneCh <- res },
	)
	require.NoError(t, err)

	select {
	case pid := <-pidCh:
		assert.Greater(t, pid, 0, "the pid is reported as soon as the process starts")
	case <-time.After(5 * time.Second):
		t.Fatal("onPID was never invoked")
	}

	select {
	case res := <-doneCh:
		assert.Equal(t, "w1", res.WorkerID)
		assert.Equal(t, 0, res.ExitCode)
		assert.NoError(t, res.Err)
		assert.Contains(t, res.Stdout, "--print")
	case <-time.After(5 * time.Second):
		t.Fatal("onDone was never invoked")
	}
}

func TestSpawnFailsWhenBinaryIsMissing(t *testing.T) {
	s := New(zap.NewNop())

	err := s.Spawn(context.Background(), testRequest(t, "definitely-not-a-real-binary"),
		func(int) { t.Fatal("onPID must not fire for a process that never started") },
		func(Result) { t.Fatal("onDone must not fire for a process that never started") },
	)
	assert.Error(t, err)
}

func TestSpawnRemovesConfigFileAfterExit(t *testing.T) {
	s := New(zap.NewNop())
	req := testRequest(t, "true")

	doneCh := make(chan Result, 1)
	err := s.Spawn(context.Background(), req, func(int) {}, func(res Result) { doneCh <- res })
	require.NoError(t, err)

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("onDone was never invoked")
	}

	// The per-worker config file written before spawn is deleted once the
	// process exits.
	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(req.ConfigDir)
		return err == nil && len(entries) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWriteConfigContents(t *testing.T) {
	s := New(zap.NewNop())
	req := testRequest(t, "true")

	path, err := s.writeConfig(req)
	require.NoError(t, err)
	defer os.Remove(path)

	assert.Equal(t, req.ConfigDir, filepath.Dir(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"worker_id":"w1"`)
	assert.Contains(t, string(data), `"ticket_id":"t1"`)
}
