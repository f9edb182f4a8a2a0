// Package agentproc implements the child worker process contract: writing a
// per-worker configuration file, spawning the host's coding-agent binary
// headlessly, and collecting its stdout/stderr/exit code. The spawn is
// async — cmd.Start() plus a goroutine around cmd.Wait() — so the
// Supervisor can record the OS pid the instant it is known.
package agentproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MandatoryCommandInstruction is appended to every worker's system prompt so
// the child process knows a trailing fenced command block is required.
const MandatoryCommandInstruction = "You MUST end your output with exactly one fenced code block containing a JSON command object, as described in your instructions. This is mandatory."

// SpawnRequest describes one child worker process to launch.
type SpawnRequest struct {
	WorkerID     string
	TicketID     string
	WorkDir      string
	AgentBinary  string
	SystemPrompt string
	ConfigDir    string
}

// Result is the outcome of a completed child worker run.
type Result struct {
	WorkerID string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Launcher starts one worker turn, reporting its pid (0 for non-process
// launchers, such as APISpawner) as soon as it is known and its Result once
// the turn finishes. Spawner and APISpawner both implement it, letting the
// Supervisor drive either a subprocess CLI worker or a direct API-mode
// worker through the same seam.
type Launcher interface {
	Spawn(ctx context.Context, req SpawnRequest, onPID func(pid int), onDone func(Result)) error
}

// Spawner launches child worker processes and reports their pid as soon as
// it is known, then their result once the process exits.
type Spawner struct {
	log *zap.Logger
}

// New constructs a Spawner.
func New(log *zap.Logger) *Spawner {
	return &Spawner{log: log}
}

// Spawn starts req's child process asynchronously. onPID is invoked the
// moment cmd.Start() returns successfully with the OS pid (so the caller can
// transition the Worker row from spawning to active); onDone is invoked from
// a background goroutine once the process exits, with its Result. Spawn
// itself returns as soon as the process has started, or with an error if it
// could not be started at all.
func (s *Spawner) Spawn(ctx context.Context, req SpawnRequest, onPID func(pid int), onDone func(Result)) error {
	configPath, err := s.writeConfig(req)
	if err != nil {
		return fmt.Errorf("write worker config: %w", err)
	}

	prompt := strings.Join([]string{
		req.SystemPrompt,
		MandatoryCommandInstruction,
		fmt.Sprintf("Current ticket_id: %s", req.TicketID),
	}, "\n\n")

	args := []string{"--print", "--dangerously-skip-permissions", "--config", configPath}
	cmd := exec.CommandContext(ctx, req.AgentBinary, args...)
	cmd.Dir = req.WorkDir
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		os.Remove(configPath)
		return fmt.Errorf("start worker process: %w", err)
	}

	onPID(cmd.Process.Pid)
	s.log.Info("agentproc: worker started", zap.String("worker_id", req.WorkerID), zap.Int("pid", cmd.Process.Pid))

	go func() {
		defer os.Remove(configPath)
		waitErr := cmd.Wait()

		exitCode := 0
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				exitCode = exitErr.ExitCode()
			}
		}

		if stderr.Len() > 0 {
			s.log.Warn("agentproc: worker stderr", zap.String("worker_id", req.WorkerID), zap.String("stderr", stderr.String()))
		}

		onDone(Result{
			WorkerID: req.WorkerID,
			ExitCode: exitCode,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Err:      waitErr,
		})
	}()

	return nil
}

func (s *Spawner) writeConfig(req SpawnRequest) (string, error) {
	if err := os.MkdirAll(req.ConfigDir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	path := filepath.Join(req.ConfigDir, fmt.Sprintf("worker-%s-%d.json", req.WorkerID, time.Now().UnixNano()))
	contents := fmt.Sprintf(`{"worker_id":%q,"ticket_id":%q}`, req.WorkerID, req.TicketID)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		return "", fmt.Errorf("write config file: %w", err)
	}
	return path, nil
}
