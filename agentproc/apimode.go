// API-mode spawn path: instead of shelling out to a headless coding-agent
// binary, drive the worker turn as a single direct call to the Anthropic
// Messages API. This path has no OS process or pid, so it satisfies the
// same onPID/onDone callback shape as Spawner.Spawn with a synthetic pid of
// 0 — the Supervisor treats pid 0 as "no liveness probe needed", since the
// worker's lifetime is exactly the lifetime of the API call goroutine.
package agentproc

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const defaultAPIModel = anthropic.ModelClaudeSonnet4_20250514

// APISpawner drives a worker turn via direct Anthropic API calls rather
// than a subprocess. It implements the same two-phase start/finish shape as
// Spawner so the Supervisor can use either interchangeably behind the
// Launcher seam.
type APISpawner struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
	log     *zap.Logger
}

// APISpawnerConfig configures the API spawner.
type APISpawnerConfig struct {
	APIKey  string
	Model   string // optional override; defaults to defaultAPIModel
	Timeout time.Duration
}

// NewAPISpawner constructs an APISpawner. The key is threaded through
// config rather than read from the environment directly; the underlying SDK
// still honors ANTHROPIC_API_KEY when APIKey is left empty.
func NewAPISpawner(cfg APISpawnerConfig, log *zap.Logger) *APISpawner {
	model := defaultAPIModel
	if cfg.Model != "" {
		model = anthropic.Model(cfg.Model)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &APISpawner{
		client:  anthropic.NewClient(opts...),
		model:   model,
		timeout: timeout,
		log:     log,
	}
}

// Spawn runs req's system prompt as a single Anthropic Messages API call.
// Unlike Spawner.Spawn, there is no real OS process: onPID fires immediately
// with pid 0, and onDone fires from a background goroutine once the API
// call resolves, carrying the response text in Result.Stdout so downstream
// wireformat.Parse can treat an API-mode turn identically to a CLI-mode one.
func (s *APISpawner) Spawn(ctx context.Context, req SpawnRequest, onPID func(pid int), onDone func(Result)) error {
	onPID(0)
	s.log.Info("agentproc: api-mode worker started", zap.String("worker_id", req.WorkerID))

	go func() {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		prompt := req.SystemPrompt + "\n\n" + MandatoryCommandInstruction + "\n\nCurrent ticket_id: " + req.TicketID

		msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     s.model,
			MaxTokens: 16384,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			onDone(Result{
				WorkerID: req.WorkerID,
				ExitCode: 1,
				Err:      fmt.Errorf("anthropic api call: %w", err),
			})
			return
		}

		var text string
		for _, block := range msg.Content {
			if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
				text += tb.Text
			}
		}

		s.log.Debug("agentproc: api-mode usage",
			zap.String("worker_id", req.WorkerID),
			zap.Int64("input_tokens", msg.Usage.InputTokens),
			zap.Int64("output_tokens", msg.Usage.OutputTokens),
		)

		onDone(Result{
			WorkerID: req.WorkerID,
			ExitCode: 0,
			Stdout:   text,
		})
	}()

	return nil
}
