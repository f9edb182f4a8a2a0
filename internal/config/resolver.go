package config

import (
	"context"
	"fmt"

	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/store"
)

// StoreResolver implements supervisor.WorkerTypeResolver by reading the
// project's working directory and a worker type's registered system prompt
// straight out of the Store.
type StoreResolver struct {
	st          store.Store
	agentBinary string
	configDir   string
}

// NewStoreResolver constructs a StoreResolver from the binary's ambient
// config.
func NewStoreResolver(st store.Store, cfg Config) *StoreResolver {
	return &StoreResolver{st: st, agentBinary: cfg.AgentBinary, configDir: cfg.WorkerConfigDir}
}

// SystemPrompt returns the worker type's registered prompt, or a synthetic
// planning prompt for the reserved model.PlanningStage sentinel, which has
// no worker_types row.
func (r *StoreResolver) SystemPrompt(ctx context.Context, projectID, workerType string) (string, error) {
	if workerType == model.PlanningStage {
		return "You are the planning agent. Produce the ticket's execution plan.", nil
	}
	wt, err := r.st.GetWorkerType(ctx, projectID, workerType)
	if err != nil {
		return "", fmt.Errorf("resolve system prompt for %q/%q: %w", projectID, workerType, err)
	}
	return wt.SystemPrompt, nil
}

// ProjectWorkDir returns the project's registered filesystem path.
func (r *StoreResolver) ProjectWorkDir(ctx context.Context, projectID string) (string, error) {
	p, err := r.st.GetProject(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("resolve work dir for %q: %w", projectID, err)
	}
	return p.Path, nil
}

// AgentBinary returns the configured host coding-agent binary.
func (r *StoreResolver) AgentBinary() string {
	return r.agentBinary
}

// ConfigDir returns the directory per-worker config files are written to.
func (r *StoreResolver) ConfigDir() string {
	return r.configDir
}
