package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dot-do/todo/internal/log"
	"github.com/dot-do/todo/internal/types"
	"github.com/dot-do/todo/internal/workflow"
)

// ReconciliationParams optionally narrows a reconciliation run to one
// repo; empty means every sync-enabled repo.
type ReconciliationParams struct {
	Owner string `json:"owner,omitempty"`
	Repo  string `json:"repo,omitempty"`
}

// runReconciliation converges every tracked repo with its remote. The
// repo list is fixed by the fetch-repos step record, so replays iterate
// the same repos in the same order. A failing repo records its error on
// the repo row and does not stop the others.
func (o *Orchestrator) runReconciliation(ctx context.Context, step *workflow.Step, raw json.RawMessage) error {
	var p ReconciliationParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid reconciliation params: %w", err)
	}

	repos, err := workflow.Do(ctx, step, "fetch-repos", func(ctx context.Context) ([]*types.Repo, error) {
		if p.Owner != "" && p.Repo != "" {
			repo, err := o.store.GetRepo(ctx, p.Owner, p.Repo)
			if err != nil {
				return nil, err
			}
			return []*types.Repo{repo}, nil
		}
		return o.store.ListRepos(ctx, true)
	})
	if err != nil {
		return err
	}

	for _, repo := range repos {
		repo := repo
		stepName := "sync-repo-" + repo.FullName()
		if err := step.Do(ctx, stepName, func(ctx context.Context) error {
			return o.syncRepo(ctx, repo)
		}); err != nil {
			return err
		}
	}
	return nil
}

// syncRepo runs one repo's sync pass and records the outcome on the
// repo row. Sync errors are absorbed here; only store failures abort.
func (o *Orchestrator) syncRepo(ctx context.Context, repo *types.Repo) error {
	syncer := o.syncFor(repo)
	now := time.Now().UTC()

	result, err := syncer.Sync(ctx, "")
	if err != nil {
		o.logger.Error("reconciliation failed",
			log.RepoKey, repo.FullName(), log.Error(err))
		return o.store.SetRepoSyncStatus(ctx, repo.Owner, repo.Name, "error", err.Error(), now)
	}

	o.logger.Info("reconciled repo",
		log.RepoKey, repo.FullName(),
		"created", len(result.Created),
		"updated", len(result.Updated),
		"conflicts", len(result.Conflicts),
		"errors", len(result.Errors))
	return o.store.SetRepoSyncStatus(ctx, repo.Owner, repo.Name, "ok", "", now)
}

// StartReconciliation triggers one reconciliation run. An empty owner
// and repo reconciles every sync-enabled repo.
func (o *Orchestrator) StartReconciliation(ctx context.Context, owner, repo string) (string, error) {
	params, err := json.Marshal(ReconciliationParams{Owner: owner, Repo: repo})
	if err != nil {
		return "", err
	}
	id := fmt.Sprintf("reconcile-%d", o.now().UnixNano())
	return o.engine.Start(ctx, id, WorkflowReconciliation, params)
}

// RunReconciliationLoop starts a reconciliation on every tick until the
// context is canceled. Interval zero defaults to five minutes.
func (o *Orchestrator) RunReconciliationLoop(ctx context.Context, interval time.Duration) error {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := o.StartReconciliation(ctx, "", ""); err != nil {
				o.logger.Error("failed to start reconciliation", log.Error(err))
			}
		}
	}
}
