package main

import (
	"context"
	gosync "sync"

	"github.com/dot-do/todo/internal/config"
	"github.com/dot-do/todo/internal/github"
	"github.com/dot-do/todo/internal/orchestrator"
	"github.com/dot-do/todo/internal/sync"
	"github.com/dot-do/todo/internal/types"
	"github.com/dot-do/todo/internal/workflow"
)

// newOrchestrator wires the workflow engine, agent command backend,
// GitHub remote, and sync factory from config. The returned engine is
// the one the orchestrator registered its workflows on.
func newOrchestrator() (*orchestrator.Orchestrator, *workflow.Engine) {
	engine := workflow.NewEngine(dbStore, logger)
	backend := &orchestrator.CommandBackend{
		ExecuteCommand: config.GetStringSlice(config.KeyAgentExecuteCommand),
		ReviewCommand:  config.GetStringSlice(config.KeyAgentReviewCommand),
	}
	orc := orchestrator.New(store, engine, orchestrator.Options{
		Remote:  &dynamicRemote{},
		Execute: backend,
		Review:  backend,
		SyncFactory: func(repo *types.Repo) orchestrator.Syncer {
			engine, err := newSyncEngine(repo, "")
			if err != nil {
				return errSyncer{err}
			}
			return engine
		},
		Config: orchestrator.Config{
			PRApprovalTimeout: config.GetDuration(config.KeyPRApprovalTimeout),
			BaseBranch:        config.GetString(config.KeyBaseBranch),
			SandboxRetry:      config.RetryConfig(),
			RemoteRetry:       config.RetryConfig(),
		},
		Logger: logger,
	})
	return orc, engine
}

// errSyncer defers a sync-engine construction error to the Sync call,
// where the reconciliation workflow records it on the repo row.
type errSyncer struct{ err error }

func (s errSyncer) Sync(ctx context.Context, strategy sync.Strategy) (*sync.Result, error) {
	return nil, s.err
}

// dynamicRemote routes tracker calls to a per-installation GitHub
// client, resolving the installation id from the tracked repo row.
type dynamicRemote struct {
	mu      gosync.Mutex
	clients map[int64]*github.Client
}

func (r *dynamicRemote) clientFor(ctx context.Context, owner, repo string) (*github.Client, error) {
	rec, err := store.GetRepo(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[rec.InstallationID]; ok {
		return client, nil
	}
	client, err := newGitHubClient(rec.InstallationID)
	if err != nil {
		return nil, err
	}
	if r.clients == nil {
		r.clients = map[int64]*github.Client{}
	}
	r.clients[rec.InstallationID] = client
	return client, nil
}

func (r *dynamicRemote) CreatePR(ctx context.Context, owner, repo string, req *github.PRRequest) (*github.PRResult, error) {
	client, err := r.clientFor(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	return client.CreatePR(ctx, owner, repo, req)
}

func (r *dynamicRemote) MergePR(ctx context.Context, owner, repo string, number int, commitMessage string) (*github.MergeResult, error) {
	client, err := r.clientFor(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	return client.MergePR(ctx, owner, repo, number, commitMessage)
}

func (r *dynamicRemote) CreateComment(ctx context.Context, owner, repo string, number int, body string) (*github.Comment, error) {
	client, err := r.clientFor(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	return client.CreateComment(ctx, owner, repo, number, body)
}
