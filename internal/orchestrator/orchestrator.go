// Package orchestrator assigns ready issues to agents and drives the
// development and reconciliation workflows on the durable runtime.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dot-do/todo/internal/agents"
	"github.com/dot-do/todo/internal/dag"
	"github.com/dot-do/todo/internal/github"
	"github.com/dot-do/todo/internal/log"
	"github.com/dot-do/todo/internal/retry"
	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/sync"
	"github.com/dot-do/todo/internal/types"
	"github.com/dot-do/todo/internal/workflow"
)

// Registered workflow names.
const (
	WorkflowDevelopment    = "development"
	WorkflowReconciliation = "reconciliation"
)

// Workflow outcome sentinels, persisted on the failed instance.
var (
	ErrReviewRejected  = errors.New("review rejected")
	ErrApprovalTimeout = errors.New("pr approval timeout")
)

// Remote is the tracker surface the development workflow calls. It is
// satisfied by *github.Client.
type Remote interface {
	CreatePR(ctx context.Context, owner, repo string, req *github.PRRequest) (*github.PRResult, error)
	MergePR(ctx context.Context, owner, repo string, number int, commitMessage string) (*github.MergeResult, error)
	CreateComment(ctx context.Context, owner, repo string, number int, body string) (*github.Comment, error)
}

// Syncer runs one repo's bidirectional sync pass. Satisfied by
// *sync.Engine.
type Syncer interface {
	Sync(ctx context.Context, strategy sync.Strategy) (*sync.Result, error)
}

// SyncFactory builds a Syncer scoped to one tracked repo.
type SyncFactory func(repo *types.Repo) Syncer

// Config holds workflow tunables.
type Config struct {
	PRApprovalTimeout time.Duration // default 7 days
	SandboxTimeout    time.Duration // per execute attempt, default 10 minutes
	BaseBranch        string        // PR merge target, default "main"
	SandboxRetry      retry.Config
	RemoteRetry       retry.Config
}

func (c Config) withDefaults() Config {
	if c.PRApprovalTimeout == 0 {
		c.PRApprovalTimeout = 7 * 24 * time.Hour
	}
	if c.SandboxTimeout == 0 {
		c.SandboxTimeout = 10 * time.Minute
	}
	if c.BaseBranch == "" {
		c.BaseBranch = "main"
	}
	if c.SandboxRetry.MaxRetries == 0 && c.SandboxRetry.BaseDelay == 0 {
		c.SandboxRetry = retry.DefaultConfig()
	}
	if c.RemoteRetry.MaxRetries == 0 && c.RemoteRetry.BaseDelay == 0 {
		c.RemoteRetry = retry.DefaultConfig()
	}
	return c
}

// Orchestrator wires the issue store, agent backends, remote tracker,
// and workflow engine together.
type Orchestrator struct {
	store   storage.Storage
	engine  *workflow.Engine
	remote  Remote
	exec    ExecuteCapable
	review  ReviewCapable
	syncFor SyncFactory
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// Options configures an Orchestrator.
type Options struct {
	Remote      Remote
	Execute     ExecuteCapable
	Review      ReviewCapable
	SyncFactory SyncFactory
	Config      Config
	Logger      *slog.Logger
}

// New creates an orchestrator and registers its workflows on the engine.
func New(store storage.Storage, engine *workflow.Engine, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:   store,
		engine:  engine,
		remote:  opts.Remote,
		exec:    opts.Execute,
		review:  opts.Review,
		syncFor: opts.SyncFactory,
		cfg:     opts.Config.withDefaults(),
		logger:  log.WithComponent(logger, "orchestrator"),
		now:     time.Now,
	}
	engine.Register(WorkflowDevelopment, o.runDevelopment)
	engine.Register(WorkflowReconciliation, o.runReconciliation)
	return o
}

// Assignment is one issue handed to an agent.
type Assignment struct {
	Issue      *types.Issue `json:"issue"`
	Agent      *types.Agent `json:"agent"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
	WorkflowID string       `json:"workflow_id"`
}

// AssignReadyIssues matches every ready unassigned issue to the best
// agent, persists the assignment, and starts a development workflow per
// match. Issues with no matching agent are skipped. Readiness is the
// only throttle.
func (o *Orchestrator) AssignReadyIssues(ctx context.Context, owner, repo string, installationID int64) ([]Assignment, error) {
	graph, err := dag.Snapshot(ctx, o.store)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot dependency graph: %w", err)
	}
	registry, err := o.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	var assignments []Assignment
	for _, issue := range graph.Ready() {
		if issue.Assignee != "" {
			continue
		}
		match := agents.Match(issue, registry)
		if match == nil {
			o.logger.Debug("no agent matches issue", log.IssueKey, issue.ID)
			continue
		}

		if err := o.store.UpdateIssue(ctx, issue.ID, map[string]interface{}{
			"assignee": match.Agent.ID,
		}, "orchestrator"); err != nil {
			o.logger.Error("failed to persist assignment",
				log.IssueKey, issue.ID, log.AgentKey, match.Agent.ID, log.Error(err))
			continue
		}

		if err := o.terminateSuperseded(ctx, issue.ID, match.Agent.ID); err != nil {
			o.logger.Warn("failed to terminate superseded workflow",
				log.IssueKey, issue.ID, log.Error(err))
		}

		params, err := json.Marshal(DevelopmentParams{
			Owner:          owner,
			Repo:           repo,
			InstallationID: installationID,
			IssueID:        issue.ID,
			IssueTitle:     issue.Title,
			AgentID:        match.Agent.ID,
		})
		if err != nil {
			return assignments, fmt.Errorf("failed to marshal workflow params: %w", err)
		}

		// Timestamp disambiguator so a reassignment spawns a fresh instance.
		id := fmt.Sprintf("dev-%s-%s-%d", issue.ID, match.Agent.ID, o.now().Unix())
		if _, err := o.engine.Start(ctx, id, WorkflowDevelopment, params); err != nil {
			o.logger.Error("failed to start development workflow",
				log.IssueKey, issue.ID, log.WorkflowKey, id, log.Error(err))
			continue
		}

		o.logger.Info("assigned issue",
			log.IssueKey, issue.ID, log.AgentKey, match.Agent.ID,
			"confidence", match.Confidence, log.WorkflowKey, id)
		assignments = append(assignments, Assignment{
			Issue:      issue,
			Agent:      match.Agent,
			Confidence: match.Confidence,
			Reason:     match.Reason,
			WorkflowID: id,
		})
	}
	return assignments, nil
}

// terminateSuperseded terminates any in-flight development instance for
// the issue that belongs to a different agent.
func (o *Orchestrator) terminateSuperseded(ctx context.Context, issueID, agentID string) error {
	for _, status := range []workflow.InstanceStatus{workflow.StatusRunning, workflow.StatusPaused} {
		instances, err := o.engine.ListInstances(ctx, status)
		if err != nil {
			return err
		}
		for _, inst := range instances {
			if inst.Name != WorkflowDevelopment {
				continue
			}
			var p DevelopmentParams
			if err := json.Unmarshal(inst.Params, &p); err != nil {
				continue
			}
			if p.IssueID != issueID || p.AgentID == agentID {
				continue
			}
			if err := o.engine.Terminate(ctx, inst.ID); err != nil {
				return err
			}
			o.logger.Info("terminated superseded workflow",
				log.WorkflowKey, inst.ID, log.IssueKey, issueID)
		}
	}
	return nil
}
