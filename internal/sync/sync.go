// Package sync keeps the local issue store and a remote GitHub
// repository convergent. Webhook ingestion handles the push direction
// from GitHub; Push and Pull move batches; Sync runs the full
// bidirectional pass with conflict detection against mapping snapshots.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dot-do/todo/internal/convention"
	"github.com/dot-do/todo/internal/github"
	"github.com/dot-do/todo/internal/log"
	"github.com/dot-do/todo/internal/retry"
	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/types"
)

// Strategy selects how both-sides-changed conflicts resolve.
type Strategy string

// Conflict resolution strategies. NewestWins is the default; on equal
// timestamps the remote side wins.
const (
	StrategyGitHubWins Strategy = "github-wins"
	StrategyLocalWins  Strategy = "local-wins"
	StrategyNewestWins Strategy = "newest-wins"
)

// ParseStrategy validates a configured strategy string. "beads-wins" is
// accepted as a legacy spelling of local-wins.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyGitHubWins, StrategyLocalWins, StrategyNewestWins:
		return Strategy(s), nil
	case "beads-wins":
		return StrategyLocalWins, nil
	case "":
		return StrategyNewestWins, nil
	}
	return "", fmt.Errorf("invalid sync strategy: %q", s)
}

// RemoteClient is the remote tracker surface the engine calls. It is
// satisfied by *github.Client.
type RemoteClient interface {
	CreateIssue(ctx context.Context, owner, repo string, req *github.IssueRequest) (*github.Issue, error)
	UpdateIssue(ctx context.Context, owner, repo string, number int, updates map[string]interface{}) (*github.Issue, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error)
	ListIssues(ctx context.Context, owner, repo string, opts github.ListOptions) ([]github.Issue, error)
}

// Conflict records a both-sides-changed detection and its resolution.
type Conflict struct {
	LocalID       string    `json:"local_id"`
	RemoteNumber  int       `json:"remote_number"`
	LocalUpdated  time.Time `json:"local_updated"`
	RemoteUpdated time.Time `json:"remote_updated"`
	Resolution    string    `json:"resolution"` // github | local
}

// Result accumulates the outcome of one sync entry point. Per-issue
// errors land in Errors; they never abort the batch.
type Result struct {
	Created   []string   `json:"created"`
	Updated   []string   `json:"updated"`
	Conflicts []Conflict `json:"conflicts"`
	Errors    []string   `json:"errors"`
}

func (r *Result) addError(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// Empty reports whether the result carries no entries at all.
func (r *Result) Empty() bool {
	return len(r.Created) == 0 && len(r.Updated) == 0 && len(r.Conflicts) == 0 && len(r.Errors) == 0
}

// Engine synchronizes one (owner, repo) scope.
type Engine struct {
	store          storage.Storage
	client         RemoteClient
	codec          *convention.Codec
	owner          string
	repo           string
	installationID int64
	strategy       Strategy
	retryCfg       retry.Config
	logger         *slog.Logger
}

// Options configures an Engine.
type Options struct {
	Owner          string
	Repo           string
	InstallationID int64
	Strategy       Strategy
	Retry          retry.Config
	Logger         *slog.Logger
}

// New creates a sync engine for one repository scope.
func New(store storage.Storage, client RemoteClient, codec *convention.Codec, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyNewestWins
	}
	retryCfg := opts.Retry
	if retryCfg.MaxRetries == 0 && retryCfg.BaseDelay == 0 {
		retryCfg = retry.DefaultConfig()
	}
	return &Engine{
		store:          store,
		client:         client,
		codec:          codec,
		owner:          opts.Owner,
		repo:           opts.Repo,
		installationID: opts.InstallationID,
		strategy:       strategy,
		retryCfg:       retryCfg,
		logger: log.WithComponent(logger, "sync").With(
			log.RepoKey, opts.Owner+"/"+opts.Repo),
	}
}

// newLocalID mints a local issue id for an issue first seen remotely.
func newLocalID() string {
	return "td-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// Sync runs the full bidirectional pass with the given strategy (empty
// means the engine default). Conflicts are issues changed on both sides
// since the mapping snapshots; everything else flows in its natural
// direction. Absence on either side is never treated as deletion.
func (e *Engine) Sync(ctx context.Context, strategy Strategy) (*Result, error) {
	if strategy == "" {
		strategy = e.strategy
	}
	result := &Result{}

	locals, err := e.store.ListIssues(ctx, types.IssueFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list local issues: %w", err)
	}
	remotes, res := retry.DoValue(ctx, e.retryCfg, func() ([]github.Issue, error) {
		return e.client.ListIssues(ctx, e.owner, e.repo, github.ListOptions{State: "all"})
	}, nil)
	if !res.Success {
		return nil, fmt.Errorf("failed to list remote issues: %w", res.Err)
	}

	remoteByNumber := make(map[int]*github.Issue, len(remotes))
	for i := range remotes {
		remoteByNumber[remotes[i].Number] = &remotes[i]
	}

	for _, local := range locals {
		mapping, err := e.store.GetMappingByLocalID(ctx, e.owner, e.repo, local.ID)
		if err != nil {
			result.addError(fmt.Errorf("mapping lookup for %s: %w", local.ID, err))
			continue
		}

		if mapping == nil {
			// Never pushed: create remotely.
			if err := e.pushIssue(ctx, local, nil, result); err != nil {
				result.addError(err)
			}
			continue
		}

		remote := remoteByNumber[mapping.RemoteNumber]
		delete(remoteByNumber, mapping.RemoteNumber)
		if remote == nil {
			continue
		}

		localChanged := local.UpdatedAt.After(mapping.LocalSnap)
		remoteChanged := remote.UpdatedAt != nil && remote.UpdatedAt.After(mapping.RemoteSnap)

		switch {
		case localChanged && remoteChanged:
			e.resolveConflict(ctx, strategy, local, remote, mapping, result)
		case localChanged:
			if err := e.pushIssue(ctx, local, mapping, result); err != nil {
				result.addError(err)
			}
		case remoteChanged:
			if err := e.updateLocalFromRemote(ctx, local.ID, remote, mapping); err != nil {
				result.addError(err)
			} else {
				result.Updated = append(result.Updated, local.ID)
			}
		}
	}

	// Remote issues never seen locally.
	for _, remote := range remoteByNumber {
		mapping, err := e.store.GetMappingByRemoteNumber(ctx, e.owner, e.repo, remote.Number)
		if err != nil {
			result.addError(fmt.Errorf("mapping lookup for #%d: %w", remote.Number, err))
			continue
		}
		if mapping != nil {
			// Mapped to a local issue missing from the listing; skip.
			continue
		}
		localID, err := e.createLocalFromRemote(ctx, remote)
		if err != nil {
			result.addError(err)
			continue
		}
		result.Created = append(result.Created, localID)
	}

	return result, nil
}

// resolveConflict records the conflict and applies the winning side.
func (e *Engine) resolveConflict(ctx context.Context, strategy Strategy, local *types.Issue, remote *github.Issue, mapping *types.Mapping, result *Result) {
	remoteUpdated := mapping.RemoteSnap
	if remote.UpdatedAt != nil {
		remoteUpdated = *remote.UpdatedAt
	}

	resolution := "github"
	switch strategy {
	case StrategyLocalWins:
		resolution = "local"
	case StrategyGitHubWins:
		resolution = "github"
	default: // newest-wins, ties to remote
		if local.UpdatedAt.After(remoteUpdated) {
			resolution = "local"
		}
	}

	result.Conflicts = append(result.Conflicts, Conflict{
		LocalID:       local.ID,
		RemoteNumber:  remote.Number,
		LocalUpdated:  local.UpdatedAt,
		RemoteUpdated: remoteUpdated,
		Resolution:    resolution,
	})
	e.logger.Warn("sync conflict",
		log.IssueKey, local.ID,
		"remote_number", remote.Number,
		"resolution", resolution)

	var err error
	if resolution == "local" {
		err = e.pushIssue(ctx, local, mapping, nil)
	} else {
		err = e.updateLocalFromRemote(ctx, local.ID, remote, mapping)
	}
	if err != nil {
		result.addError(fmt.Errorf("conflict resolution for %s: %w", local.ID, err))
	}
}
