package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dot-do/todo/internal/convention"
	"github.com/dot-do/todo/internal/github"
	"github.com/dot-do/todo/internal/log"
	"github.com/dot-do/todo/internal/retry"
	"github.com/dot-do/todo/internal/types"
)

// Push encodes and uploads the given local issues. Mapped issues update
// their remote counterpart; unmapped ones are created remotely and a
// mapping is inserted. Per-issue failures accumulate in the result.
func (e *Engine) Push(ctx context.Context, issues []*types.Issue) (*Result, error) {
	result := &Result{}
	for _, issue := range issues {
		mapping, err := e.store.GetMappingByLocalID(ctx, e.owner, e.repo, issue.ID)
		if err != nil {
			result.addError(fmt.Errorf("mapping lookup for %s: %w", issue.ID, err))
			continue
		}
		if err := e.pushIssue(ctx, issue, mapping, result); err != nil {
			result.addError(err)
		}
	}
	return result, nil
}

// pushIssue uploads one issue. With a nil mapping it creates the remote
// issue and binds the mapping; otherwise it patches the existing one.
// The result may be nil when the caller tracks outcomes itself.
func (e *Engine) pushIssue(ctx context.Context, issue *types.Issue, mapping *types.Mapping, result *Result) error {
	rels, err := e.relationsFor(ctx, issue)
	if err != nil {
		return fmt.Errorf("failed to resolve relations for %s: %w", issue.ID, err)
	}
	payload := e.codec.Encode(issue, rels)

	if mapping == nil {
		remote, res := retry.DoValue(ctx, e.retryCfg, func() (*github.Issue, error) {
			return e.client.CreateIssue(ctx, e.owner, e.repo, &github.IssueRequest{
				Title:     payload.Title,
				Body:      payload.Body,
				Labels:    payload.Labels,
				Assignees: payload.Assignees,
			})
		}, nil)
		if !res.Success {
			return fmt.Errorf("failed to create remote issue for %s: %w", issue.ID, res.Err)
		}
		// The create endpoint always opens issues; a closed local needs a
		// follow-up state patch before the snapshots are recorded.
		if payload.State == "closed" {
			closed, res := retry.DoValue(ctx, e.retryCfg, func() (*github.Issue, error) {
				return e.client.UpdateIssue(ctx, e.owner, e.repo, remote.Number, map[string]interface{}{
					"state": "closed",
				})
			}, nil)
			if !res.Success {
				return fmt.Errorf("failed to close remote #%d for %s: %w", remote.Number, issue.ID, res.Err)
			}
			remote = closed
		}
		if err := e.bindMapping(ctx, issue, remote); err != nil {
			return err
		}
		if result != nil {
			result.Created = append(result.Created, issue.ID)
		}
		e.logger.Info("pushed new issue", log.IssueKey, issue.ID, "remote_number", remote.Number)
		return nil
	}

	updates := map[string]interface{}{
		"title":     payload.Title,
		"body":      payload.Body,
		"labels":    payload.Labels,
		"assignees": payload.Assignees,
		"state":     payload.State,
	}
	remote, res := retry.DoValue(ctx, e.retryCfg, func() (*github.Issue, error) {
		return e.client.UpdateIssue(ctx, e.owner, e.repo, mapping.RemoteNumber, updates)
	}, nil)
	if !res.Success {
		return fmt.Errorf("failed to update remote #%d for %s: %w", mapping.RemoteNumber, issue.ID, res.Err)
	}

	if err := e.refreshSnaps(ctx, issue, mapping, remote); err != nil {
		return err
	}
	if result != nil {
		result.Updated = append(result.Updated, issue.ID)
	}
	return nil
}

// bindMapping records the remote linkage for a freshly created issue.
func (e *Engine) bindMapping(ctx context.Context, issue *types.Issue, remote *github.Issue) error {
	remoteSnap := time.Now().UTC()
	if remote.UpdatedAt != nil {
		remoteSnap = *remote.UpdatedAt
	}
	if err := e.store.UpsertMapping(ctx, &types.Mapping{
		LocalID:        issue.ID,
		Owner:          e.owner,
		Repo:           e.repo,
		InstallationID: e.installationID,
		RemoteNumber:   remote.Number,
		RemoteURL:      remote.HTMLURL,
		LocalSnap:      issue.UpdatedAt,
		RemoteSnap:     remoteSnap,
	}); err != nil {
		return fmt.Errorf("failed to bind mapping for %s: %w", issue.ID, err)
	}

	now := time.Now().UTC()
	if err := e.store.UpdateIssue(ctx, issue.ID, map[string]interface{}{
		"remote_number":  remote.Number,
		"remote_url":     remote.HTMLURL,
		"last_synced_at": now,
		"updated_at":     issue.UpdatedAt,
	}, "sync"); err != nil {
		return fmt.Errorf("failed to record remote linkage on %s: %w", issue.ID, err)
	}
	return nil
}

// refreshSnaps advances the mapping snapshots after a successful push.
func (e *Engine) refreshSnaps(ctx context.Context, issue *types.Issue, mapping *types.Mapping, remote *github.Issue) error {
	mapping.LocalSnap = issue.UpdatedAt
	if remote.UpdatedAt != nil {
		mapping.RemoteSnap = *remote.UpdatedAt
	} else {
		mapping.RemoteSnap = time.Now().UTC()
	}
	if err := e.store.UpsertMapping(ctx, mapping); err != nil {
		return fmt.Errorf("failed to refresh mapping for %s: %w", issue.ID, err)
	}
	return nil
}

// relationsFor builds the outgoing relation refs for an issue, using
// mapped remote numbers where known and raw local ids otherwise.
func (e *Engine) relationsFor(ctx context.Context, issue *types.Issue) (convention.Relations, error) {
	var rels convention.Relations

	deps, err := e.store.GetDependencyRecords(ctx, issue.ID)
	if err != nil {
		return rels, err
	}
	for _, dep := range deps {
		switch dep.Type {
		case types.DepBlocks:
			ref, err := e.refFor(ctx, dep.DependsOnID)
			if err != nil {
				return rels, err
			}
			rels.DependsOn = append(rels.DependsOn, ref)
		case types.DepParent:
			if rels.Parent == "" {
				ref, err := e.refFor(ctx, dep.DependsOnID)
				if err != nil {
					return rels, err
				}
				rels.Parent = ref
			}
		}
	}

	if rels.Parent == "" && issue.ParentID != "" {
		ref, err := e.refFor(ctx, issue.ParentID)
		if err != nil {
			return rels, err
		}
		rels.Parent = ref
	}

	// Reverse blocks edges: issues this one blocks.
	all, err := e.store.GetAllDependencyRecords(ctx)
	if err != nil {
		return rels, err
	}
	for _, dep := range all {
		if dep.Type == types.DepBlocks && dep.DependsOnID == issue.ID {
			ref, err := e.refFor(ctx, dep.IssueID)
			if err != nil {
				return rels, err
			}
			rels.Blocks = append(rels.Blocks, ref)
		}
	}

	return rels, nil
}

// refFor formats one relation reference: "#n" when a mapping exists for
// the local id, the raw local id otherwise.
func (e *Engine) refFor(ctx context.Context, localID string) (string, error) {
	mapping, err := e.store.GetMappingByLocalID(ctx, e.owner, e.repo, localID)
	if err != nil {
		return "", err
	}
	if mapping == nil {
		return localID, nil
	}
	return "#" + strconv.Itoa(mapping.RemoteNumber), nil
}
