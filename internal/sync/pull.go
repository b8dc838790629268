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

// Pull lists remote issues and imports them: unmapped remotes become new
// local issues with a mapping, mapped ones update their local
// counterpart. Nothing is deleted on either side.
func (e *Engine) Pull(ctx context.Context) (*Result, error) {
	result := &Result{}

	remotes, res := retry.DoValue(ctx, e.retryCfg, func() ([]github.Issue, error) {
		return e.client.ListIssues(ctx, e.owner, e.repo, github.ListOptions{State: "all"})
	}, nil)
	if !res.Success {
		return nil, fmt.Errorf("failed to list remote issues: %w", res.Err)
	}

	for i := range remotes {
		remote := &remotes[i]
		mapping, err := e.store.GetMappingByRemoteNumber(ctx, e.owner, e.repo, remote.Number)
		if err != nil {
			result.addError(fmt.Errorf("mapping lookup for #%d: %w", remote.Number, err))
			continue
		}
		if mapping == nil {
			localID, err := e.createLocalFromRemote(ctx, remote)
			if err != nil {
				result.addError(err)
				continue
			}
			result.Created = append(result.Created, localID)
			continue
		}
		if err := e.updateLocalFromRemote(ctx, mapping.LocalID, remote, mapping); err != nil {
			result.addError(err)
			continue
		}
		result.Updated = append(result.Updated, mapping.LocalID)
	}

	return result, nil
}

// createLocalFromRemote decodes a remote issue into a new local issue
// plus its mapping, and applies any decodable relations.
func (e *Engine) createLocalFromRemote(ctx context.Context, remote *github.Issue) (string, error) {
	decoded := e.codec.Decode(&convention.RemotePayload{
		Title:     remote.Title,
		Body:      remote.Body,
		Labels:    github.LabelNames(remote.Labels),
		State:     remote.State,
		Assignees: remote.AssigneeLogins(),
	})

	now := time.Now().UTC()
	issue := &types.Issue{
		ID:           newLocalID(),
		Title:        decoded.Title,
		Description:  decoded.Description,
		Status:       decoded.Status,
		Priority:     decoded.Priority,
		IssueType:    decoded.IssueType,
		Assignee:     decoded.Assignee,
		Labels:       decoded.Labels,
		RemoteNumber: remote.Number,
		RemoteURL:    remote.HTMLURL,
		LastSyncedAt: &now,
	}
	issue.CreatedAt = now
	issue.UpdatedAt = now
	if remote.CreatedAt != nil {
		issue.CreatedAt = *remote.CreatedAt
	}
	if remote.UpdatedAt != nil {
		issue.UpdatedAt = *remote.UpdatedAt
	}
	if decoded.Status == types.StatusClosed {
		closedAt := now
		if remote.ClosedAt != nil {
			closedAt = *remote.ClosedAt
		}
		issue.ClosedAt = &closedAt
	}

	remoteSnap := now
	if remote.UpdatedAt != nil {
		remoteSnap = *remote.UpdatedAt
	}
	// Issue and mapping land in one transaction: losing a creation race on
	// the remote number leaves no orphan issue row behind.
	if err := e.store.CreateIssueWithMapping(ctx, issue, &types.Mapping{
		LocalID:        issue.ID,
		Owner:          e.owner,
		Repo:           e.repo,
		InstallationID: e.installationID,
		RemoteNumber:   remote.Number,
		RemoteURL:      remote.HTMLURL,
		LocalSnap:      issue.UpdatedAt,
		RemoteSnap:     remoteSnap,
	}, "sync"); err != nil {
		return "", fmt.Errorf("failed to import remote #%d: %w", remote.Number, err)
	}

	e.applyRemoteRelations(ctx, issue.ID, decoded)
	e.logger.Info("imported remote issue", log.IssueKey, issue.ID, "remote_number", remote.Number)
	return issue.ID, nil
}

// updateLocalFromRemote overwrites the local issue's synced fields with
// the decoded remote state and advances the mapping snapshots.
func (e *Engine) updateLocalFromRemote(ctx context.Context, localID string, remote *github.Issue, mapping *types.Mapping) error {
	decoded := e.codec.Decode(&convention.RemotePayload{
		Title:     remote.Title,
		Body:      remote.Body,
		Labels:    github.LabelNames(remote.Labels),
		State:     remote.State,
		Assignees: remote.AssigneeLogins(),
	})

	now := time.Now().UTC()
	updatedAt := now
	if remote.UpdatedAt != nil {
		updatedAt = *remote.UpdatedAt
	}

	updates := map[string]interface{}{
		"title":          decoded.Title,
		"description":    decoded.Description,
		"status":         decoded.Status,
		"priority":       decoded.Priority,
		"issue_type":     decoded.IssueType,
		"assignee":       decoded.Assignee,
		"labels":         decoded.Labels,
		"last_synced_at": now,
		"updated_at":     updatedAt,
	}
	if decoded.Status == types.StatusClosed {
		closedAt := updatedAt
		if remote.ClosedAt != nil {
			closedAt = *remote.ClosedAt
		}
		updates["closed_at"] = closedAt
	} else {
		updates["closed_at"] = nil
	}

	if err := e.store.UpdateIssue(ctx, localID, updates, "sync"); err != nil {
		return fmt.Errorf("failed to update local %s from #%d: %w", localID, remote.Number, err)
	}

	mapping.LocalSnap = updatedAt
	mapping.RemoteSnap = updatedAt
	if err := e.store.UpsertMapping(ctx, mapping); err != nil {
		return fmt.Errorf("failed to refresh mapping for %s: %w", localID, err)
	}

	e.applyRemoteRelations(ctx, localID, decoded)
	return nil
}

// applyRemoteRelations adds blocks and parent edges decoded from the
// remote body. Refs are remote numbers; unresolvable ones are skipped
// and picked up once the referenced issue syncs.
func (e *Engine) applyRemoteRelations(ctx context.Context, localID string, decoded convention.Decoded) {
	for _, ref := range decoded.DependsOn {
		blockerID, ok := e.resolveRef(ctx, ref)
		if !ok {
			continue
		}
		e.addDependency(ctx, localID, blockerID, types.DepBlocks)
	}
	for _, ref := range decoded.Blocks {
		dependentID, ok := e.resolveRef(ctx, ref)
		if !ok {
			continue
		}
		e.addDependency(ctx, dependentID, localID, types.DepBlocks)
	}
	if decoded.Parent != "" {
		if parentID, ok := e.resolveRef(ctx, decoded.Parent); ok {
			e.addDependency(ctx, localID, parentID, types.DepParent)
		}
	}
}

func (e *Engine) addDependency(ctx context.Context, issueID, dependsOnID string, depType types.DependencyType) {
	err := e.store.AddDependency(ctx, &types.Dependency{
		IssueID:     issueID,
		DependsOnID: dependsOnID,
		Type:        depType,
	}, "sync")
	if err != nil {
		e.logger.Warn("failed to add synced dependency",
			log.IssueKey, issueID, "depends_on", dependsOnID, log.Error(err))
	}
}

// resolveRef maps a decoded relation ref to a local issue id. Numeric
// refs resolve through the mapping table; non-numeric refs are taken as
// local ids if such an issue exists.
func (e *Engine) resolveRef(ctx context.Context, ref string) (string, bool) {
	if number, err := strconv.Atoi(ref); err == nil {
		mapping, err := e.store.GetMappingByRemoteNumber(ctx, e.owner, e.repo, number)
		if err != nil || mapping == nil {
			return "", false
		}
		return mapping.LocalID, true
	}
	if _, err := e.store.GetIssue(ctx, ref); err != nil {
		return "", false
	}
	return ref, true
}
