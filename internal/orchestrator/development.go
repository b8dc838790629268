package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dot-do/todo/internal/github"
	"github.com/dot-do/todo/internal/log"
	"github.com/dot-do/todo/internal/retry"
	"github.com/dot-do/todo/internal/types"
	"github.com/dot-do/todo/internal/workflow"
)

// DevelopmentParams is the trigger payload of a development workflow.
type DevelopmentParams struct {
	Owner          string `json:"owner"`
	Repo           string `json:"repo"`
	InstallationID int64  `json:"installation_id"`
	IssueID        string `json:"issue_id"`
	IssueTitle     string `json:"issue_title"`
	AgentID        string `json:"agent_id"`
	Context        string `json:"context,omitempty"`
}

// runDevelopment drives one issue from in-progress through execution,
// review, PR, human approval, and merge. All I/O happens inside step
// calls; the body itself is replay-safe control flow.
func (o *Orchestrator) runDevelopment(ctx context.Context, step *workflow.Step, raw json.RawMessage) error {
	var p DevelopmentParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid development params: %w", err)
	}

	if err := step.Do(ctx, "update-in-progress", func(ctx context.Context) error {
		return o.store.UpdateIssue(ctx, p.IssueID, map[string]interface{}{
			"status": types.StatusInProgress,
		}, p.AgentID)
	}); err != nil {
		return err
	}

	exec, err := workflow.Do(ctx, step, "execute", func(ctx context.Context) (*ExecuteResult, error) {
		return o.executeTask(ctx, &p)
	})
	if err != nil {
		return err
	}

	if exec.FilesChanged == 0 {
		return step.Do(ctx, "close-noop", func(ctx context.Context) error {
			return o.store.CloseIssue(ctx, p.IssueID, "no changes", p.AgentID)
		})
	}

	review, err := workflow.Do(ctx, step, "review", func(ctx context.Context) (*ReviewResult, error) {
		return o.reviewDiff(ctx, &p, exec.Diff)
	})
	if err != nil {
		return err
	}

	if !review.Approved {
		if err := step.Do(ctx, "post-review-comments", func(ctx context.Context) error {
			return o.postReviewComments(ctx, &p, review)
		}); err != nil {
			return err
		}
		if err := o.markBlocked(ctx, step, &p); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrReviewRejected, review.Summary)
	}

	pr, err := workflow.Do(ctx, step, "open-pr", func(ctx context.Context) (*github.PRResult, error) {
		return o.openPR(ctx, &p, exec)
	})
	if err != nil {
		return err
	}

	_, err = step.WaitForEvent(ctx, EventPRApproved, o.cfg.PRApprovalTimeout)
	if err != nil {
		if errors.Is(err, workflow.ErrEventTimeout) {
			if berr := o.markBlocked(ctx, step, &p); berr != nil {
				return berr
			}
			return fmt.Errorf("%w: PR #%d", ErrApprovalTimeout, pr.Number)
		}
		return err
	}

	if err := step.Do(ctx, "merge-pr", func(ctx context.Context) error {
		res := retry.Do(ctx, o.cfg.RemoteRetry, func() error {
			_, err := o.remote.MergePR(ctx, p.Owner, p.Repo, pr.Number, "")
			return err
		}, nil)
		if !res.Success {
			return fmt.Errorf("failed to merge PR #%d: %w", pr.Number, res.Err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := step.Do(ctx, "close-issue", func(ctx context.Context) error {
		return o.store.CloseIssue(ctx, p.IssueID, fmt.Sprintf("merged PR #%d", pr.Number), p.AgentID)
	}); err != nil {
		return err
	}

	return step.Do(ctx, "notify-dependents", func(ctx context.Context) error {
		return o.notifyDependents(ctx, &p)
	})
}

// executeTask invokes the execution backend with the sandbox retry
// config and per-attempt timeout.
func (o *Orchestrator) executeTask(ctx context.Context, p *DevelopmentParams) (*ExecuteResult, error) {
	req := &ExecuteRequest{
		Task:    p.IssueTitle,
		Context: p.Context,
		Branch:  branchName(p.IssueID, p.IssueTitle),
		Push:    true,
	}
	result, res := retry.DoValue(ctx, o.cfg.SandboxRetry, func() (*ExecuteResult, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.SandboxTimeout)
		defer cancel()
		return o.exec.Execute(attemptCtx, p.AgentID, req)
	}, nil)
	if !res.Success {
		return nil, fmt.Errorf("execution failed for %s: %w", p.IssueID, res.Err)
	}
	return result, nil
}

func (o *Orchestrator) reviewDiff(ctx context.Context, p *DevelopmentParams, diff string) (*ReviewResult, error) {
	result, res := retry.DoValue(ctx, o.cfg.SandboxRetry, func() (*ReviewResult, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.SandboxTimeout)
		defer cancel()
		return o.review.Review(attemptCtx, p.AgentID, diff)
	}, nil)
	if !res.Success {
		return nil, fmt.Errorf("review failed for %s: %w", p.IssueID, res.Err)
	}
	return result, nil
}

// postReviewComments mirrors the rejection onto the remote issue when a
// mapping exists; unmapped issues only get the local status change.
func (o *Orchestrator) postReviewComments(ctx context.Context, p *DevelopmentParams, review *ReviewResult) error {
	mapping, err := o.store.GetMappingByLocalID(ctx, p.Owner, p.Repo, p.IssueID)
	if err != nil {
		return err
	}
	if mapping == nil {
		return nil
	}
	body := "Automated review rejected the change: " + review.Summary
	if len(review.Comments) > 0 {
		body += "\n\n- " + strings.Join(review.Comments, "\n- ")
	}
	res := retry.Do(ctx, o.cfg.RemoteRetry, func() error {
		_, err := o.remote.CreateComment(ctx, p.Owner, p.Repo, mapping.RemoteNumber, body)
		return err
	}, nil)
	if !res.Success {
		return fmt.Errorf("failed to post review comments on #%d: %w", mapping.RemoteNumber, res.Err)
	}
	return nil
}

func (o *Orchestrator) markBlocked(ctx context.Context, step *workflow.Step, p *DevelopmentParams) error {
	return step.Do(ctx, "mark-blocked", func(ctx context.Context) error {
		return o.store.UpdateIssue(ctx, p.IssueID, map[string]interface{}{
			"status": types.StatusBlocked,
		}, p.AgentID)
	})
}

func (o *Orchestrator) openPR(ctx context.Context, p *DevelopmentParams, exec *ExecuteResult) (*github.PRResult, error) {
	title := p.IssueTitle
	body := fmt.Sprintf("Resolves %s.", p.IssueID)
	if mapping, err := o.store.GetMappingByLocalID(ctx, p.Owner, p.Repo, p.IssueID); err == nil && mapping != nil {
		body = fmt.Sprintf("Closes #%d.", mapping.RemoteNumber)
	}
	result, res := retry.DoValue(ctx, o.cfg.RemoteRetry, func() (*github.PRResult, error) {
		return o.remote.CreatePR(ctx, p.Owner, p.Repo, &github.PRRequest{
			Title: title,
			Body:  body,
			Head:  exec.PushedBranch,
			Base:  o.cfg.BaseBranch,
		})
	}, nil)
	if !res.Success {
		return nil, fmt.Errorf("failed to open PR for %s: %w", p.IssueID, res.Err)
	}
	return result, nil
}

// notifyDependents comments on every mapped issue that was blocked on
// this one. Unmapped dependents are logged only.
func (o *Orchestrator) notifyDependents(ctx context.Context, p *DevelopmentParams) error {
	deps, err := o.store.GetAllDependencyRecords(ctx)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		if dep.Type != types.DepBlocks || dep.DependsOnID != p.IssueID {
			continue
		}
		mapping, err := o.store.GetMappingByLocalID(ctx, p.Owner, p.Repo, dep.IssueID)
		if err != nil || mapping == nil {
			o.logger.Info("dependent unblocked", log.IssueKey, dep.IssueID, "blocker", p.IssueID)
			continue
		}
		body := fmt.Sprintf("Unblocked: %s was completed.", p.IssueID)
		res := retry.Do(ctx, o.cfg.RemoteRetry, func() error {
			_, err := o.remote.CreateComment(ctx, p.Owner, p.Repo, mapping.RemoteNumber, body)
			return err
		}, nil)
		if !res.Success {
			o.logger.Warn("failed to notify dependent",
				log.IssueKey, dep.IssueID, log.Error(res.Err))
		}
	}
	return nil
}

// branchName derives the working branch from the issue id and a slug of
// its title.
func branchName(issueID, title string) string {
	slug := strings.ToLower(title)
	var b strings.Builder
	lastDash := true
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > 40 {
		s = strings.Trim(s[:40], "-")
	}
	if s == "" {
		return issueID
	}
	return issueID + "-" + s
}
