package orchestrator

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/dot-do/todo/internal/log"
	"github.com/dot-do/todo/internal/sync"
	"github.com/dot-do/todo/internal/workflow"
)

// EventPRApproved releases a development instance waiting on its pull
// request.
const EventPRApproved = "pr_approved"

// prEventPayload is the subset of pull request webhook payloads the
// router consumes.
type prEventPayload struct {
	Action string `json:"action"`
	Review *struct {
		State string `json:"state"`
	} `json:"review"`
	PullRequest *struct {
		Number int    `json:"number"`
		Merged bool   `json:"merged"`
		Body   string `json:"body"`
	} `json:"pull_request"`
}

var (
	closesRemoteRe = regexp.MustCompile(`(?i)closes #(\d+)`)
	resolvesIDRe   = regexp.MustCompile(`(?i)resolves (td-[a-z0-9]+)`)
)

// HandlePREvent routes pull request webhook deliveries to the waiting
// development instance. An approving review releases the pr_approved
// wait; a PR merged outside the workflow does the same so the instance
// can finish instead of timing out. Everything else is ignored.
func (o *Orchestrator) HandlePREvent(ctx context.Context, owner, repo string, ev *sync.WebhookEvent) error {
	if ev.Kind != "pull_request" && ev.Kind != "pull_request_review" {
		return nil
	}

	var payload prEventPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return err
	}
	if payload.PullRequest == nil {
		return nil
	}
	action := ev.Action
	if action == "" {
		action = payload.Action
	}

	approved := false
	switch ev.Kind {
	case "pull_request_review":
		approved = action == "submitted" && payload.Review != nil && payload.Review.State == "approved"
	case "pull_request":
		approved = action == "closed" && payload.PullRequest.Merged
	}
	if !approved {
		return nil
	}

	issueID, err := o.issueForPRBody(ctx, owner, repo, payload.PullRequest.Body)
	if err != nil || issueID == "" {
		return err
	}

	inst, err := o.findDevelopmentInstance(ctx, owner, repo, issueID)
	if err != nil || inst == nil {
		return err
	}
	o.logger.Info("pr approval received",
		log.WorkflowKey, inst.ID, log.IssueKey, issueID, "pr", payload.PullRequest.Number)
	return o.engine.SendEvent(ctx, inst.ID, EventPRApproved, ev.Payload)
}

// issueForPRBody resolves the local issue a PR closes from its body:
// "Closes #<n>" through the mapping table, or "Resolves <local id>" for
// issues never pushed remotely.
func (o *Orchestrator) issueForPRBody(ctx context.Context, owner, repo, body string) (string, error) {
	if m := closesRemoteRe.FindStringSubmatch(body); m != nil {
		number, _ := strconv.Atoi(m[1])
		mapping, err := o.store.GetMappingByRemoteNumber(ctx, owner, repo, number)
		if err != nil {
			return "", err
		}
		if mapping != nil {
			return mapping.LocalID, nil
		}
	}
	if m := resolvesIDRe.FindStringSubmatch(body); m != nil {
		return m[1], nil
	}
	return "", nil
}

// findDevelopmentInstance locates the active development instance for
// an issue, paused ones first since those are the ones waiting.
func (o *Orchestrator) findDevelopmentInstance(ctx context.Context, owner, repo, issueID string) (*workflow.Instance, error) {
	for _, status := range []workflow.InstanceStatus{workflow.StatusPaused, workflow.StatusRunning} {
		instances, err := o.engine.ListInstances(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, inst := range instances {
			if inst.Name != WorkflowDevelopment {
				continue
			}
			var p DevelopmentParams
			if err := json.Unmarshal(inst.Params, &p); err != nil {
				continue
			}
			if p.Owner == owner && p.Repo == repo && p.IssueID == issueID {
				return inst, nil
			}
		}
	}
	return nil, nil
}
