package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dot-do/todo/internal/github"
	"github.com/dot-do/todo/internal/log"
	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/types"
)

// WebhookEvent is one validated delivery from the webhook endpoint.
type WebhookEvent struct {
	Kind       string          // X-GitHub-Event header
	Action     string          // payload action, parsed by ProcessWebhook
	DeliveryID string          // X-GitHub-Delivery header
	Payload    json.RawMessage // raw request body
}

// issuesPayload is the subset of the issues event payload we consume.
type issuesPayload struct {
	Action string        `json:"action"`
	Issue  *github.Issue `json:"issue"`
}

// ProcessWebhook applies one webhook delivery to the local store.
// Deliveries are idempotent: the delivery id is reserved in the dedup
// set before any processing, so at most one handler ever processes a
// given id even under concurrent duplicates. Only "issues" events
// mutate state; everything else is recorded and ignored.
func (e *Engine) ProcessWebhook(ctx context.Context, ev *WebhookEvent) (*Result, error) {
	result := &Result{}

	if err := e.store.MarkDelivery(ctx, ev.DeliveryID, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrDuplicateDelivery) {
			e.logger.Debug("duplicate delivery ignored", log.DeliveryKey, ev.DeliveryID)
			return result, nil
		}
		return nil, fmt.Errorf("failed to record delivery %s: %w", ev.DeliveryID, err)
	}

	if ev.Kind == "issues" {
		e.processIssuesEvent(ctx, ev, result)
	}

	// Opportunistic eviction keeps the dedup set bounded.
	if pruned, err := e.store.PruneDeliveries(ctx, time.Now().Add(-types.DeliveryTTL)); err == nil && pruned > 0 {
		e.logger.Debug("pruned expired deliveries", "count", pruned)
	}

	return result, nil
}

func (e *Engine) processIssuesEvent(ctx context.Context, ev *WebhookEvent, result *Result) {
	var payload issuesPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		result.addError(fmt.Errorf("failed to parse issues payload: %w", err))
		return
	}
	if payload.Issue == nil {
		result.addError(fmt.Errorf("issues payload missing issue"))
		return
	}
	action := ev.Action
	if action == "" {
		action = payload.Action
	}

	remote := payload.Issue
	mapping, err := e.store.GetMappingByRemoteNumber(ctx, e.owner, e.repo, remote.Number)
	if err != nil {
		result.addError(fmt.Errorf("mapping lookup for #%d: %w", remote.Number, err))
		return
	}

	switch action {
	case "opened":
		if mapping != nil {
			// Duplicate open for an already-tracked issue.
			return
		}
		localID, err := e.createLocalFromRemote(ctx, remote)
		if err != nil {
			result.addError(err)
			return
		}
		result.Created = append(result.Created, localID)

	case "edited", "labeled", "unlabeled", "assigned", "unassigned", "closed", "reopened":
		if mapping == nil {
			// Out-of-order delivery: treat like an open.
			localID, err := e.createLocalFromRemote(ctx, remote)
			if err != nil {
				result.addError(err)
				return
			}
			result.Created = append(result.Created, localID)
			return
		}
		if err := e.updateLocalFromRemote(ctx, mapping.LocalID, remote, mapping); err != nil {
			result.addError(err)
			return
		}
		result.Updated = append(result.Updated, mapping.LocalID)

	default:
		// Unhandled action; recorded via the dedup set only.
	}
}
