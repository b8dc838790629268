package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dot-do/todo/internal/log"
)

// Step is the durable-execution primitive handed to workflow bodies.
// Step names must be unique within one instance; sleep and wait calls
// key their persistence on call order, so bodies must issue them
// deterministically.
type Step struct {
	engine   *Engine
	instance *Instance
	used     map[string]bool
	seq      int
}

// Do runs fn at most once per instance under the given name. If a
// record for the name exists, fn is skipped. The error from fn
// propagates without being recorded, so a failed step reruns on replay.
func (s *Step) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	_, err := s.do(ctx, name, func(ctx context.Context) (json.RawMessage, error) {
		if err := fn(ctx); err != nil {
			return nil, err
		}
		return json.RawMessage("null"), nil
	})
	return err
}

// Do runs fn at most once per instance and returns its decoded result,
// from the persisted record when the step already completed.
func Do[T any](ctx context.Context, s *Step, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := s.do(ctx, name, func(ctx context.Context) (json.RawMessage, error) {
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize step %q result: %w", name, err)
		}
		return encoded, nil
	})
	if err != nil {
		return zero, err
	}

	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, fmt.Errorf("failed to decode step %q result: %w", name, err)
	}
	return value, nil
}

func (s *Step) do(ctx context.Context, name string, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if s.used[name] {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateStep, name)
	}
	s.used[name] = true

	rec, err := s.engine.store.GetStepRecord(ctx, s.instance.ID, name)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec.Result, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	if err := s.engine.store.PutStepRecord(ctx, &StepRecord{
		WorkflowID: s.instance.ID,
		StepName:   name,
		Result:     result,
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// Sleep suspends the instance until now + d. The wakeup time persists,
// so a replay after restart sleeps only the remaining duration, or
// returns immediately if the wakeup has passed.
func (s *Step) Sleep(ctx context.Context, d time.Duration) error {
	key := fmt.Sprintf("sleep#%d", s.seq)
	s.seq++

	rec, err := s.engine.store.GetStepRecord(ctx, s.instance.ID, key)
	if err != nil {
		return err
	}
	var wakeup time.Time
	if rec != nil {
		if err := json.Unmarshal(rec.Result, &wakeup); err != nil {
			return fmt.Errorf("failed to decode wakeup time for %s: %w", key, err)
		}
	} else {
		wakeup = time.Now().UTC().Add(d)
		encoded, err := json.Marshal(wakeup)
		if err != nil {
			return err
		}
		if err := s.engine.store.PutStepRecord(ctx, &StepRecord{
			WorkflowID: s.instance.ID,
			StepName:   key,
			Result:     encoded,
		}); err != nil {
			return err
		}
	}

	remaining := time.Until(wakeup)
	if remaining <= 0 {
		return nil
	}

	s.pause(ctx, "", &wakeup)
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return s.resume(ctx)
	case <-ctx.Done():
		return s.interrupted(ctx)
	}
}

// WaitForEvent suspends the instance until SendEvent delivers the named
// event, or the timeout elapses (ErrEventTimeout). The deadline is
// persisted on first entry so replays do not extend the wait; a
// previously delivered payload returns immediately.
func (s *Step) WaitForEvent(ctx context.Context, name string, timeout time.Duration) (json.RawMessage, error) {
	if payload, ok, err := s.engine.store.GetEvent(ctx, s.instance.ID, name); err != nil {
		return nil, err
	} else if ok {
		return payload, nil
	}

	key := "wait#" + name
	rec, err := s.engine.store.GetStepRecord(ctx, s.instance.ID, key)
	if err != nil {
		return nil, err
	}
	var deadline time.Time
	if rec != nil {
		if err := json.Unmarshal(rec.Result, &deadline); err != nil {
			return nil, fmt.Errorf("failed to decode wait deadline for %s: %w", key, err)
		}
	} else {
		deadline = time.Now().UTC().Add(timeout)
		encoded, err := json.Marshal(deadline)
		if err != nil {
			return nil, err
		}
		if err := s.engine.store.PutStepRecord(ctx, &StepRecord{
			WorkflowID: s.instance.ID,
			StepName:   key,
			Result:     encoded,
		}); err != nil {
			return nil, err
		}
	}

	ch := s.engine.registerWaiter(s.instance.ID, name)
	defer s.engine.removeWaiter(s.instance.ID, name)

	// Re-check after registering: a delivery between the first check and
	// the waiter registration must not be lost.
	if payload, ok, err := s.engine.store.GetEvent(ctx, s.instance.ID, name); err != nil {
		return nil, err
	} else if ok {
		return payload, nil
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrEventTimeout, name)
	}

	s.pause(ctx, name, &deadline)
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case payload := <-ch:
		if err := s.resume(ctx); err != nil {
			return nil, err
		}
		return payload, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrEventTimeout, name)
	case <-ctx.Done():
		return nil, s.interrupted(ctx)
	}
}

// pause marks the instance paused with its wait cursor. Persistence
// failures here are logged, not fatal: the step log remains the source
// of truth on replay.
func (s *Step) pause(ctx context.Context, waitingEvent string, deadline *time.Time) {
	s.instance.Status = StatusPaused
	s.instance.WaitingEvent = waitingEvent
	s.instance.WaitDeadline = deadline
	if err := s.engine.store.UpdateInstance(ctx, s.instance); err != nil {
		s.engine.logger.Error("failed to persist paused instance",
			log.WorkflowKey, s.instance.ID, log.Error(err))
	}
}

func (s *Step) resume(ctx context.Context) error {
	s.instance.Status = StatusRunning
	s.instance.WaitingEvent = ""
	s.instance.WaitDeadline = nil
	return s.engine.store.UpdateInstance(ctx, s.instance)
}

// interrupted maps a context cancellation to the terminate sentinel when
// the engine terminated this instance.
func (s *Step) interrupted(ctx context.Context) error {
	s.engine.mu.Lock()
	terminated := s.engine.terminated[s.instance.ID]
	s.engine.mu.Unlock()
	if terminated {
		return ErrTerminated
	}
	return ctx.Err()
}
