package workflow_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dot-do/todo/internal/storage/sqlite"
	"github.com/dot-do/todo/internal/workflow"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// waitForStatus polls until the instance reaches the wanted status.
func waitForStatus(t *testing.T, store workflow.Store, id string, want workflow.InstanceStatus) *workflow.Instance {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		inst, err := store.GetInstance(context.Background(), id)
		if err != nil {
			t.Fatalf("GetInstance failed: %v", err)
		}
		if inst.Status == want {
			return inst
		}
		time.Sleep(5 * time.Millisecond)
	}
	inst, _ := store.GetInstance(context.Background(), id)
	t.Fatalf("instance %s never reached %s (last: %+v)", id, want, inst)
	return nil
}

func TestStartRunsToCompletion(t *testing.T) {
	store := newTestStore(t)
	engine := workflow.NewEngine(store, nil)

	var ran atomic.Int32
	engine.Register("simple", func(ctx context.Context, step *workflow.Step, params json.RawMessage) error {
		return step.Do(ctx, "only", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	})

	id, err := engine.Start(context.Background(), "", "simple", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.Wait()

	if ran.Load() != 1 {
		t.Errorf("step ran %d times, want 1", ran.Load())
	}
	inst := waitForStatus(t, store, id, workflow.StatusComplete)
	if inst.Error != "" {
		t.Errorf("Error = %q, want empty", inst.Error)
	}
}

func TestStartUnknownWorkflow(t *testing.T) {
	engine := workflow.NewEngine(newTestStore(t), nil)
	if _, err := engine.Start(context.Background(), "", "nope", nil); err == nil {
		t.Error("Start accepted unregistered workflow, want error")
	}
}

func TestResumeReplaysCompletedSteps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// State left behind by a previous process: the instance was mid-run
	// with its first step already committed.
	if err := store.CreateInstance(ctx, &workflow.Instance{
		ID:     "wf-replay",
		Name:   "two-steps",
		Status: workflow.StatusRunning,
	}); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	if err := store.PutStepRecord(ctx, &workflow.StepRecord{
		WorkflowID: "wf-replay",
		StepName:   "first",
		Result:     json.RawMessage(`"persisted"`),
	}); err != nil {
		t.Fatalf("PutStepRecord failed: %v", err)
	}

	var firstRuns, secondRuns atomic.Int32
	var firstValue atomic.Value
	engine := workflow.NewEngine(store, nil)
	engine.Register("two-steps", func(ctx context.Context, step *workflow.Step, params json.RawMessage) error {
		value, err := workflow.Do(ctx, step, "first", func(ctx context.Context) (string, error) {
			firstRuns.Add(1)
			return "fresh", nil
		})
		if err != nil {
			return err
		}
		firstValue.Store(value)
		return step.Do(ctx, "second", func(ctx context.Context) error {
			secondRuns.Add(1)
			return nil
		})
	})

	if err := engine.Resume(ctx); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	engine.Wait()

	if firstRuns.Load() != 0 {
		t.Errorf("first step ran %d times, want 0 (persisted result short-circuits)", firstRuns.Load())
	}
	if got := firstValue.Load(); got != "persisted" {
		t.Errorf("first step value = %v, want persisted", got)
	}
	if secondRuns.Load() != 1 {
		t.Errorf("second step ran %d times, want 1", secondRuns.Load())
	}
	waitForStatus(t, store, "wf-replay", workflow.StatusComplete)
}

func TestDuplicateStepFailsInstance(t *testing.T) {
	store := newTestStore(t)
	engine := workflow.NewEngine(store, nil)
	engine.Register("dup", func(ctx context.Context, step *workflow.Step, params json.RawMessage) error {
		if err := step.Do(ctx, "same", func(ctx context.Context) error { return nil }); err != nil {
			return err
		}
		return step.Do(ctx, "same", func(ctx context.Context) error { return nil })
	})

	id, err := engine.Start(context.Background(), "", "dup", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.Wait()

	inst := waitForStatus(t, store, id, workflow.StatusFailed)
	if !strings.Contains(inst.Error, "duplicate step name") {
		t.Errorf("Error = %q, want duplicate step name", inst.Error)
	}
}

func TestWaitForEventDelivery(t *testing.T) {
	store := newTestStore(t)
	engine := workflow.NewEngine(store, nil)

	var received atomic.Value
	engine.Register("waiter", func(ctx context.Context, step *workflow.Step, params json.RawMessage) error {
		payload, err := step.WaitForEvent(ctx, "pr_approved", time.Minute)
		if err != nil {
			return err
		}
		received.Store(string(payload))
		return nil
	})

	id, err := engine.Start(context.Background(), "", "waiter", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	inst := waitForStatus(t, store, id, workflow.StatusPaused)
	if inst.WaitingEvent != "pr_approved" {
		t.Errorf("WaitingEvent = %q, want pr_approved", inst.WaitingEvent)
	}
	if inst.WaitDeadline == nil {
		t.Error("WaitDeadline = nil, want set")
	}

	if err := engine.SendEvent(context.Background(), id, "pr_approved", json.RawMessage(`{"pr":5}`)); err != nil {
		t.Fatalf("SendEvent failed: %v", err)
	}
	engine.Wait()

	waitForStatus(t, store, id, workflow.StatusComplete)
	if got := received.Load(); got != `{"pr":5}` {
		t.Errorf("payload = %v, want {\"pr\":5}", got)
	}
}

func TestWaitForEventTimeout(t *testing.T) {
	store := newTestStore(t)
	engine := workflow.NewEngine(store, nil)
	engine.Register("waiter", func(ctx context.Context, step *workflow.Step, params json.RawMessage) error {
		_, err := step.WaitForEvent(ctx, "never", 30*time.Millisecond)
		return err
	})

	id, err := engine.Start(context.Background(), "", "waiter", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.Wait()

	inst := waitForStatus(t, store, id, workflow.StatusFailed)
	if !strings.Contains(inst.Error, "event wait timed out") {
		t.Errorf("Error = %q, want event wait timed out", inst.Error)
	}
}

func TestEventQueuedBeforeWaitAndFirstWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateInstance(ctx, &workflow.Instance{
		ID:     "wf-queued",
		Name:   "waiter",
		Status: workflow.StatusRunning,
	}); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	engine := workflow.NewEngine(store, nil)
	var received atomic.Value
	engine.Register("waiter", func(ctx context.Context, step *workflow.Step, params json.RawMessage) error {
		payload, err := step.WaitForEvent(ctx, "go", time.Minute)
		if err != nil {
			return err
		}
		received.Store(string(payload))
		return nil
	})

	// Deliver before the wait starts; the second delivery must drop.
	if err := engine.SendEvent(ctx, "wf-queued", "go", json.RawMessage(`"first"`)); err != nil {
		t.Fatalf("SendEvent failed: %v", err)
	}
	if err := engine.SendEvent(ctx, "wf-queued", "go", json.RawMessage(`"second"`)); err != nil {
		t.Fatalf("SendEvent failed: %v", err)
	}

	if err := engine.Resume(ctx); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	engine.Wait()

	waitForStatus(t, store, "wf-queued", workflow.StatusComplete)
	if got := received.Load(); got != `"first"` {
		t.Errorf("payload = %v, want \"first\"", got)
	}
}

func TestSleepResumesPastWakeupImmediately(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateInstance(ctx, &workflow.Instance{
		ID:     "wf-sleep",
		Name:   "sleeper",
		Status: workflow.StatusPaused,
	}); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	// Persisted wakeup from a previous run, already in the past.
	past, _ := json.Marshal(time.Now().UTC().Add(-time.Hour))
	if err := store.PutStepRecord(ctx, &workflow.StepRecord{
		WorkflowID: "wf-sleep",
		StepName:   "sleep#0",
		Result:     past,
	}); err != nil {
		t.Fatalf("PutStepRecord failed: %v", err)
	}

	engine := workflow.NewEngine(store, nil)
	engine.Register("sleeper", func(ctx context.Context, step *workflow.Step, params json.RawMessage) error {
		// A long sleep that must return immediately on replay.
		return step.Sleep(ctx, time.Hour)
	})

	start := time.Now()
	if err := engine.Resume(ctx); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	engine.Wait()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("replayed sleep took %v, want immediate return", elapsed)
	}
	waitForStatus(t, store, "wf-sleep", workflow.StatusComplete)
}

func TestSleepWaitsThenCompletes(t *testing.T) {
	store := newTestStore(t)
	engine := workflow.NewEngine(store, nil)
	engine.Register("sleeper", func(ctx context.Context, step *workflow.Step, params json.RawMessage) error {
		return step.Sleep(ctx, 30*time.Millisecond)
	})

	id, err := engine.Start(context.Background(), "", "sleeper", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.Wait()
	waitForStatus(t, store, id, workflow.StatusComplete)
}

func TestTerminateReleasesWait(t *testing.T) {
	store := newTestStore(t)
	engine := workflow.NewEngine(store, nil)
	engine.Register("waiter", func(ctx context.Context, step *workflow.Step, params json.RawMessage) error {
		_, err := step.WaitForEvent(ctx, "never", time.Hour)
		return err
	})

	id, err := engine.Start(context.Background(), "", "waiter", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForStatus(t, store, id, workflow.StatusPaused)

	if err := engine.Terminate(context.Background(), id); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	engine.Wait()

	inst := waitForStatus(t, store, id, workflow.StatusFailed)
	if inst.Error != "workflow terminated" {
		t.Errorf("Error = %q, want workflow terminated", inst.Error)
	}
}
