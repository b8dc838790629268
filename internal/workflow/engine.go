package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dot-do/todo/internal/log"
)

// Engine runs registered workflows against a Store. Any number of
// instances run concurrently; steps within one instance are serialized
// by construction (the body is a single logical thread).
type Engine struct {
	store  Store
	logger *slog.Logger

	mu         sync.Mutex
	registry   map[string]Body
	waiters    map[string]map[string]chan json.RawMessage // instance -> event -> signal
	cancels    map[string]context.CancelFunc
	terminated map[string]bool

	wg sync.WaitGroup
}

// NewEngine creates an engine over the given store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      store,
		logger:     log.WithComponent(logger, "workflow"),
		registry:   make(map[string]Body),
		waiters:    make(map[string]map[string]chan json.RawMessage),
		cancels:    make(map[string]context.CancelFunc),
		terminated: make(map[string]bool),
	}
}

// Register binds a workflow name to its body. Registration must happen
// before Start or Resume references the name.
func (e *Engine) Register(name string, body Body) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry[name] = body
}

// Start creates a new instance and launches it. An empty id gets a
// generated one. Returns the instance id.
func (e *Engine) Start(ctx context.Context, id, name string, params json.RawMessage) (string, error) {
	e.mu.Lock()
	body, ok := e.registry[name]
	e.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}

	if id == "" {
		id = uuid.NewString()
	}
	if params == nil {
		params = json.RawMessage("{}")
	}
	inst := &Instance{
		ID:     id,
		Name:   name,
		Status: StatusRunning,
		Params: params,
	}
	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return "", err
	}

	e.launch(inst, body)
	return id, nil
}

// Resume relaunches all running and paused instances after a restart.
// Bodies replay from the beginning; completed steps short-circuit.
func (e *Engine) Resume(ctx context.Context) error {
	var instances []*Instance
	for _, status := range []InstanceStatus{StatusRunning, StatusPaused} {
		batch, err := e.store.ListInstances(ctx, status)
		if err != nil {
			return fmt.Errorf("failed to list %s instances: %w", status, err)
		}
		instances = append(instances, batch...)
	}

	for _, inst := range instances {
		e.mu.Lock()
		body, ok := e.registry[inst.Name]
		_, alreadyRunning := e.cancels[inst.ID]
		e.mu.Unlock()
		if alreadyRunning {
			continue
		}
		if !ok {
			e.logger.Warn("cannot resume instance: workflow not registered",
				log.WorkflowKey, inst.ID, "name", inst.Name)
			continue
		}
		e.logger.Info("resuming instance", log.WorkflowKey, inst.ID, "name", inst.Name)
		e.launch(inst, body)
	}
	return nil
}

func (e *Engine) launch(inst *Instance, body Body) {
	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[inst.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.run(runCtx, inst, body)
	}()
}

func (e *Engine) run(ctx context.Context, inst *Instance, body Body) {
	defer func() {
		e.mu.Lock()
		delete(e.cancels, inst.ID)
		delete(e.waiters, inst.ID)
		delete(e.terminated, inst.ID)
		e.mu.Unlock()
	}()

	step := &Step{
		engine:   e,
		instance: inst,
		used:     make(map[string]bool),
	}
	err := body(ctx, step, inst.Params)

	e.mu.Lock()
	wasTerminated := e.terminated[inst.ID]
	e.mu.Unlock()
	if wasTerminated || errors.Is(err, ErrTerminated) {
		// Terminate already persisted the failed state.
		e.logger.Info("instance terminated", log.WorkflowKey, inst.ID)
		return
	}

	finishCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err != nil {
		inst.Status = StatusFailed
		inst.Error = err.Error()
		inst.WaitingEvent = ""
		inst.WaitDeadline = nil
		if uerr := e.store.UpdateInstance(finishCtx, inst); uerr != nil {
			e.logger.Error("failed to persist failed instance", log.WorkflowKey, inst.ID, log.Error(uerr))
		}
		e.logger.Warn("instance failed", log.WorkflowKey, inst.ID, log.Error(err))
		return
	}

	inst.Status = StatusComplete
	inst.Error = ""
	inst.WaitingEvent = ""
	inst.WaitDeadline = nil
	if uerr := e.store.UpdateInstance(finishCtx, inst); uerr != nil {
		e.logger.Error("failed to persist completed instance", log.WorkflowKey, inst.ID, log.Error(uerr))
	}
	e.logger.Info("instance complete", log.WorkflowKey, inst.ID)
}

// SendEvent delivers an event to an instance. Delivery is idempotent by
// (instance, name): the first payload wins, duplicates drop silently.
// Events sent before the corresponding wait are queued for it.
func (e *Engine) SendEvent(ctx context.Context, instanceID, name string, payload json.RawMessage) error {
	first, err := e.store.PutEvent(ctx, instanceID, name, payload)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	e.mu.Lock()
	var ch chan json.RawMessage
	if byName, ok := e.waiters[instanceID]; ok {
		ch = byName[name]
	}
	e.mu.Unlock()
	if ch != nil {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Terminate transitions the instance to failed with cause Terminated. A
// running step's return value is discarded; a paused instance is
// released from its wait.
func (e *Engine) Terminate(ctx context.Context, instanceID string) error {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status == StatusComplete || inst.Status == StatusFailed {
		return nil
	}

	inst.Status = StatusFailed
	inst.Error = ErrTerminated.Error()
	inst.WaitingEvent = ""
	inst.WaitDeadline = nil
	if err := e.store.UpdateInstance(ctx, inst); err != nil {
		return err
	}

	e.mu.Lock()
	e.terminated[instanceID] = true
	cancel := e.cancels[instanceID]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// ListInstances returns instances with the given status.
func (e *Engine) ListInstances(ctx context.Context, status InstanceStatus) ([]*Instance, error) {
	return e.store.ListInstances(ctx, status)
}

// GetInstance returns one instance by id.
func (e *Engine) GetInstance(ctx context.Context, id string) (*Instance, error) {
	return e.store.GetInstance(ctx, id)
}

// Wait blocks until all launched instances have returned. Used on
// shutdown after the listener stops accepting work.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// registerWaiter installs a signal channel for (instance, event).
func (e *Engine) registerWaiter(instanceID, name string) chan json.RawMessage {
	ch := make(chan json.RawMessage, 1)
	e.mu.Lock()
	if e.waiters[instanceID] == nil {
		e.waiters[instanceID] = make(map[string]chan json.RawMessage)
	}
	e.waiters[instanceID][name] = ch
	e.mu.Unlock()
	return ch
}

func (e *Engine) removeWaiter(instanceID, name string) {
	e.mu.Lock()
	if byName, ok := e.waiters[instanceID]; ok {
		delete(byName, name)
	}
	e.mu.Unlock()
}
