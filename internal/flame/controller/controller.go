// Package controller is the internal command surface shared by the
// frontend RPC handler (external to this spec) and the backend RPC
// handler. It coordinates storage mutations with the scheduler and
// exposes the two suspending primitives, watch_task and wait_for_session.
package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/flame-sh/flame/internal/flame/controller/condptr"
	"github.com/flame-sh/flame/internal/flame/events"
	"github.com/flame-sh/flame/internal/flame/executorstate"
	"github.com/flame-sh/flame/internal/flame/ferrors"
	"github.com/flame-sh/flame/internal/flame/model"
	"github.com/flame-sh/flame/internal/flame/storage"
)

type taskKey struct {
	ssnID, taskID int64
}

// Controller coordinates the storage layer with the executor state
// machine and the suspending primitives used across the backend RPC
// boundary.
type Controller struct {
	store storage.Store
	pub   *events.Publisher

	mu           sync.Mutex
	taskWaiters  map[taskKey]*condptr.CondPtr[model.TaskState]
	ssnWaiters   map[uuid.UUID]*condptr.CondPtr[*int64]
}

// New constructs a Controller over the given store. pub may be nil, in
// which case lifecycle events are not published.
func New(store storage.Store, pub *events.Publisher) *Controller {
	return &Controller{
		store:       store,
		pub:         pub,
		taskWaiters: make(map[taskKey]*condptr.CondPtr[model.TaskState]),
		ssnWaiters:  make(map[uuid.UUID]*condptr.CondPtr[*int64]),
	}
}

func (c *Controller) taskWaiter(key taskKey, initial model.TaskState) *condptr.CondPtr[model.TaskState] {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.taskWaiters[key]
	if !ok {
		w = condptr.New(initial)
		c.taskWaiters[key] = w
	}
	return w
}

func (c *Controller) ssnWaiter(id uuid.UUID) *condptr.CondPtr[*int64] {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.ssnWaiters[id]
	if !ok {
		w = condptr.New[*int64](nil)
		c.ssnWaiters[id] = w
	}
	return w
}

// CreateSession allocates a new session for the named application.
func (c *Controller) CreateSession(ctx context.Context, application string, slots int32, commonData []byte) (*model.Session, error) {
	ssn, err := c.store.CreateSession(ctx, application, slots, commonData)
	if err != nil {
		return nil, err
	}
	c.pub.SessionOpened(ctx, ssn)
	return ssn, nil
}

// CloseSession transitions Open -> Closed; idempotent on Closed.
func (c *Controller) CloseSession(ctx context.Context, id int64) (*model.Session, error) {
	ssn, err := c.store.CloseSession(ctx, id)
	if err != nil {
		return nil, err
	}
	c.pub.SessionClosed(ctx, ssn)
	return ssn, nil
}

func (c *Controller) GetSession(ctx context.Context, id int64) (*model.Session, error) {
	return c.store.GetSession(ctx, id)
}

func (c *Controller) ListSessions(ctx context.Context) ([]*model.Session, error) {
	return c.store.ListSessions(ctx)
}

// CreateTask enqueues a Pending task in the given session.
func (c *Controller) CreateTask(ctx context.Context, ssnID int64, input []byte) (*model.Task, error) {
	return c.store.CreateTask(ctx, ssnID, input)
}

func (c *Controller) GetTask(ctx context.Context, ssnID, taskID int64) (*model.Task, error) {
	return c.store.GetTask(ctx, ssnID, taskID)
}

func (c *Controller) GetApplication(ctx context.Context, name string) (*model.Application, error) {
	return c.store.GetApplication(ctx, name)
}

func (c *Controller) GetExecutor(ctx context.Context, id uuid.UUID) (*model.Executor, error) {
	return c.store.GetExecutor(ctx, id)
}

// ListExecutorsByNode reports the authoritative set of executors the
// scheduler has placed on nodeName, for sync_node to hand back to the
// Executor Manager.
func (c *Controller) ListExecutorsByNode(ctx context.Context, nodeName string) ([]*model.Executor, error) {
	return c.store.ListExecutorsByNode(ctx, nodeName)
}

// RegisterNode is sync_node's first-contact path: it (re)registers a node
// and its allocatable resources.
func (c *Controller) RegisterNode(ctx context.Context, node *model.Node) error {
	return c.store.RegisterNode(ctx, node)
}

// Heartbeat refreshes a previously registered node's liveness timestamp.
func (c *Controller) Heartbeat(ctx context.Context, nodeName string) error {
	return c.store.Heartbeat(ctx, nodeName)
}

func (c *Controller) Snapshot(ctx context.Context) (*storage.Snapshot, error) {
	return c.store.Snapshot(ctx)
}

// WatchTask returns when the task's state changes from the state observed
// at call time, or immediately if the task is already terminal.
func (c *Controller) WatchTask(ctx context.Context, ssnID, taskID int64) (model.TaskState, error) {
	task, err := c.store.GetTask(ctx, ssnID, taskID)
	if err != nil {
		return "", err
	}
	observed := task.State
	w := c.taskWaiter(taskKey{ssnID, taskID}, observed)
	w.Set(observed)

	state, err := w.Wait(ctx, func(s model.TaskState) bool {
		return s != observed || s.IsTerminal()
	})
	if err != nil {
		return "", ferrors.Network("watch_task cancelled")
	}
	return state, nil
}

// WaitForSession returns the session id once the scheduler has set
// executor.SsnID.
func (c *Controller) WaitForSession(ctx context.Context, executorID uuid.UUID) (int64, error) {
	w := c.ssnWaiter(executorID)

	ssnID, err := w.Wait(ctx, func(v *int64) bool { return v != nil })
	if err != nil {
		return 0, ferrors.Network("wait_for_session cancelled")
	}
	return *ssnID, nil
}

// RegisterExecutor validates the Void -> Idle transition and creates the
// executor record.
func (c *Controller) RegisterExecutor(ctx context.Context, id uuid.UUID, nodeName string, slots int32, applications []string) (*model.Executor, error) {
	if _, err := executorstate.From(model.ExecutorVoid).RegisterExecutor(); err != nil {
		return nil, err
	}
	ex, err := c.store.RegisterExecutor(ctx, id, nodeName, slots, applications)
	if err != nil {
		return nil, err
	}
	c.ssnWaiter(id) // pre-create so a concurrent wait_for_session never misses the first bind
	return ex, nil
}

// CreateExecutor is called by the Allocate action: it atomically registers
// a fresh executor for the given node and immediately binds it to the
// session, recording SsnID and waking any wait_for_session poller.
func (c *Controller) CreateExecutor(ctx context.Context, id uuid.UUID, nodeName string, slots int32, applications []string, ssnID int64) (*model.Executor, error) {
	ex, err := c.store.RegisterExecutor(ctx, id, nodeName, slots, applications)
	if err != nil {
		return nil, err
	}
	if err := c.bindSession(ctx, id, ssnID); err != nil {
		return nil, err
	}
	return ex, nil
}

// BindSession is the scheduler's sole write path for executor.SsnID; it
// validates the Idle -> Binding transition, mutates storage and wakes the
// executor's wait_for_session poller.
func (c *Controller) BindSession(ctx context.Context, executorID uuid.UUID, ssnID int64) error {
	return c.bindSession(ctx, executorID, ssnID)
}

func (c *Controller) bindSession(ctx context.Context, executorID uuid.UUID, ssnID int64) error {
	ex, err := c.store.GetExecutor(ctx, executorID)
	if err != nil {
		return err
	}
	if _, err := executorstate.From(ex.State).BindExecutor(); err != nil {
		return err
	}
	if err := c.store.BindExecutorSession(ctx, executorID, ssnID); err != nil {
		return err
	}
	c.ssnWaiter(executorID).Set(&ssnID)

	if bound, err := c.store.GetExecutor(ctx, executorID); err == nil {
		c.pub.ExecutorBound(ctx, bound)
	}
	return nil
}

// BindSessionCompleted transitions Binding -> Bound.
func (c *Controller) BindSessionCompleted(ctx context.Context, executorID uuid.UUID) error {
	ex, err := c.store.GetExecutor(ctx, executorID)
	if err != nil {
		return err
	}
	if _, err := executorstate.From(ex.State).BindExecutorCompleted(); err != nil {
		return err
	}
	return c.store.BindExecutorCompleted(ctx, executorID)
}

// LaunchTask validates Bound's launch_task event and atomically claims one
// Pending task from the executor's bound session, transitioning it to
// Running and linking it to the executor. It returns (nil, nil) if the
// session currently has no Pending task; the dispatcher is responsible for
// retrying this within the application's delay_release window.
func (c *Controller) LaunchTask(ctx context.Context, executorID uuid.UUID) (*model.Task, error) {
	ex, err := c.store.GetExecutor(ctx, executorID)
	if err != nil {
		return nil, err
	}
	if _, err := executorstate.From(ex.State).LaunchTask(); err != nil {
		return nil, err
	}
	if ex.SsnID == nil {
		return nil, ferrors.InvalidState(fmt.Sprintf("executor %s has no bound session", executorID))
	}

	task, err := c.store.ClaimPendingTask(ctx, *ex.SsnID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}

	if err := c.store.LaunchExecutorTask(ctx, executorID, task.ID); err != nil {
		return nil, err
	}
	c.taskWaiter(taskKey{task.SsnID, task.ID}, model.TaskRunning).Set(model.TaskRunning)
	return task, nil
}

// CompleteTask records task completion (Succeed, or Failed if failed is
// true) and clears the executor's current task.
func (c *Controller) CompleteTask(ctx context.Context, executorID uuid.UUID, ssnID, taskID int64, output []byte, failed bool) error {
	ex, err := c.store.GetExecutor(ctx, executorID)
	if err != nil {
		return err
	}
	if _, err := executorstate.From(ex.State).CompleteTask(); err != nil {
		return err
	}

	state := model.TaskSucceed
	if failed {
		state = model.TaskFailed
	}
	if _, err := c.store.UpdateTask(ctx, ssnID, taskID, state, output); err != nil {
		return err
	}
	if err := c.store.CompleteExecutorTask(ctx, executorID); err != nil {
		return err
	}
	c.taskWaiter(taskKey{ssnID, taskID}, state).Set(state)

	if task, err := c.store.GetTask(ctx, ssnID, taskID); err == nil {
		c.pub.TaskCompleted(ctx, task)
	}
	return nil
}

// UnbindExecutor transitions Bound -> Unbinding.
func (c *Controller) UnbindExecutor(ctx context.Context, executorID uuid.UUID) error {
	ex, err := c.store.GetExecutor(ctx, executorID)
	if err != nil {
		return err
	}
	if _, err := executorstate.From(ex.State).UnbindExecutor(); err != nil {
		return err
	}
	return c.store.UnbindExecutor(ctx, executorID)
}

// UnbindExecutorCompleted transitions Unbinding -> Idle, clearing SsnID and
// TaskID, and resets the wait_for_session poller for the executor's next
// bind cycle.
func (c *Controller) UnbindExecutorCompleted(ctx context.Context, executorID uuid.UUID) error {
	ex, err := c.store.GetExecutor(ctx, executorID)
	if err != nil {
		return err
	}
	if _, err := executorstate.From(ex.State).UnbindExecutorCompleted(); err != nil {
		return err
	}
	if err := c.store.UnbindExecutorCompleted(ctx, executorID); err != nil {
		return err
	}
	c.ssnWaiter(executorID).Set(nil)
	c.pub.ExecutorUnbound(ctx, ex)
	return nil
}

// FailOrphanedTask fails ssnID/taskID with an "executor lost" output and
// removes the owning executor record, bypassing the normal executor state
// machine validation: the owning node has missed missed_heartbeat_limit
// consecutive sync_node calls (spec.md §9's orphaned-task resolution), so
// the executor's last-known state can no longer be trusted and nothing
// will ever report it back to Idle.
func (c *Controller) FailOrphanedTask(ctx context.Context, executorID uuid.UUID, ssnID, taskID int64) error {
	if _, err := c.store.UpdateTask(ctx, ssnID, taskID, model.TaskFailed, []byte("executor lost")); err != nil {
		return err
	}
	c.taskWaiter(taskKey{ssnID, taskID}, model.TaskFailed).Set(model.TaskFailed)
	if task, err := c.store.GetTask(ctx, ssnID, taskID); err == nil {
		c.pub.TaskCompleted(ctx, task)
	}
	return c.store.RemoveExecutor(ctx, executorID)
}

// PipelineSession is the Shuffle action's pipeline primitive: it atomically
// moves an already-Unbinding executor straight to Binding on a new session,
// without dropping through Idle, and wakes the executor's
// wait_for_session poller with the new session id.
func (c *Controller) PipelineSession(ctx context.Context, executorID uuid.UUID, newSsnID int64) error {
	if err := c.store.PipelineExecutor(ctx, executorID, newSsnID); err != nil {
		return err
	}
	c.ssnWaiter(executorID).Set(&newSsnID)
	return nil
}

func (c *Controller) String() string {
	return fmt.Sprintf("Controller(store=%T)", c.store)
}
