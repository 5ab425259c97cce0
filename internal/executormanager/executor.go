package executormanager

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flame-sh/flame/internal/executormanager/retry"
	"github.com/flame-sh/flame/internal/flame/backendrpc/client"
	"github.com/flame-sh/flame/internal/flame/logger"
	"github.com/flame-sh/flame/internal/flame/shim"
)

// executorState mirrors the Executor Manager's local view of its
// per-executor state loop (spec.md §4.6); it is distinct from the
// authoritative executorstate.State the Session Manager tracks, which
// this loop drives purely through RPCs.
type executorState int

const (
	stateIdle executorState = iota
	stateBound
	stateUnbinding
)

// executorLoop drives one executor through register -> bind -> launch/
// complete -> unbind against the backend RPC client, instantiating a
// shim for the session it's bound to.
type executorLoop struct {
	client      *client.Client
	shims       shim.Factory
	id          uuid.UUID
	application string
	log         *logger.Logger

	active shim.Shim
	ssnID  int64
}

func newExecutorLoop(c *client.Client, shims shim.Factory, id uuid.UUID, application string, log *logger.Logger) *executorLoop {
	return &executorLoop{
		client:      c,
		shims:       shims,
		id:          id,
		application: application,
		log:         log.WithFields(zap.String("executor_id", id.String())),
	}
}

// run drives the executor's whole lifecycle until ctx is cancelled, at
// which point it forces an Unbinding transition and exits — in-flight
// shim invocations are joined, not cancelled, per spec.md §5.
func (l *executorLoop) run(ctx context.Context) {
	state := stateIdle

	for {
		if ctx.Err() != nil && state != stateUnbinding {
			state = stateUnbinding
		}

		var err error
		switch state {
		case stateIdle:
			state, err = l.runIdle(ctx)
		case stateBound:
			state, err = l.runBound(ctx)
		case stateUnbinding:
			l.runUnbinding(context.Background())
			return
		}

		if err != nil {
			l.log.Error("executor step failed, forcing unbind", zap.Error(err))
			state = stateUnbinding
		}
	}
}

func (l *executorLoop) runIdle(ctx context.Context) (executorState, error) {
	var ssnID int64
	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		var err error
		ssnID, err = l.client.BindExecutor(ctx, l.id)
		return err
	})
	if err != nil {
		return stateIdle, err
	}
	l.ssnID = ssnID

	s, err := l.shims(l.application)
	if err != nil {
		// Shim startup errors are fatal to the bind attempt: return to
		// Idle without completing the bind so the scheduler re-allocates.
		l.log.Error("shim instantiation failed", zap.Error(err))
		return stateIdle, nil
	}
	if err := s.OnSessionEnter(ctx, &shim.SessionContext{SsnID: ssnID, Application: l.application}); err != nil {
		l.log.Error("shim session enter failed", zap.Error(err))
		return stateIdle, nil
	}
	l.active = s

	if err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		return l.client.BindExecutorCompleted(ctx, l.id)
	}); err != nil {
		return stateIdle, err
	}
	return stateBound, nil
}

func (l *executorLoop) runBound(ctx context.Context) (executorState, error) {
	task, err := l.client.LaunchTask(ctx, l.id)
	if err != nil {
		return stateBound, err
	}
	if task == nil {
		return stateUnbinding, nil
	}

	output, invokeErr := l.active.OnTaskInvoke(context.WithoutCancel(ctx), &shim.TaskContext{SsnID: task.SsnID, TaskID: task.ID, Input: task.Input})
	failed := invokeErr != nil
	if invokeErr != nil {
		l.log.Warn("task invoke failed", zap.Int64("task_id", task.ID), zap.Error(invokeErr))
	}

	err = retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		return l.client.CompleteTask(ctx, l.id, task.SsnID, task.ID, output, failed)
	})
	if err != nil {
		return stateBound, err
	}
	return stateBound, nil
}

func (l *executorLoop) runUnbinding(ctx context.Context) {
	if err := l.client.UnbindExecutor(ctx, l.id); err != nil {
		l.log.Error("unbind_executor failed", zap.Error(err))
	}

	if l.active != nil {
		if err := l.active.OnSessionLeave(ctx); err != nil {
			l.log.Error("shim session leave failed", zap.Error(err))
		}
		l.active = nil
	}

	if err := l.client.UnbindExecutorCompleted(ctx, l.id); err != nil {
		l.log.Error("unbind_executor_completed failed", zap.Error(err))
	}
}
