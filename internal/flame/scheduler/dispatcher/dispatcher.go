// Package dispatcher implements the backend RPC's launch_task suspension
// point: it waits for a Pending task to appear on a Bound executor's
// session, bounded by the application's delay_release window.
package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flame-sh/flame/internal/flame/controller"
	"github.com/flame-sh/flame/internal/flame/ferrors"
	"github.com/flame-sh/flame/internal/flame/model"
	"github.com/flame-sh/flame/internal/flame/scheduler"
	"github.com/flame-sh/flame/internal/flame/storage"
)

// pollInterval is how often LaunchTask retries the atomic claim while
// waiting out delay_release.
const pollInterval = 10 * time.Millisecond

// Dispatcher hands Pending tasks to Bound executors.
type Dispatcher struct {
	ctrl *controller.Controller
	pm   *scheduler.Manager
}

// New builds a Dispatcher over the given controller and the tick's plugin
// manager.
func New(ctrl *controller.Controller, pm *scheduler.Manager) *Dispatcher {
	return &Dispatcher{ctrl: ctrl, pm: pm}
}

// LaunchTask backs the launch_task RPC. It resolves the executor's bound
// session and application, asks the plugin manager to filter the session's
// executors (an empty result just means no plugin currently considers any
// executor eligible; FairShare itself abstains here), then repeatedly tries
// to claim a Pending task until one appears or delay_release elapses. A nil
// task with a nil error means the executor should transition to Unbinding.
func (d *Dispatcher) LaunchTask(ctx context.Context, executorID uuid.UUID) (*model.Task, error) {
	ex, err := d.ctrl.GetExecutor(ctx, executorID)
	if err != nil {
		return nil, err
	}
	if ex.SsnID == nil {
		return nil, nil
	}

	ssn, err := d.ctrl.GetSession(ctx, *ex.SsnID)
	if err != nil {
		return nil, err
	}
	app, err := d.ctrl.GetApplication(ctx, ssn.Application)
	if err != nil {
		return nil, err
	}

	if snap, err := d.ctrl.Snapshot(ctx); err == nil {
		d.pm.Filter(boundExecutors(snap, ssn.ID), ssn)
	}

	deadline := time.Now().Add(app.DelayRelease)
	for {
		task, err := d.ctrl.LaunchTask(ctx, executorID)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ferrors.Network("launch_task cancelled")
		case <-time.After(pollInterval):
		}
	}
}

func boundExecutors(snap *storage.Snapshot, ssnID int64) []*model.Executor {
	var out []*model.Executor
	for _, ex := range snap.Executors {
		if ex.SsnID != nil && *ex.SsnID == ssnID {
			out = append(out, ex)
		}
	}
	return out
}
