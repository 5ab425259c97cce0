// Package tick runs the scheduler's periodic action pipeline: Allocate,
// Shuffle, Backfill, each over its own fresh snapshot and plugin manager.
package tick

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flame-sh/flame/internal/flame/controller"
	"github.com/flame-sh/flame/internal/flame/logger"
	"github.com/flame-sh/flame/internal/flame/scheduler"
	"github.com/flame-sh/flame/internal/flame/scheduler/allocator"
	"github.com/flame-sh/flame/internal/flame/scheduler/backfill"
	"github.com/flame-sh/flame/internal/flame/scheduler/shuffle"
	"github.com/flame-sh/flame/internal/flame/storage"
)

// defaultMissedHeartbeatLimit mirrors config.SchedulerConfig's own
// default, for callers (tests, mainly) that build a Scheduler directly.
const defaultMissedHeartbeatLimit = 3

// nodeSyncInterval mirrors executormanager's own sync_node poll interval.
// missedHeartbeatLimit consecutive syncs is therefore missedHeartbeatLimit
// * nodeSyncInterval of wall-clock silence, measured directly off the
// node's Heartbeat timestamp rather than counted per-tick: the tick
// interval and the node sync interval run on independent cadences, so a
// per-tick "did it change since last tick" counter would flag a perfectly
// healthy node as lost whenever ticks fire faster than nodes sync.
const nodeSyncInterval = time.Second

// PluginFactory builds a fresh set of plugin instances; the tick loop calls
// it once per action per tick, since a plugin's Setup accumulates its
// bookkeeping from scratch and must never be shared across snapshots.
type PluginFactory func() []scheduler.Plugin

// Scheduler drives the background tick loop over a store and controller.
type Scheduler struct {
	ctrl                 *controller.Controller
	store                storage.Store
	interval             time.Duration
	plugins              PluginFactory
	missedHeartbeatLimit int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Scheduler. Call Start to begin ticking. missedHeartbeatLimit
// <= 0 falls back to config.SchedulerConfig's own default of 3.
func New(ctrl *controller.Controller, store storage.Store, interval time.Duration, missedHeartbeatLimit int, plugins PluginFactory) *Scheduler {
	if missedHeartbeatLimit <= 0 {
		missedHeartbeatLimit = defaultMissedHeartbeatLimit
	}
	return &Scheduler{
		ctrl:                 ctrl,
		store:                store,
		interval:             interval,
		plugins:              plugins,
		missedHeartbeatLimit: missedHeartbeatLimit,
		stopCh:               make(chan struct{}),
	}
}

// Start launches the tick loop in a background goroutine. It returns
// immediately; call Stop to shut it down.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop signals the tick loop to exit and waits for it to return.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				logger.Default().Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// tick runs Allocate -> Shuffle -> Backfill -> reap orphaned tasks in
// order. Any action's error aborts the rest of the tick; the loop retries
// on the next interval.
func (s *Scheduler) tick(ctx context.Context) error {
	if err := s.runAction(ctx, func(pm *scheduler.Manager, snap *storage.Snapshot) error {
		return allocator.New(s.ctrl, pm, snap).Run(ctx)
	}); err != nil {
		return err
	}

	if err := s.runAction(ctx, func(pm *scheduler.Manager, snap *storage.Snapshot) error {
		return shuffle.New(s.ctrl, pm, snap).Run(ctx)
	}); err != nil {
		return err
	}

	if err := s.runAction(ctx, func(pm *scheduler.Manager, snap *storage.Snapshot) error {
		return backfill.New(s.ctrl, pm, snap).Run(ctx)
	}); err != nil {
		return err
	}

	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	return s.reapOrphanedTasks(ctx, snap)
}

// reapOrphanedTasks fails every in-flight task owned by an executor on a
// node that has gone missedHeartbeatLimit consecutive sync_node intervals
// without a heartbeat, as "executor lost", and removes those executor
// records (spec.md §9). Removing the executor record makes this
// naturally idempotent across ticks: once a node's tasks are reaped,
// ListExecutorsByNode no longer returns them, so a still-silent node
// isn't reprocessed.
func (s *Scheduler) reapOrphanedTasks(ctx context.Context, snap *storage.Snapshot) error {
	limit := time.Duration(s.missedHeartbeatLimit) * nodeSyncInterval

	for name, node := range snap.Nodes {
		if time.Since(node.Heartbeat) < limit {
			continue
		}

		executors, err := s.store.ListExecutorsByNode(ctx, name)
		if err != nil {
			return err
		}
		for _, ex := range executors {
			if ex.TaskID == nil || ex.SsnID == nil {
				continue
			}
			if err := s.ctrl.FailOrphanedTask(ctx, ex.ID, *ex.SsnID, *ex.TaskID); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Scheduler) runAction(ctx context.Context, action func(*scheduler.Manager, *storage.Snapshot) error) error {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	pm := scheduler.NewManager(s.plugins()...)
	if err := pm.Setup(snap); err != nil {
		return err
	}
	return action(pm, snap)
}
