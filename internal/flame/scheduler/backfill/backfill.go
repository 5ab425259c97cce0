// Package backfill implements the Backfill action: the scheduler tick's
// second placement pass.
package backfill

import (
	"github.com/flame-sh/flame/internal/flame/controller"
	"github.com/flame-sh/flame/internal/flame/scheduler"
	"github.com/flame-sh/flame/internal/flame/scheduler/allocator"
	"github.com/flame-sh/flame/internal/flame/storage"
)

// Backfill reuses Allocate's node-placement mechanics over a snapshot taken
// after Shuffle has run, so it picks up capacity Shuffle didn't touch:
// slots freed by tasks completing naturally during the tick, or sessions
// with unmet desired demand that the plugin's underused predicate left out
// of Shuffle's rebalancing entirely.
type Backfill struct {
	*allocator.Allocator
}

// New builds a Backfill over the given tick's post-Shuffle snapshot.
func New(ctrl *controller.Controller, pm *scheduler.Manager, snap *storage.Snapshot) *Backfill {
	return &Backfill{Allocator: allocator.New(ctrl, pm, snap)}
}
