// Package shuffle implements the Shuffle action: rebalancing bound
// executors from preemptible sessions toward underused sessions by
// pipelining them, without dropping through Idle.
package shuffle

import (
	"context"

	"github.com/google/uuid"

	"github.com/flame-sh/flame/internal/flame/controller"
	"github.com/flame-sh/flame/internal/flame/model"
	"github.com/flame-sh/flame/internal/flame/scheduler"
	"github.com/flame-sh/flame/internal/flame/storage"
)

// Shuffle runs the Shuffle action for a single scheduler tick.
type Shuffle struct {
	ctrl *controller.Controller
	pm   *scheduler.Manager
	snap *storage.Snapshot

	bound map[int64][]uuid.UUID // ssn id -> Bound executors still available to move this tick
}

// New builds a Shuffle over the given tick's snapshot and plugin manager.
func New(ctrl *controller.Controller, pm *scheduler.Manager, snap *storage.Snapshot) *Shuffle {
	bound := make(map[int64][]uuid.UUID)
	for _, ex := range snap.Executors {
		if ex.State != model.ExecutorBound || ex.SsnID == nil {
			continue
		}
		bound[*ex.SsnID] = append(bound[*ex.SsnID], ex.ID)
	}
	return &Shuffle{ctrl: ctrl, pm: pm, snap: snap, bound: bound}
}

// Run moves one Bound executor at a time from each preemptible session to
// each underused session, in snapshot order, until either list is
// exhausted or no preemptible session has a movable executor left. Per
// invariant 11, it never touches an executor whose session the plugin
// manager does not currently consider preemptible.
func (s *Shuffle) Run(ctx context.Context) error {
	var underused, preemptible []*model.Session
	for _, ssn := range s.snap.OpenSessions() {
		if s.pm.IsUnderused(ssn) {
			underused = append(underused, ssn)
		}
		if s.pm.IsPreemptible(ssn) {
			preemptible = append(preemptible, ssn)
		}
	}

	ti, si := 0, 0
	for ti < len(underused) && si < len(preemptible) {
		target := underused[ti]
		source := preemptible[si]

		if source.ID == target.ID {
			si++
			continue
		}

		exID, ok := s.popBound(source.ID)
		if !ok {
			si++
			continue
		}

		ex, ok := s.snap.Executors[exID]
		if !ok || !s.pm.IsReclaimable(ex) {
			si++
			continue
		}

		if err := s.ctrl.UnbindExecutor(ctx, exID); err != nil {
			return err
		}
		if err := s.ctrl.PipelineSession(ctx, exID, target.ID); err != nil {
			return err
		}
		s.pm.OnSessionUnbind(source)
		s.pm.OnSessionBind(target)
		ti++
	}

	return nil
}

func (s *Shuffle) popBound(ssnID int64) (uuid.UUID, bool) {
	ids := s.bound[ssnID]
	if len(ids) == 0 {
		return uuid.Nil, false
	}
	id := ids[len(ids)-1]
	s.bound[ssnID] = ids[:len(ids)-1]
	return id, true
}
