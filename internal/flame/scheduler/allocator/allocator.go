// Package allocator implements the Allocate action: node-level placement
// of fresh executors against Open sessions' unmet slot demand.
package allocator

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/flame-sh/flame/internal/flame/controller"
	"github.com/flame-sh/flame/internal/flame/model"
	"github.com/flame-sh/flame/internal/flame/scheduler"
	"github.com/flame-sh/flame/internal/flame/storage"
)

type demand struct {
	session   *model.Session
	desired   float64
	allocated float64
	blocked   bool
}

// Allocator runs the Allocate action for a single scheduler tick.
type Allocator struct {
	ctrl *controller.Controller
	pm   *scheduler.Manager
	snap *storage.Snapshot
}

// New builds an Allocator over the given tick's snapshot and plugin
// manager. A fresh Allocator is built every tick.
func New(ctrl *controller.Controller, pm *scheduler.Manager, snap *storage.Snapshot) *Allocator {
	return &Allocator{ctrl: ctrl, pm: pm, snap: snap}
}

func sessionDesired(snap *storage.Snapshot, ssn *model.Session) float64 {
	counters := ssn.Counters()
	desired := float64(counters.Pending+counters.Running) * float64(ssn.Slots)
	if app, ok := snap.Applications[ssn.Application]; ok {
		maxDesired := float64(app.MaxInstances) * float64(ssn.Slots)
		if desired > maxDesired {
			desired = maxDesired
		}
	}
	return desired
}

func sessionAllocated(snap *storage.Snapshot, ssn *model.Session) float64 {
	allocated := 0.0
	for _, ex := range snap.Executors {
		if ex.SsnID != nil && *ex.SsnID == ssn.ID && ex.State != model.ExecutorVoid {
			allocated += float64(ex.Slots)
		}
	}
	return allocated
}

// Run executes one Allocate pass: it repeatedly picks the Open session
// with the highest fair-share priority that still has unmet desired
// demand, tries each node (ordered least-allocated first) until one is
// allocatable, and places an executor there — reusing an already-Idle
// executor on that node when one is available (mirroring the original
// allocate.rs, which only ever binds existing Idle executors) and only
// registering a brand-new one when the node has none to offer. It stops
// when no open session has unmet demand, or when none of the remaining
// sessions can be placed on any node.
func (a *Allocator) Run(ctx context.Context) error {
	demands := make([]*demand, 0, len(a.snap.Sessions))
	for _, ssn := range a.snap.OpenSessions() {
		demands = append(demands, &demand{
			session:   ssn,
			desired:   sessionDesired(a.snap, ssn),
			allocated: sessionAllocated(a.snap, ssn),
		})
	}

	nodes := make([]*model.Node, 0, len(a.snap.Nodes))
	for _, n := range a.snap.Nodes {
		nodes = append(nodes, n)
	}

	claimed := make(map[uuid.UUID]bool)

	for {
		chosen := a.pickSession(demands)
		if chosen == nil {
			break
		}

		sort.SliceStable(nodes, func(i, j int) bool {
			return a.pm.NodeOrderFn(nodes[i], nodes[j]) == scheduler.Less
		})

		placed := false
		for _, node := range nodes {
			// An already-Idle executor's slots were reserved against the
			// node's capacity back when it was first registered, so
			// binding it spends no new capacity: try it before the
			// allocatable check, which only guards minting a new one.
			if idle := a.findIdleExecutor(node.Name, chosen.session.Application, claimed); idle != nil {
				if err := a.ctrl.BindSession(ctx, idle.ID, chosen.session.ID); err != nil {
					return err
				}
				a.pm.OnSessionBind(chosen.session)
				claimed[idle.ID] = true
				chosen.allocated += float64(chosen.session.Slots)
				placed = true
				break
			}

			if !a.pm.IsAllocatable(node, chosen.session) {
				continue
			}

			id := uuid.New()
			if _, err := a.ctrl.CreateExecutor(ctx, id, node.Name, chosen.session.Slots,
				[]string{chosen.session.Application}, chosen.session.ID); err != nil {
				return err
			}
			a.pm.OnCreateExecutor(node, chosen.session)
			claimed[id] = true
			chosen.allocated += float64(chosen.session.Slots)
			placed = true
			break
		}

		if !placed {
			chosen.blocked = true
		}
	}

	return nil
}

// findIdleExecutor returns an unclaimed Idle executor on nodeName that
// already offers application, or nil if none exists. claimed tracks
// executors this Run call has already picked, so a single tick's
// multiple placements onto the same node don't race for the same Idle
// executor twice.
func (a *Allocator) findIdleExecutor(nodeName, application string, claimed map[uuid.UUID]bool) *model.Executor {
	for _, ex := range a.snap.Executors {
		if ex.NodeName != nodeName || ex.State != model.ExecutorIdle || claimed[ex.ID] {
			continue
		}
		if !containsApplication(ex.Applications, application) {
			continue
		}
		return ex
	}
	return nil
}

func containsApplication(applications []string, application string) bool {
	for _, app := range applications {
		if app == application {
			return true
		}
	}
	return false
}

// pickSession returns the unmet, unblocked demand with the smallest
// ssn_order_fn priority (i.e. the session the fair-share plugin considers
// most underserved), or nil if none remain.
func (a *Allocator) pickSession(demands []*demand) *demand {
	var chosen *demand
	for _, d := range demands {
		if d.blocked || d.desired <= d.allocated+1e-9 {
			continue
		}
		if chosen == nil || a.pm.SsnOrderFn(d.session, chosen.session) == scheduler.Less {
			chosen = d
		}
	}
	return chosen
}
