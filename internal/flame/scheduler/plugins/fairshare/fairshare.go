// Package fairshare implements Flame's default proportional-share
// scheduling plugin.
package fairshare

import (
	"container/heap"

	"github.com/flame-sh/flame/internal/flame/model"
	"github.com/flame-sh/flame/internal/flame/scheduler"
	"github.com/flame-sh/flame/internal/flame/storage"
)

const epsilon = 1e-3

type ssnInfo struct {
	id       int64
	slots    float64
	desired  float64
	deserved float64
	allocated float64
	index    int
}

// ssnHeap is a max-heap over -deserved (smallest deserved pops first),
// mirroring the queue package's container/heap pattern.
type ssnHeap []*ssnInfo

func (h ssnHeap) Len() int            { return len(h) }
func (h ssnHeap) Less(i, j int) bool  { return h[i].deserved < h[j].deserved }
func (h ssnHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *ssnHeap) Push(x interface{}) {
	info := x.(*ssnInfo)
	info.index = len(*h)
	*h = append(*h, info)
}
func (h *ssnHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type nodeInfo struct {
	name        string
	allocatable float64
	allocated   float64
}

// FairShare is the default scheduling Plugin: it builds per-session
// desired/deserved/allocated and per-node allocatable/allocated records
// from the snapshot during Setup, then answers every other hook from
// those records.
type FairShare struct {
	ssn  map[int64]*ssnInfo
	node map[string]*nodeInfo
}

// New constructs a fresh FairShare plugin. A new instance (and a new Setup
// call) is expected every scheduler tick.
func New() *FairShare {
	return &FairShare{
		ssn:  make(map[int64]*ssnInfo),
		node: make(map[string]*nodeInfo),
	}
}

func (f *FairShare) Setup(ss *storage.Snapshot) error {
	for _, sess := range ss.OpenSessions() {
		counters := sess.Counters()
		desired := float64(counters.Pending+counters.Running) * float64(sess.Slots)

		if app, ok := ss.Applications[sess.Application]; ok {
			maxDesired := float64(app.MaxInstances) * float64(sess.Slots)
			if desired > maxDesired {
				desired = maxDesired
			}
		}

		f.ssn[sess.ID] = &ssnInfo{id: sess.ID, slots: float64(sess.Slots), desired: desired}
	}

	remaining := 0.0
	for _, node := range ss.Nodes {
		allocatable := float64(node.Allocatable[unitKey(ss)])
		remaining += allocatable
		f.node[node.Name] = &nodeInfo{name: node.Name, allocatable: allocatable}
	}

	for _, ex := range ss.Executors {
		n, ok := f.node[ex.NodeName]
		if !ok {
			continue
		}
		n.allocated += float64(ex.Slots)

		if ex.SsnID != nil {
			if s, ok := f.ssn[*ex.SsnID]; ok {
				s.allocated += s.slots
			}
		}
	}

	underused := make(ssnHeap, 0, len(f.ssn))
	for _, s := range f.ssn {
		underused = append(underused, s)
	}
	heap.Init(&underused)

	for remaining >= epsilon && underused.Len() > 0 {
		delta := remaining / float64(underused.Len())
		s := heap.Pop(&underused).(*ssnInfo)

		if s.deserved+delta < s.desired {
			s.deserved += delta
			remaining -= delta
			heap.Push(&underused, s)
		} else {
			remaining -= s.desired - s.deserved
			s.deserved = s.desired
		}
	}

	return nil
}

// unitKey picks a single slot-unit dimension to drive the algorithm on;
// Flame's slot unit is a small vector (e.g. cpu=1,mem=2g) but the
// FairShare algorithm itself, per the design notes, reasons about a single
// scalar "slots" quantity, so "cpu" anchors the allocatable conversion. A
// slot unit with no cpu entry falls back to one of its other keys.
func unitKey(ss *storage.Snapshot) string {
	if _, ok := ss.SlotUnit["cpu"]; ok {
		return "cpu"
	}
	for k := range ss.SlotUnit {
		return k
	}
	return "cpu"
}

func (f *FairShare) SsnOrderFn(a, b *model.Session) (scheduler.Ordering, bool) {
	sa, oka := f.ssn[a.ID]
	sb, okb := f.ssn[b.ID]
	if !oka || !okb {
		return scheduler.Equal, false
	}

	left := sa.allocated * sb.deserved
	right := sb.allocated * sa.deserved
	switch {
	case left < right:
		return scheduler.Less, true
	case left > right:
		return scheduler.Greater, true
	default:
		return scheduler.Equal, true
	}
}

func (f *FairShare) NodeOrderFn(a, b *model.Node) (scheduler.Ordering, bool) {
	na, oka := f.node[a.Name]
	nb, okb := f.node[b.Name]
	if !oka || !okb {
		return scheduler.Equal, false
	}

	left := na.allocated * nb.allocatable
	right := nb.allocated * na.allocatable
	switch {
	case left < right:
		return scheduler.Less, true
	case left > right:
		return scheduler.Greater, true
	default:
		return scheduler.Equal, true
	}
}

func (f *FairShare) IsUnderused(ssn *model.Session) (bool, bool) {
	s, ok := f.ssn[ssn.ID]
	if !ok {
		return false, false
	}
	return s.allocated < s.deserved, true
}

func (f *FairShare) IsAllocatable(node *model.Node, ssn *model.Session) (bool, bool) {
	n, ok := f.node[node.Name]
	s, ok2 := f.ssn[ssn.ID]
	if !ok || !ok2 {
		return false, false
	}
	return n.allocated+s.slots <= n.allocatable, true
}

func (f *FairShare) IsReclaimable(ex *model.Executor) (bool, bool) {
	if ex.SsnID == nil {
		return true, true
	}
	s, ok := f.ssn[*ex.SsnID]
	if !ok {
		return false, false
	}
	return s.allocated-s.slots >= s.deserved, true
}

// IsPreemptible uses the same "one-slot headroom over deserved" test as
// IsReclaimable: a session is preemptible exactly when giving up one slot
// still leaves it at or above its fair share.
func (f *FairShare) IsPreemptible(ssn *model.Session) (bool, bool) {
	s, ok := f.ssn[ssn.ID]
	if !ok {
		return false, false
	}
	return s.allocated-s.slots >= s.deserved, true
}

// Filter abstains: FairShare has no notion of per-executor eligibility
// beyond already being bound to the session, which the dispatcher itself
// already guarantees by construction.
func (f *FairShare) Filter(executors []*model.Executor, ssn *model.Session) ([]*model.Executor, bool) {
	return executors, false
}

func (f *FairShare) OnCreateExecutor(node *model.Node, ssn *model.Session) {
	if s, ok := f.ssn[ssn.ID]; ok {
		s.allocated += s.slots
	}
	if n, ok := f.node[node.Name]; ok {
		n.allocated += float64(ssn.Slots)
	}
}

// OnSessionBind accounts for binding an already-registered Idle executor
// to ssn (the Allocate action's steady-state path): the executor's slots
// already count toward the owning node's allocated total from Setup, so
// only the session's own allocated total moves.
func (f *FairShare) OnSessionBind(ssn *model.Session) {
	if s, ok := f.ssn[ssn.ID]; ok {
		s.allocated += s.slots
	}
}

// OnSessionUnbind is Shuffle's counterpart to OnSessionBind: it backs out
// the slots an executor carried while bound to ssn once Shuffle moves it
// elsewhere.
func (f *FairShare) OnSessionUnbind(ssn *model.Session) {
	if s, ok := f.ssn[ssn.ID]; ok {
		s.allocated -= s.slots
	}
}
