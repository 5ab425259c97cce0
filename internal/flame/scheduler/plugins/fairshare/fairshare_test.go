package fairshare

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/flame-sh/flame/internal/flame/model"
	"github.com/flame-sh/flame/internal/flame/storage"
)

func buildSnapshot(t *testing.T, sessions []*model.Session, nodeSlots int64) *storage.Snapshot {
	t.Helper()
	ss := &storage.Snapshot{
		Sessions:        make(map[int64]*model.Session),
		SessionsByState: map[model.SessionState]map[int64]struct{}{model.SessionOpen: {}},
		Executors:       make(map[uuid.UUID]*model.Executor),
		Applications:    map[string]*model.Application{"echo": {Name: "echo", MaxInstances: 100}},
		Nodes:           map[string]*model.Node{"n1": {Name: "n1", Allocatable: map[string]int64{"cpu": nodeSlots}}},
		SlotUnit:        map[string]int64{"cpu": 1},
	}
	for _, s := range sessions {
		ss.Sessions[s.ID] = s
		ss.SessionsByState[model.SessionOpen][s.ID] = struct{}{}
	}
	return ss
}

func sessionWithPending(id int64, slots int32, pending int) *model.Session {
	s := model.NewSession(id, "echo", slots, nil)
	for i := 0; i < pending; i++ {
		tid := s.NextTaskID()
		s.Tasks[tid] = &model.Task{ID: tid, SsnID: id, State: model.TaskPending, CreatedAt: time.Now()}
		s.TasksByState[model.TaskPending][tid] = struct{}{}
	}
	return s
}

func TestDeservedNeverExceedsDesired(t *testing.T) {
	a := sessionWithPending(1, 1, 8)
	b := sessionWithPending(2, 1, 8)
	ss := buildSnapshot(t, []*model.Session{a, b}, 4)

	fs := New()
	if err := fs.Setup(ss); err != nil {
		t.Fatal(err)
	}

	total := 0.0
	for _, s := range fs.ssn {
		if s.deserved > s.desired+epsilon {
			t.Errorf("session %d: deserved %f exceeds desired %f", s.id, s.deserved, s.desired)
		}
		total += s.deserved
	}
	if total > 4+epsilon {
		t.Errorf("total deserved %f exceeds total allocatable 4", total)
	}
}

func TestEqualSessionsConvergeToEqualShare(t *testing.T) {
	a := sessionWithPending(1, 1, 8)
	b := sessionWithPending(2, 1, 8)
	ss := buildSnapshot(t, []*model.Session{a, b}, 4)

	fs := New()
	if err := fs.Setup(ss); err != nil {
		t.Fatal(err)
	}

	da := fs.ssn[1].deserved
	db := fs.ssn[2].deserved
	if diff := da - db; diff > epsilon || diff < -epsilon {
		t.Errorf("expected equal deserved shares, got %f vs %f", da, db)
	}
	if da < 2-epsilon*10 {
		t.Errorf("expected each session to deserve ~2 slots, got %f", da)
	}
}

func TestDesiredCappedByMaxInstances(t *testing.T) {
	s := sessionWithPending(1, 1, 10)
	ss := buildSnapshot(t, []*model.Session{s}, 10)
	ss.Applications["echo"].MaxInstances = 2

	fs := New()
	if err := fs.Setup(ss); err != nil {
		t.Fatal(err)
	}
	if fs.ssn[1].desired != 2 {
		t.Errorf("expected desired capped at 2, got %f", fs.ssn[1].desired)
	}
}

func TestOnSessionBindAndUnbindAdjustAllocated(t *testing.T) {
	s := sessionWithPending(1, 2, 4)
	ss := buildSnapshot(t, []*model.Session{s}, 10)

	fs := New()
	if err := fs.Setup(ss); err != nil {
		t.Fatal(err)
	}

	before := fs.ssn[1].allocated
	fs.OnSessionBind(s)
	if got := fs.ssn[1].allocated; got != before+2 {
		t.Errorf("expected allocated to grow by session slots (2), got %f -> %f", before, got)
	}

	fs.OnSessionUnbind(s)
	if got := fs.ssn[1].allocated; got != before {
		t.Errorf("expected OnSessionUnbind to undo OnSessionBind's delta, got %f, want %f", got, before)
	}
}
