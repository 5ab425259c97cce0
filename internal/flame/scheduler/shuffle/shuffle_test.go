package shuffle

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/flame-sh/flame/internal/flame/controller"
	"github.com/flame-sh/flame/internal/flame/model"
	"github.com/flame-sh/flame/internal/flame/scheduler"
	"github.com/flame-sh/flame/internal/flame/scheduler/plugins/fairshare"
	"github.com/flame-sh/flame/internal/flame/storage"
)

func bindExecutor(t *testing.T, ctrl *controller.Controller, nodeName string, ssnID int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	if _, err := ctrl.RegisterExecutor(ctx, id, nodeName, 1, []string{"echo"}); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.BindSession(ctx, id, ssnID); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.BindSessionCompleted(ctx, id); err != nil {
		t.Fatal(err)
	}
	return id
}

// TestShuffleRebalancesFromSaturatedToUnderused mirrors scenario S3: session
// A holds all 4 slots across 10 pending tasks, session B opens with 10 new
// tasks and no executors. Shuffle should pipeline executors away from A
// (preemptible) toward B (underused).
func TestShuffleRebalancesFromSaturatedToUnderused(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(map[string]int64{"cpu": 1}, nil)
	if err := store.RegisterApplication(ctx, &model.Application{
		Name: "echo", Shim: "log", MaxInstances: 100, DelayRelease: 50 * time.Millisecond,
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.RegisterNode(ctx, &model.Node{Name: "n1", Allocatable: map[string]int64{"cpu": 4}}); err != nil {
		t.Fatal(err)
	}

	ctrl := controller.New(store, nil)
	a, err := ctrl.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := ctrl.CreateTask(ctx, a.ID, []byte("in")); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 4; i++ {
		bindExecutor(t, ctrl, "n1", a.ID)
	}

	b, err := ctrl.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := ctrl.CreateTask(ctx, b.ID, []byte("in")); err != nil {
			t.Fatal(err)
		}
	}

	snap, err := ctrl.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	pm := scheduler.NewManager(fairshare.New())
	if err := pm.Setup(snap); err != nil {
		t.Fatal(err)
	}

	sh := New(ctrl, pm, snap)
	if err := sh.Run(ctx); err != nil {
		t.Fatal(err)
	}

	executors, err := store.ListExecutors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	movedToB := 0
	for _, ex := range executors {
		if ex.SsnID != nil && *ex.SsnID == b.ID {
			movedToB++
		}
	}
	if movedToB == 0 {
		t.Error("expected at least one executor pipelined toward the underused session")
	}
}

// neverReclaimable wraps a real FairShare plugin but forces every
// IsReclaimable check to false, so TestShuffleSkipsExecutorsThePluginWontReclaim
// can verify that Shuffle actually consults IsReclaimable instead of moving
// any Bound executor a preemptible session happens to offer.
type neverReclaimable struct {
	*fairshare.FairShare
}

func (n *neverReclaimable) IsReclaimable(ex *model.Executor) (bool, bool) { return false, true }

func TestShuffleSkipsExecutorsThePluginWontReclaim(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(map[string]int64{"cpu": 1}, nil)
	if err := store.RegisterApplication(ctx, &model.Application{
		Name: "echo", Shim: "log", MaxInstances: 100, DelayRelease: 50 * time.Millisecond,
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.RegisterNode(ctx, &model.Node{Name: "n1", Allocatable: map[string]int64{"cpu": 4}}); err != nil {
		t.Fatal(err)
	}

	ctrl := controller.New(store, nil)
	a, err := ctrl.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := ctrl.CreateTask(ctx, a.ID, []byte("in")); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 4; i++ {
		bindExecutor(t, ctrl, "n1", a.ID)
	}

	b, err := ctrl.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := ctrl.CreateTask(ctx, b.ID, []byte("in")); err != nil {
			t.Fatal(err)
		}
	}

	snap, err := ctrl.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	fs := fairshare.New()
	if err := fs.Setup(snap); err != nil {
		t.Fatal(err)
	}
	pm := scheduler.NewManager(&neverReclaimable{fs})

	sh := New(ctrl, pm, snap)
	if err := sh.Run(ctx); err != nil {
		t.Fatal(err)
	}

	executors, err := store.ListExecutors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, ex := range executors {
		if ex.SsnID != nil && *ex.SsnID == b.ID {
			t.Fatal("expected no executor moved toward b when IsReclaimable vetoes every candidate")
		}
	}
}
