package allocator

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

func newTestAllocator(t *testing.T) (*controller.Controller, *storage.MemoryStore) {
	t.Helper()
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
	return ctrl, store
}

func snapshotWith(t *testing.T, ctrl *controller.Controller) (*storage.Snapshot, *scheduler.Manager) {
	t.Helper()
	snap, err := ctrl.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	pm := scheduler.NewManager(fairshare.New())
	if err := pm.Setup(snap); err != nil {
		t.Fatal(err)
	}
	return snap, pm
}

func TestAllocatorPlacesExecutorsUpToNodeCapacity(t *testing.T) {
	ctx := context.Background()
	ctrl, store := newTestAllocator(t)

	ssn, err := ctrl.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := ctrl.CreateTask(ctx, ssn.ID, []byte("in")); err != nil {
			t.Fatal(err)
		}
	}

	snap, pm := snapshotWith(t, ctrl)
	a := New(ctrl, pm, snap)
	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}

	executors, err := store.ListExecutorsByNode(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if len(executors) != 4 {
		t.Fatalf("expected allocation to stop at the node's 4 cpu slots, got %d executors", len(executors))
	}
	for _, ex := range executors {
		if ex.SsnID == nil || *ex.SsnID != ssn.ID {
			t.Errorf("expected executor %s bound to session %d, got %v", ex.ID, ssn.ID, ex.SsnID)
		}
	}
}

func TestAllocatorRespectsApplicationMaxInstances(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(map[string]int64{"cpu": 1}, nil)
	if err := store.RegisterApplication(ctx, &model.Application{
		Name: "echo", Shim: "log", MaxInstances: 2, DelayRelease: 50 * time.Millisecond,
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.RegisterNode(ctx, &model.Node{Name: "n1", Allocatable: map[string]int64{"cpu": 8}}); err != nil {
		t.Fatal(err)
	}
	ctrl := controller.New(store, nil)

	ssn, err := ctrl.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := ctrl.CreateTask(ctx, ssn.ID, []byte("in")); err != nil {
			t.Fatal(err)
		}
	}

	snap, pm := snapshotWith(t, ctrl)
	a := New(ctrl, pm, snap)
	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}

	executors, err := store.ListExecutorsByNode(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if len(executors) != 2 {
		t.Fatalf("expected max_instances=2 to cap allocation, got %d executors", len(executors))
	}
}

func TestAllocatorSkipsClosedSessions(t *testing.T) {
	ctx := context.Background()
	ctrl, store := newTestAllocator(t)

	ssn, err := ctrl.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.CreateTask(ctx, ssn.ID, []byte("in")); err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.CloseSession(ctx, ssn.ID); err != nil {
		t.Fatal(err)
	}

	snap, pm := snapshotWith(t, ctrl)
	a := New(ctrl, pm, snap)
	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}

	executors, err := store.ListExecutorsByNode(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if len(executors) != 0 {
		t.Fatalf("expected no allocation for a closed session, got %d executors", len(executors))
	}
}

// TestAllocatorReusesIdleExecutorInsteadOfCreatingNew guards against
// minting a fresh executor when the node already has an Idle one offering
// the requested application: the scheduler must bind it, not register a
// second executor alongside it.
func TestAllocatorReusesIdleExecutorInsteadOfCreatingNew(t *testing.T) {
	ctx := context.Background()
	ctrl, store := newTestAllocator(t)

	idleID := uuid.New()
	if _, err := ctrl.RegisterExecutor(ctx, idleID, "n1", 1, []string{"echo"}); err != nil {
		t.Fatal(err)
	}

	ssn, err := ctrl.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.CreateTask(ctx, ssn.ID, []byte("in")); err != nil {
		t.Fatal(err)
	}

	snap, pm := snapshotWith(t, ctrl)
	a := New(ctrl, pm, snap)
	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}

	executors, err := store.ListExecutorsByNode(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if len(executors) != 1 {
		t.Fatalf("expected the existing Idle executor to be reused, not a second one created, got %d executors", len(executors))
	}
	if executors[0].ID != idleID {
		t.Fatalf("expected the pre-registered executor %s to be reused, got %s", idleID, executors[0].ID)
	}
	if executors[0].SsnID == nil || *executors[0].SsnID != ssn.ID {
		t.Fatalf("expected the reused executor bound to session %d, got %v", ssn.ID, executors[0].SsnID)
	}
}

// TestAllocatorReusesExecutorFreedByUnbind is the direct regression test
// for the bug where CreateExecutor always minted a new executor: across
// an unbind/rebind cycle, node capacity must not grow unbounded, and the
// freed executor must become available to a later session.
func TestAllocatorReusesExecutorFreedByUnbind(t *testing.T) {
	ctx := context.Background()
	ctrl, store := newTestAllocator(t)

	ssn1, err := ctrl.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := ctrl.CreateTask(ctx, ssn1.ID, []byte("in")); err != nil {
			t.Fatal(err)
		}
	}

	snap, pm := snapshotWith(t, ctrl)
	if err := New(ctrl, pm, snap).Run(ctx); err != nil {
		t.Fatal(err)
	}

	executors, err := store.ListExecutorsByNode(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if len(executors) != 4 {
		t.Fatalf("expected the node's full 4 cpu slots allocated, got %d executors", len(executors))
	}

	freed := executors[0].ID
	if err := ctrl.BindSessionCompleted(ctx, freed); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.UnbindExecutor(ctx, freed); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.UnbindExecutorCompleted(ctx, freed); err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.CloseSession(ctx, ssn1.ID); err != nil {
		t.Fatal(err)
	}

	ssn2, err := ctrl.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.CreateTask(ctx, ssn2.ID, []byte("in")); err != nil {
		t.Fatal(err)
	}

	snap2, pm2 := snapshotWith(t, ctrl)
	if err := New(ctrl, pm2, snap2).Run(ctx); err != nil {
		t.Fatal(err)
	}

	executors, err = store.ListExecutorsByNode(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if len(executors) != 4 {
		t.Fatalf("expected node capacity to stay at 4 executors across an unbind/rebind cycle, got %d", len(executors))
	}

	found := false
	for _, ex := range executors {
		if ex.ID == freed {
			found = true
			if ex.SsnID == nil || *ex.SsnID != ssn2.ID {
				t.Fatalf("expected the freed executor rebound to session %d, got %v", ssn2.ID, ex.SsnID)
			}
		}
	}
	if !found {
		t.Fatal("expected the freed executor to still exist, reused rather than replaced")
	}
}
