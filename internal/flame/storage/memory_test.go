package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/flame-sh/flame/internal/flame/model"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(map[string]int64{"cpu": 1}, nil)
	if err := store.RegisterApplication(context.Background(), &model.Application{Name: "echo", Shim: "log", MaxInstances: 10}); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestClaimPendingTaskMovesExactlyOneTaskAcrossPartitions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ssn, err := store.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.CreateTask(ctx, ssn.ID, []byte("in")); err != nil {
			t.Fatal(err)
		}
	}

	task, err := store.ClaimPendingTask(ctx, ssn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if task == nil {
		t.Fatal("expected a claimed task")
	}
	if task.State != model.TaskRunning {
		t.Fatalf("expected claimed task to be Running, got %s", task.State)
	}

	got, err := store.GetSession(ctx, ssn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.TasksByState[model.TaskPending]) != 2 {
		t.Fatalf("expected 2 tasks left pending, got %d", len(got.TasksByState[model.TaskPending]))
	}
	if len(got.TasksByState[model.TaskRunning]) != 1 {
		t.Fatalf("expected 1 task running, got %d", len(got.TasksByState[model.TaskRunning]))
	}
}

func TestClaimPendingTaskReturnsNilWhenNoneAvailable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ssn, err := store.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}

	task, err := store.ClaimPendingTask(ctx, ssn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if task != nil {
		t.Fatalf("expected no task to claim, got %v", task)
	}
}

func TestUpdateTaskSetsCompletionTimeOnlyForTerminalStates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ssn, err := store.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	task, err := store.CreateTask(ctx, ssn.ID, []byte("in"))
	if err != nil {
		t.Fatal(err)
	}

	running, err := store.UpdateTask(ctx, ssn.ID, task.ID, model.TaskRunning, nil)
	if err != nil {
		t.Fatal(err)
	}
	if running.CompletionTime != nil {
		t.Fatal("expected no completion time for a non-terminal state")
	}

	done, err := store.UpdateTask(ctx, ssn.ID, task.ID, model.TaskSucceed, []byte("out"))
	if err != nil {
		t.Fatal(err)
	}
	if done.CompletionTime == nil {
		t.Fatal("expected a completion time for a terminal state")
	}
	if string(done.Output) != "out" {
		t.Fatalf("expected output 'out', got %q", done.Output)
	}

	got, err := store.GetSession(ctx, ssn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.TasksByState[model.TaskRunning]) != 0 {
		t.Fatalf("expected task removed from Running partition, got %d", len(got.TasksByState[model.TaskRunning]))
	}
	if len(got.TasksByState[model.TaskSucceed]) != 1 {
		t.Fatalf("expected task present in Succeed partition, got %d", len(got.TasksByState[model.TaskSucceed]))
	}
}

func TestExecutorLifecycleRejectsOutOfOrderTransitions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := uuid.New()
	if _, err := store.RegisterExecutor(ctx, id, "n1", 1, []string{"echo"}); err != nil {
		t.Fatal(err)
	}

	if err := store.BindExecutorCompleted(ctx, id); err == nil {
		t.Fatal("expected BindExecutorCompleted on an Idle executor to fail")
	}
	if err := store.UnbindExecutor(ctx, id); err == nil {
		t.Fatal("expected UnbindExecutor on an Idle executor to fail")
	}

	if err := store.BindExecutorSession(ctx, id, 1); err != nil {
		t.Fatal(err)
	}
	if err := store.BindExecutorSession(ctx, id, 1); err == nil {
		t.Fatal("expected a second BindExecutorSession on an already-Binding executor to fail")
	}
	if err := store.BindExecutorCompleted(ctx, id); err != nil {
		t.Fatal(err)
	}

	ex, err := store.GetExecutor(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if ex.State != model.ExecutorBound {
		t.Fatalf("expected executor Bound, got %s", ex.State)
	}
}

func TestPipelineExecutorRequiresUnbindingAndSkipsIdle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := uuid.New()
	if _, err := store.RegisterExecutor(ctx, id, "n1", 1, []string{"echo"}); err != nil {
		t.Fatal(err)
	}
	if err := store.BindExecutorSession(ctx, id, 1); err != nil {
		t.Fatal(err)
	}
	if err := store.BindExecutorCompleted(ctx, id); err != nil {
		t.Fatal(err)
	}

	if err := store.PipelineExecutor(ctx, id, 2); err == nil {
		t.Fatal("expected PipelineExecutor on a Bound executor to fail")
	}

	if err := store.UnbindExecutor(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := store.PipelineExecutor(ctx, id, 2); err != nil {
		t.Fatal(err)
	}

	ex, err := store.GetExecutor(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if ex.State != model.ExecutorBinding {
		t.Fatalf("expected executor Binding after pipeline, got %s", ex.State)
	}
	if ex.SsnID == nil || *ex.SsnID != 2 {
		t.Fatalf("expected executor rebound to session 2, got %v", ex.SsnID)
	}
}

func TestSnapshotIsIndependentOfLiveMutation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ssn, err := store.CreateSession(ctx, "echo", 1, nil)
	if err != nil {
		t.Fatal(err)
	}

	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.CloseSession(ctx, ssn.ID); err != nil {
		t.Fatal(err)
	}

	if snap.Sessions[ssn.ID].State != model.SessionOpen {
		t.Fatalf("expected snapshot to retain the Open state taken at snapshot time, got %s", snap.Sessions[ssn.ID].State)
	}
}

func TestListExecutorsByNodeFiltersByNode(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	idA := uuid.New()
	idB := uuid.New()
	if _, err := store.RegisterExecutor(ctx, idA, "n1", 1, []string{"echo"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.RegisterExecutor(ctx, idB, "n2", 1, []string{"echo"}); err != nil {
		t.Fatal(err)
	}

	got, err := store.ListExecutorsByNode(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != idA {
		t.Fatalf("expected only n1's executor, got %v", got)
	}
}
