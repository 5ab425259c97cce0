package executorstate

import (
	"testing"

	"github.com/flame-sh/flame/internal/flame/ferrors"
	"github.com/flame-sh/flame/internal/flame/model"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from  model.ExecutorState
		event func(State) (model.ExecutorState, error)
		want  model.ExecutorState
	}{
		{model.ExecutorVoid, State.RegisterExecutor, model.ExecutorIdle},
		{model.ExecutorIdle, State.BindExecutor, model.ExecutorBinding},
		{model.ExecutorBinding, State.BindExecutorCompleted, model.ExecutorBound},
		{model.ExecutorBound, State.LaunchTask, model.ExecutorBound},
		{model.ExecutorBound, State.CompleteTask, model.ExecutorBound},
		{model.ExecutorBound, State.UnbindExecutor, model.ExecutorUnbinding},
		{model.ExecutorUnbinding, State.CompleteTask, model.ExecutorUnbinding},
		{model.ExecutorUnbinding, State.UnbindExecutorCompleted, model.ExecutorIdle},
	}

	for _, c := range cases {
		got, err := c.event(From(c.from))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.from, err)
		}
		if got != c.want {
			t.Errorf("%s: got %s, want %s", c.from, got, c.want)
		}
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	_, err := From(model.ExecutorIdle).LaunchTask()
	if err == nil {
		t.Fatal("expected error for launch_task from Idle")
	}
	if ferrors.KindOf(err) != ferrors.KindInvalidState {
		t.Errorf("expected InvalidState, got %v", ferrors.KindOf(err))
	}

	_, err = From(model.ExecutorBound).RegisterExecutor()
	if err == nil {
		t.Fatal("expected error for register_executor from Bound")
	}
}
