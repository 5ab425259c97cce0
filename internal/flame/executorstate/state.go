// Package executorstate implements the executor lifecycle as a
// state-dispatch-object: each state is a type implementing State, and an
// illegal (state, event) pair is rejected by that type's method returning
// InvalidState rather than by a caller-side switch/check.
package executorstate

import (
	"fmt"

	"github.com/flame-sh/flame/internal/flame/ferrors"
	"github.com/flame-sh/flame/internal/flame/model"
)

// State is implemented by each of Void/Idle/Binding/Bound/Unbinding. Every
// method corresponds to one backend RPC event; the transition table in the
// spec is encoded by which methods a concrete state overrides.
type State interface {
	Name() model.ExecutorState
	RegisterExecutor() (model.ExecutorState, error)
	BindExecutor() (model.ExecutorState, error)
	BindExecutorCompleted() (model.ExecutorState, error)
	LaunchTask() (model.ExecutorState, error)
	CompleteTask() (model.ExecutorState, error)
	UnbindExecutor() (model.ExecutorState, error)
	UnbindExecutorCompleted() (model.ExecutorState, error)
}

// base rejects every event as InvalidState; concrete states embed it and
// override only the events the transition table allows from that state.
type base struct {
	state model.ExecutorState
}

func (b base) Name() model.ExecutorState { return b.state }

func (b base) invalid(event string) error {
	return ferrors.InvalidState(fmt.Sprintf("event %s not allowed from state %s", event, b.state))
}

func (b base) RegisterExecutor() (model.ExecutorState, error)    { return b.state, b.invalid("register_executor") }
func (b base) BindExecutor() (model.ExecutorState, error)        { return b.state, b.invalid("bind_executor") }
func (b base) BindExecutorCompleted() (model.ExecutorState, error) {
	return b.state, b.invalid("bind_executor_completed")
}
func (b base) LaunchTask() (model.ExecutorState, error)    { return b.state, b.invalid("launch_task") }
func (b base) CompleteTask() (model.ExecutorState, error)  { return b.state, b.invalid("complete_task") }
func (b base) UnbindExecutor() (model.ExecutorState, error) { return b.state, b.invalid("unbind_executor") }
func (b base) UnbindExecutorCompleted() (model.ExecutorState, error) {
	return b.state, b.invalid("unbind_executor_completed")
}

// Void is the pseudo-start state used only during registration.
type Void struct{ base }

func (Void) RegisterExecutor() (model.ExecutorState, error) { return model.ExecutorIdle, nil }

// Idle is the resting state between bindings.
type Idle struct{ base }

func (Idle) BindExecutor() (model.ExecutorState, error) { return model.ExecutorBinding, nil }

// Binding records the chosen session but awaits bind_executor_completed.
type Binding struct{ base }

func (Binding) BindExecutorCompleted() (model.ExecutorState, error) { return model.ExecutorBound, nil }

// Bound runs tasks for the bound session.
type Bound struct{ base }

func (Bound) LaunchTask() (model.ExecutorState, error)    { return model.ExecutorBound, nil }
func (Bound) CompleteTask() (model.ExecutorState, error)  { return model.ExecutorBound, nil }
func (Bound) UnbindExecutor() (model.ExecutorState, error) { return model.ExecutorUnbinding, nil }

// Unbinding flushes any last task before returning to Idle.
type Unbinding struct{ base }

func (Unbinding) CompleteTask() (model.ExecutorState, error) { return model.ExecutorUnbinding, nil }
func (Unbinding) UnbindExecutorCompleted() (model.ExecutorState, error) {
	return model.ExecutorIdle, nil
}

// From returns the State object for the given current status.
func From(s model.ExecutorState) State {
	b := base{state: s}
	switch s {
	case model.ExecutorVoid:
		return Void{b}
	case model.ExecutorIdle:
		return Idle{b}
	case model.ExecutorBinding:
		return Binding{b}
	case model.ExecutorBound:
		return Bound{b}
	case model.ExecutorUnbinding:
		return Unbinding{b}
	default:
		return Void{b}
	}
}
