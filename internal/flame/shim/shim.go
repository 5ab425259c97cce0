// Package shim defines the bridge between the Executor Manager and a
// user service. Concrete adapters (log/stdio/shell/grpc/wasm/python) are
// plug-in wrappers around this contract; only the log adapter and the
// container-backed adapter in internal/executormanager/dockershim ship
// with this repo.
package shim

import "context"

// SessionContext carries the data a shim needs to start a session.
type SessionContext struct {
	SsnID       int64
	Application string
	CommonData  []byte
}

// TaskContext carries one task's input to the shim.
type TaskContext struct {
	SsnID  int64
	TaskID int64
	Input  []byte
}

// Shim is the three-call contract an Executor Manager drives an
// application through over one bind/unbind cycle: OnSessionEnter once
// when the executor binds, OnTaskInvoke once per claimed task, and
// OnSessionLeave once when the executor unbinds. A shim-startup error
// from OnSessionEnter is fatal to the bind attempt.
type Shim interface {
	OnSessionEnter(ctx context.Context, sctx *SessionContext) error
	OnTaskInvoke(ctx context.Context, tctx *TaskContext) ([]byte, error)
	OnSessionLeave(ctx context.Context) error
}

// Factory builds a fresh Shim for one bind cycle, given the application
// record that named it.
type Factory func(applicationName string) (Shim, error)
