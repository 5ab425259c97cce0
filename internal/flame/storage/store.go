// Package storage is the Session Manager's authoritative store: sessions,
// tasks, executors, applications and nodes, with an optional write-through
// persistence mirror for applications and sessions.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/flame-sh/flame/internal/flame/model"
)

// Store is the authoritative in-memory store interface. Implementations
// must serialize per-entity mutations with lock order session ≺ task;
// executor locks are independent of session locks.
type Store interface {
	CreateSession(ctx context.Context, application string, slots int32, commonData []byte) (*model.Session, error)
	CloseSession(ctx context.Context, id int64) (*model.Session, error)
	GetSession(ctx context.Context, id int64) (*model.Session, error)
	ListSessions(ctx context.Context) ([]*model.Session, error)

	CreateTask(ctx context.Context, ssnID int64, input []byte) (*model.Task, error)
	GetTask(ctx context.Context, ssnID, taskID int64) (*model.Task, error)
	UpdateTask(ctx context.Context, ssnID, taskID int64, state model.TaskState, output []byte) (*model.Task, error)
	ClaimPendingTask(ctx context.Context, ssnID int64) (*model.Task, error)

	RegisterExecutor(ctx context.Context, id uuid.UUID, nodeName string, slots int32, applications []string) (*model.Executor, error)
	GetExecutor(ctx context.Context, id uuid.UUID) (*model.Executor, error)
	ListExecutors(ctx context.Context) ([]*model.Executor, error)
	ListExecutorsByNode(ctx context.Context, nodeName string) ([]*model.Executor, error)
	RemoveExecutor(ctx context.Context, id uuid.UUID) error
	BindExecutorSession(ctx context.Context, id uuid.UUID, ssnID int64) error
	BindExecutorCompleted(ctx context.Context, id uuid.UUID) error
	PipelineExecutor(ctx context.Context, id uuid.UUID, newSsnID int64) error
	LaunchExecutorTask(ctx context.Context, id uuid.UUID, taskID int64) error
	CompleteExecutorTask(ctx context.Context, id uuid.UUID) error
	UnbindExecutor(ctx context.Context, id uuid.UUID) error
	UnbindExecutorCompleted(ctx context.Context, id uuid.UUID) error

	RegisterApplication(ctx context.Context, app *model.Application) error
	GetApplication(ctx context.Context, name string) (*model.Application, error)
	ListApplications(ctx context.Context) ([]*model.Application, error)

	RegisterNode(ctx context.Context, node *model.Node) error
	Heartbeat(ctx context.Context, nodeName string) error

	Snapshot(ctx context.Context) (*Snapshot, error)
}
