package backendrpc

import (
	"github.com/google/uuid"

	"github.com/flame-sh/flame/internal/flame/model"
)

// RegisterNodeRequest is the register_node request body.
type RegisterNodeRequest struct {
	Name        string           `json:"name" binding:"required"`
	Allocatable map[string]int64 `json:"allocatable" binding:"required"`
}

// RegisterExecutorRequest is the register_executor request body.
type RegisterExecutorRequest struct {
	NodeName     string   `json:"node_name" binding:"required"`
	Slots        int32    `json:"slots" binding:"required"`
	Applications []string `json:"applications" binding:"required"`
}

// SyncNodeExecutor describes one executor the scheduler has placed on
// the syncing node, carrying enough of its identity for the Executor
// Manager to spawn a shim for it without a further round trip.
type SyncNodeExecutor struct {
	ID           uuid.UUID `json:"id"`
	Applications []string  `json:"applications"`
}

// SyncNodeResponse answers sync_node with the authoritative set of
// executors the scheduler has placed on this node, so the Executor
// Manager can spawn state-loop goroutines for ids it doesn't know yet
// and signal ones no longer present to exit.
type SyncNodeResponse struct {
	Executors []SyncNodeExecutor `json:"executors"`
}

// BindExecutorResponse answers bind_executor once the scheduler has chosen
// a session for the executor.
type BindExecutorResponse struct {
	SsnID int64 `json:"ssn_id"`
}

// LaunchTaskResponse answers launch_task. Task is nil when delay_release
// expired with no pending task; the executor should unbind.
type LaunchTaskResponse struct {
	Task *TaskDTO `json:"task"`
}

// CompleteTaskRequest is the complete_task request body.
type CompleteTaskRequest struct {
	SsnID  int64  `json:"ssn_id" binding:"required"`
	TaskID int64  `json:"task_id" binding:"required"`
	Output []byte `json:"output"`
	Failed bool   `json:"failed"`
}

// TaskDTO is the wire representation of a Task.
type TaskDTO struct {
	ID    int64  `json:"id"`
	SsnID int64  `json:"ssn_id"`
	Input []byte `json:"input"`
}

func taskToDTO(t *model.Task) *TaskDTO {
	if t == nil {
		return nil
	}
	return &TaskDTO{ID: t.ID, SsnID: t.SsnID, Input: t.Input}
}
