// Package model defines the shared Flame data model: sessions, tasks,
// executors, applications and nodes, and the states each moves through.
package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	SessionOpen   SessionState = "Open"
	SessionClosed SessionState = "Closed"
)

// TaskState is the lifecycle state of a Task.
type TaskState string

const (
	TaskPending TaskState = "Pending"
	TaskRunning TaskState = "Running"
	TaskSucceed TaskState = "Succeed"
	TaskFailed  TaskState = "Failed"
)

// IsTerminal reports whether a task state is Succeed or Failed.
func (s TaskState) IsTerminal() bool {
	return s == TaskSucceed || s == TaskFailed
}

// ExecutorState is the lifecycle state of an Executor.
type ExecutorState string

const (
	ExecutorVoid      ExecutorState = "Void"
	ExecutorIdle      ExecutorState = "Idle"
	ExecutorBinding   ExecutorState = "Binding"
	ExecutorBound     ExecutorState = "Bound"
	ExecutorUnbinding ExecutorState = "Unbinding"
)

// Task is a single invocation request within a session.
type Task struct {
	ID             int64
	SsnID          int64
	State          TaskState
	Input          []byte
	Output         []byte
	CreatedAt      time.Time
	CompletionTime *time.Time
}

// TaskCounters tallies a session's tasks by state.
type TaskCounters struct {
	Pending int
	Running int
	Succeed int
	Failed  int
}

// Session is the aggregate unit of work: a client-created container for
// tasks sharing an application and slot width.
type Session struct {
	ID             int64
	Application    string
	Slots          int32
	CommonData     []byte
	CreatedAt      time.Time
	CompletionTime *time.Time
	State          SessionState
	Tasks          map[int64]*Task
	TasksByState   map[TaskState]map[int64]struct{}
	nextTaskID     int64
}

// NewSession constructs an Open session with empty task indexes.
func NewSession(id int64, application string, slots int32, commonData []byte) *Session {
	return &Session{
		ID:          id,
		Application: application,
		Slots:       slots,
		CommonData:  commonData,
		CreatedAt:   time.Now(),
		State:       SessionOpen,
		Tasks:       make(map[int64]*Task),
		TasksByState: map[TaskState]map[int64]struct{}{
			TaskPending: {},
			TaskRunning: {},
			TaskSucceed: {},
			TaskFailed:  {},
		},
	}
}

// NextTaskID allocates the next within-session task id.
func (s *Session) NextTaskID() int64 {
	s.nextTaskID++
	return s.nextTaskID
}

// Counters returns the current partition sizes; callers hold the session lock.
func (s *Session) Counters() TaskCounters {
	return TaskCounters{
		Pending: len(s.TasksByState[TaskPending]),
		Running: len(s.TasksByState[TaskRunning]),
		Succeed: len(s.TasksByState[TaskSucceed]),
		Failed:  len(s.TasksByState[TaskFailed]),
	}
}

// Executor is a registered worker slot on a node.
type Executor struct {
	ID           uuid.UUID
	NodeName     string
	Slots        int32
	Applications []string
	SsnID        *int64
	TaskID       *int64
	CreatedAt    time.Time
	State        ExecutorState
}

// Application is a named service template.
type Application struct {
	Name            string
	Shim            string
	Command         string
	URL             string
	Arguments       []string
	Environment     map[string]string
	WorkingDir      string
	MaxInstances    int32
	DelayRelease    time.Duration
}

// Node is a physical or logical host reported by an Executor Manager.
type Node struct {
	Name        string
	Allocatable map[string]int64
	Heartbeat   time.Time
}
