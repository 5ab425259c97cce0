package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flame-sh/flame/internal/flame/ferrors"
	"github.com/flame-sh/flame/internal/flame/model"
)

// MemoryStore is the in-memory authoritative store. One RWMutex per entity
// kind guards sessions (with their nested tasks), executors, applications
// and nodes independently; the executor lock is never held while
// acquiring the session lock.
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[int64]*model.Session
	nextSessionID int64

	exMu      sync.RWMutex
	executors map[uuid.UUID]*model.Executor

	appMu        sync.RWMutex
	applications map[string]*model.Application

	nodeMu sync.RWMutex
	nodes  map[string]*model.Node

	slotUnit map[string]int64

	// persist mirrors Application and Session writes to a durable store,
	// if configured. Nil means no persistence.
	persist Persister
}

// Persister is the write-through interface implemented by SQLPersister
// (sql.go).
type Persister interface {
	SaveApplication(ctx context.Context, app *model.Application) error
	SaveSession(ctx context.Context, ssn *model.Session) error
}

// NewMemoryStore constructs an empty MemoryStore. persist may be nil.
func NewMemoryStore(slotUnit map[string]int64, persist Persister) *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[int64]*model.Session),
		executors:    make(map[uuid.UUID]*model.Executor),
		applications: make(map[string]*model.Application),
		nodes:        make(map[string]*model.Node),
		slotUnit:     slotUnit,
		persist:      persist,
	}
}

func (s *MemoryStore) CreateSession(ctx context.Context, application string, slots int32, commonData []byte) (*model.Session, error) {
	s.appMu.RLock()
	_, ok := s.applications[application]
	s.appMu.RUnlock()
	if !ok {
		return nil, ferrors.NotFound(fmt.Sprintf("application not registered: %s", application))
	}

	s.mu.Lock()
	s.nextSessionID++
	id := s.nextSessionID
	ssn := model.NewSession(id, application, slots, commonData)
	s.sessions[id] = ssn
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveSession(ctx, ssn); err != nil {
			return nil, ferrors.Wrap(err, "persist session")
		}
	}
	return ssn, nil
}

func (s *MemoryStore) CloseSession(ctx context.Context, id int64) (*model.Session, error) {
	s.mu.Lock()
	ssn, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, ferrors.NotFound(fmt.Sprintf("session not found: %d", id))
	}
	if ssn.State == model.SessionOpen {
		now := time.Now()
		ssn.State = model.SessionClosed
		ssn.CompletionTime = &now
	}
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveSession(ctx, ssn); err != nil {
			return nil, ferrors.Wrap(err, "persist session")
		}
	}
	return ssn, nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id int64) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ssn, ok := s.sessions[id]
	if !ok {
		return nil, ferrors.NotFound(fmt.Sprintf("session not found: %d", id))
	}
	return ssn, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Session, 0, len(s.sessions))
	for _, ssn := range s.sessions {
		out = append(out, ssn)
	}
	return out, nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, ssnID int64, input []byte) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ssn, ok := s.sessions[ssnID]
	if !ok {
		return nil, ferrors.NotFound(fmt.Sprintf("session not found: %d", ssnID))
	}
	if ssn.State != model.SessionOpen {
		return nil, ferrors.InvalidState(fmt.Sprintf("session closed: %d", ssnID))
	}

	taskID := ssn.NextTaskID()
	task := &model.Task{
		ID:        taskID,
		SsnID:     ssnID,
		State:     model.TaskPending,
		Input:     input,
		CreatedAt: time.Now(),
	}
	ssn.Tasks[taskID] = task
	ssn.TasksByState[model.TaskPending][taskID] = struct{}{}
	return task, nil
}

func (s *MemoryStore) GetTask(ctx context.Context, ssnID, taskID int64) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ssn, ok := s.sessions[ssnID]
	if !ok {
		return nil, ferrors.NotFound(fmt.Sprintf("session not found: %d", ssnID))
	}
	task, ok := ssn.Tasks[taskID]
	if !ok {
		return nil, ferrors.NotFound(fmt.Sprintf("task not found: %d/%d", ssnID, taskID))
	}
	return task, nil
}

// UpdateTask atomically moves a task across the session's state-partitioned
// index and sets completion time on terminal states, preserving invariant 1
// (partition sizes sum to the flat task count) and invariant 2 (completion
// time set iff terminal).
func (s *MemoryStore) UpdateTask(ctx context.Context, ssnID, taskID int64, state model.TaskState, output []byte) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ssn, ok := s.sessions[ssnID]
	if !ok {
		return nil, ferrors.NotFound(fmt.Sprintf("session not found: %d", ssnID))
	}
	task, ok := ssn.Tasks[taskID]
	if !ok {
		return nil, ferrors.NotFound(fmt.Sprintf("task not found: %d/%d", ssnID, taskID))
	}

	delete(ssn.TasksByState[task.State], taskID)
	task.State = state
	ssn.TasksByState[state][taskID] = struct{}{}

	if state.IsTerminal() {
		now := time.Now()
		task.CompletionTime = &now
		task.Output = output
	} else {
		task.CompletionTime = nil
	}
	return task, nil
}

// ClaimPendingTask atomically picks one Pending task from the session (if
// any) and transitions it to Running, under the session lock, so two
// concurrent launch_task callers can never claim the same task.
func (s *MemoryStore) ClaimPendingTask(ctx context.Context, ssnID int64) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ssn, ok := s.sessions[ssnID]
	if !ok {
		return nil, ferrors.NotFound(fmt.Sprintf("session not found: %d", ssnID))
	}

	var taskID int64
	found := false
	for id := range ssn.TasksByState[model.TaskPending] {
		taskID = id
		found = true
		break
	}
	if !found {
		return nil, nil
	}

	task := ssn.Tasks[taskID]
	delete(ssn.TasksByState[model.TaskPending], taskID)
	task.State = model.TaskRunning
	ssn.TasksByState[model.TaskRunning][taskID] = struct{}{}
	return task, nil
}

func (s *MemoryStore) RegisterExecutor(ctx context.Context, id uuid.UUID, nodeName string, slots int32, applications []string) (*model.Executor, error) {
	s.exMu.Lock()
	defer s.exMu.Unlock()
	ex := &model.Executor{
		ID:           id,
		NodeName:     nodeName,
		Slots:        slots,
		Applications: applications,
		CreatedAt:    time.Now(),
		State:        model.ExecutorIdle,
	}
	s.executors[id] = ex
	return ex, nil
}

func (s *MemoryStore) GetExecutor(ctx context.Context, id uuid.UUID) (*model.Executor, error) {
	s.exMu.RLock()
	defer s.exMu.RUnlock()
	ex, ok := s.executors[id]
	if !ok {
		return nil, ferrors.NotFound(fmt.Sprintf("executor not found: %s", id))
	}
	return ex, nil
}

func (s *MemoryStore) ListExecutors(ctx context.Context) ([]*model.Executor, error) {
	s.exMu.RLock()
	defer s.exMu.RUnlock()
	out := make([]*model.Executor, 0, len(s.executors))
	for _, ex := range s.executors {
		out = append(out, ex)
	}
	return out, nil
}

func (s *MemoryStore) ListExecutorsByNode(ctx context.Context, nodeName string) ([]*model.Executor, error) {
	s.exMu.RLock()
	defer s.exMu.RUnlock()
	var out []*model.Executor
	for _, ex := range s.executors {
		if ex.NodeName == nodeName {
			out = append(out, ex)
		}
	}
	return out, nil
}

func (s *MemoryStore) RemoveExecutor(ctx context.Context, id uuid.UUID) error {
	s.exMu.Lock()
	defer s.exMu.Unlock()
	if _, ok := s.executors[id]; !ok {
		return ferrors.NotFound(fmt.Sprintf("executor not found: %s", id))
	}
	delete(s.executors, id)
	return nil
}

func (s *MemoryStore) withExecutor(id uuid.UUID, fn func(ex *model.Executor) error) error {
	s.exMu.Lock()
	defer s.exMu.Unlock()
	ex, ok := s.executors[id]
	if !ok {
		return ferrors.NotFound(fmt.Sprintf("executor not found: %s", id))
	}
	return fn(ex)
}

// BindExecutorSession is the sole writer of executor.SsnID; it is invoked
// only by the scheduler (Idle -> Binding).
func (s *MemoryStore) BindExecutorSession(ctx context.Context, id uuid.UUID, ssnID int64) error {
	return s.withExecutor(id, func(ex *model.Executor) error {
		if ex.State != model.ExecutorIdle {
			return ferrors.InvalidState(fmt.Sprintf("executor %s not Idle", id))
		}
		ex.State = model.ExecutorBinding
		ex.SsnID = &ssnID
		return nil
	})
}

// PipelineExecutor is the Shuffle action's atomic unbind-then-rebind: it
// requires the executor already be Unbinding (from a prior unbind_executor
// call in the same tick) and moves it straight to Binding on newSsnID
// without passing through Idle.
func (s *MemoryStore) PipelineExecutor(ctx context.Context, id uuid.UUID, newSsnID int64) error {
	return s.withExecutor(id, func(ex *model.Executor) error {
		if ex.State != model.ExecutorUnbinding {
			return ferrors.InvalidState(fmt.Sprintf("executor %s not Unbinding", id))
		}
		ex.State = model.ExecutorBinding
		ex.SsnID = &newSsnID
		ex.TaskID = nil
		return nil
	})
}

func (s *MemoryStore) BindExecutorCompleted(ctx context.Context, id uuid.UUID) error {
	return s.withExecutor(id, func(ex *model.Executor) error {
		if ex.State != model.ExecutorBinding {
			return ferrors.InvalidState(fmt.Sprintf("executor %s not Binding", id))
		}
		ex.State = model.ExecutorBound
		return nil
	})
}

func (s *MemoryStore) LaunchExecutorTask(ctx context.Context, id uuid.UUID, taskID int64) error {
	return s.withExecutor(id, func(ex *model.Executor) error {
		if ex.State != model.ExecutorBound {
			return ferrors.InvalidState(fmt.Sprintf("executor %s not Bound", id))
		}
		ex.TaskID = &taskID
		return nil
	})
}

func (s *MemoryStore) CompleteExecutorTask(ctx context.Context, id uuid.UUID) error {
	return s.withExecutor(id, func(ex *model.Executor) error {
		if ex.State != model.ExecutorBound && ex.State != model.ExecutorUnbinding {
			return ferrors.InvalidState(fmt.Sprintf("executor %s not Bound/Unbinding", id))
		}
		ex.TaskID = nil
		return nil
	})
}

func (s *MemoryStore) UnbindExecutor(ctx context.Context, id uuid.UUID) error {
	return s.withExecutor(id, func(ex *model.Executor) error {
		if ex.State != model.ExecutorBound {
			return ferrors.InvalidState(fmt.Sprintf("executor %s not Bound", id))
		}
		ex.State = model.ExecutorUnbinding
		return nil
	})
}

func (s *MemoryStore) UnbindExecutorCompleted(ctx context.Context, id uuid.UUID) error {
	return s.withExecutor(id, func(ex *model.Executor) error {
		if ex.State != model.ExecutorUnbinding {
			return ferrors.InvalidState(fmt.Sprintf("executor %s not Unbinding", id))
		}
		ex.State = model.ExecutorIdle
		ex.SsnID = nil
		ex.TaskID = nil
		return nil
	})
}

func (s *MemoryStore) RegisterApplication(ctx context.Context, app *model.Application) error {
	s.appMu.Lock()
	s.applications[app.Name] = app
	s.appMu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveApplication(ctx, app); err != nil {
			return ferrors.Wrap(err, "persist application")
		}
	}
	return nil
}

func (s *MemoryStore) GetApplication(ctx context.Context, name string) (*model.Application, error) {
	s.appMu.RLock()
	defer s.appMu.RUnlock()
	app, ok := s.applications[name]
	if !ok {
		return nil, ferrors.NotFound(fmt.Sprintf("application not found: %s", name))
	}
	return app, nil
}

func (s *MemoryStore) ListApplications(ctx context.Context) ([]*model.Application, error) {
	s.appMu.RLock()
	defer s.appMu.RUnlock()
	out := make([]*model.Application, 0, len(s.applications))
	for _, app := range s.applications {
		out = append(out, app)
	}
	return out, nil
}

func (s *MemoryStore) RegisterNode(ctx context.Context, node *model.Node) error {
	s.nodeMu.Lock()
	defer s.nodeMu.Unlock()
	node.Heartbeat = time.Now()
	s.nodes[node.Name] = node
	return nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, nodeName string) error {
	s.nodeMu.Lock()
	defer s.nodeMu.Unlock()
	node, ok := s.nodes[nodeName]
	if !ok {
		return ferrors.NotFound(fmt.Sprintf("node not found: %s", nodeName))
	}
	node.Heartbeat = time.Now()
	return nil
}

func (s *MemoryStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Sessions:        make(map[int64]*model.Session),
		SessionsByState: map[model.SessionState]map[int64]struct{}{model.SessionOpen: {}, model.SessionClosed: {}},
		Executors:       make(map[uuid.UUID]*model.Executor),
		ExecutorsByNode: make(map[string]map[uuid.UUID]struct{}),
		Applications:    make(map[string]*model.Application),
		Nodes:           make(map[string]*model.Node),
		SlotUnit:        s.slotUnit,
		TakenAt:         time.Now(),
	}

	s.mu.RLock()
	for id, ssn := range s.sessions {
		cp := cloneSession(ssn)
		snap.Sessions[id] = cp
		snap.SessionsByState[ssn.State][id] = struct{}{}
	}
	s.mu.RUnlock()

	s.exMu.RLock()
	for id, ex := range s.executors {
		cp := cloneExecutor(ex)
		snap.Executors[id] = cp
		if snap.ExecutorsByNode[ex.NodeName] == nil {
			snap.ExecutorsByNode[ex.NodeName] = make(map[uuid.UUID]struct{})
		}
		snap.ExecutorsByNode[ex.NodeName][id] = struct{}{}
	}
	s.exMu.RUnlock()

	s.appMu.RLock()
	for name, app := range s.applications {
		cp := *app
		snap.Applications[name] = &cp
	}
	s.appMu.RUnlock()

	s.nodeMu.RLock()
	for name, node := range s.nodes {
		cp := *node
		snap.Nodes[name] = &cp
	}
	s.nodeMu.RUnlock()

	return snap, nil
}
