package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/flame-sh/flame/internal/flame/model"
)

// Snapshot is an immutable point-in-time view of the store used by the
// scheduler. Value fields are deep-copied; entities are cloned handles.
type Snapshot struct {
	Sessions        map[int64]*model.Session
	SessionsByState map[model.SessionState]map[int64]struct{}
	Executors       map[uuid.UUID]*model.Executor
	ExecutorsByNode map[string]map[uuid.UUID]struct{}
	Applications    map[string]*model.Application
	Nodes           map[string]*model.Node
	SlotUnit        map[string]int64
	TakenAt         time.Time
}

// OpenSessions returns the Open sessions in the snapshot.
func (s *Snapshot) OpenSessions() []*model.Session {
	ids := s.SessionsByState[model.SessionOpen]
	out := make([]*model.Session, 0, len(ids))
	for id := range ids {
		if ssn, ok := s.Sessions[id]; ok {
			out = append(out, ssn)
		}
	}
	return out
}

func cloneTask(t *model.Task) *model.Task {
	cp := *t
	if t.CompletionTime != nil {
		ct := *t.CompletionTime
		cp.CompletionTime = &ct
	}
	if t.Input != nil {
		cp.Input = append([]byte(nil), t.Input...)
	}
	if t.Output != nil {
		cp.Output = append([]byte(nil), t.Output...)
	}
	return &cp
}

func cloneSession(s *model.Session) *model.Session {
	cp := *s
	cp.Tasks = make(map[int64]*model.Task, len(s.Tasks))
	for id, t := range s.Tasks {
		cp.Tasks[id] = cloneTask(t)
	}
	cp.TasksByState = make(map[model.TaskState]map[int64]struct{}, len(s.TasksByState))
	for state, ids := range s.TasksByState {
		set := make(map[int64]struct{}, len(ids))
		for id := range ids {
			set[id] = struct{}{}
		}
		cp.TasksByState[state] = set
	}
	if s.CompletionTime != nil {
		ct := *s.CompletionTime
		cp.CompletionTime = &ct
	}
	return &cp
}

func cloneExecutor(e *model.Executor) *model.Executor {
	cp := *e
	if e.SsnID != nil {
		v := *e.SsnID
		cp.SsnID = &v
	}
	if e.TaskID != nil {
		v := *e.TaskID
		cp.TaskID = &v
	}
	cp.Applications = append([]string(nil), e.Applications...)
	return &cp
}
