package events

import (
	"context"

	"github.com/flame-sh/flame/internal/flame/model"
)

// Publisher wraps a Bus with Flame's lifecycle event shapes so callers
// don't hand-build the Data map at every call site.
type Publisher struct {
	bus    Bus
	source string
}

// NewPublisher builds a Publisher that tags every event with source (e.g.
// "session-manager").
func NewPublisher(bus Bus, source string) *Publisher {
	return &Publisher{bus: bus, source: source}
}

func (p *Publisher) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if p == nil || p.bus == nil {
		return
	}
	_ = p.bus.Publish(ctx, subject, NewEvent(subject, p.source, data))
}

// SessionOpened publishes a flame.session.opened event.
func (p *Publisher) SessionOpened(ctx context.Context, ssn *model.Session) {
	p.publish(ctx, SessionOpened, map[string]interface{}{
		"ssn_id":      ssn.ID,
		"application": ssn.Application,
		"slots":       ssn.Slots,
	})
}

// SessionClosed publishes a flame.session.closed event.
func (p *Publisher) SessionClosed(ctx context.Context, ssn *model.Session) {
	p.publish(ctx, SessionClosed, map[string]interface{}{
		"ssn_id": ssn.ID,
	})
}

// TaskCompleted publishes a flame.task.completed event.
func (p *Publisher) TaskCompleted(ctx context.Context, task *model.Task) {
	p.publish(ctx, TaskCompleted, map[string]interface{}{
		"ssn_id":  task.SsnID,
		"task_id": task.ID,
		"state":   string(task.State),
	})
}

// ExecutorBound publishes a flame.executor.bound event.
func (p *Publisher) ExecutorBound(ctx context.Context, ex *model.Executor) {
	data := map[string]interface{}{"executor_id": ex.ID.String(), "node": ex.NodeName}
	if ex.SsnID != nil {
		data["ssn_id"] = *ex.SsnID
	}
	p.publish(ctx, ExecutorBound, data)
}

// ExecutorUnbound publishes a flame.executor.unbound event.
func (p *Publisher) ExecutorUnbound(ctx context.Context, ex *model.Executor) {
	p.publish(ctx, ExecutorUnbound, map[string]interface{}{
		"executor_id": ex.ID.String(), "node": ex.NodeName,
	})
}
