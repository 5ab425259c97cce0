// Package scheduler defines the scheduling Plugin hooks and the Manager
// that combines them; the actions and the tick loop live in sub-packages.
package scheduler

import (
	"github.com/flame-sh/flame/internal/flame/model"
	"github.com/flame-sh/flame/internal/flame/storage"
)

// Ordering mirrors the three-way comparator contract used across the
// plugin interface (negative: a before b, zero: equal, positive: a after b).
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// Plugin is the scheduling policy hook set. Every method may abstain by
// returning ok=false; boolean hooks combine conjunctively across plugins,
// ordering hooks combine lexicographically in registration order (the
// first plugin with a decisive, non-equal ordering wins).
type Plugin interface {
	Setup(ss *storage.Snapshot) error
	SsnOrderFn(a, b *model.Session) (Ordering, bool)
	NodeOrderFn(a, b *model.Node) (Ordering, bool)
	IsUnderused(ssn *model.Session) (bool, bool)
	IsAllocatable(node *model.Node, ssn *model.Session) (bool, bool)
	IsReclaimable(ex *model.Executor) (bool, bool)
	IsPreemptible(ssn *model.Session) (bool, bool)
	Filter(executors []*model.Executor, ssn *model.Session) ([]*model.Executor, bool)
	OnCreateExecutor(node *model.Node, ssn *model.Session)
	OnSessionBind(ssn *model.Session)
	OnSessionUnbind(ssn *model.Session)
}

// Manager hosts an ordered list of plugins and combines their hooks.
type Manager struct {
	plugins []Plugin
}

// NewManager builds a PluginManager over the given plugins, in registration
// order. A fresh Manager (and a fresh Setup) is built for every scheduler
// tick, per §4.3: plugin managers are per-tick, never shared across ticks.
func NewManager(plugins ...Plugin) *Manager {
	return &Manager{plugins: plugins}
}

func (m *Manager) Setup(ss *storage.Snapshot) error {
	for _, p := range m.plugins {
		if err := p.Setup(ss); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) SsnOrderFn(a, b *model.Session) Ordering {
	for _, p := range m.plugins {
		if o, ok := p.SsnOrderFn(a, b); ok && o != Equal {
			return o
		}
	}
	return Equal
}

func (m *Manager) NodeOrderFn(a, b *model.Node) Ordering {
	for _, p := range m.plugins {
		if o, ok := p.NodeOrderFn(a, b); ok && o != Equal {
			return o
		}
	}
	return Equal
}

func (m *Manager) IsUnderused(ssn *model.Session) bool {
	for _, p := range m.plugins {
		if v, ok := p.IsUnderused(ssn); ok && !v {
			return false
		}
	}
	return true
}

func (m *Manager) IsAllocatable(node *model.Node, ssn *model.Session) bool {
	for _, p := range m.plugins {
		if v, ok := p.IsAllocatable(node, ssn); ok && !v {
			return false
		}
	}
	return true
}

func (m *Manager) IsReclaimable(ex *model.Executor) bool {
	for _, p := range m.plugins {
		if v, ok := p.IsReclaimable(ex); ok && !v {
			return false
		}
	}
	return true
}

func (m *Manager) IsPreemptible(ssn *model.Session) bool {
	for _, p := range m.plugins {
		if v, ok := p.IsPreemptible(ssn); ok && !v {
			return false
		}
	}
	return true
}

// Filter narrows executors down to those eligible for ssn; each plugin in
// turn may further narrow the set (conjunctive); a plugin that abstains
// (ok=false) leaves the set unchanged.
func (m *Manager) Filter(executors []*model.Executor, ssn *model.Session) []*model.Executor {
	for _, p := range m.plugins {
		if filtered, ok := p.Filter(executors, ssn); ok {
			executors = filtered
		}
	}
	return executors
}

func (m *Manager) OnCreateExecutor(node *model.Node, ssn *model.Session) {
	for _, p := range m.plugins {
		p.OnCreateExecutor(node, ssn)
	}
}

func (m *Manager) OnSessionBind(ssn *model.Session) {
	for _, p := range m.plugins {
		p.OnSessionBind(ssn)
	}
}

func (m *Manager) OnSessionUnbind(ssn *model.Session) {
	for _, p := range m.plugins {
		p.OnSessionUnbind(ssn)
	}
}
