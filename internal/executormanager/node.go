// Package executormanager drives one node's executor lifecycle against a
// Session Manager's backend RPC surface: registering the node, polling
// sync_node every second for the scheduler's placement decisions, and
// running one goroutine per live executor through its state loop.
package executormanager

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flame-sh/flame/internal/flame/backendrpc/client"
	"github.com/flame-sh/flame/internal/flame/logger"
	"github.com/flame-sh/flame/internal/flame/shim"
)

const syncInterval = time.Second

// ExecutorTemplate describes a pool of executors this node self-registers
// at startup: Count executors, each offering Applications and Slots.
type ExecutorTemplate struct {
	Applications []string
	Slots        int32
	Count        int32
}

// Manager owns the set of locally-running executor goroutines for one
// node and keeps them in sync with the scheduler's placement decisions.
type Manager struct {
	client      *client.Client
	shims       shim.Factory
	nodeName    string
	allocatable map[string]int64
	templates   []ExecutorTemplate
	log         *logger.Logger

	mu        sync.Mutex
	executors map[uuid.UUID]*runningExecutor
}

type runningExecutor struct {
	cancel      context.CancelFunc
	done        chan struct{}
	application string
}

// New builds a Manager for nodeName advertising allocatable resources,
// talking to the Session Manager through c and instantiating shims
// through shims. templates describes the executor pool this node
// self-registers on startup (spec.md §4.6's Void->register_executor->Idle
// transition).
func New(c *client.Client, shims shim.Factory, nodeName string, allocatable map[string]int64, templates []ExecutorTemplate, log *logger.Logger) *Manager {
	return &Manager{
		client:      c,
		shims:       shims,
		nodeName:    nodeName,
		allocatable: allocatable,
		templates:   templates,
		log:         log.WithFields(zap.String("component", "executor_manager"), zap.String("node", nodeName)),
		executors:   make(map[uuid.UUID]*runningExecutor),
	}
}

// DefaultNodeName falls back to the OS hostname.
func DefaultNodeName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "flame-node"
}

// Run registers the node, self-registers its executor pool, and then
// polls sync_node every second until ctx is done, spawning a state-loop
// goroutine for each executor id the scheduler newly places here and
// signalling removed ones to exit.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.client.RegisterNode(ctx, m.nodeName, m.allocatable); err != nil {
		return err
	}
	m.log.Info("node registered")

	if err := m.populate(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			return nil
		case <-ticker.C:
			if err := m.sync(ctx); err != nil {
				m.log.Error("sync_node failed", zap.Error(err))
			}
		}
	}
}

// populate self-registers this node's executor pool with the Session
// Manager (Void->register_executor->Idle, spec.md §4.5) and spawns their
// state-loop goroutines immediately, since they're already past Void by
// the time RegisterExecutor returns.
func (m *Manager) populate(ctx context.Context) error {
	for _, tmpl := range m.templates {
		for i := int32(0); i < tmpl.Count; i++ {
			id, err := m.client.RegisterExecutor(ctx, m.nodeName, tmpl.Slots, tmpl.Applications)
			if err != nil {
				return err
			}
			m.spawn(id, applicationOf(tmpl.Applications))
		}
	}
	return nil
}

// sync polls sync_node and reconciles the scheduler's authoritative
// executor set against the goroutines this process currently runs:
// ids it doesn't know about yet (e.g. surviving a restart) are spawned,
// ids it runs locally but the server no longer reports are stopped.
func (m *Manager) sync(ctx context.Context) error {
	executors, err := m.client.SyncNode(ctx, m.nodeName)
	if err != nil {
		return err
	}

	known := make(map[uuid.UUID]struct{}, len(executors))
	for _, ex := range executors {
		known[ex.ID] = struct{}{}
		m.mu.Lock()
		_, running := m.executors[ex.ID]
		m.mu.Unlock()
		if !running {
			m.spawn(ex.ID, applicationOf(ex.Applications))
		}
	}

	m.mu.Lock()
	stale := make([]uuid.UUID, 0)
	for id := range m.executors {
		if _, ok := known[id]; !ok {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()
	for _, id := range stale {
		m.Remove(id)
	}
	return nil
}

func applicationOf(applications []string) string {
	if len(applications) == 0 {
		return ""
	}
	return applications[0]
}

// spawn starts a state-loop goroutine for an already-registered executor id.
func (m *Manager) spawn(executorID uuid.UUID, applicationName string) {
	m.mu.Lock()
	if _, ok := m.executors[executorID]; ok {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	re := &runningExecutor{cancel: cancel, done: make(chan struct{}), application: applicationName}
	m.executors[executorID] = re
	m.mu.Unlock()

	go func() {
		defer close(re.done)
		loop := newExecutorLoop(m.client, m.shims, executorID, applicationName, m.log)
		loop.run(ctx)
	}()
}

// Remove signals executorID's goroutine to exit and waits for it.
func (m *Manager) Remove(executorID uuid.UUID) {
	m.mu.Lock()
	re, ok := m.executors[executorID]
	if ok {
		delete(m.executors, executorID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	re.cancel()
	<-re.done
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	all := make([]*runningExecutor, 0, len(m.executors))
	for id, re := range m.executors {
		all = append(all, re)
		delete(m.executors, id)
	}
	m.mu.Unlock()

	for _, re := range all {
		re.cancel()
		<-re.done
	}
}
