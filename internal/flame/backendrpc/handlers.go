package backendrpc

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flame-sh/flame/internal/flame/controller"
	"github.com/flame-sh/flame/internal/flame/ferrors"
	"github.com/flame-sh/flame/internal/flame/logger"
	"github.com/flame-sh/flame/internal/flame/model"
	"github.com/flame-sh/flame/internal/flame/scheduler"
	"github.com/flame-sh/flame/internal/flame/scheduler/dispatcher"
)

// PluginFactory builds a fresh set of scheduling plugins for one
// launch_task call's ad hoc filter pass; it must match the Scheduler's
// factory so filter() sees consistent plugin bookkeeping.
type PluginFactory func() []scheduler.Plugin

// Handler holds the backend RPC's request handlers.
type Handler struct {
	ctrl    *controller.Controller
	plugins PluginFactory
	log     *logger.Logger
}

// NewHandler builds a Handler over the given controller and plugin factory.
func NewHandler(ctrl *controller.Controller, plugins PluginFactory, log *logger.Logger) *Handler {
	return &Handler{ctrl: ctrl, plugins: plugins, log: log.WithFields(zap.String("component", "backend-rpc"))}
}

func (h *Handler) dispatcher(c *gin.Context) (*dispatcher.Dispatcher, error) {
	snap, err := h.ctrl.Snapshot(c.Request.Context())
	if err != nil {
		return nil, err
	}
	pm := scheduler.NewManager(h.plugins()...)
	if err := pm.Setup(snap); err != nil {
		return nil, err
	}
	return dispatcher.New(h.ctrl, pm), nil
}

func executorIDParam(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.UUID{}, ferrors.InvalidConfig("invalid executor id: " + c.Param("id"))
	}
	return id, nil
}

// RegisterNode handles POST /nodes.
func (h *Handler) RegisterNode(c *gin.Context) {
	var req RegisterNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, ferrors.InvalidConfig(err.Error()))
		return
	}
	node := &model.Node{Name: req.Name, Allocatable: req.Allocatable}
	if err := h.ctrl.RegisterNode(c.Request.Context(), node); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": node.Name})
}

// SyncNode handles POST /nodes/:name/sync — the periodic node heartbeat.
// It also reports the authoritative set of executor ids the scheduler
// has placed on this node, so the Executor Manager can discover
// executors it doesn't yet have a state-loop goroutine for.
func (h *Handler) SyncNode(c *gin.Context) {
	name := c.Param("name")
	ctx := c.Request.Context()
	if err := h.ctrl.Heartbeat(ctx, name); err != nil {
		abort(c, err)
		return
	}

	executors, err := h.ctrl.ListExecutorsByNode(ctx, name)
	if err != nil {
		abort(c, err)
		return
	}
	out := make([]SyncNodeExecutor, 0, len(executors))
	for _, ex := range executors {
		out = append(out, SyncNodeExecutor{ID: ex.ID, Applications: ex.Applications})
	}
	c.JSON(http.StatusOK, SyncNodeResponse{Executors: out})
}

// RegisterExecutor handles POST /executors.
func (h *Handler) RegisterExecutor(c *gin.Context) {
	var req RegisterExecutorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, ferrors.InvalidConfig(err.Error()))
		return
	}
	id := uuid.New()
	ex, err := h.ctrl.RegisterExecutor(c.Request.Context(), id, req.NodeName, req.Slots, req.Applications)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": ex.ID})
}

// BindExecutor handles GET /executors/:id/bind. It blocks (honoring the
// request context's deadline/cancellation) until the scheduler assigns a
// session to the executor.
func (h *Handler) BindExecutor(c *gin.Context) {
	id, err := executorIDParam(c)
	if err != nil {
		abort(c, err)
		return
	}
	// The scheduler's Allocate/Shuffle actions are the only writers of
	// executor.SsnID (via BindSession/PipelineSession); this handler just
	// waits for one of them to set it.
	ssnID, err := h.ctrl.WaitForSession(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, BindExecutorResponse{SsnID: ssnID})
}

// BindExecutorCompleted handles POST /executors/:id/bind_completed.
func (h *Handler) BindExecutorCompleted(c *gin.Context) {
	id, err := executorIDParam(c)
	if err != nil {
		abort(c, err)
		return
	}
	if err := h.ctrl.BindSessionCompleted(c.Request.Context(), id); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LaunchTask handles GET /executors/:id/launch_task. It blocks up to the
// application's delay_release for a Pending task to appear.
func (h *Handler) LaunchTask(c *gin.Context) {
	id, err := executorIDParam(c)
	if err != nil {
		abort(c, err)
		return
	}
	d, err := h.dispatcher(c)
	if err != nil {
		abort(c, err)
		return
	}
	task, err := d.LaunchTask(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, LaunchTaskResponse{Task: taskToDTO(task)})
}

// CompleteTask handles POST /executors/:id/complete_task.
func (h *Handler) CompleteTask(c *gin.Context) {
	id, err := executorIDParam(c)
	if err != nil {
		abort(c, err)
		return
	}
	var req CompleteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, ferrors.InvalidConfig(err.Error()))
		return
	}
	if err := h.ctrl.CompleteTask(c.Request.Context(), id, req.SsnID, req.TaskID, req.Output, req.Failed); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnbindExecutor handles POST /executors/:id/unbind.
func (h *Handler) UnbindExecutor(c *gin.Context) {
	id, err := executorIDParam(c)
	if err != nil {
		abort(c, err)
		return
	}
	if err := h.ctrl.UnbindExecutor(c.Request.Context(), id); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnbindExecutorCompleted handles POST /executors/:id/unbind_completed.
func (h *Handler) UnbindExecutorCompleted(c *gin.Context) {
	id, err := executorIDParam(c)
	if err != nil {
		abort(c, err)
		return
	}
	if err := h.ctrl.UnbindExecutorCompleted(c.Request.Context(), id); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
