package streaming

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/flame-sh/flame/internal/flame/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades connections to websockets and registers them with a Hub.
type Handler struct {
	hub *Hub
	log *logger.Logger
}

// NewHandler builds a Handler serving observers off hub.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{hub: hub, log: log.WithFields(zap.String("component", "streaming_handler"))}
}

// StreamTask upgrades the connection and subscribes it to one task.
// GET /streaming/sessions/:ssnId/tasks/:taskId (as mounted by the Session Manager)
func (h *Handler) StreamTask(c *gin.Context) {
	ssnID, err := strconv.ParseInt(c.Param("ssnId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "invalid_argument", "message": "bad ssn id"})
		return
	}
	taskID, err := strconv.ParseInt(c.Param("taskId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "invalid_argument", "message": "bad task id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, h.log)
	h.hub.Register(client)
	client.Subscribe(ssnID, taskID)

	go client.WritePump()
	go client.ReadPump()
}

// SetupRoutes registers the streaming endpoint under router.
func SetupRoutes(router *gin.RouterGroup, handler *Handler) {
	router.GET("/sessions/:ssnId/tasks/:taskId", handler.StreamTask)
}
