// Package backendrpc is the Executor Manager-facing wire contract: node
// registration, executor lifecycle, and task dispatch, served over gin.
package backendrpc

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flame-sh/flame/internal/flame/ferrors"
	"github.com/flame-sh/flame/internal/flame/logger"
)

// RequestLogger logs every request's path, method, status and duration
// under a generated request id.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		log.Info("backend rpc request",
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.String("request_id", requestID),
		)
	}
}

// ErrorHandler translates a FlameError left on the context into the RPC
// boundary's {status, message} payload, per ferrors' HTTPStatus/RPCStatus
// mapping (spec.md §7).
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		kind := ferrors.KindOf(err)

		log.Error("backend rpc error", zap.String("status", ferrors.RPCStatus(kind)), zap.Error(err))
		c.JSON(ferrors.HTTPStatus(kind), gin.H{
			"status":  ferrors.RPCStatus(kind),
			"message": err.Error(),
		})
	}
}

// Recovery turns a panic into a 500 response instead of killing the server.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"status":  "internal",
					"message": "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// abort records err on the context for ErrorHandler and stops the chain.
func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
