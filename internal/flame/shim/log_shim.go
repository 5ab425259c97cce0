package shim

import (
	"context"

	"go.uber.org/zap"

	"github.com/flame-sh/flame/internal/flame/logger"
)

// LogShim is the zero-config default: it writes every lifecycle call to
// the structured logger and echoes the task input back as output. It's
// used in tests and wherever an application names shim "log".
type LogShim struct {
	log *logger.Logger
	ssn *SessionContext
}

// NewLogShim builds a LogShim logging through log.
func NewLogShim(log *logger.Logger) *LogShim {
	return &LogShim{log: log}
}

func (s *LogShim) OnSessionEnter(ctx context.Context, sctx *SessionContext) error {
	s.ssn = sctx
	s.log.Info("shim session enter",
		zap.Int64("ssn_id", sctx.SsnID),
		zap.String("application", sctx.Application),
	)
	return nil
}

func (s *LogShim) OnTaskInvoke(ctx context.Context, tctx *TaskContext) ([]byte, error) {
	s.log.Info("shim task invoke",
		zap.Int64("ssn_id", tctx.SsnID),
		zap.Int64("task_id", tctx.TaskID),
		zap.Int("input_bytes", len(tctx.Input)),
	)
	return tctx.Input, nil
}

func (s *LogShim) OnSessionLeave(ctx context.Context) error {
	ssnID := int64(-1)
	if s.ssn != nil {
		ssnID = s.ssn.SsnID
	}
	s.log.Info("shim session leave", zap.Int64("ssn_id", ssnID))
	return nil
}
