package tasks

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/infraweave-io/infraweave/internal/drift"
	"github.com/infraweave-io/infraweave/pkg/logger"
	"go.uber.org/zap"
)

// DriftHandler runs one drift sweep pass from an asynq task, per
// spec.md §4.7's periodic reconciliation sweep.
type DriftHandler struct {
	controller *drift.Controller
}

// NewDriftHandler wires a DriftHandler.
func NewDriftHandler(c *drift.Controller) *DriftHandler {
	return &DriftHandler{controller: c}
}

// HandleDriftSweep implements the queue.TaskDrift task.
func (h *DriftHandler) HandleDriftSweep(ctx context.Context, t *asynq.Task) error {
	result, err := h.controller.Sweep(ctx, time.Now())
	if err != nil {
		logger.L().Error("drift sweep failed", zap.Error(err))
		return err
	}
	logger.L().Info("drift sweep complete",
		zap.Int("scanned", result.Scanned), zap.Int("enqueued", result.Enqueued), zap.Int("failed", result.Failed))
	return nil
}
