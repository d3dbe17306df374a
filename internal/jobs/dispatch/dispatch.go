// Package dispatch schedules controller passes for batches, either on this
// process or through Temporal.
package dispatch

import (
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/services"
	"github.com/yungbote/podscribe-backend/internal/temporalx"
)

type Dispatcher interface {
	services.BatchDispatcher
	Close()
}

// New picks Temporal when a client is available and falls back to the
// in-process dispatcher otherwise.
func New(log *logger.Logger, tc temporalsdkclient.Client, cfg temporalx.Config, ctrl services.BatchController) Dispatcher {
	if tc != nil {
		log.Info("Batch dispatch via Temporal", "task_queue", cfg.TaskQueue)
		return NewTemporal(log, tc, cfg)
	}
	log.Info("Batch dispatch in-process", "first_delay", cfg.ReconcileFirstDelay, "delay", cfg.ReconcileDelay)
	return NewLocal(log, ctrl, cfg.ReconcileFirstDelay, cfg.ReconcileDelay)
}
