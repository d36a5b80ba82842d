// Package workers runs the small set of periodic background jobs the
// service needs outside the request path: expired-session/rate-limit
// eviction and a system.* audit heartbeat.
package workers

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/domain/entities"
	"github.com/railguard/sentinel/internal/domain/services/audit"
	"github.com/railguard/sentinel/internal/domain/services/session"
	"github.com/railguard/sentinel/pkg/ratelimit"
)

// SweepWorker runs the failed-login/session eviction pass every five
// minutes and records a system.maintenance audit event for each run.
type SweepWorker struct {
	sessions *session.Service
	memory   *ratelimit.MemoryBackend
	auditor  *audit.Service
	logger   *zap.Logger
	cron     *cron.Cron
}

// NewSweepWorker wires the sweep job. memory may be nil when the
// service runs entirely on Redis, in which case the in-process
// rate-limit eviction step is skipped.
func NewSweepWorker(sessions *session.Service, memory *ratelimit.MemoryBackend, auditor *audit.Service, logger *zap.Logger) *SweepWorker {
	return &SweepWorker{
		sessions: sessions,
		memory:   memory,
		auditor:  auditor,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start schedules the sweep to run every 5 minutes and returns
// immediately; call Stop to end the schedule during shutdown.
func (w *SweepWorker) Start() error {
	_, err := w.cron.AddFunc("@every 5m", w.runSweep)
	if err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

// Stop waits for any in-flight sweep to finish and halts the schedule.
func (w *SweepWorker) Stop() {
	<-w.cron.Stop().Done()
}

func (w *SweepWorker) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	evicted, err := w.sessions.EvictExpired(ctx)
	if err != nil {
		w.logger.Warn("sweep: session eviction failed", zap.Error(err))
	}

	if w.memory != nil {
		w.memory.Evict()
	}

	action := "evicted expired sessions and rate-limit entries"
	if err := w.auditor.Record(ctx, entities.AuditRecordInput{
		EventType: entities.EventSystemMaintenance,
		Action:    action,
		Resource:  "scheduler",
		Result:    entities.ResultSuccess,
		Metadata: entities.AuditMetadata{
			Extra: map[string]any{"sessions_evicted": evicted},
		},
	}); err != nil {
		w.logger.Warn("sweep: failed to record maintenance audit event", zap.Error(err))
	}

	w.logger.Info("sweep: periodic eviction complete", zap.Int64("sessions_evicted", evicted))
}
