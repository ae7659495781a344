package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/memos-platform/memos/internal/condense"
	"github.com/memos-platform/memos/internal/metrics"
	inats "github.com/memos-platform/memos/internal/nats"
)

// Runner consumes condensation jobs from NATS and executes them with the
// condensation engine. Jobs that fail are logged and dropped, never retried;
// the next query miss on the session enqueues a fresh one.
type Runner struct {
	engine      *condense.Engine
	consumerMgr *inats.ConsumerManager
	dsn         string
}

// fetchErrBackoff paces the consume loop when Fetch itself fails, so a
// broker outage does not spin the worker.
const fetchErrBackoff = 2 * time.Second

// NewRunner creates a job runner. dsn is the runtime database connection
// string, used only to detect stale configuration embedded in old jobs.
func NewRunner(engine *condense.Engine, consumerMgr *inats.ConsumerManager, dsn string) *Runner {
	return &Runner{engine: engine, consumerMgr: consumerMgr, dsn: dsn}
}

// Start runs the consume loop until the context is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	consumer, err := r.consumerMgr.EnsureConsumer(ctx, inats.StreamJobs, "condense-worker", inats.SubjectCondenseJob)
	if err != nil {
		return err
	}

	slog.Info("condensation worker started", "stream", inats.StreamJobs)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("worker: fetching jobs", "error", err)
			if !waitBackoff(ctx) {
				return nil
			}
			continue
		}

		for msg := range msgs.Messages() {
			r.handleJob(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// handleJob runs one job. The message is always Ack'd: a job that cannot be
// processed (bad payload, engine error, panic) is dropped after logging.
func (r *Runner) handleJob(ctx context.Context, msg jetstream.Msg) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("worker: panic in job handler", "panic", rec)
			metrics.CondensationsTotal.WithLabelValues("failed").Inc()
		}
		if err := msg.Ack(); err != nil {
			slog.Warn("worker: acking message", "error", err)
		}
	}()

	var job inats.CondensationJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		slog.Error("worker: unmarshaling job", "error", err)
		metrics.CondensationsTotal.WithLabelValues("failed").Inc()
		return
	}

	if stale, got := staleConfig(job.DatabaseURL, r.dsn); stale {
		slog.Warn("worker: job carries a stale database_url, using runtime config",
			"job_id", job.JobID, "stale_url", got)
	}

	res, err := r.engine.Run(ctx, condense.Job{
		Namespace:      job.Namespace,
		SessionID:      job.SessionID,
		EventIDs:       job.EventIDs,
		RawText:        job.RawText,
		TriggerReason:  job.TriggerReason,
		TriggerDetails: job.TriggerDetails,
	})
	if err != nil {
		slog.Error("worker: condensation failed, dropping job",
			"job_id", job.JobID, "namespace", job.Namespace,
			"session_id", job.SessionID, "error", err)
		metrics.CondensationsTotal.WithLabelValues("failed").Inc()
		return
	}

	metrics.CondensationsTotal.WithLabelValues("ok").Inc()
	if savings := res.TokenOriginal - res.TokenCondensed; savings > 0 {
		metrics.TokenSavingsTotal.Add(float64(savings))
	}

	slog.Info("condensation complete",
		"job_id", job.JobID, "summary_id", res.SummaryID,
		"token_original", res.TokenOriginal, "token_condensed", res.TokenCondensed)
}

// waitBackoff pauses before the next fetch attempt. It returns false when
// the context is cancelled before the backoff elapses.
func waitBackoff(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(fetchErrBackoff):
		return true
	}
}

// staleConfig reports whether a job-embedded connection string disagrees
// with the runtime one. Empty means the enqueuer is current and sent none.
func staleConfig(jobURL, runtimeDSN string) (bool, string) {
	if jobURL == "" {
		return false, ""
	}
	if jobURL == runtimeDSN {
		return false, ""
	}
	return true, jobURL
}
