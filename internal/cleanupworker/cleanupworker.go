// Package cleanupworker implements the background retention sweep
// (spec.md §4.7): a periodic scan that deletes terminal-and-aged and
// stuck jobs, prunes the dedup index, and optionally archives artifacts
// to S3 first. Grounded on the reference repo's pattern of a single
// ticker-driven goroutine started from main (internal/orchestrator's
// job_monitor.go ran a comparable periodic scan for the conversion
// pipeline).
package cleanupworker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Tatiwuli/financial-summarizer/internal/archive"
	"github.com/Tatiwuli/financial-summarizer/internal/dedup"
	"github.com/Tatiwuli/financial-summarizer/internal/jobs"
	"github.com/Tatiwuli/financial-summarizer/internal/logger"
	"github.com/Tatiwuli/financial-summarizer/internal/metrics"
)

// Archiver is the narrow upload operation the Cleanup Worker needs; nil
// disables archiving entirely (spec.md §4.7 names no archive step as
// mandatory — it is a SPEC_FULL.md §11 addition wiring the teacher's S3
// dependency into a still-optional best-effort path).
type Archiver interface {
	PutObject(ctx context.Context, key, jobID, contentType string, content []byte) error
}

var _ Archiver = (*archive.Client)(nil)

// Worker runs the periodic retention sweep.
type Worker struct {
	Registry         *jobs.Registry
	Dedup            *dedup.Index
	Archiver         Archiver // optional
	Interval         time.Duration
	StartupDelay     time.Duration
	RetentionDays    int
	ForceCleanupDays int
}

// Run blocks, running cycles on a ticker until ctx is cancelled. Intended
// to be started in its own goroutine from main.
func (w *Worker) Run(ctx context.Context) {
	select {
	case <-time.After(w.StartupDelay):
	case <-ctx.Done():
		return
	}

	w.runCycle(ctx)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

// runCycle performs one full scan-classify-delete-prune pass. Failures on
// one job never abort the cycle (spec.md §4.7).
func (w *Worker) runCycle(ctx context.Context) {
	ids, err := w.Registry.JobIDs()
	if err != nil {
		logger.Error("cleanup worker: list job directories: " + err.Error())
		return
	}

	now := time.Now()
	active := map[string]bool{}
	var staged []string

	for _, jobID := range ids {
		reason, shouldDelete := w.classify(jobID, now)
		if !shouldDelete {
			active[jobID] = true
			continue
		}
		staged = append(staged, jobID)
		w.archiveBeforeDelete(ctx, jobID)
		if err := w.Registry.DeleteJobDir(jobID); err != nil {
			logger.Error("cleanup worker: delete job " + jobID + ": " + err.Error())
			active[jobID] = true // deletion failed; keep it counted as active for the prune step
			continue
		}
		metrics.IncCleanupDeletion(reason)
	}

	if err := w.Dedup.Prune(active); err != nil {
		logger.Error("cleanup worker: prune dedup index: " + err.Error())
	}
}

// classify implements spec.md §4.7 step 1's per-job age/stage decision.
func (w *Worker) classify(jobID string, now time.Time) (reason string, shouldDelete bool) {
	lastUpdated, ok := w.lastUpdated(jobID)
	if !ok {
		return "", false
	}

	if lastUpdated.Before(now.AddDate(0, 0, -w.ForceCleanupDays)) {
		return "force_cleanup", true
	}

	status, ok := w.Registry.ReadStatus(jobID)
	terminal := ok && (status.CurrentStage == jobs.StageCompleted || status.CurrentStage == jobs.StageFailed || status.CurrentStage == jobs.StageCancelled)
	if terminal && lastUpdated.Before(now.AddDate(0, 0, -w.RetentionDays)) {
		return "retention", true
	}
	return "", false
}

func (w *Worker) lastUpdated(jobID string) (time.Time, bool) {
	if status, ok := w.Registry.ReadStatus(jobID); ok && !status.UpdatedAt.IsZero() {
		return status.UpdatedAt, true
	}
	return w.Registry.DirModTime(jobID)
}

// archiveBeforeDelete is best-effort: archive failures never block
// deletion, since retention is the mandated behavior and archiving is an
// enrichment on top of it.
func (w *Worker) archiveBeforeDelete(ctx context.Context, jobID string) {
	if w.Archiver == nil {
		return
	}
	if status, ok := w.Registry.ReadStatus(jobID); ok {
		if content, err := json.Marshal(status); err == nil {
			key := jobID + "/status.json"
			if err := w.Archiver.PutObject(ctx, key, jobID, "application/json", content); err != nil {
				logger.Warn("cleanup worker: archive " + key + ": " + err.Error())
			}
		}
	}
	for _, name := range []string{"q_a_summary", "overview_summary", "summary_evaluation"} {
		out, ok := w.Registry.ReadOutput(jobID, name)
		if !ok {
			continue
		}
		content, err := json.Marshal(out)
		if err != nil {
			continue
		}
		key := jobID + "/" + name + ".json"
		if err := w.Archiver.PutObject(ctx, key, jobID, "application/json", content); err != nil {
			logger.Warn("cleanup worker: archive " + key + ": " + err.Error())
		}
	}
}
