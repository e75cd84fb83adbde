package scheduler

import (
	"context"
	"time"

	"grabpic/domain/repositories"
	"grabpic/pkg/logger"
)

const (
	staleReaperJobID = "stale_job_reaper"
	staleReaperCron  = "*/5 * * * *"

	// A running job whose lock has been quiet this long is considered
	// lost; sync resume is stamp-safe so requeueing is cheap.
	staleLockAge = 15 * time.Minute
)

// RegisterStaleJobReaper schedules the crash-recovery sweep: running
// jobs with a stale lock go back to queued until the attempt cap, then
// fail as "worker lost".
func RegisterStaleJobReaper(s Scheduler, jobRepo repositories.JobRepository, maxAttempts int) error {
	return s.AddJob(staleReaperJobID, staleReaperCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		olderThan := time.Now().UTC().Add(-staleLockAge)
		requeued, failed, err := jobRepo.RequeueStale(ctx, olderThan, maxAttempts)
		if err != nil {
			logger.SchedulerError("stale_reap_failed", "Failed to requeue stale jobs", err, nil)
			return
		}
		if requeued > 0 || failed > 0 {
			logger.Scheduler("stale_jobs_reaped", "Recovered jobs from lost workers", map[string]interface{}{
				"requeued": requeued,
				"failed":   failed,
			})
		}
	})
}
