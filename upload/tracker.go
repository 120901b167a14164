package upload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type stepTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

func newStepTracker(stepId string, envRepo env.Repository, logger log.Logger) stepTracker {
	p := analytics.Properties{
		"step_id":     stepId,
		"build_slug":  envRepo.Get("BITRISE_BUILD_SLUG"),
		"app_slug":    envRepo.Get("BITRISE_APP_SLUG"),
		"workflow":    envRepo.Get("BITRISE_TRIGGERED_WORKFLOW_ID"),
		"is_pr_build": envRepo.Get("IS_PR") == "true",
	}
	return stepTracker{
		tracker: analytics.NewDefaultTracker(logger, p),
		logger:  logger,
	}
}

func (t *stepTracker) logUploadStarted(fileSizeBytes int64, chunkCount int) {
	properties := analytics.Properties{
		"file_size_bytes": fileSizeBytes,
		"chunk_count":     chunkCount,
	}
	t.tracker.Enqueue("step_video_upload_started", properties)
}

func (t *stepTracker) logChunksUploaded(uploadTime time.Duration, fileSizeBytes int64, chunkCount int) {
	properties := analytics.Properties{
		"upload_time_s":   uploadTime.Truncate(time.Second).Seconds(),
		"file_size_bytes": fileSizeBytes,
		"chunk_count":     chunkCount,
	}
	t.tracker.Enqueue("step_video_chunks_uploaded", properties)
}

func (t *stepTracker) logUploadFinalized(finalizeTime time.Duration) {
	properties := analytics.Properties{
		"finalize_time_s": finalizeTime.Truncate(time.Second).Seconds(),
	}
	t.tracker.Enqueue("step_video_upload_finalized", properties)
}

func (t *stepTracker) wait() {
	t.tracker.Wait()
}
