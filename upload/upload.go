// Package upload is the shared implementation of video upload steps: it
// splits a media file into chunks, uploads them with bounded concurrency and
// finalizes the upload so the service can assemble the file.
package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"

	"github.com/mediahub-io/go-videoupload/upload/chunker"
	"github.com/mediahub-io/go-videoupload/upload/network"
	"github.com/mediahub-io/go-videoupload/upload/progress"
	"github.com/mediahub-io/go-videoupload/upload/scheduler"
)

const (
	apiBaseURLEnvKey  = "MEDIAHUB_API_BASE_URL"
	accessTokenEnvKey = "MEDIAHUB_API_ACCESS_TOKEN"

	mediaURLOutputKey  = "MEDIA_UPLOAD_URL"
	mediaPathOutputKey = "MEDIA_LOCAL_PATH"

	defaultChunkSize            = "1MB"
	defaultMaxConcurrentUploads = 2
)

// UploadVideoInput is the information that comes from the upload steps that
// call this shared implementation.
type UploadVideoInput struct {
	// StepId identifies the exact upload step. Used for logging events.
	StepId  string
	Verbose bool
	// VideoID is the catalog entry the media file belongs to.
	VideoID string
	// FilePath selects the media file. It may contain * and ** wildcards, in
	// which case it must match exactly one file.
	FilePath string
	// ChunkSize is the per-chunk size as a human-readable string ("1MB").
	// If not provided, the default (1MB) is used.
	ChunkSize string
	// MaxConcurrentUploads bounds the number of in-flight chunk uploads.
	// If not provided (0), the default (2) is used.
	MaxConcurrentUploads int
	// MediaURL is the resource URL of the uploaded media, exported as a step
	// output after a successful run.
	MediaURL string
}

// UploadResult is the outcome of a successful upload run.
type UploadResult struct {
	MediaURL    string
	TotalChunks int
}

// FetchMediaInput ...
type FetchMediaInput struct {
	// MediaURL is the URL of the assembled media, as resolved after finalize.
	MediaURL string
	// DownloadPath is the local file the media is written to.
	DownloadPath string
}

// Uploader ...
type Uploader interface {
	Upload(input UploadVideoInput) (UploadResult, error)
	FetchMedia(input FetchMediaInput) error
}

type uploadConfig struct {
	Verbose              bool
	VideoID              string
	Source               chunker.FileSource
	ChunkSizeBytes       int64
	MaxConcurrentUploads int
	MediaURL             string
	APIBaseURL           string
	APIAccessToken       string
}

type uploader struct {
	envRepo      env.Repository
	logger       log.Logger
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
	exporter     OutputExporter
	api          network.API

	inProgress int32
}

// NewUploader creates a new video uploader instance. `api` can be nil, unless
// you want to provide a custom API client implementation.
func NewUploader(
	envRepo env.Repository,
	logger log.Logger,
	pathModifier pathutil.PathModifier,
	pathChecker pathutil.PathChecker,
	exporter OutputExporter,
	api network.API,
) *uploader {
	if exporter == nil {
		exporter = NewEnvmanExporter(command.NewFactory(envRepo))
	}
	return &uploader{
		envRepo:      envRepo,
		logger:       logger,
		pathModifier: pathModifier,
		pathChecker:  pathChecker,
		exporter:     exporter,
		api:          api,
	}
}

// Upload runs one upload from chunk planning to finalize. A second call while
// a run is live fails with ErrUploadInProgress and has no side effects.
func (u *uploader) Upload(input UploadVideoInput) (UploadResult, error) {
	if !atomic.CompareAndSwapInt32(&u.inProgress, 0, 1) {
		return UploadResult{}, ErrUploadInProgress
	}
	defer atomic.StoreInt32(&u.inProgress, 0)

	u.logger.TDebugf("Upload start")
	defer func() {
		u.logger.TDebugf("Upload done")
	}()

	config, err := u.createConfig(input)
	if err != nil {
		if err == ErrNoFileSelected {
			u.logger.Errorf("Please provide a file to upload")
			return UploadResult{}, err
		}
		return UploadResult{}, fmt.Errorf("failed to parse inputs: %w", err)
	}

	tracker := newStepTracker(input.StepId, u.envRepo, u.logger)
	defer tracker.wait()

	ctx := context.Background()
	session := NewSession()

	u.logger.Println()
	u.logger.Infof("Planning chunks...")
	if err := session.To(StateChunking); err != nil {
		return UploadResult{}, u.fail(session, err)
	}
	plan, err := chunker.Plan(config.Source.Size, config.ChunkSizeBytes)
	if err != nil {
		return UploadResult{}, u.fail(session, fmt.Errorf("chunk planning: %w", err))
	}
	if err := session.SetTotalChunks(len(plan)); err != nil {
		return UploadResult{}, u.fail(session, err)
	}
	u.logger.Printf("File size: %s", units.HumanSizeWithPrecision(float64(config.Source.Size), 3))
	u.logger.Donef("Upload plan: %d chunks", len(plan))
	tracker.logUploadStarted(config.Source.Size, len(plan))

	api := u.api
	if api == nil {
		api = network.NewClient(retryhttp.NewClient(u.logger), network.DefaultChunkClient(), network.ClientParams{
			APIBaseURL: config.APIBaseURL,
			VideoID:    config.VideoID,
			Token:      config.APIAccessToken,
		}, u.logger)
	}

	if err := api.PrepareSession(ctx); err != nil {
		return UploadResult{}, u.fail(session, fmt.Errorf("prepare upload session: %w", err))
	}

	if len(plan) == 0 {
		u.logger.Printf("The file is empty, skipping chunk upload")
	} else {
		if err := session.To(StateUploading); err != nil {
			return UploadResult{}, u.fail(session, err)
		}

		u.logger.Println()
		u.logger.Infof("Uploading %d chunks with up to %d in flight...", len(plan), config.MaxConcurrentUploads)
		uploadStartTime := time.Now()

		if err := u.uploadChunks(ctx, api, config, session, plan); err != nil {
			return UploadResult{}, u.fail(session, fmt.Errorf("chunk upload: %w", err))
		}

		uploadTime := time.Since(uploadStartTime).Round(time.Second)
		tracker.logChunksUploaded(uploadTime, config.Source.Size, len(plan))
		u.logger.Donef("All %d chunks uploaded in %s", len(plan), uploadTime)
	}

	if err := session.To(StateFinalizing); err != nil {
		return UploadResult{}, u.fail(session, err)
	}

	u.logger.Println()
	u.logger.Infof("Finalizing upload...")
	finalizeStartTime := time.Now()
	response, err := api.Finalize(ctx, config.Source.Name, len(plan))
	if err != nil {
		return UploadResult{}, u.fail(session, fmt.Errorf("finalize upload: %w", err))
	}
	tracker.logUploadFinalized(time.Since(finalizeStartTime).Round(time.Second))
	logResponseMessage(response, u.logger)

	if err := session.To(StateSucceeded); err != nil {
		return UploadResult{}, u.fail(session, err)
	}

	if config.MediaURL != "" {
		if err := u.exporter.ExportOutput(mediaURLOutputKey, config.MediaURL); err != nil {
			u.logger.Warnf("Failed to export %s: %s", mediaURLOutputKey, err)
		}
	}

	u.logger.Donef("Upload finished, media available at: %s", config.MediaURL)
	return UploadResult{
		MediaURL:    config.MediaURL,
		TotalChunks: len(plan),
	}, nil
}

// FetchMedia downloads the assembled media, typically to verify an upload end
// to end, and exports the local path for subsequent steps.
func (u *uploader) FetchMedia(input FetchMediaInput) error {
	downloadPath, err := u.pathModifier.AbsPath(input.DownloadPath)
	if err != nil {
		return fmt.Errorf("failed to parse path %s: %w", input.DownloadPath, err)
	}

	u.logger.Println()
	u.logger.Infof("Downloading media...")
	if err := network.DownloadMedia(context.Background(), network.DownloadParams{
		MediaURL:     input.MediaURL,
		DownloadPath: downloadPath,
	}, u.logger); err != nil {
		return fmt.Errorf("download media: %w", err)
	}
	u.logger.Donef("Media saved to %s", downloadPath)

	if err := u.exporter.ExportOutputFile(mediaPathOutputKey, downloadPath, downloadPath); err != nil {
		u.logger.Warnf("Failed to export %s: %s", mediaPathOutputKey, err)
	}
	return nil
}

func (u *uploader) uploadChunks(ctx context.Context, api network.API, config uploadConfig, session *Session, plan []chunker.Chunk) error {
	provider, err := chunker.NewFileChunkProvider(config.Source, plan)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			u.logger.Errorf("failed to close file: %s", err)
		}
	}()

	progressTracker := progress.NewTracker(len(plan), progress.NewLogListener(u.logger))

	tasks := make([]scheduler.Task, len(plan))
	for _, chunk := range plan {
		chunk := chunk
		tasks[chunk.Index] = scheduler.Task{
			Index: chunk.Index,
			Run: func(ctx context.Context) error {
				reader, err := provider.GetChunk(chunk.Index)
				if err != nil {
					return err
				}
				return api.IngestChunk(ctx, chunk.Index, reader, chunk.Size())
			},
		}
	}

	return scheduler.Run(ctx, tasks, config.MaxConcurrentUploads, func(index int) {
		if err := session.ChunkDone(); err != nil {
			u.logger.Warnf("chunk bookkeeping: %s", err)
		}
		progressTracker.OnChunkComplete()
	})
}

// fail resolves the session and reduces the failure to the single user-facing
// error. The underlying reason only goes to the log.
func (u *uploader) fail(session *Session, err error) error {
	if terr := session.To(StateFailed); terr != nil {
		u.logger.Debugf("session bookkeeping: %s", terr)
	}
	u.logger.Errorf("Upload failed: %s", err)
	return ErrUploadFailed
}

func (u *uploader) createConfig(input UploadVideoInput) (uploadConfig, error) {
	if strings.TrimSpace(input.VideoID) == "" {
		return uploadConfig{}, fmt.Errorf("video ID should not be empty")
	}

	filePath, err := u.evaluateFilePath(input.FilePath)
	if err != nil {
		return uploadConfig{}, err
	}
	source, err := chunker.NewFileSource(filePath)
	if err != nil {
		return uploadConfig{}, err
	}

	chunkSizeInput := input.ChunkSize
	if chunkSizeInput == "" {
		chunkSizeInput = defaultChunkSize
	}
	chunkSizeBytes, err := units.RAMInBytes(chunkSizeInput)
	if err != nil {
		return uploadConfig{}, fmt.Errorf("invalid chunk size %s: %w", chunkSizeInput, err)
	}
	if chunkSizeBytes <= 0 {
		return uploadConfig{}, fmt.Errorf("chunk size should be positive, got %s", chunkSizeInput)
	}

	maxConcurrentUploads := input.MaxConcurrentUploads
	if maxConcurrentUploads == 0 {
		maxConcurrentUploads = defaultMaxConcurrentUploads
	}
	if maxConcurrentUploads < 1 {
		return uploadConfig{}, fmt.Errorf("max concurrent uploads should be at least 1")
	}

	apiBaseURL := u.envRepo.Get(apiBaseURLEnvKey)
	if apiBaseURL == "" {
		return uploadConfig{}, fmt.Errorf("the secret '%s' is not defined", apiBaseURLEnvKey)
	}
	apiAccessToken := u.envRepo.Get(accessTokenEnvKey)
	if apiAccessToken == "" {
		return uploadConfig{}, fmt.Errorf("the secret '%s' is not defined", accessTokenEnvKey)
	}

	return uploadConfig{
		Verbose:              input.Verbose,
		VideoID:              input.VideoID,
		Source:               source,
		ChunkSizeBytes:       chunkSizeBytes,
		MaxConcurrentUploads: maxConcurrentUploads,
		MediaURL:             input.MediaURL,
		APIBaseURL:           apiBaseURL,
		APIAccessToken:       apiAccessToken,
	}, nil
}

// evaluateFilePath resolves the file input to exactly one existing file.
func (u *uploader) evaluateFilePath(pattern string) (string, error) {
	if strings.TrimSpace(pattern) == "" {
		return "", ErrNoFileSelected
	}

	if !strings.Contains(pattern, "*") {
		absPath, err := u.pathModifier.AbsPath(pattern) // resolves ~/ and expands any envs
		if err != nil {
			return "", fmt.Errorf("failed to parse path %s: %w", pattern, err)
		}
		exists, err := u.pathChecker.IsPathExists(absPath)
		if err != nil {
			return "", fmt.Errorf("failed to check path %s: %w", absPath, err)
		}
		if !exists {
			return "", ErrNoFileSelected
		}
		return absPath, nil
	}

	base, pat := doublestar.SplitPattern(pattern)
	absBase, err := u.pathModifier.AbsPath(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse path %s: %w", base, err)
	}
	matches, err := doublestar.Glob(os.DirFS(absBase), pat, doublestar.WithNoFollow())
	if err != nil {
		return "", fmt.Errorf("error in path pattern '%s': %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", ErrNoFileSelected
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("path pattern %s matches %d files, exactly one expected", pattern, len(matches))
	}

	return filepath.Join(absBase, matches[0]), nil
}

func logResponseMessage(response network.FinalizeResponse, logger log.Logger) {
	if response.Message == "" || response.Severity == "" {
		return
	}

	var loggerFn func(format string, v ...interface{})
	switch response.Severity {
	case "debug":
		loggerFn = logger.Debugf
	case "info":
		loggerFn = logger.Infof
	case "warning":
		loggerFn = logger.Warnf
	case "error":
		loggerFn = logger.Errorf
	default:
		loggerFn = logger.Printf
	}

	loggerFn("\n")
	loggerFn(response.Message)
	loggerFn("\n")
}
