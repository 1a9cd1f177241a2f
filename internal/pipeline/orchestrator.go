package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"audio-pipeline/internal/media"
	"audio-pipeline/internal/storage"

	"github.com/google/uuid"
)

// Progress weight bands map per-stage percentages onto the task's global
// 0-100 scale. Bands are contiguous and together span 0-100.
const (
	bandTranscodeStart = 0
	bandTranscodeEnd   = 50
	bandSegmentEnd     = 70
	bandUploadEnd      = 95
	bandManifestEnd    = 100
)

// Options configures a Service.
type Options struct {
	SliceSeconds  int
	UploadWorkers int
	Encode        media.EncodeOptions
	TmpDir        string
}

// ServiceMetrics is the subset of metric hooks the orchestrator records.
// All methods may be left nil-backed by passing a nil implementation.
type ServiceMetrics interface {
	IncTasksStarted()
	IncTasksCompleted()
	IncTasksFailed()
	IncArtifactsUploaded()
	IncUploadRetries()
}

// Service drives the processing pipeline for one task at a time per call:
// transcode, segment, upload, manifest, finalize. It communicates with the
// push gateway only through the registry.
type Service struct {
	registry Registry
	codec    media.Codec
	store    storage.ArtifactStore
	log      *slog.Logger
	metrics  ServiceMetrics
	opts     Options
}

// NewService constructs the pipeline orchestrator. metrics may be nil.
func NewService(registry Registry, codec media.Codec, store storage.ArtifactStore, log *slog.Logger, metrics ServiceMetrics, opts Options) *Service {
	if opts.SliceSeconds <= 0 {
		opts.SliceSeconds = 10
	}
	if opts.UploadWorkers <= 0 {
		opts.UploadWorkers = DefaultUploadWorkers
	}
	return &Service{
		registry: registry,
		codec:    codec,
		store:    store,
		log:      log,
		metrics:  metrics,
		opts:     opts,
	}
}

// ValidateInput rejects malformed submissions before any registry entry is
// created.
func ValidateInput(input TrackInput) error {
	if strings.TrimSpace(input.SourceArtifactID) == "" {
		return NewError(KindInvalidInput, "validate input", errors.New("sourceArtifactId is required"))
	}
	if strings.TrimSpace(input.Title) == "" {
		return NewError(KindInvalidInput, "validate input", errors.New("title is required"))
	}
	return nil
}

// Submit validates the input, creates the task, and schedules processing
// detached from the caller. It returns the task id immediately.
func (s *Service) Submit(ctx context.Context, input TrackInput) (TaskID, error) {
	if err := ValidateInput(input); err != nil {
		return "", err
	}

	id := TaskID(uuid.NewString())
	if _, err := s.registry.Create(id, input); err != nil {
		return "", err
	}
	if s.metrics != nil {
		s.metrics.IncTasksStarted()
	}

	// Processing outlives the submitting request; it depends only on the
	// registry, never on the caller's context.
	go s.Process(context.WithoutCancel(ctx), id)

	return id, nil
}

// Process runs the full pipeline for the given task. Calling it for a task
// already in a terminal state is an idempotent no-op. Any stage error moves
// the task to terminal error; no code path leaves it stuck in processing.
func (s *Service) Process(ctx context.Context, id TaskID) {
	task, ok := s.registry.Get(id)
	if !ok {
		s.log.Warn("process called for unknown task", slog.String("task_id", string(id)))
		return
	}
	if task.Status.Terminal() {
		s.log.Debug("process skipped, task already terminal",
			slog.String("task_id", string(id)),
			slog.String("status", string(task.Status)))
		return
	}

	workDir, err := os.MkdirTemp(s.opts.TmpDir, "task-"+string(id)+"-")
	if err != nil {
		s.fail(id, NewError(KindInternal, "create work dir", err))
		return
	}
	// Temp artifacts are scoped to this run; removed on success and failure.
	defer os.RemoveAll(workDir)

	s.transition(id, StageTranscoding, bandTranscodeStart, "processing started")

	if err := s.runStages(ctx, id, task.Input, workDir); err != nil {
		s.fail(id, err)
	}
}

// runStages executes the ordered sub-steps, returning the first stage error.
func (s *Service) runStages(ctx context.Context, id TaskID, input TrackInput, workDir string) error {
	if err := ctx.Err(); err != nil {
		return NewError(KindCancelled, "pipeline", err)
	}

	transcoder := &Transcoder{Codec: s.codec, Store: s.store, Opts: s.opts.Encode}
	out, err := transcoder.Run(ctx, input, workDir, s.bandProgress(id, StageTranscoding, bandTranscodeStart, bandTranscodeEnd))
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return NewError(KindCancelled, "pipeline", err)
	}

	segmenter := &Segmenter{Codec: s.codec, SliceSeconds: s.opts.SliceSeconds}
	segments, err := segmenter.Run(ctx, out, workDir, s.bandProgress(id, StageSegmenting, bandTranscodeEnd, bandSegmentEnd))
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return NewError(KindCancelled, "pipeline", err)
	}

	uploader := &Uploader{Store: s.store, Workers: s.opts.UploadWorkers, OnRetry: s.onRetry}

	s.transition(id, StageUploading, bandSegmentEnd, "uploading artifacts")

	transcodedID, err := uploader.UploadFile(ctx, out.Path, string(id)+"/audio.mp3")
	if err != nil {
		return err
	}
	s.countUpload()

	uploaded, err := uploader.UploadSegments(ctx, id, segments, s.bandProgress(id, StageUploading, bandSegmentEnd, bandUploadEnd))
	if err != nil {
		return err
	}
	for range uploaded {
		s.countUpload()
	}

	// The manifest is rendered only from segments whose upload succeeded, and
	// is persisted last: a shipped manifest never references a missing segment.
	s.transition(id, StageManifest, bandUploadEnd, "building manifest")

	entries := make([]ManifestEntry, 0, len(uploaded))
	for _, seg := range uploaded {
		entries = append(entries, ManifestEntry{
			Index:           seg.Index,
			ArtifactID:      seg.ArtifactID,
			DurationSeconds: seg.DurationSeconds,
		})
	}
	manifest, err := BuildManifest(entries)
	if err != nil {
		return err
	}

	manifestID, err := uploader.UploadBytes(ctx, []byte(manifest), string(id)+"/playlist.m3u8")
	if err != nil {
		return err
	}
	s.countUpload()

	s.transition(id, StageFinalizing, bandManifestEnd-1, "finalizing")

	segmentIDs := make([]string, 0, len(uploaded))
	for _, seg := range uploaded {
		segmentIDs = append(segmentIDs, seg.ArtifactID)
	}
	result := &TaskResult{
		SourceArtifactID:     input.SourceArtifactID,
		TranscodedArtifactID: transcodedID,
		SegmentArtifactIDs:   segmentIDs,
		ManifestArtifactID:   manifestID,
		CoverArtifactID:      input.CoverArtifactID,
		SegmentCount:         len(uploaded),
		DurationSeconds:      out.DurationSeconds,
	}
	s.complete(id, result)
	return nil
}

// bandProgress maps a stage's 0-100 progress onto the global band.
func (s *Service) bandProgress(id TaskID, stage Stage, from, to int) ProgressFunc {
	return func(percent int, message string) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		global := from + percent*(to-from)/100
		s.update(id, stage, global, message)
	}
}

func (s *Service) transition(id TaskID, stage Stage, progress int, message string) {
	s.update(id, stage, progress, message)
}

func (s *Service) update(id TaskID, stage Stage, progress int, message string) {
	_, err := s.registry.Update(id, func(t Task) Task {
		t.Status = StatusProcessing
		t.Stage = stage
		t.Progress = progress
		t.Details = TaskDetails{
			Message:   message,
			Timestamp: time.Now().UTC(),
			Stage:     stage,
		}
		return t
	})
	if err != nil {
		s.log.Warn("registry update failed",
			slog.String("task_id", string(id)),
			slog.String("error", err.Error()))
	}
}

func (s *Service) complete(id TaskID, result *TaskResult) {
	_, err := s.registry.Update(id, func(t Task) Task {
		t.Status = StatusComplete
		t.Stage = StageFinalizing
		t.Progress = 100
		t.Result = result
		t.Details = TaskDetails{
			Message:   "processing complete",
			Timestamp: time.Now().UTC(),
			Stage:     StageFinalizing,
		}
		return t
	})
	if err != nil {
		s.log.Error("failed to mark task complete",
			slog.String("task_id", string(id)),
			slog.String("error", err.Error()))
		return
	}
	if s.metrics != nil {
		s.metrics.IncTasksCompleted()
	}
	s.log.Info("task complete",
		slog.String("task_id", string(id)),
		slog.Int("segments", result.SegmentCount))
}

func (s *Service) fail(id TaskID, cause error) {
	kind := KindOf(cause)
	msg := userMessage(kind)

	_, err := s.registry.Update(id, func(t Task) Task {
		t.Status = StatusError
		t.Details = TaskDetails{
			Message:   msg,
			Timestamp: time.Now().UTC(),
			Stage:     t.Stage,
			Error: &ErrorInfo{
				Kind:    kind,
				Message: msg,
			},
		}
		return t
	})
	if err != nil {
		s.log.Error("failed to mark task errored",
			slog.String("task_id", string(id)),
			slog.String("error", err.Error()))
		return
	}
	if s.metrics != nil {
		s.metrics.IncTasksFailed()
	}
	s.log.Error("task failed",
		slog.String("task_id", string(id)),
		slog.String("kind", string(kind)),
		slog.String("error", cause.Error()))
}

// userMessage maps an error kind to a human-readable message that leaks no
// internals to stream consumers.
func userMessage(kind ErrorKind) string {
	switch kind {
	case KindConversionFailed:
		return "audio conversion failed"
	case KindSegmentationFailed:
		return "audio segmentation failed"
	case KindUploadFailed:
		return "artifact upload failed"
	case KindManifestIntegrity:
		return "playlist manifest verification failed"
	case KindCancelled:
		return "processing was cancelled"
	default:
		return "processing failed"
	}
}

func (s *Service) onRetry() {
	if s.metrics != nil {
		s.metrics.IncUploadRetries()
	}
}

func (s *Service) countUpload() {
	if s.metrics != nil {
		s.metrics.IncArtifactsUploaded()
	}
}
