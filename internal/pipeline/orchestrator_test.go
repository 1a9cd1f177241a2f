package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audio-pipeline/internal/media"
	"audio-pipeline/internal/platform/logger"
	"audio-pipeline/internal/storage"
)

// fakeCodec mimics the external codec with file-in/file-out semantics.
type fakeCodec struct {
	duration      float64
	noAudio       bool
	failTranscode bool
	failSplit     bool
}

func (f *fakeCodec) Inspect(ctx context.Context, src string) (media.SourceInfo, error) {
	return media.SourceInfo{DurationSeconds: f.duration, HasAudio: !f.noAudio}, nil
}

func (f *fakeCodec) Transcode(ctx context.Context, src, dst string, opts media.EncodeOptions) error {
	if f.failTranscode {
		return fmt.Errorf("codec exited with status 1")
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func (f *fakeCodec) Split(ctx context.Context, src, outDir string, sliceSeconds int) ([]string, error) {
	if f.failSplit {
		return nil, fmt.Errorf("codec killed mid-split")
	}
	n := int(math.Ceil(f.duration / float64(sliceSeconds)))
	if n < 1 {
		n = 1
	}
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("segment_%05d.mp3", i))
		if err := os.WriteFile(p, []byte("slice-data"), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// rejectingStore wraps an ArtifactStore and rejects puts whose suggested id
// has one of the given suffixes, on every attempt.
type rejectingStore struct {
	storage.ArtifactStore
	rejectSuffixes []string
}

func (s *rejectingStore) Put(ctx context.Context, data []byte, suggestedID string) (string, error) {
	for _, suffix := range s.rejectSuffixes {
		if strings.HasSuffix(suggestedID, suffix) {
			return "", fmt.Errorf("store rejected %s", suggestedID)
		}
	}
	return s.ArtifactStore.Put(ctx, data, suggestedID)
}

func testLogger() *slog.Logger {
	return logger.NewWithWriter(io.Discard, "error", "json")
}

func newTestService(t *testing.T, codec media.Codec, store storage.ArtifactStore) (*Service, *InMemoryRegistry) {
	t.Helper()
	registry := NewInMemoryRegistry()
	svc := NewService(registry, codec, store, testLogger(), nil, Options{
		SliceSeconds: 10,
		TmpDir:       t.TempDir(),
	})
	return svc, registry
}

func seedSource(t *testing.T, store storage.ArtifactStore, id string) {
	t.Helper()
	if _, err := store.Put(context.Background(), []byte("raw-audio-bytes"), id); err != nil {
		t.Fatalf("seed source: %v", err)
	}
}

func TestService_Process_thirtySecondSource(t *testing.T) {
	// 30s source with 10s slices: exactly 3 segments, manifest with 3 entry
	// pairs, terminal complete, progress 100.
	store := storage.NewMemoryStore()
	seedSource(t, store, "uploads/raw.wav")
	svc, registry := newTestService(t, &fakeCodec{duration: 30}, store)

	task, err := registry.Create("t1", TrackInput{SourceArtifactID: "uploads/raw.wav", Title: "Test Track"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != StatusPending {
		t.Fatalf("new task status = %s, want pending", task.Status)
	}

	svc.Process(context.Background(), "t1")

	got, ok := registry.Get("t1")
	if !ok {
		t.Fatal("task missing after process")
	}
	if got.Status != StatusComplete {
		t.Fatalf("status = %s (details: %+v), want complete", got.Status, got.Details)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	if got.Result == nil {
		t.Fatal("result not set on complete task")
	}
	if got.Result.SegmentCount != 3 || len(got.Result.SegmentArtifactIDs) != 3 {
		t.Errorf("segment count = %d (ids %d), want 3", got.Result.SegmentCount, len(got.Result.SegmentArtifactIDs))
	}
	if got.Result.ManifestArtifactID == "" {
		t.Error("manifest artifact id not set")
	}
	if got.Result.DurationSeconds != 30 {
		t.Errorf("duration = %v, want 30", got.Result.DurationSeconds)
	}

	manifest, err := store.Get(context.Background(), got.Result.ManifestArtifactID)
	if err != nil {
		t.Fatalf("fetch manifest: %v", err)
	}
	if n := countEntryLines(string(manifest)); n != 3 {
		t.Errorf("manifest entry lines = %d, want 3\n%s", n, manifest)
	}
	for _, id := range got.Result.SegmentArtifactIDs {
		if !strings.Contains(string(manifest), id) {
			t.Errorf("manifest missing segment artifact %s", id)
		}
		if _, err := store.Get(context.Background(), id); err != nil {
			t.Errorf("segment artifact %s not persisted: %v", id, err)
		}
	}
}

func TestService_Process_uploadRejected_noManifestShipped(t *testing.T) {
	// The store rejects the 2nd of 3 segment uploads on every retry: the task
	// ends in error with kind UploadFailed and no manifest is ever uploaded.
	mem := storage.NewMemoryStore()
	seedSource(t, mem, "uploads/raw.wav")
	store := &rejectingStore{ArtifactStore: mem, rejectSuffixes: []string{"segment_00001.mp3"}}
	svc, registry := newTestService(t, &fakeCodec{duration: 30}, store)

	if _, err := registry.Create("t1", TrackInput{SourceArtifactID: "uploads/raw.wav", Title: "Test Track"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.Process(context.Background(), "t1")

	got, _ := registry.Get("t1")
	if got.Status != StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.Details.Error == nil || got.Details.Error.Kind != KindUploadFailed {
		t.Fatalf("error info = %+v, want kind UploadFailed", got.Details.Error)
	}
	if got.Result != nil {
		t.Error("result must not be set on errored task")
	}
	if _, err := mem.Get(context.Background(), "t1/playlist.m3u8"); err == nil {
		t.Error("manifest was uploaded despite failed segment upload")
	}
}

func TestService_Process_conversionFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	seedSource(t, store, "uploads/raw.wav")
	svc, registry := newTestService(t, &fakeCodec{duration: 30, failTranscode: true}, store)

	if _, err := registry.Create("t1", TrackInput{SourceArtifactID: "uploads/raw.wav", Title: "Test Track"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.Process(context.Background(), "t1")

	got, _ := registry.Get("t1")
	if got.Status != StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.Details.Error == nil || got.Details.Error.Kind != KindConversionFailed {
		t.Fatalf("error kind = %+v, want ConversionFailed", got.Details.Error)
	}
	// Nothing beyond the pre-existing source should be persisted.
	if store.Len() != 1 {
		t.Errorf("store holds %d artifacts, want 1 (source only)", store.Len())
	}
}

func TestService_Process_segmentationFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	seedSource(t, store, "uploads/raw.wav")
	svc, registry := newTestService(t, &fakeCodec{duration: 30, failSplit: true}, store)

	if _, err := registry.Create("t1", TrackInput{SourceArtifactID: "uploads/raw.wav", Title: "Test Track"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.Process(context.Background(), "t1")

	got, _ := registry.Get("t1")
	if got.Status != StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.Details.Error == nil || got.Details.Error.Kind != KindSegmentationFailed {
		t.Fatalf("error kind = %+v, want SegmentationFailed", got.Details.Error)
	}
}

func TestService_Process_rejectsSourceWithoutAudio(t *testing.T) {
	store := storage.NewMemoryStore()
	seedSource(t, store, "uploads/not-audio.bin")
	svc, registry := newTestService(t, &fakeCodec{duration: 30, noAudio: true}, store)

	if _, err := registry.Create("t1", TrackInput{SourceArtifactID: "uploads/not-audio.bin", Title: "Test Track"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.Process(context.Background(), "t1")

	got, _ := registry.Get("t1")
	if got.Status != StatusError || got.Details.Error == nil || got.Details.Error.Kind != KindConversionFailed {
		t.Fatalf("got %s/%+v, want error/ConversionFailed", got.Status, got.Details.Error)
	}
}

func TestService_Process_terminalTaskIsNoOp(t *testing.T) {
	store := storage.NewMemoryStore()
	seedSource(t, store, "uploads/raw.wav")
	svc, registry := newTestService(t, &fakeCodec{duration: 30}, store)

	if _, err := registry.Create("t1", TrackInput{SourceArtifactID: "uploads/raw.wav", Title: "Test Track"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	svc.Process(context.Background(), "t1")

	first, _ := registry.Get("t1")
	if first.Status != StatusComplete {
		t.Fatalf("setup: status = %s, want complete", first.Status)
	}
	artifactsAfterFirst := store.Len()

	// Running again must not mutate the task or re-upload artifacts.
	svc.Process(context.Background(), "t1")

	second, _ := registry.Get("t1")
	if second.UpdatedAt != first.UpdatedAt {
		t.Error("terminal task was mutated by a second run")
	}
	if store.Len() != artifactsAfterFirst {
		t.Errorf("second run changed artifact count: %d -> %d", artifactsAfterFirst, store.Len())
	}
}

func TestService_Process_cancelledContext(t *testing.T) {
	store := storage.NewMemoryStore()
	seedSource(t, store, "uploads/raw.wav")
	svc, registry := newTestService(t, &fakeCodec{duration: 30}, store)

	if _, err := registry.Create("t1", TrackInput{SourceArtifactID: "uploads/raw.wav", Title: "Test Track"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Process(ctx, "t1")

	got, _ := registry.Get("t1")
	if got.Status != StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.Details.Error == nil || got.Details.Error.Kind != KindCancelled {
		t.Fatalf("error kind = %+v, want Cancelled", got.Details.Error)
	}
}

func TestService_Submit_validation(t *testing.T) {
	store := storage.NewMemoryStore()
	svc, registry := newTestService(t, &fakeCodec{duration: 30}, store)

	_, err := svc.Submit(context.Background(), TrackInput{Title: "no source"})
	if err == nil || KindOf(err) != KindInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
	_, err = svc.Submit(context.Background(), TrackInput{SourceArtifactID: "uploads/raw.wav"})
	if err == nil || KindOf(err) != KindInvalidInput {
		t.Fatalf("expected InvalidInput for missing title, got %v", err)
	}
	if registry.ActiveTaskCount() != 0 {
		t.Error("validation failure must not create a task")
	}
}
