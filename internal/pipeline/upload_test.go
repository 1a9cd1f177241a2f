package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"audio-pipeline/internal/storage"
)

// flakyStore fails the first failures puts for each suggested id, then succeeds.
type flakyStore struct {
	storage.ArtifactStore
	failures int

	mu       sync.Mutex
	attempts map[string]int
}

func newFlakyStore(inner storage.ArtifactStore, failures int) *flakyStore {
	return &flakyStore{ArtifactStore: inner, failures: failures, attempts: make(map[string]int)}
}

func (s *flakyStore) Put(ctx context.Context, data []byte, suggestedID string) (string, error) {
	s.mu.Lock()
	s.attempts[suggestedID]++
	n := s.attempts[suggestedID]
	s.mu.Unlock()
	if n <= s.failures {
		return "", fmt.Errorf("transient store error (attempt %d)", n)
	}
	return s.ArtifactStore.Put(ctx, data, suggestedID)
}

func writeSegmentFiles(t *testing.T, n int) []Segment {
	t.Helper()
	dir := t.TempDir()
	segments := make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, fmt.Sprintf("segment_%05d.mp3", i))
		if err := os.WriteFile(p, []byte("slice-data"), 0o644); err != nil {
			t.Fatalf("write segment: %v", err)
		}
		segments = append(segments, Segment{Index: i, Path: p, SizeBytes: 10, DurationSeconds: 10})
	}
	return segments
}

func noProgress(int, string) {}

func TestUploader_UploadSegments_setsArtifactIDsInOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	u := &Uploader{Store: store, Workers: 4, sleep: func(time.Duration) {}}
	segments := writeSegmentFiles(t, 8)

	uploaded, err := u.UploadSegments(context.Background(), "t1", segments, noProgress)
	if err != nil {
		t.Fatalf("UploadSegments: %v", err)
	}
	if len(uploaded) != 8 {
		t.Fatalf("uploaded %d segments, want 8", len(uploaded))
	}
	for i, seg := range uploaded {
		if seg.Index != i {
			t.Errorf("position %d holds index %d; ordering must be deterministic", i, seg.Index)
		}
		if seg.ArtifactID == "" {
			t.Errorf("segment %d has no artifact id after upload", i)
		}
		if _, err := store.Get(context.Background(), seg.ArtifactID); err != nil {
			t.Errorf("segment %d artifact not in store: %v", i, err)
		}
	}
}

func TestUploader_retriesTransientFailures(t *testing.T) {
	retries := 0
	store := newFlakyStore(storage.NewMemoryStore(), 2)
	u := &Uploader{
		Store:   store,
		Workers: 1,
		OnRetry: func() { retries++ },
		sleep:   func(time.Duration) {},
	}
	segments := writeSegmentFiles(t, 1)

	uploaded, err := u.UploadSegments(context.Background(), "t1", segments, noProgress)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if uploaded[0].ArtifactID == "" {
		t.Error("artifact id not set after retried upload")
	}
	if retries != 2 {
		t.Errorf("retries = %d, want 2", retries)
	}
}

func TestUploader_exhaustsRetriesThenFails(t *testing.T) {
	store := newFlakyStore(storage.NewMemoryStore(), 100)
	u := &Uploader{Store: store, Workers: 2, sleep: func(time.Duration) {}}
	segments := writeSegmentFiles(t, 3)

	_, err := u.UploadSegments(context.Background(), "t1", segments, noProgress)
	if err == nil {
		t.Fatal("expected failure after exhausted retries")
	}
	if KindOf(err) != KindUploadFailed {
		t.Errorf("error kind = %s, want UploadFailed", KindOf(err))
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for id, n := range store.attempts {
		if n > uploadAttempts {
			t.Errorf("%s attempted %d times, bound is %d", id, n, uploadAttempts)
		}
	}
}

func TestUploader_progressReachesHundred(t *testing.T) {
	store := storage.NewMemoryStore()
	u := &Uploader{Store: store, Workers: 1, sleep: func(time.Duration) {}}
	segments := writeSegmentFiles(t, 4)

	last := 0
	_, err := u.UploadSegments(context.Background(), "t1", segments, func(pct int, _ string) {
		if pct < last {
			t.Errorf("progress regressed %d -> %d", last, pct)
		}
		last = pct
	})
	if err != nil {
		t.Fatalf("UploadSegments: %v", err)
	}
	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}

func TestUploader_UploadBytes(t *testing.T) {
	store := storage.NewMemoryStore()
	u := &Uploader{Store: store, sleep: func(time.Duration) {}}

	id, err := u.UploadBytes(context.Background(), []byte("#EXTM3U\n"), "t1/playlist.m3u8")
	if err != nil {
		t.Fatalf("UploadBytes: %v", err)
	}
	if id != "t1/playlist.m3u8" {
		t.Errorf("id = %q, want suggested id echoed back", id)
	}
	data, err := store.Get(context.Background(), id)
	if err != nil || string(data) != "#EXTM3U\n" {
		t.Errorf("stored bytes mismatch: %q, %v", data, err)
	}
}
