package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"audio-pipeline/internal/storage"
)

const (
	// DefaultUploadWorkers bounds concurrent segment uploads.
	DefaultUploadWorkers = 4

	// uploadAttempts is the per-artifact bound before the stage fails.
	uploadAttempts = 3

	// uploadBackoffBase is the first retry delay; it doubles per attempt.
	uploadBackoffBase = 200 * time.Millisecond
)

// Uploader persists artifacts through the ArtifactStore with bounded retry.
// Segment uploads run on a bounded worker pool; completion order never
// affects the deterministic index ordering of the results.
type Uploader struct {
	Store   storage.ArtifactStore
	Workers int

	// OnRetry, if set, is invoked once per retry attempt (metrics hook).
	OnRetry func()

	// sleep is replaceable in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

func (u *Uploader) workers() int {
	if u.Workers <= 0 {
		return DefaultUploadWorkers
	}
	return u.Workers
}

func (u *Uploader) wait(d time.Duration) {
	if u.sleep != nil {
		u.sleep(d)
		return
	}
	time.Sleep(d)
}

// putWithRetry uploads one artifact, retrying a bounded number of times with
// exponential backoff before giving up.
func (u *Uploader) putWithRetry(ctx context.Context, data []byte, suggestedID string) (string, error) {
	backoff := uploadBackoffBase
	var lastErr error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		id, err := u.Store.Put(ctx, data, suggestedID)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if attempt < uploadAttempts {
			if u.OnRetry != nil {
				u.OnRetry()
			}
			u.wait(backoff)
			backoff *= 2
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", uploadAttempts, lastErr)
}

// UploadFile reads a local file and persists it under the suggested id.
func (u *Uploader) UploadFile(ctx context.Context, path, suggestedID string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", NewError(KindUploadFailed, "read artifact", err)
	}
	id, err := u.putWithRetry(ctx, data, suggestedID)
	if err != nil {
		return "", NewError(KindUploadFailed, "upload "+suggestedID, err)
	}
	return id, nil
}

// UploadBytes persists raw bytes under the suggested id.
func (u *Uploader) UploadBytes(ctx context.Context, data []byte, suggestedID string) (string, error) {
	id, err := u.putWithRetry(ctx, data, suggestedID)
	if err != nil {
		return "", NewError(KindUploadFailed, "upload "+suggestedID, err)
	}
	return id, nil
}

// UploadSegments uploads every segment through the bounded worker pool and
// returns the segments in ascending index order with ArtifactID set on each.
// Progress is reported as uploadedBytes/totalBytes. The stage fails as a
// whole if any single segment exhausts its retries.
func (u *Uploader) UploadSegments(ctx context.Context, taskID TaskID, segments []Segment, progress ProgressFunc) ([]Segment, error) {
	if len(segments) == 0 {
		return nil, nil
	}

	var totalBytes int64
	for _, seg := range segments {
		totalBytes += seg.SizeBytes
	}
	if totalBytes <= 0 {
		totalBytes = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan Segment)
	results := make(chan Segment, len(segments))
	errCh := make(chan error, len(segments))

	var uploadedBytes int64
	var progressMu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < u.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seg := range jobs {
				id, err := u.UploadFile(ctx, seg.Path, segmentKey(taskID, seg.Index))
				if err != nil {
					errCh <- fmt.Errorf("segment %d: %w", seg.Index, err)
					cancel()
					return
				}
				seg.ArtifactID = id
				results <- seg

				progressMu.Lock()
				uploadedBytes += seg.SizeBytes
				pct := int(uploadedBytes * 100 / totalBytes)
				progressMu.Unlock()
				progress(pct, fmt.Sprintf("uploaded segment %d", seg.Index))
			}
		}()
	}

	for _, seg := range segments {
		select {
		case jobs <- seg:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	close(results)
	close(errCh)

	// Prefer the root failure over cancellation noise from sibling workers.
	var firstErr error
	for err := range errCh {
		if firstErr == nil || errors.Is(firstErr, context.Canceled) {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, NewError(KindUploadFailed, "upload segments", firstErr)
	}

	uploaded := make([]Segment, 0, len(segments))
	for seg := range results {
		uploaded = append(uploaded, seg)
	}
	if len(uploaded) != len(segments) {
		return nil, NewError(KindUploadFailed, "upload segments",
			fmt.Errorf("uploaded %d of %d segments", len(uploaded), len(segments)))
	}
	sort.Slice(uploaded, func(i, j int) bool { return uploaded[i].Index < uploaded[j].Index })

	return uploaded, nil
}

func segmentKey(taskID TaskID, index int) string {
	return fmt.Sprintf("%s/segment_%05d.mp3", taskID, index)
}
