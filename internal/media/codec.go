package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// EncodeOptions selects the target encoding for a transcode.
type EncodeOptions struct {
	Bitrate    string // e.g. "192k"
	SampleRate int    // e.g. 44100
}

// SourceInfo is the subset of probe output the pipeline needs.
type SourceInfo struct {
	DurationSeconds float64
	HasAudio        bool
}

// Codec is the external transcoding facility with file-in/file-out semantics.
// The server implementation shells out to ffmpeg; alternate implementations
// (e.g. an in-process codec engine) satisfy the same contract.
type Codec interface {
	// Inspect probes the source file and returns its duration and whether it
	// carries an audio stream.
	Inspect(ctx context.Context, src string) (SourceInfo, error)

	// Transcode re-encodes src into dst using the given options.
	Transcode(ctx context.Context, src, dst string, opts EncodeOptions) error

	// Split cuts src into fixed-duration slices in copy mode (no re-encoding)
	// and returns the ordered slice paths. The returned set is complete: a
	// partial split is an error, never a subset.
	Split(ctx context.Context, src, outDir string, sliceSeconds int) ([]string, error)
}

// FFmpeg invokes the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	FFmpegBin  string
	FFprobeBin string
}

// NewFFmpeg returns a Codec backed by the given binaries; empty values fall
// back to "ffmpeg" and "ffprobe" on PATH.
func NewFFmpeg(ffmpegBin, ffprobeBin string) *FFmpeg {
	if strings.TrimSpace(ffmpegBin) == "" {
		ffmpegBin = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBin) == "" {
		ffprobeBin = "ffprobe"
	}
	return &FFmpeg{FFmpegBin: ffmpegBin, FFprobeBin: ffprobeBin}
}

// Inspect implements Codec.Inspect.
func (f *FFmpeg) Inspect(ctx context.Context, src string) (SourceInfo, error) {
	result, err := Probe(ctx, f.FFprobeBin, src)
	if err != nil {
		return SourceInfo{}, err
	}
	return SourceInfo{
		DurationSeconds: result.DurationSeconds(),
		HasAudio:        result.HasAudio(),
	}, nil
}

// Transcode implements Codec.Transcode.
func (f *FFmpeg) Transcode(ctx context.Context, src, dst string, opts EncodeOptions) error {
	if opts.Bitrate == "" {
		opts.Bitrate = "192k"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 44100
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-vn",
		"-b:a", opts.Bitrate,
		"-ar", strconv.Itoa(opts.SampleRate),
		dst,
	}
	cmd := exec.CommandContext(ctx, f.FFmpegBin, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg transcode: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Split implements Codec.Split. Copy mode avoids re-encoding artifacts and is
// materially faster than a second encode pass.
func (f *FFmpeg) Split(ctx context.Context, src, outDir string, sliceSeconds int) ([]string, error) {
	if sliceSeconds <= 0 {
		return nil, fmt.Errorf("ffmpeg split: invalid slice duration %d", sliceSeconds)
	}
	ext := filepath.Ext(src)
	pattern := filepath.Join(outDir, "segment_%05d"+ext)
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-c", "copy",
		"-f", "segment",
		"-segment_time", strconv.Itoa(sliceSeconds),
		pattern,
	}
	cmd := exec.CommandContext(ctx, f.FFmpegBin, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg split: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return collectSlices(outDir, "segment_", ext)
}

// collectSlices gathers the slice files produced by a split, ordered by the
// numeric suffix, and verifies the sequence is contiguous from zero.
func collectSlices(dir, prefix, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read split output: %w", err)
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("split produced no slices in %s", dir)
	}
	sort.Strings(paths)

	for i, p := range paths {
		idx, err := sliceIndex(filepath.Base(p), prefix, ext)
		if err != nil {
			return nil, err
		}
		if idx != i {
			return nil, fmt.Errorf("split output not contiguous: have %s at position %d", filepath.Base(p), i)
		}
	}
	return paths, nil
}

func sliceIndex(name, prefix, ext string) (int, error) {
	raw := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("unexpected slice name %q: %w", name, err)
	}
	return idx, nil
}
