package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"audio-pipeline/internal/media"
	"audio-pipeline/internal/storage"
)

// ProgressFunc reports incremental progress within a stage: percent is 0-100
// relative to the stage, message is a short human-readable status line.
type ProgressFunc func(percent int, message string)

// TranscodeOutput is what the transcode stage hands to segmentation.
type TranscodeOutput struct {
	Path            string
	SourcePath      string
	DurationSeconds float64
}

// Transcoder fetches the raw source from the artifact store and re-encodes it
// into the target format inside the task's working directory.
type Transcoder struct {
	Codec media.Codec
	Store storage.ArtifactStore
	Opts  media.EncodeOptions
}

// Run executes the transcode stage. Failures are surfaced as ConversionFailed.
func (t *Transcoder) Run(ctx context.Context, input TrackInput, workDir string, progress ProgressFunc) (TranscodeOutput, error) {
	progress(0, "fetching source audio")

	raw, err := t.Store.Get(ctx, input.SourceArtifactID)
	if err != nil {
		return TranscodeOutput{}, NewError(KindConversionFailed, "fetch source", err)
	}

	srcPath := filepath.Join(workDir, "source"+filepath.Ext(input.SourceArtifactID))
	if err := os.WriteFile(srcPath, raw, 0o644); err != nil {
		return TranscodeOutput{}, NewError(KindConversionFailed, "write source", err)
	}
	progress(20, "source fetched")

	info, err := t.Codec.Inspect(ctx, srcPath)
	if err != nil {
		return TranscodeOutput{}, NewError(KindConversionFailed, "inspect source", err)
	}
	if !info.HasAudio {
		return TranscodeOutput{}, NewError(KindConversionFailed, "inspect source",
			fmt.Errorf("no audio stream in %q", input.SourceArtifactID))
	}
	progress(30, "source inspected")

	dstPath := filepath.Join(workDir, "audio.mp3")
	if err := t.Codec.Transcode(ctx, srcPath, dstPath, t.Opts); err != nil {
		return TranscodeOutput{}, NewError(KindConversionFailed, "transcode", err)
	}
	progress(100, "transcode complete")

	return TranscodeOutput{
		Path:            dstPath,
		SourcePath:      srcPath,
		DurationSeconds: info.DurationSeconds,
	}, nil
}

// Segmenter cuts the transcoded audio into fixed-duration slices in copy mode.
type Segmenter struct {
	Codec        media.Codec
	SliceSeconds int
}

// Run executes the segmentation stage. The returned set is complete and
// ordered 0..N-1 with no gaps, or the stage fails as a whole.
func (s *Segmenter) Run(ctx context.Context, in TranscodeOutput, workDir string, progress ProgressFunc) ([]Segment, error) {
	progress(0, "segmenting audio")

	outDir := filepath.Join(workDir, "segments")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, NewError(KindSegmentationFailed, "create segment dir", err)
	}

	paths, err := s.Codec.Split(ctx, in.Path, outDir, s.SliceSeconds)
	if err != nil {
		return nil, NewError(KindSegmentationFailed, "split", err)
	}

	segments := make([]Segment, 0, len(paths))
	remaining := in.DurationSeconds
	for i, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, NewError(KindSegmentationFailed, "stat slice", err)
		}
		dur := float64(s.SliceSeconds)
		if remaining > 0 && remaining < dur {
			dur = remaining
		}
		remaining -= dur
		segments = append(segments, Segment{
			Index:           i,
			Path:            p,
			SizeBytes:       fi.Size(),
			DurationSeconds: dur,
		})
		progress((i+1)*100/len(paths), fmt.Sprintf("segment %d of %d ready", i+1, len(paths)))
	}

	return segments, nil
}
