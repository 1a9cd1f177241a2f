package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ManifestEntry is one (sequence index, artifact id, duration) tuple fed to
// the manifest builder. ArtifactID is the opaque store identifier, not a URL;
// resolving it to something fetchable is the consumer's concern.
type ManifestEntry struct {
	Index           int
	ArtifactID      string
	DurationSeconds float64
}

// BuildManifest renders a VOD playlist for the given entries: a fixed header
// block, one duration line plus one artifact-id line per segment in ascending
// index order, and a terminator line. Line order is the sole source of
// playback order.
//
// The verification pass is mandatory: if the number of rendered entry pairs
// diverges from the number of input entries, or an entry is missing its
// artifact id, BuildManifest fails instead of emitting a partially-correct
// document.
func BuildManifest(entries []ManifestEntry) (string, error) {
	sorted := make([]ManifestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	for _, e := range sorted {
		if e.ArtifactID == "" {
			return "", NewError(KindManifestIntegrity, "build manifest",
				fmt.Errorf("segment %d has no artifact id", e.Index))
		}
	}

	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDurationFromEntries(sorted)))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	for _, e := range sorted {
		b.WriteString(fmt.Sprintf("#EXTINF:%.1f,\n", e.DurationSeconds))
		b.WriteString(e.ArtifactID)
		b.WriteString("\n")
	}

	b.WriteString("#EXT-X-ENDLIST\n")

	rendered := b.String()
	if n := countEntryLines(rendered); n != len(sorted) {
		return "", NewError(KindManifestIntegrity, "build manifest",
			fmt.Errorf("rendered %d entries, expected %d", n, len(sorted)))
	}

	return rendered, nil
}

// countEntryLines counts the non-tag lines of a rendered manifest, i.e. the
// artifact-id lines, one per segment.
func countEntryLines(manifest string) int {
	n := 0
	for _, line := range strings.Split(manifest, "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		n++
	}
	return n
}

// targetDurationFromEntries returns the target-duration header value:
// the ceiling of the maximum entry duration in seconds (integer, minimum 1).
func targetDurationFromEntries(entries []ManifestEntry) int {
	max := 0.0
	for _, e := range entries {
		if e.DurationSeconds > max {
			max = e.DurationSeconds
		}
	}
	if max <= 0 {
		return 1
	}
	return int(math.Ceil(max))
}
