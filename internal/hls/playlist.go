package hls

import (
	"fmt"
	"strings"

	"github.com/google/renameio/v2"
)

// playlistEntry is one segment's listing in a rendered playlist.
type playlistEntry struct {
	sequence      uint64
	duration      float64
	discontinuity bool
}

// renderPlaylist builds an #EXTM3U text matching entries, the last N
// of which name the on-disk segment files directly (this writer is a
// filesystem artifact, not an HTTP-served abstraction, so URIs are
// plain "segment-<sequence>.ts").
func renderPlaylist(entries []playlistEntry, targetDuration int) string {
	if len(entries) == 0 {
		return fmt.Sprintf("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:0\n", targetDuration)
	}

	for _, e := range entries {
		if d := int(e.duration + 0.999); d > targetDuration {
			targetDuration = d
		}
	}

	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&sb, "#EXT-X-TARGETDURATION:%d\n", targetDuration)
	fmt.Fprintf(&sb, "#EXT-X-MEDIA-SEQUENCE:%d\n", entries[0].sequence)

	for i, e := range entries {
		if e.discontinuity {
			sb.WriteString("#EXT-X-DISCONTINUITY\n")
		} else if i > 0 && e.sequence != entries[i-1].sequence+1 {
			sb.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		fmt.Fprintf(&sb, "#EXTINF:%.3f,\n", e.duration)
		fmt.Fprintf(&sb, "%s\n", segmentFileName(e.sequence))
	}

	return sb.String()
}

func segmentFileName(sequence uint64) string {
	return fmt.Sprintf("segment-%d.ts", sequence)
}

// writePlaylistAtomic writes text to path via temp-file-write, fsync,
// atomic rename so a reader never observes a half-written playlist.
func writePlaylistAtomic(path, text string) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("hls: create pending playlist file: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write([]byte(text)); err != nil {
		return fmt.Errorf("hls: write playlist: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("hls: atomically replace playlist: %w", err)
	}
	return nil
}
