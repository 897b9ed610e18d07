package hls

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightnvr/lightnvr/internal/packetbus"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func keyframePacket(seq uint64, pts time.Duration) packetbus.Packet {
	return packetbus.Packet{
		Sequence: seq,
		PTS:      pts,
		DTS:      pts,
		Data:     avcFrame([]byte{0x65, 1, 2, 3}),
		Keyframe: true,
		Codec:    "h264",
	}
}

func TestWriter_EnableDisable_WritesPlaylistAndSegment(t *testing.T) {
	dir := t.TempDir()
	bus := packetbus.New("cam1", discardLogger())

	w := NewWriter(dir, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Enable(ctx, "cam1", bus, 1))

	// One keyframe opens the first segment; Disable cancels the writer,
	// which closes that open segment and writes the playlist.
	bus.Publish(keyframePacket(1, 0))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, w.Disable("cam1"))

	playlistPath := filepath.Join(dir, "cam1", "index.m3u8")
	_, err := os.Stat(playlistPath)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "cam1", segmentFileName(0)))
	assert.NoError(t, err)
}

func TestWriter_Enable_RejectsDoubleEnable(t *testing.T) {
	dir := t.TempDir()
	bus := packetbus.New("cam1", discardLogger())
	w := NewWriter(dir, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Enable(ctx, "cam1", bus, 1))
	defer w.Disable("cam1")

	assert.ErrorIs(t, w.Enable(ctx, "cam1", bus, 1), ErrAlreadyEnabled)
}

func TestWriter_Disable_UnknownStreamErrors(t *testing.T) {
	w := NewWriter(t.TempDir(), discardLogger())
	assert.ErrorIs(t, w.Disable("ghost"), ErrNotEnabled)
}

func TestWriter_PlaylistPath_UnknownStreamErrors(t *testing.T) {
	w := NewWriter(t.TempDir(), discardLogger())
	_, err := w.PlaylistPath("ghost")
	assert.ErrorIs(t, err, ErrNotEnabled)
}

func TestStreamWriter_ClosesSegmentOnBoundaryAndWritesFile(t *testing.T) {
	dir := t.TempDir()
	bus := packetbus.New("cam1", discardLogger())
	sub := bus.Subscribe("hls", packetbus.DefaultQueueSize, packetbus.DropOldestAfterBlock)

	streamDir := filepath.Join(dir, "cam1")
	require.NoError(t, os.MkdirAll(streamDir, 0o755))

	sw := newStreamWriter("cam1", streamDir, 1, DefaultPlaylistSize, sub, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	sw.start(ctx)

	bus.Publish(keyframePacket(1, 0))
	// The segment boundary is measured in wall time, so wait past the
	// 1s segment length before the second keyframe arrives.
	time.Sleep(1100 * time.Millisecond)
	bus.Publish(keyframePacket(2, 2*time.Second))
	time.Sleep(20 * time.Millisecond)

	cancel()
	sw.stop()

	entries, err := os.ReadDir(streamDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
