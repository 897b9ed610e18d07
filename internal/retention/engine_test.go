package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_StartStop_RejectsDoubleStart(t *testing.T) {
	root := t.TempDir()
	e, _ := newTestEngine(t, defaultRetentionConfig(), root)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	assert.Error(t, e.Start(context.Background()))
}

func TestEngine_Start_RejectsInvalidCron(t *testing.T) {
	root := t.TempDir()
	cfg := defaultRetentionConfig()
	cfg.TickCron = "not a cron"
	e, _ := newTestEngine(t, cfg, root)

	assert.Error(t, e.Start(context.Background()))
}

func TestEngine_StopWithoutStartIsNoop(t *testing.T) {
	root := t.TempDir()
	e, _ := newTestEngine(t, defaultRetentionConfig(), root)
	e.Stop()
}

func TestEngine_ClockNow_DefaultsToRealClock(t *testing.T) {
	root := t.TempDir()
	e, _ := newTestEngine(t, defaultRetentionConfig(), root)

	before := time.Now()
	got := e.clockNow()
	after := time.Now()
	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}
