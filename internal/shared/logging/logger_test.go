package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, _ ...any) { r.lines = append(r.lines, "debug:"+format) }
func (r *recordingLogger) Info(format string, _ ...any)  { r.lines = append(r.lines, "info:"+format) }
func (r *recordingLogger) Warn(format string, _ ...any)  { r.lines = append(r.lines, "warn:"+format) }
func (r *recordingLogger) Error(format string, _ ...any) { r.lines = append(r.lines, "error:"+format) }

func TestOrNopHandlesTypedNil(t *testing.T) {
	var typed *recordingLogger
	assert.True(t, IsNil(typed))
	assert.NotPanics(t, func() { OrNop(typed).Info("hello") })
}

func TestFromZapFormatsMessages(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core))

	logger.Info("loaded %d personas", 3)
	logger.Error("reload failed: %s", "boom")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "loaded 3 personas", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestNewComponentLoggerAddsComponentField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetBase(zap.New(core))
	t.Cleanup(func() { SetBase(nil) })

	NewComponentLogger("registry").Info("ready")

	entries := logs.FilterField(zap.String("component", "registry")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ready", entries[0].Message)
}

func TestSetupFallsBackToInfoLevel(t *testing.T) {
	logger, err := Setup(Options{Level: "loud", Format: "console"})
	require.NoError(t, err)
	t.Cleanup(func() { SetBase(nil) })

	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
