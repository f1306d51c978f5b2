package logger

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMultiLogger_WritesCategoryFiles(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)

	ml.LogQueueEvent("download_added", zap.String("id", "ep1"))
	ml.LogQueueEvent("download_completed", zap.String("id", "ep1"))
	ml.LogQueueEvent("download_added", zap.String("id", "ep2"))
	ml.LogAppError("Download failed", zap.String("id", "ep2"), zap.String("error", "manifest contains no segments"))
	ml.Error().Info("below error level")
	require.NoError(t, ml.Close())

	reader := NewLogReader(dir)
	queue, err := reader.ReadLogs(CategoryQueue, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, "download_added", queue[0].Message)
	assert.Equal(t, "info", queue[0].Level)
	assert.Equal(t, "ep1", queue[0].JobID())
	assert.NotEmpty(t, queue[0].Timestamp)

	errs, err := reader.ReadLogs(CategoryError, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "Download failed", errs[0].Message)

	last, err := reader.ReadLogs(CategoryQueue, time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "ep2", last[0].JobID())

	history, err := reader.JobHistory("ep1", time.Now(), 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "download_completed", history[1].Message)

	found, err := reader.SearchLogs(CategoryError, time.Now(), "NO SEGMENTS", 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestMultiLogger_RotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)
	defer ml.Close()

	day := time.Date(2024, 5, 1, 23, 59, 0, 0, time.Local)
	ml.mu.Lock()
	ml.now = func() time.Time { return day }
	ml.mu.Unlock()
	ml.LogQueueEvent("before_midnight", zap.String("id", "ep1"))

	day = day.Add(2 * time.Minute)
	ml.LogQueueEvent("after_midnight", zap.String("id", "ep1"))
	require.NoError(t, ml.Sync())

	reader := NewLogReader(dir)
	first, err := reader.ReadLogs(CategoryQueue, time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local), 0)
	require.NoError(t, err)
	second, err := reader.ReadLogs(CategoryQueue, time.Date(2024, 5, 2, 0, 0, 0, 0, time.Local), 0)
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, "before_midnight", first[0].Message)
	require.Len(t, second, 1)
	assert.Equal(t, "after_midnight", second[0].Message)
}

func TestMultiLogger_RequiresDir(t *testing.T) {
	_, err := NewMultiLogger(MultiLoggerConfig{})
	assert.Error(t, err)
}

func TestMultiLogger_AfterCloseIsNop(t *testing.T) {
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, ml.Close())
	assert.NotPanics(t, func() { ml.LogQueueEvent("late") })
}

func TestLogReader_MissingFileAndPlainLines(t *testing.T) {
	dir := t.TempDir()
	reader := NewLogReader(dir)

	entries, err := reader.ReadLogs(CategoryQueue, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, os.WriteFile(reader.GetLogPath(CategoryAccess, time.Now()), []byte("not json\n\n"), 0644))
	entries, err = reader.ReadLogs(CategoryAccess, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "not json", entries[0].Message)
	assert.Equal(t, "access", entries[0].Category)
}

func TestValidCategory(t *testing.T) {
	assert.True(t, ValidCategory(CategoryQueue))
	assert.True(t, ValidCategory(CategoryAccess))
	assert.False(t, ValidCategory("download"))
}

func TestNew_FileOutput(t *testing.T) {
	path := t.TempDir() + "/nested/app.log"
	log, err := New(Config{Level: "debug", Format: "json", OutputPath: path})
	require.NoError(t, err)
	log.Info("hello")
	log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestLoggerAdapter_FallsBackToGeneral(t *testing.T) {
	general := zap.NewNop()
	adapter := NewLoggerAdapter(general, nil)
	assert.Same(t, general, adapter.Access())
	assert.Same(t, general, adapter.Queue())
	assert.Nil(t, adapter.GetMultiLogger())
	assert.NotPanics(t, func() { adapter.LogError("boom") })
}
