package logcollection

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
	"github.com/core-tools/hsu-jobobject/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logLine struct {
	level   int
	message string
}

type captureLogger struct {
	mutex sync.Mutex
	lines []logLine
}

func (c *captureLogger) logger() logging.Logger {
	return logging.NewLogger("", logging.LogFuncs{
		LogLevelf: func(level int, format string, args ...interface{}) {
			c.mutex.Lock()
			defer c.mutex.Unlock()
			c.lines = append(c.lines, logLine{level, fmt.Sprintf(format, args...)})
		},
	})
}

func (c *captureLogger) snapshot() []logLine {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]logLine(nil), c.lines...)
}

func TestCollectForwardsLines(t *testing.T) {
	capture := &captureLogger{}
	service, err := NewService(Config{ExcludePatterns: []string{`^debug:`}}, capture.logger())
	require.NoError(t, err)

	done := make(chan struct{})
	service.Collect("worker", 42, strings.NewReader("first\ndebug: noise\nsecond\n"), func() { close(done) })

	require.True(t, service.Wait(time.Second))
	<-done

	lines := capture.snapshot()
	require.Len(t, lines, 2)
	assert.Equal(t, "process: worker , pid: 42 , first", lines[0].message)
	assert.Equal(t, logging.LogLevelInfo, lines[0].level)
	assert.Contains(t, lines[1].message, "second")

	status, ok := service.Status("worker")
	require.True(t, ok)
	assert.False(t, status.Active)
	assert.Equal(t, int64(2), status.LinesProcessed)
	assert.Equal(t, int64(1), status.LinesExcluded)
	assert.Equal(t, int64(len("first")+len("debug: noise")+len("second")), status.BytesProcessed)
	assert.Empty(t, status.Errors)

	_, ok = service.Status("missing")
	assert.False(t, ok)
	assert.NoError(t, service.Close())
}

func TestParseStructured(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		level   int
		message string
	}{
		{"plain", "hello", logging.LogLevelInfo, "hello"},
		{"json_with_level", `{"level":"error","msg":"disk full"}`, logging.LogLevelError, "disk full"},
		{"json_severity", `{"severity":"warning","message":"slow"}`, logging.LogLevelWarn, "slow"},
		{"json_without_message", `{"level":"debug","n":1}`, logging.LogLevelDebug, `{"level":"debug","n":1}`},
		{"unknown_level", `{"level":"trace","msg":"x"}`, logging.LogLevelInfo, "x"},
		{"broken_json", `{"level":`, logging.LogLevelInfo, `{"level":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, message := parseStructured(tt.line)
			assert.Equal(t, tt.level, level)
			assert.Equal(t, tt.message, message)
		})
	}
}

func TestCollectStructuredLevels(t *testing.T) {
	capture := &captureLogger{}
	service, err := NewService(Config{ParseStructured: true}, capture.logger())
	require.NoError(t, err)

	service.Collect("json", 7, strings.NewReader(`{"level":"warn","msg":"careful"}`+"\n"), nil)
	require.True(t, service.Wait(time.Second))

	lines := capture.snapshot()
	require.Len(t, lines, 1)
	assert.Equal(t, logging.LogLevelWarn, lines[0].level)
	assert.True(t, strings.HasSuffix(lines[0].message, "careful"))
}

func TestCollectToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "processes.log")
	service, err := NewService(Config{File: path}, logging.NewNopLogger())
	require.NoError(t, err)

	service.Collect("a", 1, strings.NewReader("alpha\n"), nil)
	service.Collect("b", 2, strings.NewReader("beta\n"), nil)
	require.True(t, service.Wait(time.Second))
	require.NoError(t, service.Close())
	require.NoError(t, service.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "[a][1] alpha")
	assert.Contains(t, string(content), "[b][2] beta")
}

func TestInvalidExcludePattern(t *testing.T) {
	config := Config{ExcludePatterns: []string{"("}}

	err := config.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	_, err = NewService(config, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestWaitTimesOut(t *testing.T) {
	service, err := NewService(Config{}, logging.NewNopLogger())
	require.NoError(t, err)

	reader, writer, err := os.Pipe()
	require.NoError(t, err)
	defer reader.Close()

	service.Collect("open", 3, reader, nil)
	assert.False(t, service.Wait(20*time.Millisecond))

	writer.Close()
	assert.True(t, service.Wait(time.Second))
}
