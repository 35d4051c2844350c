package observability

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(fn func()) string {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)
	fn()
	return buf.String()
}

func TestStandardLoggerLevels(t *testing.T) {
	logger := NewStandardLogger("test")

	out := captureOutput(func() {
		logger.Debug("hidden", nil)
		logger.Info("shown", map[string]interface{}{"k": "v"})
	})

	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "k=v")
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "[test]")
}

func TestStandardLoggerDebugLevel(t *testing.T) {
	logger := NewStandardLoggerWithLevel("test", LogLevelDebug)

	out := captureOutput(func() {
		logger.Debugf("visible %d", 42)
	})

	assert.Contains(t, out, "visible 42")
}

func TestStandardLoggerWith(t *testing.T) {
	logger := NewStandardLogger("search").With(map[string]interface{}{"engine": "bm25"})

	out := captureOutput(func() {
		logger.Info("query done", map[string]interface{}{"results": 3})
	})

	assert.Contains(t, out, "engine=bm25")
	assert.Contains(t, out, "results=3")
}

func TestStandardLoggerFieldsSorted(t *testing.T) {
	logger := NewStandardLogger("test")

	out := captureOutput(func() {
		logger.Info("msg", map[string]interface{}{"b": 2, "a": 1, "c": 3})
	})

	assert.Contains(t, out, "a=1 b=2 c=3")
}

func TestNoopLogger(t *testing.T) {
	logger := NewNoopLogger()

	out := captureOutput(func() {
		logger.Error("nothing", nil)
		logger.Errorf("nothing %s", "either")
	})

	assert.Empty(t, out)
	assert.Equal(t, logger, logger.WithPrefix("x"))
}
