package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewCore_ConsoleLevelFiltersConsoleOnly(t *testing.T) {
	var console, file bytes.Buffer
	logger := zap.New(newCore(zapcore.AddSync(&console), zapcore.AddSync(&file), zapcore.WarnLevel))

	logger.Debug("Step 1: loading requests")
	logger.Warn("Proxy has malformed location", zap.String("proxy_id", "p1"))
	_ = logger.Sync()

	assert.NotContains(t, console.String(), "Step 1")
	assert.Contains(t, console.String(), "Proxy has malformed location")
	assert.Contains(t, file.String(), `"msg":"Step 1: loading requests"`)
	assert.Contains(t, file.String(), `"proxy_id":"p1"`)
}
