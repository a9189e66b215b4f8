package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logsDir = "logs"

// InitLogger initializes a zap logger with console and file outputs.
// env prefixes the log file name. The file always receives debug output; the console
// receives consoleLevel and above.
func InitLogger(env string, consoleLevel zapcore.Level) (*zap.Logger, error) {
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logFileName := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", env, timestamp))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return zap.New(newCore(os.Stdout, logFile, consoleLevel), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// newCore tees a human-readable console core and a JSON file core
func newCore(console, file zapcore.WriteSyncer, consoleLevel zapcore.Level) zapcore.Core {
	consoleEncoderConfig := zap.NewDevelopmentEncoderConfig()
	consoleEncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	fileEncoderConfig := zap.NewProductionEncoderConfig()
	fileEncoderConfig.TimeKey = "timestamp"
	fileEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig), console, consoleLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig), file, zapcore.DebugLevel),
	)
}
