package obs

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerMu sync.RWMutex
	logger   *zap.Logger
	level    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Logger returns the shared structured logger used across the service.
func Logger() *zap.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = newLogger(os.Stdout)
	}
	return logger
}

// SetOutput redirects the shared logger to w and returns a function restoring stdout.
func SetOutput(w io.Writer) (restore func()) {
	loggerMu.Lock()
	logger = newLogger(w)
	loggerMu.Unlock()
	return func() {
		loggerMu.Lock()
		logger = newLogger(os.Stdout)
		loggerMu.Unlock()
	}
}

// SetLevel changes the minimum level, e.g. "debug", "info", "warn".
func SetLevel(name string) error {
	return level.UnmarshalText([]byte(name))
}

func newLogger(w io.Writer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), level)
	return zap.New(core)
}

// LogRequest emits a structured line with common HTTP fields.
func LogRequest(fields ...zap.Field) {
	Logger().Info("request_complete", fields...)
}
