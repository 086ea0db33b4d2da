package core

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// debugPrintln is the platform debug output (UART console, USB CDC...).
var debugPrintln DebugWriter

// SetDebugWriter sets the platform-specific debug output function.
// Loggers built by NewLogger afterwards write through it.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

type debugSink struct{}

func (debugSink) Write(p []byte) (int, error) {
	if w := debugPrintln; w != nil {
		// zap terminates every entry with a newline
		if n := len(p); n > 0 && p[n-1] == '\n' {
			w(string(p[:n-1]))
		} else {
			w(string(p))
		}
	}
	return len(p), nil
}

// NewLogger returns a console logger writing to the debug writer, or a no-op
// logger when none is set.
func NewLogger(level zapcore.Level) *zap.SugaredLogger {
	if debugPrintln == nil {
		return zap.NewNop().Sugar()
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = ""
	enc := zapcore.NewConsoleEncoder(cfg)
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(debugSink{}), level)).Sugar()
}
