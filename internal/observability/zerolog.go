package observability

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger constructs a structured logger writing to w. A nil writer
// defaults to stderr.
func NewZerologLogger(w io.Writer) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	return &ZerologLogger{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// Debug logs at debug level.
func (z *ZerologLogger) Debug(msg string, fields ...Field) {
	z.emit(z.logger.Debug(), msg, fields)
}

// Info logs at info level.
func (z *ZerologLogger) Info(msg string, fields ...Field) {
	z.emit(z.logger.Info(), msg, fields)
}

// Warn logs at warn level.
func (z *ZerologLogger) Warn(msg string, fields ...Field) {
	z.emit(z.logger.Warn(), msg, fields)
}

// Error logs at error level.
func (z *ZerologLogger) Error(msg string, fields ...Field) {
	z.emit(z.logger.Error(), msg, fields)
}

func (z *ZerologLogger) emit(evt *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		evt = evt.Interface(f.Key, f.Value)
	}
	evt.Msg(msg)
}
