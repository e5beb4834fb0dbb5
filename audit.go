package accounts

import (
	"io"
	"log/slog"

	"github.com/studydeck/accounts/internal/audit"
	"github.com/studydeck/accounts/internal/logging"
)

type (
	AuditEvent     = audit.Event
	AuditSink      = audit.Sink
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	LogSink        = audit.LogSink
	MultiSink      = audit.MultiSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewLogSink records audit events through l.
func NewLogSink(l *slog.Logger) *LogSink {
	return audit.NewLogSink(logging.NewSlogLogger(l))
}
