package trace

import (
	"context"
	"io"
	"log/slog"
)

// Discard drops every message.
var Discard Sink = SinkFunc(func([]byte) {})

var newline = []byte{'\n'}

type writerSink struct {
	w io.Writer
}

// WriterSink forwards each message to w followed by a newline when the message
// does not already end with one. Write errors are ignored.
func WriterSink(w io.Writer) Sink {
	return writerSink{w: w}
}

func (s writerSink) Log(msg []byte) {
	_, _ = s.w.Write(msg)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		_, _ = s.w.Write(newline)
	}
}

// SlogSink forwards each message as the message of a record at level.
// The message is copied into a string, so the logger may retain it.
func SlogSink(l *slog.Logger, level slog.Level) Sink {
	return SinkFunc(func(msg []byte) {
		l.Log(context.Background(), level, string(msg))
	})
}
