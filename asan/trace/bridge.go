package trace

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/joshuapare/asankit/internal/format"
)

// Sink is the host-side log function.
type Sink interface {
	Log(msg []byte)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(msg []byte)

// Log calls f(msg).
func (f SinkFunc) Log(msg []byte) { f(msg) }

// Bridge formats messages into a fixed buffer and forwards them to a Sink.
type Bridge struct {
	mu   sync.Mutex
	w    boundedWriter
	sink Sink

	forwarded atomic.Uint64
	truncated atomic.Uint64
	malformed atomic.Uint64
}

// Option configures a Bridge.
type Option func(*config)

type config struct {
	capacity int
}

// WithCapacity sets the buffer capacity in bytes. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// New builds a Bridge forwarding to sink. A nil sink discards messages.
func New(sink Sink, opts ...Option) *Bridge {
	cfg := config{capacity: format.LogBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if sink == nil {
		sink = Discard
	}
	return &Bridge{
		w:    boundedWriter{buf: make([]byte, cfg.capacity)},
		sink: sink,
	}
}

// Capacity returns the fixed buffer size.
func (b *Bridge) Capacity() int {
	return len(b.w.buf)
}

// Trace renders format and args into the buffer and forwards the result once.
// A format fmt cannot render cleanly (argument count mismatch, unknown verb,
// argument of the wrong type, panicking String or Error method) forwards
// nothing and is counted as malformed.
func (b *Bridge) Trace(format string, args ...any) {
	if !wellFormed(format, len(args)) {
		b.malformed.Add(1)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.w.reset()
	fmt.Fprintf(&b.w, format, args...)
	if b.w.markers > suppliedMarkers(format, args) {
		// fmt reported a bad argument or a panicking method inline.
		b.malformed.Add(1)
		return
	}
	n := b.w.n
	if b.w.truncated {
		n = trimPartialRune(b.w.buf[:n])
		b.truncated.Add(1)
	}
	if n == 0 {
		return
	}
	b.sink.Log(b.w.buf[:n:n])
	b.forwarded.Add(1)
}

// Stats reports how many messages were forwarded, truncated and rejected as
// malformed.
func (b *Bridge) Stats() (forwarded, truncated, malformed uint64) {
	return b.forwarded.Load(), b.truncated.Load(), b.malformed.Load()
}

// boundedWriter accepts everything and keeps what fits. It counts "%!"
// sequences over the whole stream, dropped bytes included.
type boundedWriter struct {
	buf       []byte
	n         int
	truncated bool

	markers int
	pct     bool
}

func (w *boundedWriter) reset() {
	w.n = 0
	w.truncated = false
	w.markers = 0
	w.pct = false
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	for _, c := range p {
		if w.pct && c == '!' {
			w.markers++
		}
		w.pct = c == '%'
	}
	c := copy(w.buf[w.n:], p)
	w.n += c
	if c < len(p) {
		w.truncated = true
	}
	// Report full consumption so fmt keeps rendering; excess is dropped.
	return len(p), nil
}

// trimPartialRune returns the length of b without a trailing incomplete
// UTF-8 sequence.
func trimPartialRune(b []byte) int {
	n := len(b)
	i := n - 1
	for i >= 0 && n-i < utf8.UTFMax && !utf8.RuneStart(b[i]) {
		i--
	}
	if i < 0 || !utf8.RuneStart(b[i]) {
		return n
	}
	if !utf8.FullRune(b[i:n]) {
		return i
	}
	return n
}
