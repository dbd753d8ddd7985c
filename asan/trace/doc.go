// Package trace is the diagnostic bridge between the guarded heap and the host.
//
// # Overview
//
// A Bridge renders a printf-style message into a single fixed-capacity buffer
// that is allocated once, when the Bridge is built, and forwards the rendered
// bytes to a host Sink exactly once per call:
//
//	b := trace.New(trace.WriterSink(os.Stderr))
//	b.Trace("asan: %s on address %s", kind, addr)
//
// Messages longer than the buffer are truncated silently; the forwarded prefix
// never ends inside a UTF-8 sequence. A malformed format (argument count that
// does not match the verbs, or a dangling '%') forwards nothing. Empty output
// forwards nothing.
//
// # Sinks
//
// The Sink receives a view of the shared buffer that is only valid for the
// duration of the call. Sinks must not retain it and must not allocate through
// the guarded heap.
//
// # Thread Safety
//
// Trace calls are serialized: only one call renders and forwards at a time.
// The buffer is released on every exit path, including a panicking sink.
//
// # Logging
//
// Handler adapts a Bridge to log/slog so structured logs travel over the same
// bounded, serialized channel as violation reports.
package trace
