package asan

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/joshuapare/asankit/asan"
	"github.com/joshuapare/asankit/asan/alloc"
	"github.com/joshuapare/asankit/asan/hooks"
	"github.com/joshuapare/asankit/asan/source"
	"github.com/joshuapare/asankit/asan/trace"
)

// Runtime wires the arena, trace bridge, guarded allocator and hooks into one
// process-level sanitizer and acts as the driver that turns violations into
// process termination.
type Runtime struct {
	cfg    Config
	arena  *source.Arena
	bridge *trace.Bridge
	g      *alloc.Guarded
	heap   *hooks.Heap
	log    *slog.Logger

	exit      func(int)
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithExit replaces os.Exit as the termination function. The function is
// expected not to return; if it does, the failing call returns normally.
func WithExit(fn func(code int)) Option {
	return func(r *Runtime) {
		if fn != nil {
			r.exit = fn
		}
	}
}

// New builds a Runtime from cfg.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{cfg: cfg, exit: os.Exit}
	for _, opt := range opts {
		opt(r)
	}

	r.bridge = trace.New(cfg.sink(), trace.WithCapacity(cfg.LogCapacity))
	r.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.Debug {
		r.log = slog.New(trace.NewHandler(r.bridge, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	arena, err := source.NewArena(cfg.ArenaSize)
	if err != nil {
		return nil, fmt.Errorf("asan: mapping arena: %w", err)
	}

	g, err := alloc.New(arena, r.bridge,
		alloc.WithRedzone(cfg.Redzone),
		alloc.WithQuarantineBytes(cfg.QuarantineBytes),
		alloc.WithQuarantineItems(cfg.QuarantineItems),
		alloc.WithCallers(cfg.Callers),
		alloc.WithLogger(r.log.WithGroup("alloc")),
		alloc.WithMetrics(cfg.Registerer),
	)
	if err != nil {
		_ = arena.Close()
		return nil, err
	}

	r.arena = arena
	r.g = g
	r.heap = hooks.New(g,
		hooks.WithPageSize(arena.PageSize()),
		hooks.WithLogger(r.log.WithGroup("hooks")),
	)
	r.log.Debug("runtime ready", "arena", cfg.ArenaSize, "redzone", cfg.Redzone)
	return r, nil
}

// Enforce terminates the process when err is a violation or the allocator has
// faulted. Other errors are returned unchanged.
func (r *Runtime) Enforce(err error) error {
	if err == nil {
		return nil
	}
	if asan.IsViolation(err) || errors.Is(err, alloc.ErrFaulted) {
		r.exit(r.cfg.ExitCode)
	}
	return err
}

// Allocate returns a guarded object of size bytes, or 0 when memory is
// exhausted or the alignment is invalid.
func (r *Runtime) Allocate(size, align uintptr) asan.Addr {
	p, err := r.g.Allocate(size, align)
	if err != nil {
		_ = r.Enforce(err)
		r.log.Debug("allocate failed", "len", size, "align", align, "error", err)
		return 0
	}
	return p
}

// Deallocate frees p. A violation terminates the process.
func (r *Runtime) Deallocate(p asan.Addr) {
	_ = r.Enforce(r.g.Deallocate(p))
}

// Trace forwards a formatted diagnostic to the sink.
func (r *Runtime) Trace(format string, args ...any) {
	r.bridge.Trace(format, args...)
}

// CheckRegion reports whether [p, p+n) may be accessed.
func (r *Runtime) CheckRegion(p asan.Addr, n uintptr) bool {
	return r.g.CheckRegion(p, n)
}

// Load checks a read of n bytes at p, terminating on a violation.
func (r *Runtime) Load(p asan.Addr, n uintptr) {
	_ = r.Enforce(r.g.Load(p, n))
}

// Store checks a write of n bytes at p, terminating on a violation.
func (r *Runtime) Store(p asan.Addr, n uintptr) {
	_ = r.Enforce(r.g.Store(p, n))
}

// Bytes returns an unchecked view of n bytes at p.
func (r *Runtime) Bytes(p asan.Addr, n uintptr) []byte {
	return r.g.Bytes(p, n)
}

// Hooks returns the libc-shaped entry points. Callers pass their errors
// through Enforce.
func (r *Runtime) Hooks() *hooks.Heap { return r.heap }

// Guarded returns the underlying allocator.
func (r *Runtime) Guarded() *alloc.Guarded { return r.g }

// Bridge returns the trace bridge.
func (r *Runtime) Bridge() *trace.Bridge { return r.bridge }

// Stats returns the allocator statistics.
func (r *Runtime) Stats() alloc.Stats { return r.g.Stats() }

// ArenaStats returns the memory source statistics.
func (r *Runtime) ArenaStats() source.ArenaStats { return r.arena.Stats() }

// ReportLeaks traces one line per object still allocated and returns how many
// there were.
func (r *Runtime) ReportLeaks() int {
	leaks := r.g.Leaks()
	if len(leaks) == 0 {
		return 0
	}
	for _, line := range strings.Split(strings.TrimSuffix(alloc.FormatLeaks(leaks), "\n"), "\n") {
		r.bridge.Trace("%s", line)
	}
	return len(leaks)
}

// Close unmaps the arena. Addresses handed out by the runtime are invalid
// afterwards.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.arena.Close()
	})
	return r.closeErr
}
