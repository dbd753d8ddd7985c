package hooks

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/joshuapare/asankit/asan"
	"github.com/joshuapare/asankit/asan/alloc"
	"github.com/joshuapare/asankit/internal/buf"
	"github.com/joshuapare/asankit/internal/format"
	"github.com/joshuapare/asankit/internal/mmap"
)

// Heap implements the allocation hooks.
type Heap struct {
	g        *alloc.Guarded
	pageSize uintptr
	log      *slog.Logger
}

// Option configures a Heap.
type Option func(*Heap)

// WithPageSize overrides the page size used by Valloc and Pvalloc. It must be
// a power of two; other values are ignored.
func WithPageSize(n uintptr) Option {
	return func(h *Heap) {
		if format.IsPowerOfTwo(n) {
			h.pageSize = n
		}
	}
}

// WithLogger traces every hook call at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(h *Heap) {
		if l != nil {
			h.log = l
		}
	}
}

// New builds the hooks over g.
func New(g *alloc.Guarded, opts ...Option) *Heap {
	h := &Heap{
		g:        g,
		pageSize: uintptr(mmap.PageSize()),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PageSize returns the page size used by Valloc and Pvalloc.
func (h *Heap) PageSize() uintptr { return h.pageSize }

// Guarded returns the underlying allocator.
func (h *Heap) Guarded() *alloc.Guarded { return h.g }

// Malloc allocates n bytes with the default alignment.
func (h *Heap) Malloc(n uintptr) (asan.Addr, error) {
	h.log.Debug("malloc", "size", n)
	return h.g.Allocate(n, 0)
}

// Calloc allocates nobj*size zeroed bytes. A zero total returns 0.
func (h *Heap) Calloc(nobj, size uintptr) (asan.Addr, error) {
	h.log.Debug("calloc", "nobj", nobj, "size", size)
	total, ok := buf.MulOverflowSafe(nobj, size)
	if !ok {
		return 0, fmt.Errorf("%w: calloc %d x %d", ErrOverflow, nobj, size)
	}
	if total == 0 {
		return 0, nil
	}
	p, err := h.g.Allocate(total, 0)
	if err != nil {
		return 0, err
	}
	clear(h.g.Bytes(p, total))
	return p, nil
}

// Realloc resizes p to n bytes. Realloc(0, n) allocates, Realloc(p, 0) frees
// and returns 0. Otherwise the old contents are checked, copied to a fresh
// object up to the smaller size, and p is freed.
func (h *Heap) Realloc(p asan.Addr, n uintptr) (asan.Addr, error) {
	h.log.Debug("realloc", "addr", p.String(), "size", n)
	switch {
	case p == 0 && n == 0:
		return 0, nil
	case p == 0:
		return h.g.Allocate(n, 0)
	case n == 0:
		return 0, h.g.Deallocate(p)
	}

	old, err := h.g.UsableSize(p)
	if err != nil {
		return 0, err
	}
	if err := h.g.Load(p, old); err != nil {
		return 0, err
	}
	q, err := h.g.Allocate(n, 0)
	if err != nil {
		return 0, err
	}
	m := min(old, n)
	copy(h.g.Bytes(q, m), h.g.Bytes(p, m))
	if err := h.g.Deallocate(p); err != nil {
		return 0, err
	}
	return q, nil
}

// Free deallocates p. Free(0) is a no-op.
func (h *Heap) Free(p asan.Addr) error {
	h.log.Debug("free", "addr", p.String())
	return h.g.Deallocate(p)
}

// UsableSize returns the size requested for p.
func (h *Heap) UsableSize(p asan.Addr) (uintptr, error) {
	return h.g.UsableSize(p)
}

// AlignedAlloc allocates size bytes aligned to align. It returns 0 when align
// is not a power of two or size is not a multiple of the word size.
func (h *Heap) AlignedAlloc(align, size uintptr) (asan.Addr, error) {
	h.log.Debug("aligned_alloc", "align", align, "size", size)
	if size%format.WordSize != 0 || !format.IsPowerOfTwo(align) {
		return 0, nil
	}
	return h.g.Allocate(size, align)
}

// Memalign has the same contract as AlignedAlloc.
func (h *Heap) Memalign(align, size uintptr) (asan.Addr, error) {
	h.log.Debug("memalign", "align", align, "size", size)
	if size%format.WordSize != 0 || !format.IsPowerOfTwo(align) {
		return 0, nil
	}
	return h.g.Allocate(size, align)
}

// PosixMemalign allocates size bytes aligned to align, which must be a power
// of two and a multiple of the word size.
func (h *Heap) PosixMemalign(align, size uintptr) (asan.Addr, error) {
	h.log.Debug("posix_memalign", "align", align, "size", size)
	if align%format.WordSize != 0 {
		return 0, fmt.Errorf("%w: %d is not a multiple of %d", alloc.ErrInvalidAlignment, align, format.WordSize)
	}
	if !format.IsPowerOfTwo(align) {
		return 0, fmt.Errorf("%w: %d", alloc.ErrInvalidAlignment, align)
	}
	return h.g.Allocate(size, align)
}

// Valloc allocates size bytes aligned to the page size.
func (h *Heap) Valloc(size uintptr) (asan.Addr, error) {
	h.log.Debug("valloc", "size", size)
	return h.g.Allocate(size, h.pageSize)
}

// Pvalloc rounds size up to whole pages and allocates it page aligned.
func (h *Heap) Pvalloc(size uintptr) (asan.Addr, error) {
	h.log.Debug("pvalloc", "size", size)
	rounded, ok := format.AlignUpChecked(size, h.pageSize)
	if !ok {
		return 0, fmt.Errorf("%w: pvalloc %d", ErrOverflow, size)
	}
	return h.g.Allocate(rounded, h.pageSize)
}
