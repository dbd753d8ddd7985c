package source

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/emirpasic/gods/trees/redblacktree"

	"github.com/joshuapare/asankit/asan"
	"github.com/joshuapare/asankit/internal/buf"
	"github.com/joshuapare/asankit/internal/format"
	"github.com/joshuapare/asankit/internal/mmap"
)

// Arena is a Source backed by one fixed anonymous mapping. It uses a
// bump-pointer for fresh memory and an address-ordered free list for reuse:
// requests are served first-fit with splitting, and freed spans coalesce with
// their free neighbours. A free span that reaches the bump pointer is given
// back to it.
type Arena struct {
	mu sync.Mutex

	mem   []byte
	base  uintptr
	size  uintptr
	unmap func() error

	// endBlocks is the bump pointer: the offset where fresh memory starts.
	// No free span ends at endBlocks.
	endBlocks uintptr

	// live: offset -> size for every reservation not yet freed
	live map[uintptr]uintptr
	// free: offset -> size of maximal free spans below endBlocks
	free *redblacktree.Tree

	stats ArenaStats
}

func compareOffset(a, b any) int {
	x, y := a.(uintptr), b.(uintptr)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// ArenaStats holds arena counters.
type ArenaStats struct {
	Capacity  uintptr // mapping size
	HighWater uintptr // highest bump pointer seen
	InUse     uintptr // bytes in live reservations
	Free      uintptr // bytes in free spans below the bump pointer
	Live      int     // live reservations
	Allocs    uint64  // successful Alloc calls
	Reused    uint64  // Alloc calls served from a free span
	Coalesced uint64  // merges of a freed span with a free neighbour
	Frees     uint64  // successful Free calls
	Failures  uint64  // Alloc calls that failed with ErrExhausted
}

// NewArena maps size bytes of anonymous memory. A size of 0 selects
// format.DefaultArenaSize.
func NewArena(size int) (*Arena, error) {
	if size == 0 {
		size = format.DefaultArenaSize
	}
	if size < 0 {
		return nil, fmt.Errorf("source: invalid arena size %d", size)
	}
	mem, unmap, err := mmap.Anonymous(size)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	return &Arena{
		mem:   mem,
		base:  uintptr(unsafe.Pointer(unsafe.SliceData(mem))),
		size:  uintptr(size),
		unmap: unmap,
		live:  make(map[uintptr]uintptr),
		free:  redblacktree.NewWith(compareOffset),
		stats: ArenaStats{Capacity: uintptr(size)},
	}, nil
}

// Alloc reserves size bytes aligned to align. The lowest free span that can
// hold the aligned request is split and reused before fresh memory is bumped.
func (a *Arena) Alloc(size, align uintptr) (asan.Addr, error) {
	if !format.IsPowerOfTwo(align) {
		return 0, fmt.Errorf("%w: %d", ErrBadAlign, align)
	}
	if size == 0 {
		size = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mem == nil {
		return 0, ErrClosed
	}

	if off, ok := a.firstFit(size, align); ok {
		a.stats.Reused++
		return a.claim(off, size), nil
	}

	start, ok := format.AlignUpChecked(a.base+a.endBlocks, align)
	if !ok {
		a.stats.Failures++
		return 0, fmt.Errorf("%w: %d bytes aligned to %d", ErrExhausted, size, align)
	}
	off := start - a.base
	end, ok := buf.AddOverflowSafe(off, size)
	if !ok || end > uintptr(len(a.mem)) {
		a.stats.Failures++
		return 0, fmt.Errorf("%w: %d bytes aligned to %d (high water %d of %d)",
			ErrExhausted, size, align, a.endBlocks, len(a.mem))
	}
	if off > a.endBlocks {
		// alignment gap
		a.insertFree(a.endBlocks, off-a.endBlocks)
	}
	a.endBlocks = end
	a.stats.HighWater = max(a.stats.HighWater, end)
	return a.claim(off, size), nil
}

// firstFit carves an aligned size-byte block out of the lowest free span that
// holds it. The unused head and tail of the span stay free.
func (a *Arena) firstFit(size, align uintptr) (uintptr, bool) {
	var spanOff, spanSize, start uintptr
	found := false
	it := a.free.Iterator()
	for it.Next() {
		off, sz := it.Key().(uintptr), it.Value().(uintptr)
		if sz < size {
			continue
		}
		p, ok := format.AlignUpChecked(a.base+off, align)
		if !ok || p-a.base-off > sz-size {
			continue
		}
		spanOff, spanSize, start, found = off, sz, p-a.base, true
		break
	}
	if !found {
		return 0, false
	}

	a.removeFree(spanOff, spanSize)
	if start > spanOff {
		a.insertFree(spanOff, start-spanOff)
	}
	if end := start + size; end < spanOff+spanSize {
		a.insertFree(end, spanOff+spanSize-end)
	}
	return start, true
}

func (a *Arena) insertFree(off, size uintptr) {
	a.free.Put(off, size)
	a.stats.Free += size
}

func (a *Arena) removeFree(off, size uintptr) {
	a.free.Remove(off)
	a.stats.Free -= size
}

func (a *Arena) claim(off, size uintptr) asan.Addr {
	a.live[off] = size
	a.stats.InUse += size
	a.stats.Live++
	a.stats.Allocs++
	return asan.Addr(a.base + off)
}

// Free returns a reservation to the arena, merging it with the free spans on
// either side.
func (a *Arena) Free(addr asan.Addr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mem == nil {
		return ErrClosed
	}
	off, ok := a.offset(addr)
	if !ok {
		return fmt.Errorf("%w: %s outside arena", ErrBadAddress, addr)
	}
	size, ok := a.live[off]
	if !ok {
		return fmt.Errorf("%w: %s not allocated", ErrBadAddress, addr)
	}
	delete(a.live, off)
	a.stats.InUse -= size
	a.stats.Live--
	a.stats.Frees++

	// forward
	if next, ok := a.free.Get(off + size); ok {
		nextSize := next.(uintptr)
		a.removeFree(off+size, nextSize)
		size += nextSize
		a.stats.Coalesced++
	}
	// backward
	if prev, ok := a.free.Floor(off); ok {
		prevOff, prevSize := prev.Key.(uintptr), prev.Value.(uintptr)
		if prevOff+prevSize == off {
			a.removeFree(prevOff, prevSize)
			off, size = prevOff, size+prevSize
			a.stats.Coalesced++
		}
	}

	if off+size == a.endBlocks {
		a.endBlocks = off
		return nil
	}
	a.insertFree(off, size)
	return nil
}

// Bytes returns a view of size bytes at addr, or nil when the range leaves the
// mapping.
func (a *Arena) Bytes(addr asan.Addr, size uintptr) []byte {
	a.mu.Lock()
	mem := a.mem
	a.mu.Unlock()

	off, ok := a.offset(addr)
	if !ok || mem == nil || size > uintptr(len(mem)) {
		return nil
	}
	view, ok := buf.Slice(mem, int(off), int(size))
	if !ok {
		return nil
	}
	return view
}

func (a *Arena) offset(addr asan.Addr) (uintptr, bool) {
	p := uintptr(addr)
	if p < a.base || p-a.base >= a.size {
		return 0, false
	}
	return p - a.base, true
}

// Contains reports whether addr lies inside the mapping.
func (a *Arena) Contains(addr asan.Addr) bool {
	_, ok := a.offset(addr)
	return ok
}

// Base returns the first address of the mapping.
func (a *Arena) Base() asan.Addr { return asan.Addr(a.base) }

// PageSize returns the system page size.
func (a *Arena) PageSize() uintptr { return uintptr(mmap.PageSize()) }

// Stats returns a snapshot of the arena counters.
func (a *Arena) Stats() ArenaStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Close unmaps the arena. Every address it handed out becomes invalid.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mem == nil {
		return nil
	}
	a.mem = nil
	a.live = nil
	a.free = nil
	return a.unmap()
}
