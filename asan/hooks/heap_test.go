package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/asankit/asan"
	"github.com/joshuapare/asankit/asan/alloc"
	"github.com/joshuapare/asankit/asan/source"
	"github.com/joshuapare/asankit/internal/format"
)

func newHeap(t *testing.T) *Heap {
	t.Helper()
	arena, err := source.NewArena(4 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = arena.Close() })

	g, err := alloc.New(arena, nil)
	require.NoError(t, err)
	return New(g, WithPageSize(4096))
}

func write(t *testing.T, h *Heap, p asan.Addr, s string) {
	t.Helper()
	_, err := h.view(p, uintptr(len(s)))
	require.NoError(t, err)
	copy(h.Guarded().Bytes(p, uintptr(len(s))), s)
}

func read(h *Heap, p asan.Addr, n uintptr) string {
	return string(h.Guarded().Bytes(p, n))
}

func kindOf(t *testing.T, err error) asan.Kind {
	t.Helper()
	v, ok := asan.AsViolation(err)
	require.True(t, ok, "expected violation, got %v", err)
	return v.Kind
}

// ============================================================================
// Allocation hooks
// ============================================================================

func TestMalloc_Free(t *testing.T) {
	h := newHeap(t)

	p, err := h.Malloc(24)
	require.NoError(t, err)
	n, err := h.UsableSize(p)
	require.NoError(t, err)
	assert.Equal(t, uintptr(24), n)

	require.NoError(t, h.Free(p))
	require.NoError(t, h.Free(0))
	assert.Equal(t, asan.KindDoubleFree, kindOf(t, h.Free(p)))
}

func TestCalloc(t *testing.T) {
	h := newHeap(t)

	p, err := h.Calloc(4, 8)
	require.NoError(t, err)
	for _, b := range h.Guarded().Bytes(p, 32) {
		require.Zero(t, b, "calloc memory is zeroed")
	}

	p, err = h.Calloc(0, 8)
	require.NoError(t, err)
	assert.Zero(t, p)

	_, err = h.Calloc(^uintptr(0), 2)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestRealloc(t *testing.T) {
	h := newHeap(t)

	p, err := h.Realloc(0, 0)
	require.NoError(t, err)
	assert.Zero(t, p)

	p, err = h.Realloc(0, 5)
	require.NoError(t, err)
	write(t, h, p, "hello")

	q, err := h.Realloc(p, 11)
	require.NoError(t, err)
	assert.NotEqual(t, p, q)
	assert.Equal(t, "hello", read(h, q, 5))
	assert.False(t, h.Guarded().CheckRegion(p, 1), "old object is freed")

	r, err := h.Realloc(q, 2)
	require.NoError(t, err)
	assert.Equal(t, "he", read(h, r, 2))

	z, err := h.Realloc(r, 0)
	require.NoError(t, err)
	assert.Zero(t, z)
	assert.False(t, h.Guarded().CheckRegion(r, 1))
}

func TestRealloc_FreedPointer(t *testing.T) {
	h := newHeap(t)
	p, err := h.Malloc(8)
	require.NoError(t, err)
	require.NoError(t, h.Free(p))

	_, err = h.Realloc(p, 16)
	assert.Equal(t, asan.KindUseAfterFree, kindOf(t, err))
}

func TestAlignedAllocFamily(t *testing.T) {
	h := newHeap(t)

	p, err := h.AlignedAlloc(64, 128)
	require.NoError(t, err)
	assert.Zero(t, uintptr(p)%64)

	p, err = h.AlignedAlloc(64, 3)
	require.NoError(t, err)
	assert.Zero(t, p, "size must be a multiple of the word size")

	p, err = h.Memalign(48, 64)
	require.NoError(t, err)
	assert.Zero(t, p, "alignment must be a power of two")

	p, err = h.Memalign(256, 64)
	require.NoError(t, err)
	assert.Zero(t, uintptr(p)%256)

	p, err = h.PosixMemalign(32, 7)
	require.NoError(t, err)
	assert.Zero(t, uintptr(p)%32)

	_, err = h.PosixMemalign(format.WordSize*3, 8)
	assert.ErrorIs(t, err, alloc.ErrInvalidAlignment)
	_, err = h.PosixMemalign(format.WordSize/2, 8)
	assert.ErrorIs(t, err, alloc.ErrInvalidAlignment)
}

func TestVallocPvalloc(t *testing.T) {
	h := newHeap(t)
	require.Equal(t, uintptr(4096), h.PageSize())

	p, err := h.Valloc(10)
	require.NoError(t, err)
	assert.Zero(t, uintptr(p)%4096)
	n, err := h.UsableSize(p)
	require.NoError(t, err)
	assert.Equal(t, uintptr(10), n)

	p, err = h.Pvalloc(10)
	require.NoError(t, err)
	assert.Zero(t, uintptr(p)%4096)
	n, err = h.UsableSize(p)
	require.NoError(t, err)
	assert.Equal(t, uintptr(4096), n, "pvalloc rounds up to a page")

	_, err = h.Pvalloc(^uintptr(0) - 10)
	assert.ErrorIs(t, err, ErrOverflow)
}

// ============================================================================
// Memory primitives
// ============================================================================

func TestMemcpy(t *testing.T) {
	h := newHeap(t)
	src, err := h.Malloc(8)
	require.NoError(t, err)
	dst, err := h.Malloc(8)
	require.NoError(t, err)
	write(t, h, src, "abcdefgh")

	got, err := h.Memcpy(dst, src, 8)
	require.NoError(t, err)
	assert.Equal(t, dst, got)
	assert.Equal(t, "abcdefgh", read(h, dst, 8))

	end, err := h.Mempcpy(dst, src, 4)
	require.NoError(t, err)
	assert.Equal(t, dst.Add(4), end)

	got, err = h.Memcpy(0, 0, 0)
	require.NoError(t, err, "zero length ignores pointers")
	assert.Zero(t, got)

	_, err = h.Memcpy(0, src, 1)
	assert.ErrorIs(t, err, ErrNullPointer)
}

func TestMemcpy_OverflowDetected(t *testing.T) {
	h := newHeap(t)
	src, err := h.Malloc(16)
	require.NoError(t, err)
	dst, err := h.Malloc(8)
	require.NoError(t, err)

	_, err = h.Memcpy(dst, src, 16)
	v, ok := asan.AsViolation(err)
	require.True(t, ok)
	assert.Equal(t, asan.KindHeapBufferOverflow, v.Kind)
	assert.Equal(t, dst.Add(8), v.Addr)

	// The redzone was never written.
	require.NoError(t, h.Free(dst))
}

func TestMemcpy_Overlap(t *testing.T) {
	h := newHeap(t)
	p, err := h.Malloc(32)
	require.NoError(t, err)

	_, err = h.Memcpy(p.Add(4), p, 8)
	assert.Equal(t, asan.KindOverlappingCopy, kindOf(t, err))
	assert.Nil(t, h.Guarded().Faulted())

	write(t, h, p, "0123456789")
	_, err = h.Memmove(p.Add(2), p, 8)
	require.NoError(t, err)
	assert.Equal(t, "0101234567", read(h, p, 10))
}

func TestMemsetBzero(t *testing.T) {
	h := newHeap(t)
	p, err := h.Malloc(6)
	require.NoError(t, err)

	_, err = h.Memset(p, 'z', 6)
	require.NoError(t, err)
	assert.Equal(t, "zzzzzz", read(h, p, 6))

	require.NoError(t, h.Bzero(p, 3))
	assert.Equal(t, "\x00\x00\x00zzz", read(h, p, 6))

	_, err = h.Memset(p, 0, 7)
	assert.Equal(t, asan.KindHeapBufferOverflow, kindOf(t, err))

	require.NoError(t, h.Free(p))
	assert.Equal(t, asan.KindUseAfterFree, kindOf(t, h.Bzero(p, 1)))
}

func TestMemcmpMemchr(t *testing.T) {
	h := newHeap(t)
	a, err := h.Malloc(4)
	require.NoError(t, err)
	b, err := h.Malloc(4)
	require.NoError(t, err)
	write(t, h, a, "abcd")
	write(t, h, b, "abce")

	c, err := h.Memcmp(a, b, 4)
	require.NoError(t, err)
	assert.Equal(t, -1, c)
	c, err = h.Memcmp(a, b, 3)
	require.NoError(t, err)
	assert.Zero(t, c)
	c, err = h.Memcmp(b, a, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	at, err := h.Memchr(a, 'c', 4)
	require.NoError(t, err)
	assert.Equal(t, a.Add(2), at)
	at, err = h.Memchr(a, 'x', 4)
	require.NoError(t, err)
	assert.Zero(t, at)

	_, err = h.Memcmp(a, b, 5)
	assert.Equal(t, asan.KindHeapBufferOverflow, kindOf(t, err))
}
