package alloc

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/asankit/asan"
	"github.com/joshuapare/asankit/asan/source"
	"github.com/joshuapare/asankit/asan/trace"
	"github.com/joshuapare/asankit/internal/format"
)

// ============================================================================
// Helpers
// ============================================================================

type lines struct {
	mu  sync.Mutex
	got []string
}

func (l *lines) Log(msg []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, string(msg))
}

func (l *lines) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.got...)
}

func newGuarded(t testing.TB, opts ...Option) (*Guarded, *lines) {
	t.Helper()
	arena, err := source.NewArena(4 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = arena.Close() })

	sink := &lines{}
	g, err := New(arena, trace.New(sink), opts...)
	require.NoError(t, err)
	return g, sink
}

func mustAllocate(t testing.TB, g *Guarded, size, align uintptr) asan.Addr {
	t.Helper()
	p, err := g.Allocate(size, align)
	require.NoError(t, err)
	require.NotZero(t, p)
	return p
}

func requireViolation(t testing.TB, err error, kind asan.Kind) *asan.Violation {
	t.Helper()
	require.Error(t, err)
	v, ok := asan.AsViolation(err)
	require.True(t, ok, "expected a violation, got %v", err)
	require.Equal(t, kind, v.Kind, "got %v", v)
	return v
}

// ============================================================================
// Construction
// ============================================================================

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNoSource)

	arena, err := source.NewArena(1 << 16)
	require.NoError(t, err)
	defer arena.Close()

	_, err = New(arena, nil, WithRedzone(0))
	assert.ErrorIs(t, err, ErrInvalidRedzone)
	_, err = New(arena, nil, WithRedzone(20))
	assert.ErrorIs(t, err, ErrInvalidRedzone, "redzone must be a multiple of the default alignment")
	_, err = New(arena, nil, WithDefaultAlignment(12))
	assert.ErrorIs(t, err, ErrInvalidAlignment)

	g, err := New(arena, nil, WithRedzone(32))
	require.NoError(t, err)
	_, err = g.Allocate(8, 0)
	assert.NoError(t, err, "nil bridge is replaced by a discarding one")
}

// ============================================================================
// Allocate / Deallocate
// ============================================================================

func TestGuarded_AllocateDeallocateRoundTrip(t *testing.T) {
	g, sink := newGuarded(t)

	cases := []struct {
		size, align uintptr
	}{
		{0, 0}, {1, 0}, {8, 0}, {17, 0}, {100, 8}, {64, 64}, {3, 256}, {4096, 4096},
	}
	for _, tc := range cases {
		p := mustAllocate(t, g, tc.size, tc.align)
		want := max(tc.align, uintptr(format.DefaultAlignment))
		assert.Zero(t, uintptr(p)%want, "size %d align %d", tc.size, tc.align)
		assert.True(t, g.CheckRegion(p, tc.size))

		require.NoError(t, g.Deallocate(p))
		rec, ok := g.store.Lookup(p)
		require.True(t, ok)
		assert.NotEqual(t, asan.StateAllocated, rec.State)
	}

	st := g.Stats()
	assert.Zero(t, st.Live)
	assert.Equal(t, uint64(len(cases)), st.Allocations)
	assert.Equal(t, uint64(len(cases)), st.Deallocations)
	assert.Empty(t, sink.all())
}

func TestGuarded_LayoutIsPoisoned(t *testing.T) {
	g, _ := newGuarded(t)

	p := mustAllocate(t, g, 10, 0)
	rec, ok := g.store.Lookup(p)
	require.True(t, ok)

	assert.Equal(t, uintptr(format.DefaultRedzone), rec.LeftRedzone.Len)
	assert.Equal(t, uintptr(format.DefaultRedzone+6), rec.RightRedzone.Len, "right redzone absorbs padding")

	for _, b := range g.Bytes(rec.LeftRedzone.Start, rec.LeftRedzone.Len) {
		require.Equal(t, format.PoisonLeftRedzone, b)
	}
	for _, b := range g.Bytes(p, 10) {
		require.Equal(t, format.FillFresh, b)
	}
	for _, b := range g.Bytes(rec.RightRedzone.Start, rec.RightRedzone.Len) {
		require.Equal(t, format.PoisonRightRedzone, b)
	}

	require.NoError(t, g.Deallocate(p))
	for _, b := range g.Bytes(p, 10) {
		require.Equal(t, format.PoisonFreed, b)
	}
}

func TestGuarded_LargeAlignmentWidensLeftRedzone(t *testing.T) {
	g, _ := newGuarded(t)

	p := mustAllocate(t, g, 8, 512)
	rec, ok := g.store.Lookup(p)
	require.True(t, ok)
	assert.Equal(t, uintptr(512), rec.LeftRedzone.Len)
	assert.Equal(t, uintptr(512), rec.Align)
	assert.Zero(t, uintptr(p)%512)
}

func TestGuarded_ZeroSizeIsDistinct(t *testing.T) {
	g, _ := newGuarded(t)

	seen := make(map[asan.Addr]bool)
	for range 16 {
		p := mustAllocate(t, g, 0, 0)
		assert.False(t, seen[p], "zero-size allocations must not alias")
		seen[p] = true

		assert.True(t, g.CheckRegion(p, 0))
		assert.False(t, g.CheckRegion(p, 1), "the byte at a zero-size pointer is redzone")
	}
}

func TestGuarded_NullDeallocateIsNoop(t *testing.T) {
	g, sink := newGuarded(t)
	require.NoError(t, g.Deallocate(0))
	assert.Empty(t, sink.all())
	assert.Zero(t, g.Stats().Deallocations)
}

func TestGuarded_InvalidAlignment(t *testing.T) {
	g, _ := newGuarded(t)

	for _, align := range []uintptr{3, 24, 100} {
		_, err := g.Allocate(8, align)
		assert.ErrorIs(t, err, ErrInvalidAlignment, "align %d", align)
	}
	assert.Nil(t, g.Faulted(), "bad arguments do not fault the allocator")
	assert.Zero(t, g.Stats().Failures)
}

func TestGuarded_OutOfMemoryIsRecoverable(t *testing.T) {
	src := source.Funcs{
		AllocFunc: func(size, align uintptr) (asan.Addr, error) {
			return 0, source.ErrExhausted
		},
	}
	g, err := New(src, nil)
	require.NoError(t, err)

	for range 2 {
		_, err = g.Allocate(64, 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.ErrorIs(t, err, source.ErrExhausted)
		assert.False(t, asan.IsViolation(err))
	}
	assert.Equal(t, uint64(2), g.Stats().Failures)
	assert.Nil(t, g.Faulted())
}

func TestGuarded_OversizedRequest(t *testing.T) {
	g, _ := newGuarded(t)

	_, err := g.Allocate(^uintptr(0)-8, 0)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	_, err = g.Allocate(8<<20, 0)
	assert.ErrorIs(t, err, ErrOutOfMemory, "larger than the arena")
	assert.Equal(t, uint64(2), g.Stats().Failures)
}

// ============================================================================
// Violations
// ============================================================================

func TestGuarded_OverflowIntoRightRedzone(t *testing.T) {
	g, sink := newGuarded(t)

	p := mustAllocate(t, g, 8, 0)
	copy(g.Bytes(p, 8), "abcdefgh")
	g.Bytes(p, 9)[8] = 'X'

	v := requireViolation(t, g.Deallocate(p), asan.KindHeapCorruption)
	assert.Equal(t, p.Add(8), v.Addr)
	assert.True(t, v.HasRecord)
	assert.Equal(t, uintptr(8), v.Size)
	assert.Equal(t, uint64(1), v.Origin)
	assert.Equal(t, asan.StateAllocated, v.State)

	got := sink.all()
	require.Len(t, got, 1, "exactly one diagnostic line")
	assert.Equal(t, v.Error(), got[0])
	assert.Contains(t, got[0], "heap-corruption")
	assert.Contains(t, got[0], p.Add(8).String())
}

func TestGuarded_UnderflowIntoLeftRedzone(t *testing.T) {
	g, _ := newGuarded(t)

	p := mustAllocate(t, g, 32, 0)
	mem := g.Bytes(p-1, 1)
	mem[0] = 0

	v := requireViolation(t, g.Deallocate(p), asan.KindHeapCorruption)
	assert.Equal(t, p-1, v.Addr)
}

func TestGuarded_OverflowIntoPadding(t *testing.T) {
	g, _ := newGuarded(t)

	p := mustAllocate(t, g, 5, 0)
	g.Bytes(p, 6)[5] = 0

	v := requireViolation(t, g.Deallocate(p), asan.KindHeapCorruption)
	assert.Equal(t, p.Add(5), v.Addr)
}

func TestGuarded_DoubleFree(t *testing.T) {
	g, sink := newGuarded(t)

	p := mustAllocate(t, g, 16, 0)
	require.NoError(t, g.Deallocate(p))

	v := requireViolation(t, g.Deallocate(p), asan.KindDoubleFree)
	assert.Equal(t, p, v.Addr)
	assert.Equal(t, asan.StateQuarantined, v.State)
	require.Len(t, sink.all(), 1)
}

func TestGuarded_DoubleFreeAfterRelease(t *testing.T) {
	g, _ := newGuarded(t, WithQuarantineBytes(0))

	p := mustAllocate(t, g, 16, 0)
	require.NoError(t, g.Deallocate(p))
	rec, ok := g.store.Lookup(p)
	require.True(t, ok)
	require.Equal(t, asan.StateReleased, rec.State, "zero budget evicts on free")

	v := requireViolation(t, g.Deallocate(p), asan.KindDoubleFree)
	assert.Equal(t, asan.StateReleased, v.State)
}

func TestGuarded_DoubleFreeForgottenIsUnknown(t *testing.T) {
	g, _ := newGuarded(t, WithQuarantineBytes(0), WithReleasedHistory(1))

	p := mustAllocate(t, g, 16, 0)
	q := mustAllocate(t, g, 16, 0)
	require.NoError(t, g.Deallocate(p))
	require.NoError(t, g.Deallocate(q))

	// q's release pushed p out of the history.
	requireViolation(t, g.Deallocate(p), asan.KindUnknownPointer)
}

func TestGuarded_UnknownPointer(t *testing.T) {
	g, _ := newGuarded(t)

	v := requireViolation(t, g.Deallocate(0x1234), asan.KindUnknownPointer)
	assert.False(t, v.HasRecord)
	assert.Contains(t, v.Error(), "no allocation record")
}

func TestGuarded_InteriorPointer(t *testing.T) {
	g, _ := newGuarded(t)

	p := mustAllocate(t, g, 32, 0)
	v := requireViolation(t, g.Deallocate(p.Add(4)), asan.KindUnknownPointer)
	assert.True(t, v.HasRecord)
	assert.Equal(t, p, v.Base)
}

func TestGuarded_FaultedAfterViolation(t *testing.T) {
	g, sink := newGuarded(t)

	p := mustAllocate(t, g, 8, 0)
	q := mustAllocate(t, g, 8, 0)
	require.NoError(t, g.Deallocate(p))
	first := requireViolation(t, g.Deallocate(p), asan.KindDoubleFree)
	assert.Same(t, first, g.Faulted())

	_, err := g.Allocate(8, 0)
	assert.ErrorIs(t, err, ErrFaulted)
	v, ok := asan.AsViolation(err)
	require.True(t, ok, "faulted errors wrap the first violation")
	assert.Same(t, first, v)

	err = g.Deallocate(q)
	assert.ErrorIs(t, err, ErrFaulted)
	assert.Len(t, sink.all(), 1, "a faulted allocator does not report again")
}

// ============================================================================
// Quarantine
// ============================================================================

func TestGuarded_UseAfterFreeUntilReissued(t *testing.T) {
	g, _ := newGuarded(t, WithQuarantineItems(1))

	p := mustAllocate(t, g, 64, 0)
	require.NoError(t, g.Deallocate(p))

	copy(g.Bytes(p, 4), "oops")
	assert.False(t, g.CheckRegion(p, 4), "quarantined memory is invalid")

	// A second free pushes p out of the quarantine.
	other := mustAllocate(t, g, 32, 0)
	require.NoError(t, g.Deallocate(other))
	rec, ok := g.store.Lookup(p)
	require.True(t, ok)
	require.Equal(t, asan.StateReleased, rec.State)
	assert.False(t, g.CheckRegion(p, 4), "released memory stays invalid")

	again := mustAllocate(t, g, 64, 0)
	require.Equal(t, p, again, "the arena reissues the released reservation")
	assert.True(t, g.CheckRegion(p, 4))
	assert.Equal(t, format.FillFresh, g.Bytes(p, 1)[0])
	require.NoError(t, g.Store(p, 64))
}

func TestGuarded_QuarantineBoundAndFIFO(t *testing.T) {
	probe, _ := newGuarded(t)
	_, _, reserve, err := probe.layout(48, 0)
	require.NoError(t, err)

	budget := 3 * reserve
	g, _ := newGuarded(t, WithQuarantineBytes(budget))

	ptrs := make([]asan.Addr, 10)
	for i := range ptrs {
		ptrs[i] = mustAllocate(t, g, 48, 0)
	}
	// Free in reverse address order so FIFO differs from address order.
	for i := len(ptrs) - 1; i >= 0; i-- {
		require.NoError(t, g.Deallocate(ptrs[i]))
		assert.LessOrEqual(t, g.store.QuarantinedBytes(), budget)
	}

	st := g.Stats()
	assert.Equal(t, 3, st.Quarantined)
	assert.Equal(t, uint64(7), st.Evictions)
	for i, p := range ptrs {
		rec, ok := g.store.Lookup(p)
		require.True(t, ok)
		if i < 3 {
			assert.Equal(t, asan.StateQuarantined, rec.State, "most recently freed stay quarantined")
		} else {
			assert.Equal(t, asan.StateReleased, rec.State, "oldest frees are evicted first")
		}
	}
}

// ============================================================================
// Access checks
// ============================================================================

func TestGuarded_LoadStore(t *testing.T) {
	g, sink := newGuarded(t)

	p := mustAllocate(t, g, 8, 0)
	require.NoError(t, g.Load(p, 8))
	require.NoError(t, g.Store(p, 0))
	require.NoError(t, g.Load(0x10, 8), "unmanaged memory is not checked")

	v := requireViolation(t, g.Store(p, 9), asan.KindHeapBufferOverflow)
	assert.Equal(t, p.Add(8), v.Addr)
	assert.Equal(t, uintptr(9), v.Access)

	v = requireViolation(t, g.Load(p-8, 4), asan.KindHeapBufferOverflow)
	assert.Equal(t, p-8, v.Addr)

	require.NoError(t, g.Deallocate(p), "access violations do not fault the allocator")
	v = requireViolation(t, g.Load(p, 1), asan.KindUseAfterFree)
	assert.Equal(t, asan.StateQuarantined, v.State)

	assert.Len(t, sink.all(), 3)
	assert.Equal(t, uint64(3), g.Stats().Violations)
}

func TestGuarded_UsableSize(t *testing.T) {
	g, _ := newGuarded(t)

	n, err := g.UsableSize(0)
	require.NoError(t, err)
	assert.Zero(t, n)

	p := mustAllocate(t, g, 13, 0)
	n, err = g.UsableSize(p)
	require.NoError(t, err)
	assert.Equal(t, uintptr(13), n)

	_, err = g.UsableSize(p.Add(1))
	requireViolation(t, err, asan.KindUnknownPointer)

	require.NoError(t, g.Deallocate(p))
	_, err = g.UsableSize(p)
	requireViolation(t, err, asan.KindUseAfterFree)
}

// ============================================================================
// Reporting
// ============================================================================

func TestGuarded_CallersNameSite(t *testing.T) {
	g, sink := newGuarded(t, WithCallers(true))

	p := mustAllocate(t, g, 8, 0)
	g.Bytes(p, 9)[8] = 0
	v := requireViolation(t, g.Deallocate(p), asan.KindHeapCorruption)

	assert.Contains(t, v.Site, "guarded_test.go:")
	assert.Contains(t, v.Site, "mustAllocate")
	got := sink.all()
	require.Len(t, got, 1)
	assert.Contains(t, got[0], v.Site)
}

func TestGuarded_CallersFormatSiteOnce(t *testing.T) {
	g, _ := newGuarded(t, WithCallers(true))

	for range 3 {
		mustAllocate(t, g, 8, 0)
	}

	leaks := g.Leaks()
	require.Len(t, leaks, 3)
	require.NotEmpty(t, leaks[0].Site)
	assert.Equal(t, leaks[0].Site, leaks[1].Site)
	assert.Equal(t, leaks[0].Site, leaks[2].Site)

	n := 0
	g.sites.Range(func(_, _ any) bool {
		n++
		return true
	})
	assert.Equal(t, 1, n, "one entry per call site")
}

func TestGuarded_Leaks(t *testing.T) {
	g, _ := newGuarded(t, WithCallers(true))

	a := mustAllocate(t, g, 10, 0)
	b := mustAllocate(t, g, 20, 0)
	require.NoError(t, g.Deallocate(a))

	leaks := g.Leaks()
	require.Len(t, leaks, 1)
	assert.Equal(t, b, leaks[0].Base)
	assert.Equal(t, uintptr(20), leaks[0].Size)
	assert.Equal(t, uint64(2), leaks[0].Origin)

	report := FormatLeaks(leaks)
	assert.True(t, strings.HasPrefix(report, "20 bytes leaked in 1 allocations"))
	assert.Contains(t, report, b.String())
	assert.Contains(t, report, "allocated by")

	assert.Equal(t, "no leaks detected\n", FormatLeaks(nil))
}

func TestGuarded_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	g, _ := newGuarded(t, WithMetrics(reg))

	p := mustAllocate(t, g, 8, 0)
	_ = mustAllocate(t, g, 8, 0)
	require.NoError(t, g.Deallocate(p))
	_ = g.Load(p, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(g.m.allocations))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.m.deallocations))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.m.liveObjects))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.m.violations.WithLabelValues("heap-use-after-free")))
	assert.Positive(t, testutil.ToFloat64(g.m.quarantineBytes))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "asankit_alloc_events")
	assert.Contains(t, names, "asankit_alloc_violations")
}

// ============================================================================
// Concurrency
// ============================================================================

func TestGuarded_ConcurrentAllocateDeallocate(t *testing.T) {
	g, sink := newGuarded(t, WithQuarantineBytes(64<<10))

	const workers, rounds = 8, 200
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range rounds {
				size := uintptr(1 + (w*rounds+i)%96)
				p, err := g.Allocate(size, 0)
				if err != nil {
					t.Errorf("allocate: %v", err)
					return
				}
				mem := g.Bytes(p, size)
				for j := range mem {
					mem[j] = byte(w)
				}
				if !g.CheckRegion(p, size) {
					t.Errorf("fresh object %s not accessible", p)
					return
				}
				if err := g.Deallocate(p); err != nil {
					t.Errorf("deallocate: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	st := g.Stats()
	assert.Zero(t, st.Live)
	assert.Equal(t, uint64(workers*rounds), st.Allocations)
	assert.Equal(t, uint64(workers*rounds), st.Deallocations)
	assert.LessOrEqual(t, st.QuarantinedBytes, uintptr(64<<10))
	assert.Zero(t, st.Violations)
	assert.Empty(t, sink.all())
	assert.Nil(t, g.Faulted())
}

func TestGuarded_ViolationIsError(t *testing.T) {
	g, _ := newGuarded(t)
	err := g.Deallocate(0x42)
	var v *asan.Violation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, asan.KindUnknownPointer, v.Kind)
}
