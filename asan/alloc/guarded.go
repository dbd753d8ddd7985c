package alloc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/asankit/asan"
	"github.com/joshuapare/asankit/asan/shadow"
	"github.com/joshuapare/asankit/asan/source"
	"github.com/joshuapare/asankit/asan/trace"
	"github.com/joshuapare/asankit/internal/buf"
	"github.com/joshuapare/asankit/internal/format"
)

// Guarded is a redzone-and-quarantine allocator over a raw memory Source.
//
// Every object is laid out as
//
//	| left redzone | usable (size) | padding + right redzone |
//
// with the left redzone rounded up to the effective alignment and the right
// redzone absorbing the padding of the usable region. Redzones hold poison
// bytes that are verified when the object is freed.
//
// Guarded is safe for concurrent use.
type Guarded struct {
	// mu serializes Allocate, Deallocate and the quarantine purge so the
	// lookup/validate/update sequence of a free is atomic.
	mu sync.Mutex

	cfg    config
	src    source.Source
	store  *shadow.Store
	bridge *trace.Bridge
	log    *slog.Logger
	m      *metrics

	seq   uint64
	fault *asan.Violation
	// sites memoizes call-site names by program counter.
	sites sync.Map

	allocations   uint64
	deallocations uint64
	evictions     uint64
	failures      uint64
	violations    atomic.Uint64
}

// New creates a Guarded allocator drawing reservations from src and reporting
// violations through bridge. A nil bridge discards reports.
func New(src source.Source, bridge *trace.Bridge, opts ...Option) (*Guarded, error) {
	if src == nil {
		return nil, ErrNoSource
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if bridge == nil {
		bridge = trace.New(trace.Discard)
	}
	return &Guarded{
		cfg:    cfg,
		src:    src,
		store:  shadow.New(shadow.WithReleasedHistory(cfg.releasedHistory)),
		bridge: bridge,
		log:    cfg.logger,
		m:      newMetrics(cfg.registerer),
	}, nil
}

// layout computes the reservation for a request. ea is the effective alignment.
func (g *Guarded) layout(size, align uintptr) (ea, left, total uintptr, err error) {
	if align == 0 {
		align = g.cfg.defaultAlign
	}
	if !format.IsPowerOfTwo(align) {
		return 0, 0, 0, fmt.Errorf("%w: %d", ErrInvalidAlignment, align)
	}
	ea = max(align, g.cfg.defaultAlign)
	left = format.AlignUp(g.cfg.redzone, ea)

	body, ok := format.AlignUpChecked(size, ea)
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: size %d overflows", ErrOutOfMemory, size)
	}
	total, ok = buf.SumOverflowSafe(left, body, g.cfg.redzone)
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: size %d overflows", ErrOutOfMemory, size)
	}
	return ea, left, total, nil
}

// Allocate reserves size usable bytes aligned to align (0 selects the default
// alignment) and returns the usable base. A zero size still yields a distinct
// non-null address. Failures of the memory source are reported as
// ErrOutOfMemory and leave the allocator usable.
func (g *Guarded) Allocate(size, align uintptr) (asan.Addr, error) {
	ea, left, total, err := g.layout(size, align)
	if err != nil {
		if errors.Is(err, ErrOutOfMemory) {
			g.countFailure()
		}
		return 0, err
	}
	var pc uintptr
	if g.cfg.callers {
		pc = g.captureCaller()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.fault != nil {
		return 0, fmt.Errorf("%w: %w", ErrFaulted, g.fault)
	}

	start, err := g.src.Alloc(total, ea)
	if err != nil {
		g.failures++
		g.m.failures.Inc()
		return 0, fmt.Errorf("%w: reserving %d bytes: %w", ErrOutOfMemory, total, err)
	}
	mem := g.src.Bytes(start, total)
	if mem == nil {
		_ = g.src.Free(start)
		g.failures++
		g.m.failures.Inc()
		return 0, fmt.Errorf("%w: source returned unaddressable memory at %s", ErrOutOfMemory, start)
	}

	base := start.Add(left)
	fill(mem[:left], format.PoisonLeftRedzone)
	fill(mem[left:left+size], format.FillFresh)
	fill(mem[left+size:], format.PoisonRightRedzone)

	g.seq++
	rec := shadow.Record{
		Base:         base,
		Size:         size,
		Align:        align,
		Reserve:      asan.Range{Start: start, Len: total},
		LeftRedzone:  asan.Range{Start: start, Len: left},
		RightRedzone: asan.Range{Start: base.Add(size), Len: total - left - size},
		State:        asan.StateAllocated,
		Origin:       g.seq,
		PC:           pc,
	}
	if err := g.store.Register(rec); err != nil {
		_ = g.src.Free(start)
		return 0, fmt.Errorf("alloc: registering %s: %w", rec.Reserve, err)
	}

	g.allocations++
	g.m.allocations.Inc()
	g.m.liveObjects.Inc()
	g.log.Debug("alloc", "len", size, "align", align, "addr", base.String())
	return base, nil
}

func (g *Guarded) countFailure() {
	g.mu.Lock()
	g.failures++
	g.mu.Unlock()
	g.m.failures.Inc()
}

// Deallocate validates p, poisons its usable bytes and moves it to the
// quarantine. A zero p is a no-op.
//
// Any violation (unknown pointer, double free, corrupted redzone) is reported
// through the trace bridge and returned as a *asan.Violation. The allocator is
// faulted afterwards; the caller must treat the error as fatal.
func (g *Guarded) Deallocate(p asan.Addr) error {
	if p == 0 {
		return nil
	}
	v, err := g.deallocate(p)
	if v != nil {
		g.Report(v)
		return v
	}
	return err
}

func (g *Guarded) deallocate(p asan.Addr) (*asan.Violation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.fault != nil {
		return nil, fmt.Errorf("%w: %w", ErrFaulted, g.fault)
	}

	rec, ok := g.store.Lookup(p)
	switch {
	case !ok:
		return g.faultWith(&asan.Violation{Kind: asan.KindUnknownPointer, Addr: p}), nil
	case rec.Base != p:
		return g.faultWith(g.violation(asan.KindUnknownPointer, p, 0, rec)), nil
	case rec.State != asan.StateAllocated:
		return g.faultWith(g.violation(asan.KindDoubleFree, p, 0, rec)), nil
	}
	if bad, corrupted := g.corrupted(rec); corrupted {
		return g.faultWith(g.violation(asan.KindHeapCorruption, bad, 0, rec)), nil
	}

	fill(g.src.Bytes(rec.Base, rec.Size), format.PoisonFreed)

	q, err := rec.Transition(asan.StateQuarantined)
	if err == nil {
		err = g.store.Update(q)
	}
	if err != nil {
		// Metadata no longer agrees with itself.
		return g.faultWith(g.violation(asan.KindHeapCorruption, p, 0, rec)), nil
	}

	g.deallocations++
	g.m.deallocations.Inc()
	g.m.liveObjects.Dec()
	g.log.Debug("dealloc", "addr", p.String(), "len", rec.Size)

	g.purge()
	return nil, nil
}

// corrupted returns the first redzone byte that lost its poison.
func (g *Guarded) corrupted(rec shadow.Record) (asan.Addr, bool) {
	left := g.src.Bytes(rec.LeftRedzone.Start, rec.LeftRedzone.Len)
	if i := firstNot(left, format.PoisonLeftRedzone); i >= 0 {
		return rec.LeftRedzone.Start.Add(uintptr(i)), true
	}
	right := g.src.Bytes(rec.RightRedzone.Start, rec.RightRedzone.Len)
	if i := firstNot(right, format.PoisonRightRedzone); i >= 0 {
		return rec.RightRedzone.Start.Add(uintptr(i)), true
	}
	if left == nil || right == nil {
		return rec.Reserve.Start, true
	}
	return 0, false
}

// purge evicts from the head of the quarantine until it fits its budget.
// Caller holds g.mu.
func (g *Guarded) purge() {
	for g.overBudget() {
		r, ok := g.store.EvictOldest()
		if !ok {
			break
		}
		if err := g.src.Free(r.Reserve.Start); err != nil {
			g.log.Warn("evict: source refused reservation", "addr", r.Reserve.Start.String(), "error", err)
		}
		g.evictions++
		g.m.evictions.Inc()
		g.log.Debug("evict", "addr", r.Base.String(), "len", r.Size)
	}
	g.m.quarantineBytes.Set(float64(g.store.QuarantinedBytes()))
}

func (g *Guarded) overBudget() bool {
	if g.store.QuarantinedBytes() > g.cfg.quarantineBytes {
		return true
	}
	return g.cfg.quarantineItems > 0 && g.store.QuarantinedLen() > g.cfg.quarantineItems
}

// faultWith records v as the allocator's fault. Caller holds g.mu.
func (g *Guarded) faultWith(v *asan.Violation) *asan.Violation {
	if g.fault == nil {
		g.fault = v
	}
	return v
}

// Faulted returns the violation that faulted the allocator, or nil.
func (g *Guarded) Faulted() *asan.Violation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fault
}

// violation builds a report about addr tied to rec.
func (g *Guarded) violation(kind asan.Kind, addr asan.Addr, access uintptr, rec shadow.Record) *asan.Violation {
	return &asan.Violation{
		Kind:      kind,
		Addr:      addr,
		Access:    access,
		HasRecord: true,
		Base:      rec.Base,
		Size:      rec.Size,
		Origin:    rec.Origin,
		Site:      g.site(rec.PC),
		State:     rec.State,
	}
}

// Report forwards v through the trace bridge as a single diagnostic line and
// counts it. It does not fault the allocator.
func (g *Guarded) Report(v *asan.Violation) {
	if v == nil {
		return
	}
	g.violations.Add(1)
	g.m.violation(v.Kind)
	g.log.Error("violation", "kind", v.Kind.String(), "addr", v.Addr.String())
	g.bridge.Trace("%s", v.Error())
}

// CheckRegion reports whether every byte of [p, p+n) may be accessed: it lies
// in the usable bytes of an allocated object or outside every reservation the
// allocator knows about. A zero n is always valid.
func (g *Guarded) CheckRegion(p asan.Addr, n uintptr) bool {
	return g.store.Accessible(asan.Range{Start: p, Len: n})
}

// Load checks a read of n bytes at p. An invalid access is reported and
// returned as a *asan.Violation; the allocator is not faulted.
func (g *Guarded) Load(p asan.Addr, n uintptr) error {
	return g.access(p, n)
}

// Store checks a write of n bytes at p. See Load.
func (g *Guarded) Store(p asan.Addr, n uintptr) error {
	return g.access(p, n)
}

func (g *Guarded) access(p asan.Addr, n uintptr) error {
	bad, owner, invalid := g.store.FirstInvalid(asan.Range{Start: p, Len: n})
	if !invalid {
		return nil
	}
	kind := asan.KindUseAfterFree
	if owner.State == asan.StateAllocated {
		kind = asan.KindHeapBufferOverflow
	}
	v := g.violation(kind, bad, n, owner)
	g.Report(v)
	return v
}

// UsableSize returns the requested size of the allocated object based at p.
// Zero p yields 0. Any other pointer that is not the base of an allocated
// object is reported as a violation.
func (g *Guarded) UsableSize(p asan.Addr) (uintptr, error) {
	if p == 0 {
		return 0, nil
	}
	rec, ok := g.store.Lookup(p)
	var v *asan.Violation
	switch {
	case !ok:
		v = &asan.Violation{Kind: asan.KindUnknownPointer, Addr: p}
	case rec.Base != p:
		v = g.violation(asan.KindUnknownPointer, p, 0, rec)
	case rec.State != asan.StateAllocated:
		v = g.violation(asan.KindUseAfterFree, p, 0, rec)
	default:
		return rec.Size, nil
	}
	g.Report(v)
	return 0, v
}

// Bytes returns an unchecked view of n bytes at p, the equivalent of
// dereferencing a raw pointer. It returns nil when the range is not backed by
// the memory source.
func (g *Guarded) Bytes(p asan.Addr, n uintptr) []byte {
	return g.src.Bytes(p, n)
}

// Stats is a point-in-time summary of a Guarded allocator.
type Stats struct {
	Allocations   uint64 // successful Allocate calls
	Deallocations uint64 // successful Deallocate calls
	Evictions     uint64 // objects returned to the memory source
	Failures      uint64 // Allocate calls that failed with ErrOutOfMemory
	Violations    uint64 // reports issued, fatal or not

	Live             int
	LiveBytes        uintptr
	Quarantined      int
	QuarantinedBytes uintptr
	Released         int
}

// Stats returns the allocator's counters and the current heap shape.
func (g *Guarded) Stats() Stats {
	g.mu.Lock()
	st := Stats{
		Allocations:   g.allocations,
		Deallocations: g.deallocations,
		Evictions:     g.evictions,
		Failures:      g.failures,
	}
	g.mu.Unlock()

	s := g.store.Stats()
	st.Violations = g.violations.Load()
	st.Live = s.Allocated
	st.LiveBytes = s.AllocatedBytes
	st.Quarantined = s.Quarantined
	st.QuarantinedBytes = s.QuarantinedBytes
	st.Released = s.Released
	return st
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// firstNot returns the index of the first byte in b that is not v, or -1.
func firstNot(b []byte, v byte) int {
	for i, c := range b {
		if c != v {
			return i
		}
	}
	return -1
}
