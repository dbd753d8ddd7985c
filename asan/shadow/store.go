package shadow

import (
	"fmt"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/emirpasic/gods/trees/redblacktree"

	"github.com/joshuapare/asankit/asan"
	"github.com/joshuapare/asankit/internal/format"
)

// Store maps reservations to their Records.
type Store struct {
	mu sync.RWMutex

	// live: Reserve.Start -> Record, Allocated and Quarantined only
	live *redblacktree.Tree
	// released: Reserve.Start -> Record
	released *redblacktree.Tree

	// quarantine holds Reserve.Start keys of quarantined records, oldest at the head
	quarantine       *linkedlistqueue.Queue
	quarantinedBytes uintptr

	// history holds releasedEntry values in release order for bounding released
	history     *linkedlistqueue.Queue
	maxReleased int

	allocated      int
	allocatedBytes uintptr
}

type releasedEntry struct {
	key    asan.Addr
	origin uint64
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Allocated        int
	AllocatedBytes   uintptr // requested sizes of Allocated records
	Quarantined      int
	QuarantinedBytes uintptr // reservation sizes of Quarantined records
	Released         int     // released records still remembered
}

// Option configures a Store.
type Option func(*Store)

// WithReleasedHistory bounds how many released records are remembered.
// Zero or negative means unbounded. Once a record falls out of the history
// its address is no longer known, so a later free of it reports an unknown
// pointer rather than a double free.
func WithReleasedHistory(n int) Option {
	return func(s *Store) { s.maxReleased = n }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		live:        redblacktree.NewWith(compareAddr),
		released:    redblacktree.NewWith(compareAddr),
		quarantine:  linkedlistqueue.New(),
		history:     linkedlistqueue.New(),
		maxReleased: format.DefaultReleasedHistory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func compareAddr(a, b interface{}) int {
	x, y := a.(asan.Addr), b.(asan.Addr)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// Register inserts a new Allocated record. It fails with ErrOverlap when the
// reservation overlaps a live record; released records overlapping it are
// dropped since their memory has been reissued.
func (s *Store) Register(r Record) error {
	if r.State != asan.StateAllocated {
		return fmt.Errorf("%w: register in state %s", ErrIllegalTransition, r.State)
	}
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var clash *Record
	overlapping(s.live, r.Reserve, func(o Record) bool {
		clash = &o
		return false
	})
	if clash != nil {
		return fmt.Errorf("%w: %s overlaps %s", ErrOverlap, r.Reserve, clash)
	}

	var stale []asan.Addr
	overlapping(s.released, r.Reserve, func(o Record) bool {
		stale = append(stale, o.Reserve.Start)
		return true
	})
	for _, key := range stale {
		s.released.Remove(key)
	}

	s.live.Put(r.Reserve.Start, r)
	s.allocated++
	s.allocatedBytes += r.Size
	return nil
}

// Lookup finds the record whose usable range contains or begins at addr.
// Live records are preferred; released records are consulted so that a stale
// pointer still resolves to the object it used to name.
func (s *Store) Lookup(addr asan.Addr) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := lookupIn(s.live, addr); ok {
		return r, true
	}
	return lookupIn(s.released, addr)
}

func lookupIn(t *redblacktree.Tree, addr asan.Addr) (Record, bool) {
	node, found := t.Floor(addr)
	if !found {
		return Record{}, false
	}
	r := node.Value.(Record)
	if addr == r.Base || r.Usable().Contains(addr) {
		return r, true
	}
	return Record{}, false
}

// Covering returns the record whose reservation contains addr, including
// redzones.
func (s *Store) Covering(addr asan.Addr) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range []*redblacktree.Tree{s.live, s.released} {
		if node, found := t.Floor(addr); found {
			if r := node.Value.(Record); r.Reserve.Contains(addr) {
				return r, true
			}
		}
	}
	return Record{}, false
}

// Update replaces a live record after a state change. Moving a record to
// Quarantined appends it to the quarantine tail. Release happens only through
// EvictOldest.
func (s *Store) Update(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, found := s.live.Get(r.Reserve.Start)
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, r.Reserve)
	}
	cur := v.(Record)
	if cur.Base != r.Base || cur.Reserve != r.Reserve || cur.Size != r.Size || cur.Origin != r.Origin {
		return fmt.Errorf("%w: %s vs %s", ErrMismatch, cur, r)
	}
	if cur.State != r.State {
		if r.State == asan.StateReleased || !cur.State.CanTransition(r.State) {
			return fmt.Errorf("%w: %s -> %s at %s", ErrIllegalTransition, cur.State, r.State, r.Base)
		}
	}

	s.live.Put(r.Reserve.Start, r)
	if cur.State == asan.StateAllocated && r.State == asan.StateQuarantined {
		s.allocated--
		s.allocatedBytes -= r.Size
		s.quarantine.Enqueue(r.Reserve.Start)
		s.quarantinedBytes += r.Reserve.Len
	}
	return nil
}

// EvictOldest removes the head of the quarantine, moves it to Released and
// returns it. ok is false when the quarantine is empty.
func (s *Store) EvictOldest() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.quarantine.Dequeue()
	if !ok {
		return Record{}, false
	}
	key := v.(asan.Addr)
	rv, found := s.live.Get(key)
	if !found {
		// Quarantine and live index disagree; nothing sane to return.
		return Record{}, false
	}
	r := rv.(Record)
	r.State = asan.StateReleased

	s.live.Remove(key)
	s.quarantinedBytes -= r.Reserve.Len
	s.released.Put(key, r)
	s.history.Enqueue(releasedEntry{key: key, origin: r.Origin})
	s.trimHistory()
	return r, true
}

func (s *Store) trimHistory() {
	if s.maxReleased <= 0 {
		return
	}
	for s.history.Size() > s.maxReleased {
		v, _ := s.history.Dequeue()
		e := v.(releasedEntry)
		if rv, found := s.released.Get(e.key); found && rv.(Record).Origin == e.origin {
			s.released.Remove(e.key)
		}
	}
}

// Accessible reports whether every byte of r lies in the usable region of an
// Allocated record or outside every known reservation. Empty ranges are
// always accessible.
func (s *Store) Accessible(r asan.Range) bool {
	_, _, bad := s.FirstInvalid(r)
	return !bad
}

// FirstInvalid returns the lowest address in r that may not be accessed and
// the record owning it. bad is false when the whole range is accessible.
func (s *Store) FirstInvalid(r asan.Range) (addr asan.Addr, owner Record, bad bool) {
	if r.Empty() {
		return 0, Record{}, false
	}
	start, end := r.Start, r.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	consider := func(a asan.Addr, rec Record) {
		if !bad || a < addr {
			addr, owner, bad = a, rec, true
		}
	}

	overlapping(s.live, r, func(rec Record) bool {
		lo := max(start, rec.Reserve.Start)
		if rec.State != asan.StateAllocated {
			consider(lo, rec)
			return false
		}
		if start < rec.Base {
			consider(lo, rec)
			return false
		}
		if usableEnd := rec.Base.Add(rec.Size); end > usableEnd {
			consider(max(start, usableEnd), rec)
			return false
		}
		return true
	})
	overlapping(s.released, r, func(rec Record) bool {
		consider(max(start, rec.Reserve.Start), rec)
		return false
	})
	return addr, owner, bad
}

// overlapping calls fn for each record in t whose reservation overlaps r, in
// address order, until fn returns false.
func overlapping(t *redblacktree.Tree, r asan.Range, fn func(Record) bool) {
	if r.Empty() {
		return
	}
	start, end := r.Start, r.End()

	node, found := t.Floor(start)
	if !found {
		if node, found = t.Ceiling(start); !found {
			return
		}
	}
	for {
		rec := node.Value.(Record)
		if rec.Reserve.Start >= end {
			return
		}
		if rec.Reserve.End() > start && !fn(rec) {
			return
		}
		if node, found = t.Ceiling(rec.Reserve.End()); !found {
			return
		}
	}
}

// Leaks returns every Allocated record in address order.
func (s *Store) Leaks() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, s.allocated)
	it := s.live.Iterator()
	for it.Next() {
		if r := it.Value().(Record); r.State == asan.StateAllocated {
			out = append(out, r)
		}
	}
	return out
}

// QuarantinedBytes returns the reservation bytes currently held in quarantine.
func (s *Store) QuarantinedBytes() uintptr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quarantinedBytes
}

// QuarantinedLen returns the number of quarantined records.
func (s *Store) QuarantinedLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quarantine.Size()
}

// Quarantined returns the quarantined records, oldest first.
func (s *Store) Quarantined() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, s.quarantine.Size())
	for _, v := range s.quarantine.Values() {
		if rv, found := s.live.Get(v); found {
			out = append(out, rv.(Record))
		}
	}
	return out
}

// Stats returns a summary of the store.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Allocated:        s.allocated,
		AllocatedBytes:   s.allocatedBytes,
		Quarantined:      s.quarantine.Size(),
		QuarantinedBytes: s.quarantinedBytes,
		Released:         s.released.Size(),
	}
}
