// Package alloc implements the guarded allocator: every object is flanked by
// poisoned redzones, freed objects are poisoned and parked in a FIFO
// quarantine before their memory goes back to the source, and every
// deallocation is validated against the metadata store.
//
// # Layout
//
//	start                 base                base+size              end
//	|  left redzone 0xfa  |  usable (0xff new) |  pad + right 0xfb     |
//
// The left redzone is the configured redzone rounded up to the effective
// alignment, so base is always aligned. The right redzone is at least the
// configured redzone and absorbs the padding of the usable region.
//
// # Violations
//
// Deallocate validates in order: the pointer is the base of a known object
// (KindUnknownPointer), the object is still allocated (KindDoubleFree), and
// both redzones still hold their poison (KindHeapCorruption). A violation is
// traced as one diagnostic line, returned as *asan.Violation, and faults the
// allocator: every later Allocate or Deallocate fails with ErrFaulted.
//
// Load and Store check explicit accesses against the same metadata and report
// KindHeapBufferOverflow or KindUseAfterFree without faulting.
//
// # Usage
//
//	arena, _ := source.NewArena(0)
//	g, err := alloc.New(arena, trace.New(trace.WriterSink(os.Stderr)))
//	if err != nil {
//	    return err
//	}
//	p, err := g.Allocate(8, 0)
//	...
//	if err := g.Deallocate(p); asan.IsViolation(err) {
//	    os.Exit(asan.ExitCodeViolation)
//	}
package alloc
