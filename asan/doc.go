// Package asan defines the vocabulary shared by the guarded heap: addresses and
// address ranges, the lifecycle states of an allocation, and the violations the
// heap reports.
//
// # Overview
//
// The heap is split into small packages that are wired together at construction
// time:
//
//   - asan/source: the underlying memory the heap carves reservations from
//   - asan/shadow: out-of-band metadata for every live, quarantined or released object
//   - asan/trace: the bounded, serialized diagnostic channel to the host
//   - asan/alloc: the guarded allocator (redzones, poisoning, quarantine, checks)
//   - asan/hooks: libc-shaped entry points built on the allocator
//
// # Violations
//
// A detected breach of heap integrity is returned as a *Violation. Violations are
// values, not panics: the heap never terminates the process itself. The process
// driver (see pkg/asan) must treat any error for which IsViolation reports true
// as unconditionally fatal and exit with ExitCodeViolation.
//
//	if err := heap.Deallocate(p); asan.IsViolation(err) {
//	    os.Exit(asan.ExitCodeViolation)
//	}
//
// # Lifecycle
//
// Every allocation moves through exactly one path:
//
//	(none) → Allocated → Quarantined → Released
//
// Any other transition requested by a client is a violation.
package asan
