// Package source provides the underlying memory the guarded heap carves its
// reservations from.
//
// # Source Interface
//
// A Source is a capability injected into the heap at construction time:
//
//   - Alloc(size, align): reserve size bytes aligned to align
//   - Free(addr): return a reservation obtained from Alloc
//   - Bytes(addr, size): a view of memory the source owns
//
// Sources may fail (ErrExhausted) but never block indefinitely. The heap only
// frees reservations that are no longer referenced by a live record.
//
// # Implementations
//
// Arena: a fixed anonymous mapping with a bump pointer and per-size free lists
//
//   - O(1) initialization: a single mmap, no pre-faulting
//   - Bump allocation at the high-water mark, aligned per request
//   - Freed blocks are reused LIFO for requests of the same size and alignment
//   - Free validates the address (ErrBadAddress on unknown or double free)
//
// Funcs: adapts plain functions, for tests and for hosts that already own an
// allocator.
//
// # Thread Safety
//
// Arena is safe for concurrent use.
package source
