// Package hooks exposes libc-shaped entry points (malloc, calloc, realloc,
// the memalign family, memcpy, memset, strlen, strcpy, ...) on top of a
// guarded allocator.
//
// Every primitive that touches memory checks its source and destination ranges
// through Guarded.Load and Guarded.Store before doing so, which is where
// overflows and use-after-free accesses are caught between allocation and free.
// String primitives find the terminator with an unchecked scan first, then
// check the bytes they actually use.
package hooks
