//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

// Package mmap provides platform-specific helpers for reserving anonymous
// memory that lives outside the Go heap.
package mmap

import "os"

// Anonymous allocates size bytes from the Go heap when mmap is not available.
// The Go collector does not move objects, so addresses stay stable while the
// slice is referenced.
func Anonymous(size int) ([]byte, func() error, error) {
	if size <= 0 {
		return []byte{}, func() error { return nil }, nil
	}
	return make([]byte, size), func() error { return nil }, nil
}

// PageSize returns the system page size.
func PageSize() int {
	return os.Getpagesize()
}
