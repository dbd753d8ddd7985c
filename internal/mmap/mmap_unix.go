//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

// Package mmap provides platform-specific helpers for reserving anonymous
// memory that lives outside the Go heap.
package mmap

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Anonymous maps size bytes of private, zero-filled, read-write memory.
// The returned cleanup unmaps the region; calling it twice is a no-op.
func Anonymous(size int) ([]byte, func() error, error) {
	if size <= 0 {
		return []byte{}, func() error { return nil }, nil
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap: anonymous mapping of %d bytes: %w", size, err)
	}
	cleanup := func() error {
		if data == nil {
			return nil
		}
		err := unix.Munmap(data)
		data = nil
		if errors.Is(err, unix.EINVAL) {
			// Treat double-unmap as no-op for callers.
			return nil
		}
		return err
	}
	return data, cleanup, nil
}

// PageSize returns the system page size.
func PageSize() int {
	return unix.Getpagesize()
}
