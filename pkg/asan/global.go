package asan

import (
	"sync"

	"github.com/joshuapare/asankit/asan"
)

var (
	defaultOnce    sync.Once
	defaultRuntime *Runtime
	defaultErr     error
)

// Default returns the process-wide runtime, built on first use from the
// ASANKIT_* environment. It panics if the runtime cannot be built.
func Default() *Runtime {
	defaultOnce.Do(func() {
		cfg, err := ConfigFromEnv()
		if err != nil {
			defaultErr = err
			return
		}
		defaultRuntime, defaultErr = New(cfg)
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultRuntime
}

// Allocate allocates from the default runtime.
func Allocate(size, align uintptr) asan.Addr { return Default().Allocate(size, align) }

// Deallocate frees p in the default runtime.
func Deallocate(p asan.Addr) { Default().Deallocate(p) }

// Trace writes a diagnostic through the default runtime.
func Trace(format string, args ...any) { Default().Trace(format, args...) }

// CheckRegion checks [p, p+n) against the default runtime.
func CheckRegion(p asan.Addr, n uintptr) bool { return Default().CheckRegion(p, n) }

// Load checks a read against the default runtime.
func Load(p asan.Addr, n uintptr) { Default().Load(p, n) }

// Store checks a write against the default runtime.
func Store(p asan.Addr, n uintptr) { Default().Store(p, n) }
