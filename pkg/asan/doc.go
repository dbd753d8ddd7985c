/*
Package asan is the process-level entry point of asankit: it maps an arena,
builds the trace bridge, guarded allocator and libc hooks on top of it, and
terminates the process when a heap violation is detected.

# Quick Start

	p := asan.Allocate(8, 0)
	asan.Trace("p = %v", p)
	asan.Deallocate(p)

The package-level functions use a runtime built lazily from the environment.

# Configuration

	ASANKIT_ARENA_SIZE        bytes mapped for the heap (64 MiB)
	ASANKIT_REDZONE           minimum redzone per side (128)
	ASANKIT_QUARANTINE_BYTES  quarantine budget (50 MiB)
	ASANKIT_QUARANTINE_ITEMS  quarantine object bound (0 = none)
	ASANKIT_LOG_CAPACITY      diagnostic buffer size (4096)
	ASANKIT_EXIT_CODE         exit status on violation (66)
	ASANKIT_CALLERS           record allocation call sites
	ASANKIT_DEBUG             trace allocator activity

# Violations

A double free, an unknown pointer, a corrupted redzone, or a checked access
to a redzone or freed memory prints one diagnostic line through the sink and
exits with ExitCode. Tests substitute the exit function with WithExit.
*/
package asan
