package asan

import (
	"strings"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/asankit/asan"
	"github.com/joshuapare/asankit/asan/trace"
)

type capture struct {
	mu    sync.Mutex
	lines []string
	codes []int
}

func (c *capture) Log(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, string(msg))
}

func (c *capture) exit(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, code)
}

func (c *capture) snapshot() ([]string, []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...), append([]int(nil), c.codes...)
}

func newRuntime(t *testing.T, mutate func(*Config)) (*Runtime, *capture) {
	t.Helper()
	c := &capture{}
	cfg := DefaultConfig()
	cfg.ArenaSize = 1 << 20
	cfg.Sink = c
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg, WithExit(c.exit))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, c
}

// ============================================================================
// Runtime
// ============================================================================

func TestRuntime_HelloWorld(t *testing.T) {
	r, c := newRuntime(t, nil)

	p := r.Allocate(8, 0)
	require.NotZero(t, p)
	r.Trace("p: %v", p)
	r.Deallocate(p)

	lines, codes := c.snapshot()
	assert.Equal(t, []string{"p: " + p.String()}, lines)
	assert.Empty(t, codes)
}

func TestRuntime_DoubleFreeExits(t *testing.T) {
	r, c := newRuntime(t, nil)

	p := r.Allocate(16, 0)
	r.Deallocate(p)
	r.Deallocate(p)

	lines, codes := c.snapshot()
	require.Equal(t, []int{asan.ExitCodeViolation}, codes)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "double-free")
}

func TestRuntime_CorruptionExitsWithConfiguredCode(t *testing.T) {
	r, c := newRuntime(t, func(cfg *Config) { cfg.ExitCode = 23 })

	p := r.Allocate(8, 0)
	r.Bytes(p, 9)[8] = 1
	r.Deallocate(p)

	_, codes := c.snapshot()
	assert.Equal(t, []int{23}, codes)

	// A faulted runtime keeps terminating.
	assert.Zero(t, r.Allocate(8, 0))
	_, codes = c.snapshot()
	assert.Equal(t, []int{23, 23}, codes)
}

func TestRuntime_OutOfMemoryReturnsNull(t *testing.T) {
	r, c := newRuntime(t, nil)

	assert.Zero(t, r.Allocate(2<<20, 0))
	assert.Zero(t, r.Allocate(8, 3), "invalid alignment")

	_, codes := c.snapshot()
	assert.Empty(t, codes)
	assert.Equal(t, uint64(1), r.Stats().Failures)
}

func TestRuntime_LoadStore(t *testing.T) {
	r, c := newRuntime(t, nil)

	p := r.Allocate(4, 0)
	r.Store(p, 4)
	r.Load(p, 4)
	assert.True(t, r.CheckRegion(p, 4))
	_, codes := c.snapshot()
	require.Empty(t, codes)

	r.Store(p, 5)
	lines, codes := c.snapshot()
	assert.Equal(t, []int{asan.ExitCodeViolation}, codes)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "heap-buffer-overflow")
}

func TestRuntime_HooksEnforce(t *testing.T) {
	r, c := newRuntime(t, nil)
	h := r.Hooks()

	p, err := h.Malloc(8)
	require.NoError(t, r.Enforce(err))
	_, err = h.Memcpy(p, p.Add(2), 4)
	require.Error(t, r.Enforce(err))

	_, codes := c.snapshot()
	assert.Equal(t, []int{asan.ExitCodeViolation}, codes)
}

func TestRuntime_ReportLeaks(t *testing.T) {
	r, c := newRuntime(t, nil)

	_ = r.Allocate(10, 0)
	_ = r.Allocate(20, 0)
	assert.Equal(t, 2, r.ReportLeaks())

	lines, _ := c.snapshot()
	require.Len(t, lines, 3)
	assert.Equal(t, "30 bytes leaked in 2 allocations", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "  #1 10 bytes"))
}

func TestRuntime_DebugLogging(t *testing.T) {
	r, c := newRuntime(t, func(cfg *Config) { cfg.Debug = true })

	p := r.Allocate(8, 0)
	r.Deallocate(p)

	lines, _ := c.snapshot()
	var alloc, dealloc bool
	for _, l := range lines {
		alloc = alloc || strings.HasPrefix(l, "DEBUG [alloc]: alloc ")
		dealloc = dealloc || strings.HasPrefix(l, "DEBUG [alloc]: dealloc ")
	}
	assert.True(t, alloc, "lines: %q", lines)
	assert.True(t, dealloc, "lines: %q", lines)
}

func TestRuntime_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redzone = 3
	_, err := New(cfg)
	require.Error(t, err)

	for _, code := range []int{-1, 0, 256, 300} {
		cfg = DefaultConfig()
		cfg.ExitCode = code
		_, err = New(cfg)
		assert.Error(t, err, "exit code %d", code)
	}

	cfg = DefaultConfig()
	cfg.ExitCode = 1
	r, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func TestRuntime_CloseIsIdempotent(t *testing.T) {
	r, err := New(Config{ArenaSize: 1 << 16, Redzone: 16, QuarantineBytes: 1024, ExitCode: 1, Sink: trace.Discard})
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

// ============================================================================
// Configuration
// ============================================================================

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ASANKIT_ARENA_SIZE", "1048576")
	t.Setenv("ASANKIT_REDZONE", "32")
	t.Setenv("ASANKIT_QUARANTINE_ITEMS", "5")
	t.Setenv("ASANKIT_CALLERS", "true")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 1<<20, cfg.ArenaSize)
	assert.Equal(t, uintptr(32), cfg.Redzone)
	assert.Equal(t, 5, cfg.QuarantineItems)
	assert.True(t, cfg.Callers)
	assert.False(t, cfg.Debug)
	assert.Equal(t, DefaultConfig().QuarantineBytes, cfg.QuarantineBytes)
	assert.Equal(t, asan.ExitCodeViolation, cfg.ExitCode)
}

func TestConfigFromViper_Overrides(t *testing.T) {
	v := NewViper()
	v.Set(KeyExitCode, 70)
	v.Set(KeyDebug, true)

	cfg, err := ConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 70, cfg.ExitCode)
	assert.True(t, cfg.Debug)

	v = viper.New()
	v.Set(KeyLogCapacity, -1)
	_, err = ConfigFromViper(v)
	assert.Error(t, err)
}
