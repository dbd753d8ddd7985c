package asan

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/joshuapare/asankit/asan"
	"github.com/joshuapare/asankit/asan/trace"
	"github.com/joshuapare/asankit/internal/format"
)

// EnvPrefix prefixes every environment variable read by ConfigFromEnv,
// e.g. ASANKIT_QUARANTINE_BYTES.
const EnvPrefix = "ASANKIT"

// Configuration keys, shared by the environment and the asanctl flags.
const (
	KeyArenaSize       = "arena_size"
	KeyRedzone         = "redzone"
	KeyQuarantineBytes = "quarantine_bytes"
	KeyQuarantineItems = "quarantine_items"
	KeyLogCapacity     = "log_capacity"
	KeyExitCode        = "exit_code"
	KeyCallers         = "callers"
	KeyDebug           = "debug"
)

// Config controls a Runtime.
type Config struct {
	// ArenaSize is the size of the mapping backing the heap.
	// Default: 64 MiB.
	ArenaSize int

	// Redzone is the minimum redzone on each side of an object. It must be a
	// multiple of the default alignment.
	// Default: 128.
	Redzone uintptr

	// QuarantineBytes bounds the reservation bytes held in quarantine.
	// Default: 50 MiB.
	QuarantineBytes uintptr

	// QuarantineItems additionally bounds the quarantined object count.
	// Zero disables the bound.
	QuarantineItems int

	// LogCapacity is the fixed size of the diagnostic buffer.
	// Default: 4096.
	LogCapacity int

	// ExitCode is the status used when a violation terminates the process.
	// It must be in [1, 255]. Default: asan.ExitCodeViolation (66).
	ExitCode int

	// Callers records allocation call sites for diagnostics.
	Callers bool

	// Debug routes allocator and hook logging through the trace bridge.
	Debug bool

	// Sink receives diagnostic lines. If nil, lines go to standard error.
	Sink trace.Sink

	// Registerer exports the allocator metrics when non-nil.
	Registerer prometheus.Registerer
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		ArenaSize:       format.DefaultArenaSize,
		Redzone:         format.DefaultRedzone,
		QuarantineBytes: format.DefaultQuarantineBytes,
		LogCapacity:     format.LogBufferSize,
		ExitCode:        asan.ExitCodeViolation,
	}
}

// SetDefaults registers the default value of every configuration key on v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault(KeyArenaSize, d.ArenaSize)
	v.SetDefault(KeyRedzone, uint64(d.Redzone))
	v.SetDefault(KeyQuarantineBytes, uint64(d.QuarantineBytes))
	v.SetDefault(KeyQuarantineItems, d.QuarantineItems)
	v.SetDefault(KeyLogCapacity, d.LogCapacity)
	v.SetDefault(KeyExitCode, d.ExitCode)
	v.SetDefault(KeyCallers, d.Callers)
	v.SetDefault(KeyDebug, d.Debug)
}

// NewViper returns a viper instance with defaults set and ASANKIT_*
// environment variables bound.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// ConfigFromViper builds a Config from v. Keys missing from v keep their
// defaults.
func ConfigFromViper(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	if v.IsSet(KeyArenaSize) {
		cfg.ArenaSize = v.GetInt(KeyArenaSize)
	}
	if v.IsSet(KeyRedzone) {
		cfg.Redzone = uintptr(v.GetUint64(KeyRedzone))
	}
	if v.IsSet(KeyQuarantineBytes) {
		cfg.QuarantineBytes = uintptr(v.GetUint64(KeyQuarantineBytes))
	}
	if v.IsSet(KeyQuarantineItems) {
		cfg.QuarantineItems = v.GetInt(KeyQuarantineItems)
	}
	if v.IsSet(KeyLogCapacity) {
		cfg.LogCapacity = v.GetInt(KeyLogCapacity)
	}
	if v.IsSet(KeyExitCode) {
		cfg.ExitCode = v.GetInt(KeyExitCode)
	}
	cfg.Callers = v.GetBool(KeyCallers)
	cfg.Debug = v.GetBool(KeyDebug)
	return cfg, cfg.Validate()
}

// ConfigFromEnv builds a Config from the ASANKIT_* environment variables.
func ConfigFromEnv() (Config, error) {
	return ConfigFromViper(NewViper())
}

// Validate rejects values no runtime can be built from. The allocator
// performs its own checks on Redzone.
func (c Config) Validate() error {
	if c.ArenaSize < 0 {
		return fmt.Errorf("asan: %s must not be negative, got %d", KeyArenaSize, c.ArenaSize)
	}
	if c.LogCapacity < 0 {
		return fmt.Errorf("asan: %s must not be negative, got %d", KeyLogCapacity, c.LogCapacity)
	}
	if c.ExitCode < 1 || c.ExitCode > 255 {
		// 0 would report a violation as success.
		return fmt.Errorf("asan: %s must be in [1, 255], got %d", KeyExitCode, c.ExitCode)
	}
	return nil
}

func (c Config) sink() trace.Sink {
	if c.Sink != nil {
		return c.Sink
	}
	return trace.WriterSink(os.Stderr)
}
