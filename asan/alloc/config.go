package alloc

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshuapare/asankit/internal/format"
)

type config struct {
	redzone         uintptr
	defaultAlign    uintptr
	quarantineBytes uintptr
	quarantineItems int
	releasedHistory int
	logger          *slog.Logger
	callers         bool
	registerer      prometheus.Registerer
}

func defaultConfig() config {
	return config{
		redzone:         format.DefaultRedzone,
		defaultAlign:    format.DefaultAlignment,
		quarantineBytes: format.DefaultQuarantineBytes,
		releasedHistory: format.DefaultReleasedHistory,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (c *config) validate() error {
	if !format.IsPowerOfTwo(c.defaultAlign) || c.defaultAlign < format.WordSize {
		return fmt.Errorf("%w: default alignment %d", ErrInvalidAlignment, c.defaultAlign)
	}
	if c.redzone == 0 || !format.IsAligned(c.redzone, c.defaultAlign) {
		return fmt.Errorf("%w: %d with alignment %d", ErrInvalidRedzone, c.redzone, c.defaultAlign)
	}
	return nil
}

// Option configures a Guarded allocator.
type Option func(*config)

// WithRedzone sets the minimum size of each redzone in bytes.
func WithRedzone(n uintptr) Option {
	return func(c *config) { c.redzone = n }
}

// WithDefaultAlignment sets the alignment used for requests with alignment 0.
// It is also the minimum alignment of every object.
func WithDefaultAlignment(n uintptr) Option {
	return func(c *config) { c.defaultAlign = n }
}

// WithQuarantineBytes sets the reservation byte budget of the quarantine.
// Zero evicts every object on free.
func WithQuarantineBytes(n uintptr) Option {
	return func(c *config) { c.quarantineBytes = n }
}

// WithQuarantineItems additionally bounds the number of quarantined objects.
// Zero or negative disables the item bound.
func WithQuarantineItems(n int) Option {
	return func(c *config) { c.quarantineItems = n }
}

// WithReleasedHistory bounds how many released reservations are remembered
// for double-free and use-after-free reports. A reservation dropped from the
// history is forgotten: freeing it again reports KindUnknownPointer, not
// KindDoubleFree.
func WithReleasedHistory(n int) Option {
	return func(c *config) { c.releasedHistory = n }
}

// WithLogger sets the logger for allocation events. Nil keeps the discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCallers records the allocating call site of every object so violation
// reports and leak listings can name it.
func WithCallers(on bool) Option {
	return func(c *config) { c.callers = on }
}

// WithMetrics registers the allocator's counters with reg. Without it the
// counters are still maintained but not exported.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}
