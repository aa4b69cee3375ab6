package runtime

import (
	"time"

	corerun "github.com/corefd/corerun"
	"github.com/corefd/corerun/internal/constants"
	"github.com/corefd/corerun/pkg/driver"
	"github.com/corefd/corerun/pkg/timewheel"
)

// Builder configures and constructs a Runtime. Mirrors monoio's
// RuntimeBuilder: a small set of chained setters culminating in Build.
type Builder struct {
	kind    driver.Kind
	entries uint32
}

// NewBuilder returns a Builder defaulting to the auto driver kind
// (completion-mode preferred, falling back to readiness-mode) with the
// package's default ring depth.
func NewBuilder() *Builder {
	return &Builder{kind: driver.KindAuto, entries: constants.DefaultRingEntries}
}

// WithDriver pins the builder to a specific driver backend instead of
// letting it auto-detect one.
func (b *Builder) WithDriver(kind driver.Kind) *Builder {
	b.kind = kind
	return b
}

// WithEntries sets the completion ring's submission queue depth;
// ignored by the readiness driver.
func (b *Builder) WithEntries(entries uint32) *Builder {
	b.entries = entries
	return b
}

// Build constructs the driver and the Runtime wrapping it, registering
// the new runtime in the cross-thread registry under the calling OS
// thread's id so other runtimes can address it for joins and wakes.
func (b *Builder) Build() (*Runtime, error) {
	d, err := driver.New(b.kind, b.entries)
	if err != nil {
		return nil, &corerun.Error{Op: "runtime.Build", Code: corerun.ErrCodeRingInit, Msg: err.Error(), Inner: err}
	}

	r := &Runtime{
		id:     currentThreadID(),
		driver: d,
		wheel:  timewheel.NewWheel(),
		epoch:  time.Now(),
	}
	register(r)
	return r, nil
}
