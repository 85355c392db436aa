package cache

import "time"

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int)
	// Resolve observes one resolver call; err is the normalized failure.
	Resolve(d time.Duration, err error)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is safe for concurrent use and intended as the default when
// no observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                        {}
func (NoopMetrics) Miss()                       {}
func (NoopMetrics) Evict(EvictReason)           {}
func (NoopMetrics) Size(int)                    {}
func (NoopMetrics) Resolve(time.Duration, error) {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}
