// Package config loads cache settings from YAML and turns them into
// cache.Options with the policies in canonical order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/IvanBrykalov/policycache/cache"
	"github.com/IvanBrykalov/policycache/policy"
	"github.com/IvanBrykalov/policycache/policy/expireat"
	"github.com/IvanBrykalov/policycache/policy/lru"
	"github.com/IvanBrykalov/policycache/policy/maxage"
	"github.com/IvanBrykalov/policycache/policy/maxsize"
	"github.com/IvanBrykalov/policycache/policy/negcache"
	"github.com/IvanBrykalov/policycache/policy/refresh"
	"github.com/IvanBrykalov/policycache/policy/shared"
	"github.com/IvanBrykalov/policycache/policy/twoq"
	"github.com/IvanBrykalov/policycache/resolver"
)

// Config is the YAML form of a cache. Zero fields disable the
// corresponding policy.
type Config struct {
	MaxSize       int           `yaml:"max_size"`
	AccessOrder   bool          `yaml:"access_order"`
	TwoQ          *TwoQ         `yaml:"two_q"`
	MaxAge        time.Duration `yaml:"max_age"`
	NegativeTTL   time.Duration `yaml:"negative_ttl"`
	Refresh       time.Duration `yaml:"refresh"`
	Shared        bool          `yaml:"shared"`
	Locking       string        `yaml:"locking"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SizeHint      int           `yaml:"size_hint"`
}

// TwoQ selects the 2Q capacity policy instead of maxsize. Zero sizes pick
// the defaults of twoq.New.
type TwoQ struct {
	In    int `yaml:"in"`
	Ghost int `yaml:"ghost"`
}

// Load reads and validates a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var err error
	if c.MaxSize < 0 {
		err = multierr.Append(err, fmt.Errorf("max_size must be >= 0, got %d", c.MaxSize))
	}
	if c.TwoQ != nil {
		if c.MaxSize == 0 {
			err = multierr.Append(err, errors.New("two_q requires max_size"))
		}
		if c.AccessOrder {
			err = multierr.Append(err, errors.New("two_q and access_order are exclusive"))
		}
		if c.TwoQ.In < 0 || c.TwoQ.Ghost < 0 {
			err = multierr.Append(err, errors.New("two_q sizes must be >= 0"))
		}
	}
	if c.AccessOrder && c.MaxSize == 0 {
		err = multierr.Append(err, errors.New("access_order requires max_size"))
	}
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"max_age", c.MaxAge},
		{"negative_ttl", c.NegativeTTL},
		{"refresh", c.Refresh},
		{"sweep_interval", c.SweepInterval},
	} {
		if f.d < 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be >= 0, got %s", f.name, f.d))
		}
	}
	if c.Refresh > 0 && c.MaxAge > 0 && c.Refresh >= c.MaxAge {
		err = multierr.Append(err, fmt.Errorf("refresh (%s) must be shorter than max_age (%s)", c.Refresh, c.MaxAge))
	}
	lk, lerr := cache.ParseLocking(c.Locking)
	if lerr != nil {
		err = multierr.Append(err, lerr)
	} else if lk == cache.LockNone && c.SweepInterval > 0 {
		err = multierr.Append(err, errors.New("sweep_interval requires locking other than none"))
	}
	if c.SizeHint < 0 {
		err = multierr.Append(err, fmt.Errorf("size_hint must be >= 0, got %d", c.SizeHint))
	}
	return err
}

// Extras carries what YAML cannot express.
type Extras[K comparable, V any] struct {
	Resolver resolver.Func[K, V]
	// ExpireAt adds the absolute-expiry policy (placed with max_age).
	ExpireAt expireat.Func[K, V]
	OnEvict  func(k K, v V, err error, reason cache.EvictReason)
	Metrics  cache.Metrics
	Logger   *zerolog.Logger
	Clock    cache.Clock
}

// Policies builds the policy list in canonical order:
// negcache, expireat, maxage, refresh, shared, then the capacity policy.
// Expiring policies come first so that due entries are reclaimed before a
// capacity policy picks a live victim.
func Policies[K comparable, V any](c Config, at expireat.Func[K, V]) []policy.Policy[K, V] {
	var ps []policy.Policy[K, V]
	if c.NegativeTTL > 0 {
		ps = append(ps, negcache.New[K, V](c.NegativeTTL))
	}
	if at != nil {
		ps = append(ps, expireat.New(at))
	}
	if c.MaxAge > 0 {
		ps = append(ps, maxage.New[K, V](c.MaxAge))
	}
	if c.Refresh > 0 {
		ps = append(ps, refresh.New[K, V](c.Refresh))
	}
	if c.Shared {
		ps = append(ps, shared.New[K, V]())
	}
	switch {
	case c.MaxSize == 0:
	case c.TwoQ != nil:
		ps = append(ps, twoq.New[K, V](c.MaxSize, c.TwoQ.In, c.TwoQ.Ghost))
	case c.AccessOrder:
		ps = append(ps, lru.New[K, V](c.MaxSize))
	default:
		ps = append(ps, maxsize.New[K, V](c.MaxSize))
	}
	return ps
}

// Options validates c and assembles cache.Options.
func Options[K comparable, V any](c Config, x Extras[K, V]) (cache.Options[K, V], error) {
	if err := c.Validate(); err != nil {
		return cache.Options[K, V]{}, err
	}
	lk, _ := cache.ParseLocking(c.Locking)
	return cache.Options[K, V]{
		Policies:      Policies(c, x.ExpireAt),
		Resolver:      x.Resolver,
		Locking:       lk,
		SweepInterval: c.SweepInterval,
		SizeHint:      c.SizeHint,
		OnEvict:       x.OnEvict,
		Metrics:       x.Metrics,
		Logger:        x.Logger,
		Clock:         x.Clock,
	}, nil
}
