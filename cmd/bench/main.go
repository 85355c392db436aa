// Command bench runs a synthetic zipf workload against the cache and
// exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/policycache/cache"
	"github.com/IvanBrykalov/policycache/config"
	"github.com/IvanBrykalov/policycache/internal/logging"
	pmet "github.com/IvanBrykalov/policycache/metrics/prom"
	"github.com/IvanBrykalov/policycache/resolver"
)

type cli struct {
	Config string `help:"YAML cache config; replaces the cache flags below." type:"existingfile" optional:""`

	Size        int           `help:"Capacity in entries." default:"100000"`
	Policy      string        `help:"Capacity policy." enum:"fifo,lru,2q" default:"lru"`
	MaxAge      time.Duration `help:"Entry lifetime (0 disables)." default:"0s"`
	NegativeTTL time.Duration `help:"How long failures stay cached (0 disables)." default:"1s"`
	Locking     string        `help:"Locking mode." enum:"coarse,per-key" default:"per-key"`

	Workers  int           `help:"Worker goroutines (0 = 2*GOMAXPROCS)." default:"0"`
	Duration time.Duration `help:"Benchmark duration." default:"10s"`
	Reads    int           `help:"Read percentage; the rest erases keys." default:"95"`
	Keys     int           `help:"Keyspace size." default:"1000000"`
	ZipfS    float64       `name:"zipf-s" help:"Zipf s > 1 (skew)." default:"1.1"`
	ZipfV    float64       `name:"zipf-v" help:"Zipf v >= 1." default:"1.0"`
	Seed     int64         `help:"Random seed (0 = time based)."`
	Preload  int           `help:"Entries resolved before the run (0 = size/2)."`
	Latency  time.Duration `help:"Simulated resolver latency." default:"0s"`
	FailPct  int           `name:"fail-pct" help:"Percentage of keys the resolver rejects." default:"0"`

	Pprof    string `help:"Serve pprof at addr (e.g. :6060)."`
	HTTP     string `name:"http" help:"Serve Prometheus metrics at addr." default:":8080"`
	LogLevel string `help:"Log level." enum:"debug,info,warn,error" default:"info"`
	Pretty   bool   `help:"Console log output instead of JSON."`
}

func main() {
	var args cli
	kctx := kong.Parse(&args,
		kong.Name("bench"),
		kong.Description("Synthetic workload against a policy-composed cache."),
		kong.UsageOnError(),
	)
	log := logging.Setup(logging.Config{
		Level:  logging.Level(args.LogLevel),
		Pretty: args.Pretty,
		Output: os.Stderr,
	})
	kctx.FatalIfErrorf(run(args, log))
}

// cacheConfig returns the file config if given, otherwise one built from
// the flags.
func cacheConfig(args cli) (config.Config, error) {
	if args.Config != "" {
		return config.Load(args.Config)
	}
	cfg := config.Config{
		MaxSize:     args.Size,
		MaxAge:      args.MaxAge,
		NegativeTTL: args.NegativeTTL,
		Locking:     args.Locking,
	}
	switch args.Policy {
	case "lru":
		cfg.AccessOrder = true
	case "2q":
		cfg.TwoQ = &config.TwoQ{}
	}
	return cfg, cfg.Validate()
}

// resolveFunc derives the value from the key. Keys with n%100 < failPct fail.
func resolveFunc(latency time.Duration, failPct int) resolver.Func[string, string] {
	return func(ctx context.Context, k string) (string, error) {
		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		n, err := strconv.Atoi(k[2:])
		if err != nil {
			return "", resolver.Errorf(resolver.KindInvalid, "bad key %q", k)
		}
		if failPct > 0 && n%100 < failPct {
			return "", resolver.Errorf(resolver.KindNotFound, "key %d rejected", n)
		}
		return "v" + k[2:], nil
	}
}

func key(n uint64) string { return "k:" + strconv.FormatUint(n, 10) }

func run(args cli, log zerolog.Logger) error {
	if args.Keys <= 1 {
		return errors.New("--keys must be > 1")
	}
	cfg, err := cacheConfig(args)
	if err != nil {
		return err
	}

	if args.Pprof != "" {
		go func() {
			log.Info().Str("addr", args.Pprof).Msg("pprof: serving")
			log.Err(http.ListenAndServe(args.Pprof, nil)).Msg("pprof: stopped")
		}()
	}

	var metrics cache.Metrics = cache.NoopMetrics{}
	if args.HTTP != "" {
		reg := prometheus.NewRegistry()
		metrics = pmet.New(reg, "policycache", "bench", nil)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Info().Str("addr", args.HTTP).Msg("metrics: serving")
			log.Err(http.ListenAndServe(args.HTTP, mux)).Msg("metrics: stopped")
		}()
	}

	cacheLog := logging.NewLogger("cache")
	opt, err := config.Options(cfg, config.Extras[string, string]{
		Resolver: resolveFunc(args.Latency, args.FailPct),
		Metrics:  metrics,
		Logger:   &cacheLog,
	})
	if err != nil {
		return err
	}
	c, err := cache.New(opt)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	log.Info().Strs("policies", c.Policies()).Stringer("locking", opt.Locking).Msg("cache ready")

	ctx := context.Background()
	pl := args.Preload
	if pl == 0 {
		pl = cfg.MaxSize / 2
	}
	for i := 0; i < pl && i < args.Keys; i++ {
		_, _ = c.Get(ctx, key(uint64(i)))
	}

	seed := args.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	workers := args.Workers
	if workers <= 0 {
		workers = 2 * runtime.GOMAXPROCS(0)
	}

	before := c.Stats()
	res := result{Workers: workers, Seed: seed}

	runCtx, cancel := context.WithTimeout(ctx, args.Duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()

			// rand.Rand is not goroutine-safe; one per worker.
			r := rand.New(rand.NewSource(seed + int64(id)*9973))
			z := rand.NewZipf(r, args.ZipfS, args.ZipfV, uint64(args.Keys-1))

			var reads, erases, errs uint64
			for runCtx.Err() == nil {
				k := key(z.Uint64())
				if int(r.Int31n(100)) < args.Reads {
					reads++
					if _, err := c.Get(runCtx, k); err != nil && resolver.KindOf(err) != resolver.KindCanceled {
						errs++
					}
				} else {
					erases++
					c.Erase(k)
				}
			}
			atomic.AddUint64(&res.Reads, reads)
			atomic.AddUint64(&res.Erases, erases)
			atomic.AddUint64(&res.Errors, errs)
		}(w)
	}
	wg.Wait()
	res.Elapsed = time.Since(start)
	res.Stats = delta(before, c.Stats())

	log.Debug().Interface("stats", res.Stats).Msg("run finished")
	report(os.Stdout, cfg, c.Policies(), res)
	return nil
}
