package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/IvanBrykalov/policycache/cache"
	"github.com/IvanBrykalov/policycache/config"
)

type result struct {
	Workers int
	Seed    int64
	Elapsed time.Duration
	Reads   uint64
	Erases  uint64
	Errors  uint64
	Stats   cache.Stats
}

// delta returns the counters accumulated between two snapshots.
func delta(before, after cache.Stats) cache.Stats {
	return cache.Stats{
		Hits:      after.Hits - before.Hits,
		Misses:    after.Misses - before.Misses,
		Evictions: after.Evictions - before.Evictions,
		Resolves:  after.Resolves - before.Resolves,
		Failures:  after.Failures - before.Failures,
		Entries:   after.Entries,
	}
}

func hitRate(s cache.Stats) float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses) * 100
}

func count(n uint64) string { return humanize.Comma(int64(n)) }

func report(w io.Writer, cfg config.Config, policies []string, r result) {
	ops := r.Reads + r.Erases
	perSec := 0.0
	if r.Elapsed > 0 {
		perSec = float64(ops) / r.Elapsed.Seconds()
	}

	x := table.NewWriter()
	x.SetOutputMirror(w)
	x.SetStyle(table.StyleLight)
	x.AppendHeader(table.Row{"metric", "value"})
	x.AppendRows([]table.Row{
		{"policies", fmt.Sprint(policies)},
		{"locking", cfg.Locking},
		{"workers", r.Workers},
		{"seed", r.Seed},
		{"duration", r.Elapsed.Round(time.Millisecond)},
	})
	x.AppendSeparator()
	x.AppendRows([]table.Row{
		{"ops", count(ops)},
		{"ops/s", humanize.SIWithDigits(perSec, 2, "")},
		{"reads", count(r.Reads)},
		{"erases", count(r.Erases)},
		{"errors", count(r.Errors)},
	})
	x.AppendSeparator()
	x.AppendRows([]table.Row{
		{"hits", count(r.Stats.Hits)},
		{"misses", count(r.Stats.Misses)},
		{"hit rate", fmt.Sprintf("%.2f%%", hitRate(r.Stats))},
		{"resolves", count(r.Stats.Resolves)},
		{"failures", count(r.Stats.Failures)},
		{"evictions", count(r.Stats.Evictions)},
		{"entries", humanize.Comma(int64(r.Stats.Entries))},
	})
	x.Render()
}
