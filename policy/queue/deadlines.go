package queue

import (
	"math"

	"github.com/IvanBrykalov/policycache/policy"
)

// Deadlines is a Queue kept sorted by an absolute UnixNano deadline per
// entry. Expiry-style policies embed it to answer "is r due?" in O(1)
// and to reclaim due entries from the stale end without a full scan.
type Deadlines struct {
	q  Queue
	at policy.Column[int64]
}

// After returns the deadline d nanoseconds after now, saturating at
// math.MaxInt64 so that very long durations mean "never" instead of
// wrapping into the past.
func After(now, d int64) int64 {
	if d > 0 && now > math.MaxInt64-d {
		return math.MaxInt64
	}
	return now + d
}

// Schedule (re)links r with deadline at.
func (d *Deadlines) Schedule(r policy.Ref, at int64) {
	d.at.Set(r, at)
	d.q.InsertSorted(r, d.less)
}

// Cancel unlinks r; it reports whether r had a deadline.
func (d *Deadlines) Cancel(r policy.Ref) bool {
	if !d.q.Remove(r) {
		return false
	}
	d.at.Reset(r)
	return true
}

// Scheduled reports whether r has a deadline.
func (d *Deadlines) Scheduled(r policy.Ref) bool { return d.q.Contains(r) }

// Deadline returns r's deadline and whether it has one.
func (d *Deadlines) Deadline(r policy.Ref) (int64, bool) {
	if !d.q.Contains(r) {
		return 0, false
	}
	return d.at.Get(r), true
}

// Due reports whether r has a deadline at or before now.
func (d *Deadlines) Due(r policy.Ref, now int64) bool {
	return d.q.Contains(r) && now >= d.at.Get(r)
}

// Len returns the number of scheduled entries.
func (d *Deadlines) Len() int { return d.q.Len() }

// Reclaim erases every due entry except skip through t and returns the
// count. Erasing goes through the table so that every policy (including
// the caller, via OnErase -> Cancel) unlinks the entry.
func (d *Deadlines) Reclaim(t interface {
	Erase(policy.Ref, policy.Reason)
}, now int64, skip policy.Ref) int {
	n := 0
	for r := d.q.Front(); r != policy.Nil; {
		if d.at.Get(r) > now {
			break
		}
		next := d.q.Next(r)
		if r != skip {
			t.Erase(r, policy.EvictExpired)
			n++
		}
		r = next
	}
	return n
}

func (d *Deadlines) less(a, b policy.Ref) bool { return d.at.Get(a) < d.at.Get(b) }
