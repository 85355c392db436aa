package hashtable

import (
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/policycache/policy"
	"github.com/IvanBrykalov/policycache/policy/maxsize"
)

// recorder logs every hook it receives, prefixed with its name.
type recorder struct {
	name    string
	log     *[]string
	verdict policy.Verdict
}

type recorderPolicy struct {
	name    string
	log     *[]string
	verdict policy.Verdict
}

func (p recorderPolicy) New(policy.Table[string, int]) policy.Instance {
	return &recorder{name: p.name, log: p.log, verdict: p.verdict}
}

func (r *recorder) Name() string { return r.name }
func (r *recorder) add(ev string, ref policy.Ref) {
	*r.log = append(*r.log, fmt.Sprintf("%s.%s(%d)", r.name, ev, ref))
}
func (r *recorder) OnInsert(ref policy.Ref, _ int64) { r.add("insert", ref) }
func (r *recorder) OnAccess(ref policy.Ref, _ int64) policy.Verdict {
	r.add("access", ref)
	return r.verdict
}
func (r *recorder) OnUpdate(ref policy.Ref, _ int64)         { r.add("update", ref) }
func (r *recorder) OnErase(ref policy.Ref)                   { r.add("erase", ref) }
func (r *recorder) EvictionCheck(_ int64, fresh policy.Ref) { r.add("check", fresh) }

func eqString(k string) func(string) bool { return func(x string) bool { return x == k } }

func TestTable_HookOrder(t *testing.T) {
	t.Parallel()

	var log []string
	tbl := New(Config[string, int]{},
		recorderPolicy{name: "a", log: &log},
		recorderPolicy{name: "b", log: &log},
	)
	require.Equal(t, []string{"a", "b"}, tbl.Names())

	r := tbl.Insert(tbl.Hash("k"), "k", 1, nil, 0)
	tbl.Access(r, 0)
	tbl.Replace(r, 2, nil, 0)
	tbl.Erase(r, policy.EvictExplicit)

	require.Equal(t, []string{
		"a.insert(1)", "b.insert(1)", "a.check(1)", "b.check(1)",
		"a.access(1)", "b.access(1)",
		"a.update(1)", "b.update(1)", "a.check(1)", "b.check(1)",
		"a.erase(1)", "b.erase(1)",
	}, log)
}

func TestTable_ExpireShortCircuitsAndErases(t *testing.T) {
	t.Parallel()

	var log []string
	var erased []policy.Reason
	tbl := New(Config[string, int]{
		OnErase: func(_ string, _ int, _ error, reason policy.Reason) { erased = append(erased, reason) },
	},
		recorderPolicy{name: "a", log: &log, verdict: policy.Expire},
		recorderPolicy{name: "b", log: &log, verdict: policy.Refresh},
	)
	r := tbl.Insert(tbl.Hash("k"), "k", 1, nil, 0)
	log = nil

	require.Equal(t, policy.Expire, tbl.Access(r, 0))
	require.Equal(t, []string{"a.access(1)", "a.erase(1)", "b.erase(1)"}, log)
	require.Equal(t, []policy.Reason{policy.EvictExpired}, erased)
	require.False(t, tbl.Live(r))
}

func TestTable_EmplaceExistingAndExpired(t *testing.T) {
	t.Parallel()

	var log []string
	p := &recorderPolicy{name: "p", log: &log}
	tbl := New[string, int](Config[string, int]{}, p)

	r, inserted := tbl.Emplace(tbl.Hash("k"), eqString("k"), "k", 1, nil, 0)
	require.True(t, inserted)

	r2, inserted := tbl.Emplace(tbl.Hash("k"), eqString("k"), "k", 2, nil, 0)
	require.False(t, inserted)
	require.Equal(t, r, r2)
	v, _ := tbl.Payload(r)
	require.Equal(t, 1, v)

	// Policies bound at New keep their verdict; build a second table whose
	// policy expires everything to exercise the replace path.
	log = nil
	tbl = New[string, int](Config[string, int]{}, recorderPolicy{name: "x", log: &log, verdict: policy.Expire})
	tbl.Emplace(tbl.Hash("k"), eqString("k"), "k", 1, nil, 0)
	r3, inserted := tbl.Emplace(tbl.Hash("k"), eqString("k"), "k", 3, nil, 0)
	require.True(t, inserted)
	v, _ = tbl.Payload(r3)
	require.Equal(t, 3, v)
	require.Equal(t, 1, tbl.Len())
}

func TestTable_EmplaceRefreshesDueEntryInPlace(t *testing.T) {
	t.Parallel()

	var log []string
	tbl := New[string, int](Config[string, int]{}, recorderPolicy{name: "r", log: &log, verdict: policy.Refresh})
	r, _ := tbl.Emplace(tbl.Hash("k"), eqString("k"), "k", 1, nil, 0)
	log = nil

	r2, stored := tbl.Emplace(tbl.Hash("k"), eqString("k"), "k", 2, nil, 0)
	require.True(t, stored)
	require.Equal(t, r, r2)
	require.Equal(t, 2, tbl.Value(r))
	require.Equal(t, 1, tbl.Len())
	require.Equal(t, []string{"r.access(1)", "r.update(1)", "r.check(1)"}, log)
}

func TestTable_GrowsAndFindsEverything(t *testing.T) {
	t.Parallel()

	tbl := New[string, int](Config[string, int]{})
	const n = 10_000
	for i := 0; i < n; i++ {
		k := strconv.Itoa(i)
		tbl.Insert(tbl.Hash(k), k, i, nil, 0)
	}
	require.Equal(t, n, tbl.Len())
	require.GreaterOrEqual(t, len(tbl.buckets)*3/4, n)

	for i := 0; i < n; i += 7 {
		r := tbl.Lookup(strconv.Itoa(i))
		require.NotEqual(t, policy.Nil, r)
		require.Equal(t, i, tbl.Value(r))
	}
	require.Equal(t, policy.Nil, tbl.Lookup("missing"))
}

// A constant hash forces every key into one chain.
func TestTable_CollisionsAndErase(t *testing.T) {
	t.Parallel()

	tbl := New(Config[int, string]{Hash: func(int) uint64 { return 42 }})
	refs := make([]policy.Ref, 0, 5)
	for i := 0; i < 5; i++ {
		refs = append(refs, tbl.Insert(42, i, strconv.Itoa(i), nil, 0))
	}
	tbl.Erase(refs[2], policy.EvictExplicit)
	tbl.Erase(refs[0], policy.EvictExplicit)
	tbl.Erase(refs[0], policy.EvictExplicit) // no-op

	require.Equal(t, 3, tbl.Len())
	for _, i := range []int{1, 3, 4} {
		require.NotEqual(t, policy.Nil, tbl.Lookup(i))
	}
	require.Equal(t, policy.Nil, tbl.Lookup(2))
}

func TestTable_SlotRecycleBumpsGeneration(t *testing.T) {
	t.Parallel()

	tbl := New[string, int](Config[string, int]{})
	r := tbl.Insert(tbl.Hash("a"), "a", 1, nil, 0)
	gen := tbl.Gen(r)
	tbl.Erase(r, policy.EvictExplicit)

	r2 := tbl.Insert(tbl.Hash("b"), "b", 2, nil, 0)
	require.Equal(t, r, r2)
	require.NotEqual(t, gen, tbl.Gen(r2))
	require.Equal(t, "b", tbl.Key(r2))
}

func TestTable_FailurePayload(t *testing.T) {
	t.Parallel()

	tbl := New[string, int](Config[string, int]{})
	boom := errors.New("boom")
	r := tbl.Insert(tbl.Hash("a"), "a", 0, boom, 0)
	_, err := tbl.Payload(r)
	require.Same(t, boom, err)
	require.Same(t, boom, tbl.Err(r))
	require.False(t, tbl.RetainsFailure(boom), "no policy retains failures")
}

func TestTable_Clear(t *testing.T) {
	t.Parallel()

	var keys []int
	tbl := New(Config[int, int]{
		OnErase: func(k, _ int, _ error, _ policy.Reason) { keys = append(keys, k) },
	})
	for i := 0; i < 3; i++ {
		tbl.Insert(tbl.Hash(i), i, i, nil, 0)
	}
	tbl.Clear(policy.EvictExplicit)
	require.Zero(t, tbl.Len())
	require.ElementsMatch(t, []int{0, 1, 2}, keys)
}

// Emplacing 2N keys under maxsize(N) keeps the count at N from the N-th on.
func TestTable_MaxSizeLimitingSize(t *testing.T) {
	t.Parallel()

	const n = 5
	tbl := New(Config[int, string]{}, maxsize.New[int, string](n))
	for i := 0; i < n; i++ {
		tbl.Emplace(tbl.Hash(i), func(x int) bool { return x == i }, i, "bla", nil, 0)
	}
	require.Equal(t, n, tbl.Len())
	for i := n; i < 2*n; i++ {
		tbl.Emplace(tbl.Hash(i), func(x int) bool { return x == i }, i, "bla", nil, 0)
		require.Equal(t, n, tbl.Len())
	}
}

func TestTable_NilPolicyPanics(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { New[string, int](Config[string, int]{}, nil) })
}
