package mrt_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	pimclock "github.com/pim-sm/pimd/internal/clock"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/mrib"
	"github.com/pim-sm/pimd/internal/pim/mrt"
	"github.com/pim-sm/pimd/internal/rptable"
	"github.com/pim-sm/pimd/internal/types"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateMergesKindBits(t *testing.T) {
	sched := pimclock.New()
	table := mrt.New(sched)
	key := mrt.Key{Source: ipaddr.MustParse("10.0.0.1"), Group: ipaddr.MustParse("224.1.1.1")}

	e := table.GetOrCreate(key, mrt.KindSG)
	require.Equal(t, mrt.KindSG, e.Kind)

	e2 := table.GetOrCreate(key, mrt.KindSGRpt)
	require.Same(t, e, e2)
	require.True(t, e2.Kind.Has(mrt.KindSG))
	require.True(t, e2.Kind.Has(mrt.KindSGRpt))
}

func TestDownstreamJoinThenExpiryTimesOut(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	table := mrt.New(sched)
	key := mrt.Key{Group: ipaddr.MustParse("224.1.1.1")}
	e := table.GetOrCreate(key, mrt.KindWC)

	var expired types.VifIndex = -1
	var joinedCount int
	e.ReceiveDownstreamJoin(types.VifIndex(1), 210*time.Second, sched, func(v types.VifIndex) { expired = v }, func() { joinedCount++ })

	require.Equal(t, mrt.DownstreamJoin, e.DownstreamJoinState(1))
	require.Equal(t, 1, joinedCount)
	require.ElementsMatch(t, []types.VifIndex{1}, e.OList())

	fake.Advance(200 * time.Second)
	sched.Step()
	require.Equal(t, types.VifIndex(-1), expired) // not yet

	fake.Advance(11 * time.Second)
	sched.Step()
	require.Equal(t, types.VifIndex(1), expired)
	require.Equal(t, mrt.DownstreamNoInfo, e.DownstreamJoinState(1))
	require.Empty(t, e.OList())
}

func TestDownstreamPruneThenOverrideRejoin(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	table := mrt.New(sched)
	e := table.GetOrCreate(mrt.Key{Group: ipaddr.MustParse("224.1.1.1")}, mrt.KindWC)

	e.ReceiveDownstreamJoin(types.VifIndex(2), 210*time.Second, sched, nil, nil)

	var pruned bool
	e.ReceiveDownstreamPrune(types.VifIndex(2), 3*time.Second, sched, func(types.VifIndex) { pruned = true })
	require.Equal(t, mrt.DownstreamPrunePending, e.DownstreamJoinState(2))
	require.ElementsMatch(t, []types.VifIndex{2}, e.OList(), "PrunePending still forwards")

	// A Join from another receiver on the LAN overrides the Prune.
	e.ReceiveDownstreamJoin(types.VifIndex(2), 210*time.Second, sched, nil, nil)
	require.Equal(t, mrt.DownstreamJoin, e.DownstreamJoinState(2))

	fake.Advance(5 * time.Second)
	sched.Step()
	require.False(t, pruned)
}

func TestDownstreamPruneExpiresToNoInfo(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	table := mrt.New(sched)
	e := table.GetOrCreate(mrt.Key{Group: ipaddr.MustParse("224.1.1.1")}, mrt.KindWC)

	e.ReceiveDownstreamJoin(types.VifIndex(3), 210*time.Second, sched, nil, nil)
	var pruned bool
	e.ReceiveDownstreamPrune(types.VifIndex(3), 3*time.Second, sched, func(types.VifIndex) { pruned = true })

	fake.Advance(4 * time.Second)
	sched.Step()
	require.True(t, pruned)
	require.Equal(t, mrt.DownstreamNoInfo, e.DownstreamJoinState(3))
	require.Empty(t, e.OList())
}

func TestAssertLoserConcedesToBetterMetric(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	table := mrt.New(sched)
	e := table.GetOrCreate(mrt.Key{Source: ipaddr.MustParse("10.0.0.5"), Group: ipaddr.MustParse("224.1.1.1")}, mrt.KindSG)

	myMetric := mrt.AssertMetric{Preference: 100, Metric: 100, Address: ipaddr.MustParse("10.0.0.1")}
	better := mrt.AssertMetric{Preference: 50, Metric: 50, Address: ipaddr.MustParse("10.0.0.2")}

	var becameLoser bool
	e.ReceiveAssert(types.VifIndex(1), better, myMetric, false, 180*time.Second, sched,
		func(types.VifIndex) { becameLoser = true }, nil, nil)

	require.True(t, becameLoser)
	require.Equal(t, mrt.AssertLoser, e.AssertStateOf(1))
	require.True(t, e.IsAssertLoser(1))
	require.Empty(t, e.OList(), "loser excluded from olist even if joined")
}

func TestAssertCancelReturnsToNoInfo(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	table := mrt.New(sched)
	e := table.GetOrCreate(mrt.Key{Source: ipaddr.MustParse("10.0.0.5"), Group: ipaddr.MustParse("224.1.1.1")}, mrt.KindSG)

	myMetric := mrt.AssertMetric{Preference: 100, Metric: 100, Address: ipaddr.MustParse("10.0.0.1")}
	better := mrt.AssertMetric{Preference: 50, Metric: 50, Address: ipaddr.MustParse("10.0.0.2")}
	e.ReceiveAssert(types.VifIndex(1), better, myMetric, false, 180*time.Second, sched, nil, nil, nil)
	require.Equal(t, mrt.AssertLoser, e.AssertStateOf(1))

	var backToNoInfo bool
	e.ReceiveAssert(types.VifIndex(1), mrt.AssertCancelMetric, myMetric, false, 180*time.Second, sched,
		nil, nil, func(types.VifIndex) { backToNoInfo = true })
	require.True(t, backToNoInfo)
	require.Equal(t, mrt.AssertNoInfo, e.AssertStateOf(1))
}

func TestAssertTimerExpiryClearsState(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	table := mrt.New(sched)
	e := table.GetOrCreate(mrt.Key{Source: ipaddr.MustParse("10.0.0.5"), Group: ipaddr.MustParse("224.1.1.1")}, mrt.KindSG)

	myMetric := mrt.AssertMetric{Preference: 100, Metric: 100, Address: ipaddr.MustParse("10.0.0.1")}
	better := mrt.AssertMetric{Preference: 50, Metric: 50, Address: ipaddr.MustParse("10.0.0.2")}
	e.ReceiveAssert(types.VifIndex(1), better, myMetric, false, 180*time.Second, sched, nil, nil, nil)

	fake.Advance(181 * time.Second)
	sched.Step()
	require.Equal(t, mrt.AssertNoInfo, e.AssertStateOf(1))
}

func TestRegisterLifecycle(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	table := mrt.New(sched)
	e := table.GetOrCreate(mrt.Key{Source: ipaddr.MustParse("10.0.0.9"), Group: ipaddr.MustParse("224.1.1.1")}, mrt.KindSG)

	var encapsulated bool
	e.RegisterDataArrives(func() { encapsulated = true })
	require.True(t, encapsulated)
	require.Equal(t, mrt.RegisterJoin, e.Register)

	var stopped, probed bool
	e.ReceiveRegisterStop(sched, func() { stopped = true }, func() { probed = true }, nil)
	require.True(t, stopped)
	require.Equal(t, mrt.RegisterPrune, e.Register)

	fake.Advance(56 * time.Second)
	sched.Step()
	require.True(t, probed)
	require.Equal(t, mrt.RegisterJoinPending, e.Register)
}

func TestKeepaliveExpiryClearsSPTBit(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	table := mrt.New(sched)
	e := table.GetOrCreate(mrt.Key{Source: ipaddr.MustParse("10.0.0.9"), Group: ipaddr.MustParse("224.1.1.1")}, mrt.KindSG)
	e.SPTBit = true

	var expired bool
	e.ArmKeepalive(sched, mrt.DefaultKeepalivePeriod, func() { expired = true })
	require.True(t, e.KeepaliveTimerRunning())

	fake.Advance(mrt.DefaultKeepalivePeriod + time.Second)
	sched.Step()
	require.True(t, expired)
	require.False(t, e.SPTBit)
	require.False(t, e.KeepaliveTimerRunning())
}

func TestRecomputeRPFUsesRPTableAndMRIB(t *testing.T) {
	sched := pimclock.New()
	table := mrt.New(sched)
	rps := rptable.New()
	rps.SetRPs(ipaddr.MustParseNet("224.0.0.0/4"), []rptable.CandidateRP{
		{Address: ipaddr.MustParse("10.0.0.254"), Priority: 192, HashMaskLen: 30, Holdtime: 150},
	})
	mribTable := mrib.New()
	mribTable.Add(mrib.Entry{Prefix: ipaddr.MustParseNet("10.0.0.0/8"), NextHop: ipaddr.MustParse("192.168.1.1"), Vif: types.VifIndex(0)})

	e := table.GetOrCreate(mrt.Key{Group: ipaddr.MustParse("224.1.1.1")}, mrt.KindWC)
	e.RecomputeRPF(mrt.NewRPFResolver(rps, mribTable))

	require.Equal(t, "192.168.1.1", e.NextHopRP.String())
}

func TestQuiescentEntryCanBeRemoved(t *testing.T) {
	sched := pimclock.New()
	table := mrt.New(sched)
	key := mrt.Key{Group: ipaddr.MustParse("224.1.1.1")}
	table.GetOrCreate(key, mrt.KindWC)

	require.True(t, table.TryRemove(key))
	require.Equal(t, 0, table.Len())
}

func TestNonQuiescentEntryIsNotRemoved(t *testing.T) {
	sched := pimclock.New()
	table := mrt.New(sched)
	key := mrt.Key{Group: ipaddr.MustParse("224.1.1.1")}
	e := table.GetOrCreate(key, mrt.KindWC)
	e.ReceiveDownstreamJoin(types.VifIndex(1), 210*time.Second, sched, nil, nil)

	require.False(t, table.TryRemove(key))
	require.Equal(t, 1, table.Len())
}
