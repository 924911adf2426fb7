package bsr_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	pimclock "github.com/pim-sm/pimd/internal/clock"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/pim/bsr"
	"github.com/pim-sm/pimd/internal/rptable"
	"github.com/pim-sm/pimd/internal/types"
	"github.com/stretchr/testify/require"
)

func globalZoneID() bsr.ZoneID {
	return bsr.ZoneID{Prefix: ipaddr.MustParseNet("224.0.0.0/4"), IsScopeZone: false}
}

func TestCandidateBSRBecomesElectedAfterTimeout(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	rps := rptable.New()
	z := bsr.NewZone(globalZoneID(), sched, rps)

	var originated int
	z.Activate(types.VifIndex(0), ipaddr.MustParse("10.0.0.1"), 100, 30, func(*bsr.Zone) { originated++ })
	require.Equal(t, bsr.StatePendingBSR, z.State)

	fake.Advance(bsr.DefaultBSTimeout + time.Second)
	sched.Step()
	require.Equal(t, bsr.StateElectedBSR, z.State)
	require.Equal(t, 1, originated)
}

// TestBSRElectionPreemption is scenario S4: a local Candidate-BSR,
// already Elected-BSR at priority 100, hears a Bootstrap from a
// higher-priority router and must step down to Candidate-BSR while
// storing the new RP-set.
func TestBSRElectionPreemption(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	rps := rptable.New()
	z := bsr.NewZone(globalZoneID(), sched, rps)
	z.Activate(types.VifIndex(0), ipaddr.MustParse("10.0.0.1"), 100, 30, nil)
	fake.Advance(bsr.DefaultBSTimeout + time.Second)
	sched.Step()
	require.Equal(t, bsr.StateElectedBSR, z.State)

	sender := bsr.BSRInfo{Address: ipaddr.MustParse("10.0.0.2"), Priority: 150}
	group := ipaddr.MustParseNet("239.0.0.0/8")
	changed, forward := z.ReceiveBootstrap(sender, 0x1234, 30, []bsr.GroupPrefix{
		{Prefix: group, ExpectedCount: 1, RPs: []bsr.RP{
			{Address: ipaddr.MustParse("10.9.9.9"), Priority: 10, Holdtime: 150, MyVif: types.InvalidVifIndex},
		}},
	}, nil)

	require.True(t, changed)
	require.True(t, forward)
	require.Equal(t, bsr.StateCandidateBSR, z.State)

	rp, ok := rps.RPForGroup(ipaddr.MustParse("239.1.2.3"))
	require.True(t, ok)
	require.Equal(t, "10.9.9.9", rp.String())
}

func TestWorseBootstrapWhileElectedReOriginates(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	rps := rptable.New()
	z := bsr.NewZone(globalZoneID(), sched, rps)
	z.Activate(types.VifIndex(0), ipaddr.MustParse("10.0.0.1"), 200, 30, nil)
	fake.Advance(bsr.DefaultBSTimeout + time.Second)
	sched.Step()

	var reOriginated bool
	worse := bsr.BSRInfo{Address: ipaddr.MustParse("10.0.0.9"), Priority: 50}
	changed, forward := z.ReceiveBootstrap(worse, 1, 30, nil, func(*bsr.Zone) { reOriginated = true })

	require.False(t, changed)
	require.False(t, forward)
	require.True(t, reOriginated)
	require.Equal(t, bsr.StateElectedBSR, z.State)
}

// TestReapplyingSameBootstrapIsNoop is property R3.
func TestReapplyingSameBootstrapIsNoop(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	rps := rptable.New()
	z := bsr.NewZone(globalZoneID(), sched, rps)
	z.Activate(types.VifIndex(0), ipaddr.MustParse("10.0.0.1"), 100, 30, nil)
	fake.Advance(bsr.DefaultBSTimeout + time.Second)
	sched.Step()

	sender := bsr.BSRInfo{Address: ipaddr.MustParse("10.0.0.2"), Priority: 150}
	groups := []bsr.GroupPrefix{
		{Prefix: ipaddr.MustParseNet("239.0.0.0/8"), ExpectedCount: 1, RPs: []bsr.RP{
			{Address: ipaddr.MustParse("10.9.9.9"), Priority: 10, Holdtime: 150},
		}},
	}
	z.ReceiveBootstrap(sender, 0x1234, 30, groups, nil)

	changed, forward := z.ReceiveBootstrap(sender, 0x1234, 30, groups, nil)
	require.False(t, changed)
	require.True(t, forward)
}

func TestCandidateRPAdvertiseFiresPeriodically(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	rps := rptable.New()
	z := bsr.NewZone(globalZoneID(), sched, rps)

	var count int
	z.StartCandidateRPAdvertise(bsr.DefaultCandidateRPAdvPeriod, func(*bsr.Zone) { count++ })

	fake.Advance(bsr.DefaultCandidateRPAdvPeriod + time.Second)
	sched.Step()
	fake.Advance(bsr.DefaultCandidateRPAdvPeriod + time.Second)
	sched.Step()
	require.Equal(t, 2, count)

	z.StopCandidateRPAdvertise()
	fake.Advance(bsr.DefaultCandidateRPAdvPeriod + time.Second)
	sched.Step()
	require.Equal(t, 2, count)
}
