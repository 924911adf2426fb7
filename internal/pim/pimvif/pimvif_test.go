package pimvif_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	pimclock "github.com/pim-sm/pimd/internal/clock"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/pim/nbr"
	"github.com/pim-sm/pimd/internal/pim/pimvif"
	"github.com/pim-sm/pimd/internal/types"
	"github.com/pim-sm/pimd/internal/vif"
	"github.com/stretchr/testify/require"
)

func newTestVif(t *testing.T, sched *pimclock.Scheduler, drPriority uint32) *pimvif.PimVif {
	t.Helper()
	v := vif.New("eth0", types.VifIndex(0), vif.Flags{IsMulticastCapable: true})
	require.NoError(t, v.AddAddr(vif.Addr{Addr: ipaddr.MustParse("10.0.0.1")}))
	v.Enable()
	require.NoError(t, v.Start())
	cfg := pimvif.DefaultConfig()
	cfg.DRPriority = drPriority
	return pimvif.New(v, cfg, sched, func(*pimvif.PimVif) {})
}

func TestHelloLowerPriorityLosesDR(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	p := newTestVif(t, sched, 100) // local priority lower than neighbor's 200

	p.ReceiveHello(ipaddr.MustParse("10.0.0.2"), 2, 105, 0xDEADBEEF, true, 200, true,
		nbr.LANPruneDelay{PropagationDelay: 500 * time.Millisecond, OverrideInterval: 2500 * time.Millisecond},
		true, nil, nil, nil, nil)

	require.Equal(t, "10.0.0.2", p.DR.String())
}

func TestHelloHigherLocalPriorityKeepsDR(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	p := newTestVif(t, sched, 255)

	p.ReceiveHello(ipaddr.MustParse("10.0.0.2"), 2, 105, 0xDEADBEEF, true, 200, true,
		nbr.LANPruneDelay{}, false, nil, nil, nil, nil)

	require.Equal(t, "10.0.0.1", p.DR.String())
}

func TestDRFallsBackToAddressWhenPriorityOmitted(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	p := newTestVif(t, sched, 1) // local priority would lose if compared

	p.ReceiveHello(ipaddr.MustParse("10.0.0.2"), 2, 105, 0, false, 0, false,
		nbr.LANPruneDelay{}, false, nil, nil, nil, nil)

	// Priority comparison disabled (neighbor omitted DR-Priority): higher
	// address wins, and 10.0.0.2 > 10.0.0.1.
	require.Equal(t, "10.0.0.2", p.DR.String())
}

func TestReceiveHelloCreatesNeighborOnce(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	p := newTestVif(t, sched, 1)

	var newCount int
	p.ReceiveHello(ipaddr.MustParse("10.0.0.2"), 2, 105, 1, true, 1, true, nbr.LANPruneDelay{}, false, nil, nil,
		func(*nbr.PimNbr) { newCount++ }, nil)
	p.ReceiveHello(ipaddr.MustParse("10.0.0.2"), 2, 105, 1, true, 1, true, nbr.LANPruneDelay{}, false, nil, nil,
		func(*nbr.PimNbr) { newCount++ }, nil)

	require.Equal(t, 1, newCount)
	require.Len(t, p.Neighbors(), 1)
}

func TestReceiveHelloGenIDChangeFansOutCallback(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	p := newTestVif(t, sched, 1)

	p.ReceiveHello(ipaddr.MustParse("10.0.0.2"), 2, 105, 1, true, 1, true, nbr.LANPruneDelay{}, false, nil, nil, nil, nil)

	var changed bool
	p.ReceiveHello(ipaddr.MustParse("10.0.0.2"), 2, 105, 2, true, 1, true, nbr.LANPruneDelay{}, false, nil, nil, nil,
		func(*nbr.PimNbr) { changed = true })

	require.True(t, changed)
}

func TestStartPIMSendsHelloAfterTriggeredDelay(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	var sent int
	v := vif.New("eth0", types.VifIndex(0), vif.Flags{IsMulticastCapable: true})
	require.NoError(t, v.AddAddr(vif.Addr{Addr: ipaddr.MustParse("10.0.0.1")}))
	v.Enable()
	require.NoError(t, v.Start())
	cfg := pimvif.DefaultConfig()
	p := pimvif.New(v, cfg, sched, func(*pimvif.PimVif) { sent++ })

	p.StartPIM()
	require.True(t, p.PendingHello)

	fake.Advance(cfg.TriggeredHelloDelay)
	sched.Step()
	require.Equal(t, 1, sent)
	require.False(t, p.PendingHello)
}

func TestStopPIMCancelsNeighborLiveness(t *testing.T) {
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	var expired bool
	p := newTestVif(t, sched, 1)
	p.ReceiveHello(ipaddr.MustParse("10.0.0.2"), 2, 105, 1, true, 1, true, nbr.LANPruneDelay{}, false, nil,
		func(*nbr.PimNbr) { expired = true }, nil, nil)

	neighbors := p.StopPIM()
	require.Len(t, neighbors, 1)

	fake.Advance(200 * time.Second)
	sched.Step()
	require.False(t, expired)
}
