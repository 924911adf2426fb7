package node_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	pimclock "github.com/pim-sm/pimd/internal/clock"
	"github.com/pim-sm/pimd/internal/control"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/membership"
	"github.com/pim-sm/pimd/internal/mfea"
	"github.com/pim-sm/pimd/internal/node"
	"github.com/pim-sm/pimd/internal/pim/bsr"
	"github.com/pim-sm/pimd/internal/pim/wire"
	"github.com/pim-sm/pimd/internal/types"
	"github.com/stretchr/testify/require"
)

type sentMsg struct {
	vif  types.VifIndex
	dst  ipaddr.IPvX
	msg  *wire.Message
	mcast bool
}

type fakeSender struct {
	sent []sentMsg
}

func (f *fakeSender) SendMulticast(vif types.VifIndex, msg *wire.Message) error {
	f.sent = append(f.sent, sentMsg{vif: vif, msg: msg, mcast: true})
	return nil
}

func (f *fakeSender) SendUnicast(vif types.VifIndex, dst ipaddr.IPvX, msg *wire.Message) error {
	f.sent = append(f.sent, sentMsg{vif: vif, dst: dst, msg: msg})
	return nil
}

func newTestNode(t *testing.T) (*node.Node, *fakeSender, clockwork.FakeClock) {
	t.Helper()
	fake := clockwork.NewFakeClock()
	sched := pimclock.NewWithClock(fake)
	sender := &fakeSender{}
	n := node.New(sched, mfea.NewFakeBridge(), membership.NewFakeTracker(), sender)
	return n, sender, fake
}

func TestAddVifAddAddrStartSendsHello(t *testing.T) {
	n, sender, fake := newTestNode(t)

	require.NoError(t, n.AddVif("eth0", 0, control.VifFlags{IsMulticastCapable: true}))
	require.NoError(t, n.AddVifAddr(control.VifAddrParams{Vif: 0, Addr: ipaddr.MustParse("10.0.0.1"), PrefixL: 24}))
	require.NoError(t, n.StartVif(0))

	cfg, err := n.GetConfig()
	require.NoError(t, err)
	fake.Advance(cfg.TriggeredHelloDelay + time.Second)
	for n.Scheduler().Step() {
	}

	require.NotEmpty(t, sender.sent)
	require.NoError(t, n.StopVif(0))
}

func TestAddMembershipCreatesMREAndOList(t *testing.T) {
	n, _, _ := newTestNode(t)
	require.NoError(t, n.AddVif("eth0", 0, control.VifFlags{IsMulticastCapable: true}))
	require.NoError(t, n.AddVifAddr(control.VifAddrParams{Vif: 0, Addr: ipaddr.MustParse("10.0.0.1"), PrefixL: 24}))
	require.NoError(t, n.StartVif(0))

	g := ipaddr.MustParse("239.1.1.1")
	require.NoError(t, n.AddMembership(control.MembershipParams{Vif: 0, Group: g}))

	stats, err := n.GetStats()
	require.NoError(t, err)
	require.Contains(t, stats.PerVif, types.VifIndex(0))
}

func TestDeleteVifRemovesIt(t *testing.T) {
	n, _, _ := newTestNode(t)
	require.NoError(t, n.AddVif("eth0", 0, control.VifFlags{}))
	require.NoError(t, n.DeleteVif(0))
	require.Error(t, n.EnableVif(0))
}

func TestSetConfigPropagatesToVifs(t *testing.T) {
	n, _, _ := newTestNode(t)
	require.NoError(t, n.AddVif("eth0", 0, control.VifFlags{}))

	cfg, err := n.GetConfig()
	require.NoError(t, err)
	cfg.DRPriority = 42
	require.NoError(t, n.SetConfig(cfg))

	got, err := n.GetConfig()
	require.NoError(t, err)
	require.Equal(t, uint32(42), got.DRPriority)
}

func TestAddConfigCandBSRActivatesZone(t *testing.T) {
	n, sender, fake := newTestNode(t)
	require.NoError(t, n.AddVif("eth0", 0, control.VifFlags{}))
	require.NoError(t, n.AddVifAddr(control.VifAddrParams{Vif: 0, Addr: ipaddr.MustParse("10.0.0.1"), PrefixL: 24}))

	require.NoError(t, n.AddConfigCandBSR(control.CandBSRParams{Vif: 0, Priority: 100, HashMaskLen: 30}))

	fake.Advance(bsr.DefaultBSTimeout + time.Second)
	for n.Scheduler().Step() {
	}
	require.NotEmpty(t, sender.sent)
}

func TestShutdownSendsFinalCancelBootstrap(t *testing.T) {
	n, sender, fake := newTestNode(t)
	require.NoError(t, n.AddVif("eth0", 0, control.VifFlags{}))
	require.NoError(t, n.AddVifAddr(control.VifAddrParams{Vif: 0, Addr: ipaddr.MustParse("10.0.0.1"), PrefixL: 24}))
	require.NoError(t, n.AddConfigCandBSR(control.CandBSRParams{Vif: 0, Priority: 100, HashMaskLen: 30}))

	fake.Advance(bsr.DefaultBSTimeout + time.Second)
	for n.Scheduler().Step() {
	}
	before := len(sender.sent)
	require.NotZero(t, before)

	n.Shutdown()

	require.Greater(t, len(sender.sent), before)
	last := sender.sent[len(sender.sent)-1]
	require.Equal(t, wire.TypeBootstrap, last.msg.Header.Type)
	require.NotNil(t, last.msg.Bootstrap)
}

func TestAddConfigScopeZoneRejectsOverlap(t *testing.T) {
	n, _, _ := newTestNode(t)
	prefix := ipaddr.MustParseNet("239.0.0.0/8")
	require.NoError(t, n.AddConfigScopeZone(control.ScopeZoneParams{Prefix: prefix}))
	require.Error(t, n.AddConfigScopeZone(control.ScopeZoneParams{Prefix: prefix}))
	require.NoError(t, n.DeleteConfigScopeZone(control.ScopeZoneParams{Prefix: prefix}))
	require.Error(t, n.DeleteConfigScopeZone(control.ScopeZoneParams{Prefix: prefix}))
}

func TestGoodbyeHelloDoesNotDeadlock(t *testing.T) {
	n, _, _ := newTestNode(t)
	require.NoError(t, n.AddVif("eth0", 0, control.VifFlags{}))
	require.NoError(t, n.AddVifAddr(control.VifAddrParams{Vif: 0, Addr: ipaddr.MustParse("10.0.0.1"), PrefixL: 24}))
	require.NoError(t, n.StartVif(0))

	hello := func(holdtime uint16) *wire.Message {
		return &wire.Message{
			Header: wire.Header{Version: wire.Version, Type: wire.TypeHello},
			Hello:  &wire.HelloMessage{Holdtime: holdtime, HasHoldtime: true},
		}
	}

	n.HandleReceived(0, ipaddr.MustParse("10.0.0.2"), hello(105))
	for n.Scheduler().Step() {
	}

	// A holdtime-0 Hello ("goodbye") arms its liveness timer straight into
	// expiry from inside this very call; onNeighborLost must run off of
	// HandleReceived's own lock or this hangs.
	n.HandleReceived(0, ipaddr.MustParse("10.0.0.2"), hello(0))
	for n.Scheduler().Step() {
	}

	stats, err := n.GetStats()
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.PerVif[0].HelloRx)
}

func TestGetStatsReturnsPerVifCounters(t *testing.T) {
	n, _, _ := newTestNode(t)
	require.NoError(t, n.AddVif("eth0", 0, control.VifFlags{}))
	require.NoError(t, n.AddVif("eth1", 1, control.VifFlags{}))

	stats, err := n.GetStats()
	require.NoError(t, err)
	require.Len(t, stats.PerVif, 2)
}
