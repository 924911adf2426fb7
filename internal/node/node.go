// Package node implements Node (spec §3.1, §5): the root lifecycle
// object owning every Vif, the MRT, the BSR zones, the RP Table, and the
// MRIB Table, and exposing the control.Handler surface over them.
package node

import (
	"fmt"
	"sync"
	"time"

	pimclock "github.com/pim-sm/pimd/internal/clock"
	"github.com/pim-sm/pimd/internal/control"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/membership"
	"github.com/pim-sm/pimd/internal/metrics"
	"github.com/pim-sm/pimd/internal/mfea"
	"github.com/pim-sm/pimd/internal/mrib"
	"github.com/pim-sm/pimd/internal/pim/bsr"
	"github.com/pim-sm/pimd/internal/pim/mrt"
	"github.com/pim-sm/pimd/internal/pim/nbr"
	"github.com/pim-sm/pimd/internal/pim/pimvif"
	"github.com/pim-sm/pimd/internal/pim/wire"
	"github.com/pim-sm/pimd/internal/rptable"
	"github.com/pim-sm/pimd/internal/scopezone"
	"github.com/pim-sm/pimd/internal/types"
	"github.com/pim-sm/pimd/internal/vif"
)

// GlobalZoneID is the non-scoped zone every group falls into absent a
// more specific scope zone (spec §3.5).
var GlobalZoneID = bsr.ZoneID{Prefix: ipaddr.MustParseNet("224.0.0.0/4"), IsScopeZone: false}

// Sender transmits an encoded PIM message to dst on vif (unicast) or to
// the All-PIM-Routers group (multicast Hello/J-P/Assert). A concrete
// Node wires this to a transport.Socket; tests use a recording fake.
type Sender interface {
	SendMulticast(vif types.VifIndex, msg *wire.Message) error
	SendUnicast(vif types.VifIndex, dst ipaddr.IPvX, msg *wire.Message) error
}

// Node owns every piece of PIM-SM state for one process (spec §3.1).
type Node struct {
	mu sync.Mutex

	sched *pimclock.Scheduler

	vifs   map[types.VifIndex]*pimvif.PimVif
	order  []types.VifIndex
	mrt    *mrt.Table
	rps    *rptable.Table
	mribT  *mrib.Table
	resolv mrt.RPFResolver
	zones  map[bsr.ZoneID]*bsr.Zone
	scopes *scopezone.Table

	mfcBridge mfea.Bridge
	members   membership.Tracker
	sender    Sender

	cfg control.ConfigSnapshot

	candBSRVif types.VifIndex
	candRPVif  types.VifIndex
}

// New constructs an empty Node bound to sched, driving mfcBridge for MFC
// installs and members for local membership, and sender for outgoing
// wire messages.
func New(sched *pimclock.Scheduler, mfcBridge mfea.Bridge, members membership.Tracker, sender Sender) *Node {
	rps := rptable.New()
	mribT := mrib.New()
	n := &Node{
		sched:      sched,
		vifs:       make(map[types.VifIndex]*pimvif.PimVif),
		mrt:        mrt.New(sched),
		rps:        rps,
		mribT:      mribT,
		resolv:     mrt.NewRPFResolver(rps, mribT),
		zones:      make(map[bsr.ZoneID]*bsr.Zone),
		scopes:     scopezone.New(),
		mfcBridge:  mfcBridge,
		members:    members,
		sender:     sender,
		candBSRVif: types.InvalidVifIndex,
		candRPVif:  types.InvalidVifIndex,
		cfg:        control.ConfigSnapshot{},
	}
	n.zones[GlobalZoneID] = bsr.NewZone(GlobalZoneID, sched, rps)
	n.scopes.Add(scopezone.ZoneId{Prefix: GlobalZoneID.Prefix, IsScopeZone: GlobalZoneID.IsScopeZone})
	n.applyConfigDefaults()
	return n
}

func (n *Node) applyConfigDefaults() {
	d := pimvif.DefaultConfig()
	n.cfg = control.ConfigSnapshot{
		HelloPeriod:             d.HelloPeriod,
		HelloHoldtime:           d.HelloHoldtime,
		TriggeredHelloDelay:     d.TriggeredHelloDelay,
		DRPriority:              d.DRPriority,
		PropagationDelay:        d.PropagationDelay,
		OverrideInterval:        d.OverrideInterval,
		JoinPrunePeriod:         d.JoinPrunePeriod,
		JoinPruneHoldtime:       d.JoinPruneHoldtime,
		RegisterSourceVif:       types.InvalidVifIndex,
		SPTSwitchThresholdBytes: 0,
	}
}

func (n *Node) pimvifConfig() pimvif.Config {
	return pimvif.Config{
		HelloPeriod:             n.cfg.HelloPeriod,
		HelloHoldtime:           n.cfg.HelloHoldtime,
		TriggeredHelloDelay:     n.cfg.TriggeredHelloDelay,
		PropagationDelay:        n.cfg.PropagationDelay,
		OverrideInterval:        n.cfg.OverrideInterval,
		TrackingSupportDisabled: n.cfg.TrackingSupportDisabled,
		AcceptNoHelloNeighbors:  n.cfg.AcceptNoHelloNeighbors,
		DRPriority:              n.cfg.DRPriority,
		JoinPrunePeriod:         n.cfg.JoinPrunePeriod,
		JoinPruneHoldtime:       n.cfg.JoinPruneHoldtime,
		AssertTime:              180 * time.Second,
		AssertOverrideInterval:  3 * time.Second,
	}
}

// Scheduler exposes the bound clock.Scheduler, e.g. for a cmd/pimd main
// loop to Run() or for tests to Step() after advancing a fake clock.
func (n *Node) Scheduler() *pimclock.Scheduler { return n.sched }

// --- control.Handler ---

func (n *Node) AddVif(name string, index types.VifIndex, flags control.VifFlags) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.vifs[index]; exists {
		return fmt.Errorf("node: vif %d already exists", index)
	}
	v := vif.New(name, index, vif.Flags{
		IsMulticastCapable: flags.IsMulticastCapable,
		IsP2P:              flags.IsPointToPoint,
		IsLoopback:         flags.IsLoopback,
	})
	pv := pimvif.New(v, n.pimvifConfig(), n.sched, n.sendHello)
	n.vifs[index] = pv
	n.order = append(n.order, index)
	metrics.Neighbors.WithLabelValues(fmt.Sprint(index)).Set(0)
	return nil
}

func (n *Node) DeleteVif(index types.VifIndex) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	pv, ok := n.vifs[index]
	if !ok {
		return fmt.Errorf("node: no such vif %d", index)
	}
	pv.StopPIM()
	delete(n.vifs, index)
	for i, idx := range n.order {
		if idx == index {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	return nil
}

func (n *Node) vif(index types.VifIndex) (*pimvif.PimVif, error) {
	pv, ok := n.vifs[index]
	if !ok {
		return nil, fmt.Errorf("node: no such vif %d", index)
	}
	return pv, nil
}

func (n *Node) EnableVif(index types.VifIndex) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	pv, err := n.vif(index)
	if err != nil {
		return err
	}
	pv.Enable()
	return nil
}

func (n *Node) DisableVif(index types.VifIndex) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	pv, err := n.vif(index)
	if err != nil {
		return err
	}
	pv.StopPIM()
	pv.Disable()
	return nil
}

func (n *Node) StartVif(index types.VifIndex) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	pv, err := n.vif(index)
	if err != nil {
		return err
	}
	if err := pv.Start(); err != nil {
		return err
	}
	pv.StartPIM()
	return nil
}

func (n *Node) StopVif(index types.VifIndex) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	pv, err := n.vif(index)
	if err != nil {
		return err
	}
	pv.StopPIM()
	return pv.Stop()
}

func (n *Node) SetVifFlags(index types.VifIndex, flags control.VifFlags) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	pv, err := n.vif(index)
	if err != nil {
		return err
	}
	pv.Flags.IsMulticastCapable = flags.IsMulticastCapable
	pv.Flags.IsP2P = flags.IsPointToPoint
	pv.Flags.IsLoopback = flags.IsLoopback
	return nil
}

func (n *Node) AddVifAddr(p control.VifAddrParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	pv, err := n.vif(p.Vif)
	if err != nil {
		return err
	}
	net, err := ipaddr.NewNet(p.Addr, p.PrefixL)
	if err != nil {
		return err
	}
	return pv.AddAddr(vif.Addr{Addr: p.Addr, Subnet: net})
}

func (n *Node) DeleteVifAddr(p control.VifAddrParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	pv, err := n.vif(p.Vif)
	if err != nil {
		return err
	}
	return pv.DeleteAddr(p.Addr)
}

func (n *Node) AddMembership(p control.MembershipParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.members.AddMembership(p.Vif, p.Source, p.Group); err != nil {
		return err
	}
	n.onLocalMembershipChanged(p.Vif, p.Source, p.Group, true)
	return nil
}

func (n *Node) DeleteMembership(p control.MembershipParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.members.DeleteMembership(p.Vif, p.Source, p.Group); err != nil {
		return err
	}
	n.onLocalMembershipChanged(p.Vif, p.Source, p.Group, false)
	return nil
}

// onLocalMembershipChanged drives the entry's downstream Join/Prune state
// from local membership directly (without a received wire message), per
// spec §4.2's "local membership changed" task, and fans the resulting
// olist change out to the upstream Join/Prune and MFC tasks.
func (n *Node) onLocalMembershipChanged(vifIdx types.VifIndex, source, group ipaddr.IPvX, joined bool) {
	key := mrt.Key{Source: source, Group: group}
	kind := mrt.KindSG
	if source.Zero() {
		kind = mrt.KindWC
	}
	e := n.mrt.GetOrCreate(key, kind)
	e.RecomputeRPF(n.resolv)
	if joined {
		e.ReceiveDownstreamJoin(vifIdx, time.Duration(n.cfg.JoinPruneHoldtime)*time.Second, n.sched,
			func(types.VifIndex) { n.onOListChanged(e, kind) },
			func() { n.onOListChanged(e, kind) })
	} else {
		n.mrt.TryRemove(key)
	}
	if _, ok := n.mrt.Lookup(key); ok {
		n.onOListChanged(e, kind)
	}
}

// onOListChanged re-evaluates e's upstream Join state and MFC
// installation whenever its olist may have changed (local membership, a
// received downstream Join/Prune, an Assert outcome, or Keepalive
// expiry). A neighbor loss only recomputes RPF and does not call it.
// A non-empty olist keeps (or makes) the upstream state Joined, which
// sends an immediate Join via onJoin/onPrune below (spec §3.4/§4.4, the
// core upstream-Join-Prune task that was previously never reached).
func (n *Node) onOListChanged(e *mrt.Entry, kind mrt.EntryKind) {
	nonEmpty := len(e.OList()) > 0
	e.SetUpstreamJoined(kind, nonEmpty, n.cfg.JoinPrunePeriod, n.sched,
		func() { n.sendUpstreamJoinPrune(e, kind, true) },
		func() { n.sendUpstreamJoinPrune(e, kind, false) })
	n.syncMFC(e)
}

// syncMFC installs or removes e's kernel-facing forwarding entry (spec
// §4.9) to match its current olist. Only (S,G) entries carry enough
// information (a concrete source and incoming interface) for an MFC row;
// (*,G)/RP entries only ever drive the upstream Join/Prune side.
func (n *Node) syncMFC(e *mrt.Entry) {
	if n.mfcBridge == nil || e.Key.Source.Zero() {
		return
	}
	oif := e.OList()
	if len(oif) == 0 {
		_ = n.mfcBridge.DeleteMFC(e.Key.Source, e.Key.Group)
		return
	}
	mfc := mfea.MFC{Source: e.Key.Source, Group: e.Key.Group, RPAddr: e.NextHopRP}
	if entry, ok := n.resolv.MRIBLookup(e.Key.Source); ok {
		mfc.Iif = entry.Vif
	}
	for _, vifIdx := range oif {
		if int(vifIdx) >= 0 && int(vifIdx) < mfea.MaxVifs {
			mfc.OifTTLs[vifIdx] = 1
		}
	}
	_ = n.mfcBridge.AddMFC(mfc)
}

// hostNet wraps addr as a host (/32 or /128) IPvXNet, the shape the
// Encoded-Group/Source-Address formats need for a single address.
func hostNet(addr ipaddr.IPvX) (ipaddr.IPvXNet, error) {
	return ipaddr.NewNet(addr, addr.BitLen())
}

// rpfNeighborFor resolves the vif and next-hop neighbor address an
// upstream Join/Prune for kind must go out over (spec §3.4 RPF'):
// (*,G)/RP entries follow the MRIB route toward the RP, (S,G) entries
// follow the MRIB route toward the source directly.
func (n *Node) rpfNeighborFor(e *mrt.Entry, kind mrt.EntryKind) (types.VifIndex, ipaddr.IPvX, bool) {
	target := e.Key.Source
	if kind == mrt.KindWC {
		rp, ok := n.resolv.RPForGroup(e.Key.Group)
		if !ok {
			return 0, ipaddr.IPvX{}, false
		}
		target = rp
	}
	entry, ok := n.resolv.MRIBLookup(target)
	if !ok {
		return 0, ipaddr.IPvX{}, false
	}
	nbrAddr := entry.NextHop
	if nbrAddr.Zero() {
		nbrAddr = target
	}
	return entry.Vif, nbrAddr, true
}

// sendUpstreamJoinPrune builds and multicasts the Join/Prune message for
// one upstream state transition (spec §4.9.5 wire format, §4.4 upstream
// state machine): (*,G) joins encode the RP address as source with the
// WC and RPT bits set, (S,G) joins encode S alone.
func (n *Node) sendUpstreamJoinPrune(e *mrt.Entry, kind mrt.EntryKind, isJoin bool) {
	if n.sender == nil {
		return
	}
	vifIdx, nbrAddr, ok := n.rpfNeighborFor(e, kind)
	if !ok {
		return
	}
	var srcAddr ipaddr.IPvX
	flags := wire.SourceFlags{Sparse: true}
	groupAddr := e.Key.Group
	switch kind {
	case mrt.KindWC:
		rp, ok := n.resolv.RPForGroup(e.Key.Group)
		if !ok {
			return
		}
		srcAddr = rp
		flags.WildCard, flags.RPT = true, true
	case mrt.KindRP:
		srcAddr = e.Key.Source
		flags.WildCard, flags.RPT = true, true
	default:
		srcAddr = e.Key.Source
	}
	groupNet, err := hostNet(groupAddr)
	if err != nil {
		return
	}
	srcNet, err := hostNet(srcAddr)
	if err != nil {
		return
	}
	g := wire.JoinPruneGroup{Group: wire.EncodedGroupAddr{Group: groupNet}}
	s := wire.EncodedSourceAddr{Source: srcNet, Flags: flags}
	if isJoin {
		g.Joins = []wire.EncodedSourceAddr{s}
	} else {
		g.Prunes = []wire.EncodedSourceAddr{s}
	}
	body := wire.JoinPruneMessage{UpstreamNeighbor: nbrAddr, Holdtime: n.cfg.JoinPruneHoldtime, Groups: []wire.JoinPruneGroup{g}}
	msg := &wire.Message{Header: wire.Header{Version: 2, Type: wire.TypeJoinPrune}, JoinPrune: &body}
	_ = n.sender.SendMulticast(vifIdx, msg)
	if pv, ok := n.vifs[vifIdx]; ok {
		pv.Stats.JoinPruneTx++
	}
}

func (n *Node) GetConfig() (control.ConfigSnapshot, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg, nil
}

func (n *Node) SetConfig(cfg control.ConfigSnapshot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg = cfg
	newCfg := n.pimvifConfig()
	for _, pv := range n.vifs {
		pv.Config = newCfg
	}
	return nil
}

func (n *Node) ResetConfig() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.applyConfigDefaults()
	return nil
}

func (n *Node) AddConfigCandBSR(p control.CandBSRParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	pv, err := n.vif(p.Vif)
	if err != nil {
		return err
	}
	addr, ok := pv.DomainWideAddr()
	if !ok {
		return fmt.Errorf("node: vif %d has no domain-wide address", p.Vif)
	}
	n.candBSRVif = p.Vif
	zone := n.zones[GlobalZoneID]
	zone.Activate(p.Vif, addr, p.Priority, p.HashMaskLen, n.originateBootstrap)
	return nil
}

func (n *Node) DeleteConfigCandBSR(vifIdx types.VifIndex) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.candBSRVif != vifIdx {
		return fmt.Errorf("node: vif %d is not the configured Candidate-BSR", vifIdx)
	}
	n.candBSRVif = types.InvalidVifIndex
	return nil
}

func (n *Node) AddConfigCandRP(p control.CandRPParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	pv, err := n.vif(p.Vif)
	if err != nil {
		return err
	}
	addr, ok := pv.DomainWideAddr()
	if !ok {
		return fmt.Errorf("node: vif %d has no domain-wide address", p.Vif)
	}
	n.candRPVif = p.Vif
	zone := n.zones[GlobalZoneID]
	for _, prefix := range p.GroupPrefixes {
		zone.GroupPrefixes = append(zone.GroupPrefixes, &bsr.GroupPrefix{
			Prefix: prefix,
			RPs:    []bsr.RP{{Address: addr, Priority: p.Priority, Holdtime: p.Holdtime, MyVif: p.Vif}},
		})
	}
	zone.StartCandidateRPAdvertise(bsr.DefaultCandidateRPAdvPeriod, n.originateCandRPAdv)
	return nil
}

func (n *Node) DeleteConfigCandRP(vifIdx types.VifIndex) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.candRPVif != vifIdx {
		return fmt.Errorf("node: vif %d is not a configured Candidate-RP", vifIdx)
	}
	n.candRPVif = types.InvalidVifIndex
	n.zones[GlobalZoneID].StopCandidateRPAdvertise()
	return nil
}

func (n *Node) AddConfigStaticRP(p control.StaticRPParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rps.SetRPs(p.GroupPrefix, []rptable.CandidateRP{{Address: p.RPAddress, Priority: p.Priority, HashMaskLen: uint8(p.GroupPrefix.PrefixLen())}})
	return nil
}

func (n *Node) DeleteConfigStaticRP(p control.StaticRPParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rps.RemoveRP(p.GroupPrefix, p.RPAddress)
	return nil
}

func (n *Node) ConfigStaticRPDone() error { return nil }

// AddConfigScopeZone installs an administratively scoped zone boundary
// for p.Prefix (spec §3.5), giving it its own BSR/Candidate-RP election
// state independent of the global zone. Rejects a prefix that overlaps
// an already-configured zone (spec §7.3).
func (n *Node) AddConfigScopeZone(p control.ScopeZoneParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.scopes.IsOverlapping(p.Prefix) {
		return fmt.Errorf("node: scope zone %s overlaps an existing zone", p.Prefix)
	}
	id := bsr.ZoneID{Prefix: p.Prefix, IsScopeZone: true}
	n.scopes.Add(scopezone.ZoneId{Prefix: id.Prefix, IsScopeZone: id.IsScopeZone})
	n.zones[id] = bsr.NewZone(id, n.sched, n.rps)
	return nil
}

// DeleteConfigScopeZone removes the scope zone boundary at p.Prefix and
// its BSR election state. The global zone (spec §3.5) cannot be removed.
func (n *Node) DeleteConfigScopeZone(p control.ScopeZoneParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := bsr.ZoneID{Prefix: p.Prefix, IsScopeZone: true}
	if _, ok := n.zones[id]; !ok {
		return fmt.Errorf("node: no scope zone configured at %s", p.Prefix)
	}
	n.zones[id].StopCandidateRPAdvertise()
	delete(n.zones, id)
	n.scopes.Remove(p.Prefix)
	return nil
}

func (n *Node) GetStats() (control.Stats, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	stats := control.Stats{PerVif: make(map[types.VifIndex]control.VifStats), Errors: make(map[string]uint64)}
	for idx, pv := range n.vifs {
		s := pv.Stats
		vs := control.VifStats{
			HelloRx: s.HelloRx, HelloTx: s.HelloTx,
			JoinPruneRx: s.JoinPruneRx, JoinPruneTx: s.JoinPruneTx,
			AssertRx: s.AssertRx, AssertTx: s.AssertTx,
			RegisterRx: s.RegisterRx, RegisterTx: s.RegisterTx,
			RegisterStopRx: s.RegisterStopRx, RegisterStopTx: s.RegisterStopTx,
			BootstrapRx: s.BootstrapRx, BootstrapTx: s.BootstrapTx,
			CandRPAdvRx: s.CandRPAdvRx, CandRPAdvTx: s.CandRPAdvTx,
		}
		stats.PerVif[idx] = vs
		stats.Total.HelloRx += vs.HelloRx
		stats.Total.HelloTx += vs.HelloTx
		stats.Total.JoinPruneRx += vs.JoinPruneRx
		stats.Total.JoinPruneTx += vs.JoinPruneTx
		stats.Total.AssertRx += vs.AssertRx
		stats.Total.AssertTx += vs.AssertTx
		stats.Total.RegisterRx += vs.RegisterRx
		stats.Total.RegisterTx += vs.RegisterTx
		stats.Total.RegisterStopRx += vs.RegisterStopRx
		stats.Total.RegisterStopTx += vs.RegisterStopTx
		stats.Total.BootstrapRx += vs.BootstrapRx
		stats.Total.BootstrapTx += vs.BootstrapTx
		stats.Total.CandRPAdvRx += vs.CandRPAdvRx
		stats.Total.CandRPAdvTx += vs.CandRPAdvTx
	}
	return stats, nil
}

func (n *Node) sendHello(pv *pimvif.PimVif) {
	if n.sender == nil {
		return
	}
	msg := &wire.Message{
		Header: wire.Header{Version: 2, Type: wire.TypeHello},
		Hello:  &wire.HelloMessage{HasHoldtime: true, Holdtime: pv.Config.HelloHoldtime, HasGenerationID: true, GenerationID: pv.GenID},
	}
	_ = n.sender.SendMulticast(pv.Index, msg)
}

// originateBootstrap sends the zone's current BSR identity and RP-set
// out every vif (spec §4.8: the elected BSR floods Bootstrap to all of
// its PIM interfaces, not just the one it was configured on).
func (n *Node) originateBootstrap(z *bsr.Zone) {
	if n.sender == nil || z.MyVif == types.InvalidVifIndex {
		return
	}
	body := z.ToWireBootstrap()
	msg := &wire.Message{Header: wire.Header{Version: 2, Type: wire.TypeBootstrap}, Bootstrap: &body}
	for _, idx := range n.order {
		_ = n.sender.SendMulticast(idx, msg)
	}
}

// sendShutdownCancel sends the BSM-cancel-on-shutdown pair (spec §9,
// pim_bsr.cc's is_cancel): if z.MyCandidate and currently elected or
// pending, a final Bootstrap with a bumped fragment tag and BSR priority
// 0 goes out every
// vif, and if this router is advertising any group as Candidate-RP in z,
// a final holdtime-0 Cand-RP-Adv goes to the current BSR. Both let
// downstream routers and the BSR react immediately instead of waiting
// out their respective timeouts.
func (n *Node) sendShutdownCancel(z *bsr.Zone) {
	if n.sender == nil {
		return
	}
	if z.MyCandidate && (z.State == bsr.StateElectedBSR || z.State == bsr.StatePendingBSR) {
		z.BumpFragmentTag()
		body := z.ToWireBootstrap()
		body.BSRPriority = 0
		msg := &wire.Message{Header: wire.Header{Version: 2, Type: wire.TypeBootstrap}, Bootstrap: &body}
		for _, idx := range n.order {
			_ = n.sender.SendMulticast(idx, msg)
		}
	}
	if z.HasBSR() {
		if body, ok := z.ToWireCandRPAdv(n.candRPVif, true); ok {
			msg := &wire.Message{Header: wire.Header{Version: 2, Type: wire.TypeCandRPAdv}, CandRPAdv: &body}
			_ = n.sender.SendUnicast(n.candRPVif, z.BSR.Address, msg)
		}
	}
}

func (n *Node) originateCandRPAdv(z *bsr.Zone) {
	if n.sender == nil || !z.HasBSR() {
		return
	}
	body, ok := z.ToWireCandRPAdv(n.candRPVif, false)
	if !ok {
		return
	}
	msg := &wire.Message{Header: wire.Header{Version: 2, Type: wire.TypeCandRPAdv}, CandRPAdv: &body}
	_ = n.sender.SendUnicast(n.candRPVif, z.BSR.Address, msg)
}

// HandleReceived dispatches a decoded wire message arriving on vifIdx
// from src into the relevant per-vif, per-zone, or per-MRE state
// machine: Hello to the vif's PIM engine, Bootstrap to the BSR zones,
// Cand-RP-Adv to the RP table, and Join/Prune, Assert, Register and
// Register-Stop to the internal/pim/mrt entries. Any other type (Graft,
// Graft-Ack) is ignored without being counted.
func (n *Node) HandleReceived(vifIdx types.VifIndex, src ipaddr.IPvX, msg *wire.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pv, ok := n.vifs[vifIdx]
	if !ok {
		return
	}
	switch msg.Header.Type {
	case wire.TypeHello:
		n.handleHello(pv, src, msg.Header.Version, msg.Hello)
	case wire.TypeBootstrap:
		pv.Stats.BootstrapRx++
		n.handleBootstrap(src, msg.Bootstrap)
	case wire.TypeCandRPAdv:
		pv.Stats.CandRPAdvRx++
		n.handleCandRPAdv(msg.CandRPAdv)
	case wire.TypeJoinPrune:
		pv.Stats.JoinPruneRx++
		n.handleJoinPrune(vifIdx, msg.JoinPrune)
	case wire.TypeAssert:
		pv.Stats.AssertRx++
		n.handleAssertMsg(vifIdx, src, msg.Assert)
	case wire.TypeRegister:
		pv.Stats.RegisterRx++
		n.handleRegister(src, msg.Register)
	case wire.TypeRegisterStop:
		pv.Stats.RegisterStopRx++
		n.handleRegisterStopMsg(msg.RegisterStop)
	}
}

// handleJoinPrune applies every (group, source-list) entry of a received
// Join/Prune to the matching MRE (spec §4.4, §4.9.5), keyed by (source,
// group) per the review's request to stop treating this as stats-only.
func (n *Node) handleJoinPrune(vifIdx types.VifIndex, jp *wire.JoinPruneMessage) {
	if jp == nil {
		return
	}
	for _, g := range jp.Groups {
		for _, s := range g.Joins {
			n.receiveJoin(vifIdx, g.Group.Group.Addr(), s)
		}
		for _, s := range g.Prunes {
			n.receivePrune(vifIdx, g.Group.Group.Addr(), s)
		}
	}
}

// keyAndKindFor maps one Encoded-Source-Address entry of a Join/Prune
// group to the MRE it addresses: the WC bit selects the (*,G) entry
// keyed on the group alone, otherwise it's the (S,G) entry for the
// encoded source (spec §4.4, §4.9.5).
func keyAndKindFor(group ipaddr.IPvX, s wire.EncodedSourceAddr) (mrt.Key, mrt.EntryKind) {
	if s.Flags.WildCard {
		return mrt.Key{Group: group}, mrt.KindWC
	}
	return mrt.Key{Source: s.Source.Addr(), Group: group}, mrt.KindSG
}

func (n *Node) receiveJoin(vifIdx types.VifIndex, group ipaddr.IPvX, s wire.EncodedSourceAddr) {
	key, kind := keyAndKindFor(group, s)
	e := n.mrt.GetOrCreate(key, kind)
	e.RecomputeRPF(n.resolv)
	holdtime := time.Duration(n.cfg.JoinPruneHoldtime) * time.Second
	e.ReceiveDownstreamJoin(vifIdx, holdtime, n.sched,
		func(types.VifIndex) { n.onOListChanged(e, kind) },
		func() { n.onOListChanged(e, kind) })
	n.onOListChanged(e, kind)
}

func (n *Node) receivePrune(vifIdx types.VifIndex, group ipaddr.IPvX, s wire.EncodedSourceAddr) {
	// (S,G,rpt) prunes carry both the RPT and source (non-WC) bits: a
	// receiver pruning one source off the shared tree for G, distinct
	// from the (S,G) or (*,G) state machines (spec §3.4, §4.4).
	if s.Flags.RPT && !s.Flags.WildCard {
		key := mrt.Key{Source: s.Source.Addr(), Group: group}
		e := n.mrt.GetOrCreate(key, mrt.KindSGRpt)
		e.SGRptTransition(mrt.SGRptPruned)
		return
	}
	key, kind := keyAndKindFor(group, s)
	e, ok := n.mrt.Lookup(key)
	if !ok {
		return
	}
	e.ReceiveDownstreamPrune(vifIdx, n.cfg.OverrideInterval, n.sched,
		func(types.VifIndex) { n.onOListChanged(e, kind) })
}

// myAssertMetric builds this router's own Assert candidacy for e (spec
// §4.5): the unicast routing metric toward S from the MRIB, and this
// router's own address as the tiebreaker.
func (n *Node) myAssertMetric(e *mrt.Entry) mrt.AssertMetric {
	var metric uint32
	if entry, ok := n.mribT.Lookup(e.Key.Source); ok {
		metric = entry.Metric
	}
	addr, _ := n.firstPrimaryAddr()
	return mrt.AssertMetric{Metric: metric, Address: addr}
}

// firstPrimaryAddr returns some vif's primary address, used as this
// router's identity in Assert metrics when no more specific vif applies.
func (n *Node) firstPrimaryAddr() (ipaddr.IPvX, bool) {
	for _, idx := range n.order {
		if pv, ok := n.vifs[idx]; ok {
			if a, ok := pv.PrimaryAddr(); ok {
				return a, true
			}
		}
	}
	return ipaddr.IPvX{}, false
}

func (n *Node) handleAssertMsg(vifIdx types.VifIndex, src ipaddr.IPvX, a *wire.AssertMessage) {
	if a == nil {
		return
	}
	key := mrt.Key{Source: a.Source.Addr, Group: a.Group.Group.Addr()}
	e := n.mrt.GetOrCreate(key, mrt.KindSG)
	e.RecomputeRPF(n.resolv)
	received := mrt.AssertMetric{Preference: a.MetricPref, Metric: a.Metric, RPT: a.RPTBit, Address: src}
	myMetric := n.myAssertMetric(e)
	iAmDR := false
	if pv, ok := n.vifs[vifIdx]; ok {
		if primary, ok2 := pv.PrimaryAddr(); ok2 {
			iAmDR = pv.DR.Equal(primary)
		}
	}
	e.ReceiveAssert(vifIdx, received, myMetric, iAmDR, n.pimvifConfig().AssertTime, n.sched,
		func(types.VifIndex) { n.onOListChanged(e, mrt.KindSG) },
		func(v types.VifIndex) { n.sendAssert(v, e, myMetric) },
		func(types.VifIndex) { n.onOListChanged(e, mrt.KindSG) })
}

func (n *Node) sendAssert(vifIdx types.VifIndex, e *mrt.Entry, metric mrt.AssertMetric) {
	if n.sender == nil {
		return
	}
	groupNet, err := hostNet(e.Key.Group)
	if err != nil {
		return
	}
	body := wire.AssertMessage{
		Group:      wire.EncodedGroupAddr{Group: groupNet},
		Source:     wire.EncodedUnicastAddr{Addr: e.Key.Source},
		MetricPref: metric.Preference,
		Metric:     metric.Metric,
	}
	msg := &wire.Message{Header: wire.Header{Version: 2, Type: wire.TypeAssert}, Assert: &body}
	_ = n.sender.SendMulticast(vifIdx, msg)
	if pv, ok := n.vifs[vifIdx]; ok {
		pv.Stats.AssertTx++
	}
}

// handleRegister processes a Register arriving at the RP (spec §4.6):
// (S,G) is recovered from the encapsulated packet itself, since the
// Register header carries only flags. A Null-Register (or an entry that
// has already switched to the SPT) draws an immediate Register-Stop.
func (n *Node) handleRegister(src ipaddr.IPvX, r *wire.RegisterMessage) {
	if r == nil {
		return
	}
	source, group, ok := wire.InnerPacketAddrs(r.InnerPacket)
	if !ok {
		return
	}
	key := mrt.Key{Source: source, Group: group}
	e := n.mrt.GetOrCreate(key, mrt.KindSG)
	e.PMBR = src
	e.RecomputeRPF(n.resolv)
	if !r.NullRegisterBit {
		e.ArmKeepalive(n.sched, mrt.DefaultKeepalivePeriod, func() { n.onOListChanged(e, mrt.KindSG) })
	}
	n.onOListChanged(e, mrt.KindSG)
	if e.SPTBit || r.NullRegisterBit {
		n.sendRegisterStop(e)
	}
}

func (n *Node) handleRegisterStopMsg(rs *wire.RegisterStopMessage) {
	if rs == nil {
		return
	}
	key := mrt.Key{Source: rs.Source.Addr, Group: rs.Group.Group.Addr()}
	e, ok := n.mrt.Lookup(key)
	if !ok {
		return
	}
	e.ReceiveRegisterStop(n.sched,
		func() {},
		func() { n.sendRegister(e, true) },
		func() { n.sendRegister(e, false) })
}

// sendRegister unicasts a Register (or, with nullRegister, a
// Null-Register probe) for e to its RP, out the configured Register
// source vif (spec §4.6, §6.3 RegisterSourceVif).
func (n *Node) sendRegister(e *mrt.Entry, nullRegister bool) {
	if n.sender == nil {
		return
	}
	rp, ok := n.resolv.RPForGroup(e.Key.Group)
	if !ok {
		return
	}
	vifIdx := n.cfg.RegisterSourceVif
	if vifIdx == types.InvalidVifIndex {
		entry, ok := n.resolv.MRIBLookup(rp)
		if !ok {
			return
		}
		vifIdx = entry.Vif
	}
	body := wire.RegisterMessage{NullRegisterBit: nullRegister}
	msg := &wire.Message{Header: wire.Header{Version: 2, Type: wire.TypeRegister}, Register: &body}
	_ = n.sender.SendUnicast(vifIdx, rp, msg)
	if pv, ok := n.vifs[vifIdx]; ok {
		pv.Stats.RegisterTx++
	}
}

// sendRegisterStop unicasts a Register-Stop back to e's encapsulating DR
// (spec §4.6), recorded in e.PMBR the last time a Register arrived.
func (n *Node) sendRegisterStop(e *mrt.Entry) {
	if n.sender == nil || e.PMBR.Zero() {
		return
	}
	groupNet, err := hostNet(e.Key.Group)
	if err != nil {
		return
	}
	body := wire.RegisterStopMessage{
		Group:  wire.EncodedGroupAddr{Group: groupNet},
		Source: wire.EncodedUnicastAddr{Addr: e.Key.Source},
	}
	msg := &wire.Message{Header: wire.Header{Version: 2, Type: wire.TypeRegisterStop}, RegisterStop: &body}
	vifIdx := n.candRPVif
	if entry, ok := n.resolv.MRIBLookup(e.PMBR); ok {
		vifIdx = entry.Vif
	}
	if vifIdx == types.InvalidVifIndex {
		return
	}
	_ = n.sender.SendUnicast(vifIdx, e.PMBR, msg)
	if pv, ok := n.vifs[vifIdx]; ok {
		pv.Stats.RegisterStopTx++
	}
}

// HandleUpcall dispatches one MFEA upcall (spec §4.9, §6.2) into the
// relevant MRE state machine: NoCache starts Register encapsulation at a
// directly-connected source's DR, WrongVif contests an Assert, WholePkt
// drives RP-side decapsulation and SPT-switch confirmation, and
// BW-Upcall evaluates the SPT-switch threshold.
func (n *Node) HandleUpcall(u mfea.Upcall) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch u.Type {
	case mfea.UpcallNoCache:
		n.handleNoCacheUpcall(u)
	case mfea.UpcallWrongVif:
		n.handleWrongVifUpcall(u)
	case mfea.UpcallWholePkt:
		n.handleWholePktUpcall(u)
	case mfea.UpcallBWUpcall:
		n.handleBWUpcall(u)
	}
}

func (n *Node) handleNoCacheUpcall(u mfea.Upcall) {
	key := mrt.Key{Source: u.Source, Group: u.Dest}
	e := n.mrt.GetOrCreate(key, mrt.KindSG)
	e.DirectlyConnSrc = true
	e.RecomputeRPF(n.resolv)
	e.RegisterDataArrives(func() { n.sendRegister(e, false) })
	e.ArmKeepalive(n.sched, mrt.DefaultKeepalivePeriod, func() { n.onOListChanged(e, mrt.KindSG) })
	n.onOListChanged(e, mrt.KindSG)
}

func (n *Node) handleWrongVifUpcall(u mfea.Upcall) {
	key := mrt.Key{Source: u.Source, Group: u.Dest}
	e := n.mrt.GetOrCreate(key, mrt.KindSG)
	e.RecomputeRPF(n.resolv)
	myMetric := n.myAssertMetric(e)
	e.AssertWin(u.Vif, myMetric, n.pimvifConfig().AssertTime, n.sched,
		func(types.VifIndex) { n.onOListChanged(e, mrt.KindSG) })
	n.sendAssert(u.Vif, e, myMetric)
}

func (n *Node) handleWholePktUpcall(u mfea.Upcall) {
	key := mrt.Key{Source: u.Source, Group: u.Dest}
	e := n.mrt.GetOrCreate(key, mrt.KindSG)
	e.RecomputeRPF(n.resolv)
	e.ArmKeepalive(n.sched, mrt.DefaultKeepalivePeriod, func() { n.onOListChanged(e, mrt.KindSG) })
	if e.SPTBit {
		n.sendRegisterStop(e)
	}
	e.ConfirmSPTSwitch()
	n.onOListChanged(e, mrt.KindSG)
}

// handleBWUpcall evaluates the SPT-switch threshold (spec §4.7) against
// a bandwidth-monitor report and, once crossed, joins the source
// directly instead of waiting on the shared tree.
func (n *Node) handleBWUpcall(u mfea.Upcall) {
	if u.BW == nil {
		return
	}
	key := mrt.Key{Source: u.Source, Group: u.Dest}
	e, ok := n.mrt.Lookup(key)
	if !ok {
		return
	}
	if u.BW.Unit != mfea.UnitBytes || !u.BW.Geq {
		return
	}
	if e.EvaluateSPTSwitch(u.BW.MeasuredBytes, n.cfg.SPTSwitchThresholdBytes) {
		e.SetUpstreamJoined(mrt.KindSG, true, n.cfg.JoinPrunePeriod, n.sched,
			func() { n.sendUpstreamJoinPrune(e, mrt.KindSG, true) },
			func() { n.sendUpstreamJoinPrune(e, mrt.KindSG, false) })
	}
}

func (n *Node) handleHello(pv *pimvif.PimVif, src ipaddr.IPvX, version uint8, h *wire.HelloMessage) {
	if h == nil {
		return
	}
	lanDelay := nbr.LANPruneDelay{
		PropagationDelay: time.Duration(h.LANPruneDelay) * time.Millisecond,
		OverrideInterval: time.Duration(h.Overridden) * time.Millisecond,
		TBit:             h.TBit,
	}
	// armLiveness (nbr.go) can invoke onExpiry synchronously, from within
	// this very call, when a Hello carries holdtime 0 (a departing
	// neighbor's "goodbye"). HandleReceived already holds n.mu at this
	// point, so the actual work is deferred onto the scheduler's task
	// queue rather than run inline — it always runs later, lock-free of
	// this call stack, whether the loss was a goodbye or a genuine timer
	// lapse.
	onExpiry := func(nb *nbr.PimNbr) {
		n.sched.Enqueue(pimclock.PriorityHigh, func() bool {
			n.onNeighborLost(pv, nb)
			return false
		})
	}
	pv.ReceiveHello(src, version, h.Holdtime, h.GenerationID, h.HasGenerationID,
		h.DRPriority, h.HasDRPriority, lanDelay, h.HasLANPruneDelay, h.SecondaryAddrs, onExpiry, nil, nil)
	pv.Stats.UnknownHelloOption += uint64(len(h.Unknown))
	metrics.Neighbors.WithLabelValues(fmt.Sprint(pv.Index)).Set(float64(len(pv.Neighbors())))
}

// onNeighborLost runs when nb's liveness timer lapses (spec §4.3): every
// MRE recomputes its RPF/next-hop, since nb may have been one, and nb is
// dropped from pv's neighbor table. Always runs as a deferred scheduler
// task (see handleHello), so it takes n.mu itself rather than assuming a
// caller's lock.
func (n *Node) onNeighborLost(pv *pimvif.PimVif, nb *nbr.PimNbr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mrt.Each(func(e *mrt.Entry) { e.RecomputeRPF(n.resolv) })
	pv.RemoveNeighbor(nb)
	metrics.Neighbors.WithLabelValues(fmt.Sprint(pv.Index)).Set(float64(len(pv.Neighbors())))
}

// handleBootstrap sorts a Bootstrap message's groups by the scope zone
// they fall in (spec §3.5) and feeds each zone only the groups that
// belong to it; groups under a zone this router isn't configured into
// are dropped rather than merged into the global zone's RP set.
func (n *Node) handleBootstrap(src ipaddr.IPvX, b *wire.BootstrapMessage) {
	if b == nil {
		return
	}
	byZone := make(map[bsr.ZoneID][]bsr.GroupPrefix)
	for _, g := range b.Groups {
		zid := n.zoneForGroup(g.Group.Group)
		rps := make([]bsr.RP, 0, len(g.RPs))
		for _, rp := range g.RPs {
			rps = append(rps, bsr.RP{Address: rp.Address.Addr, Priority: rp.Priority, Holdtime: rp.Holdtime, MyVif: types.InvalidVifIndex})
		}
		byZone[zid] = append(byZone[zid], bsr.GroupPrefix{Prefix: g.Group.Group, IsScopeZone: g.Group.IsAdminZone, ExpectedCount: g.FragRPCount, RPs: rps})
	}
	for zid, groups := range byZone {
		zone, ok := n.zones[zid]
		if !ok {
			continue
		}
		zone.ReceiveBootstrap(bsr.BSRInfo{Address: src, Priority: b.BSRPriority}, b.FragmentTag, b.HashMaskLen, groups, n.originateBootstrap)
	}
}

// zoneForGroup resolves the scope zone (spec §3.5) that owns group via
// longest-prefix-match, falling back to the global zone.
func (n *Node) zoneForGroup(group ipaddr.IPvXNet) bsr.ZoneID {
	global := scopezone.ZoneId{Prefix: GlobalZoneID.Prefix, IsScopeZone: GlobalZoneID.IsScopeZone}
	z := n.scopes.ZoneFor(group.Addr(), global)
	return bsr.ZoneID{Prefix: z.Prefix, IsScopeZone: z.IsScopeZone}
}

func (n *Node) handleCandRPAdv(c *wire.CandRPAdvMessage) {
	if c == nil {
		return
	}
	hashMaskLen := n.zones[GlobalZoneID].HashMaskLen
	for _, g := range c.Groups {
		n.rps.SetRPs(g.Group, []rptable.CandidateRP{{Address: c.RPAddress.Addr, Priority: c.Priority, Holdtime: c.Holdtime, HashMaskLen: hashMaskLen}})
	}
}

// Shutdown performs the two-phase shutdown (spec §5): phase one announces
// departure (a holdtime-0 Hello on every running vif, then, per zone, the
// sendShutdownCancel pair: a priority-0 Bootstrap where applicable and a
// holdtime-0 Cand-RP-Adv); phase two stops every vif's PIM engine once
// announcements are sent.
func (n *Node) Shutdown() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, idx := range n.order {
		if pv, ok := n.vifs[idx]; ok && n.sender != nil && pv.State() == vif.StateRunning {
			msg := &wire.Message{
				Header: wire.Header{Version: 2, Type: wire.TypeHello},
				Hello:  &wire.HelloMessage{HasHoldtime: true, Holdtime: 0, HasGenerationID: true, GenerationID: pv.GenID},
			}
			_ = n.sender.SendMulticast(idx, msg)
		}
	}
	for _, z := range n.zones {
		n.sendShutdownCancel(z)
		z.StopCandidateRPAdvertise()
	}
	for _, idx := range append([]types.VifIndex(nil), n.order...) {
		if pv, ok := n.vifs[idx]; ok {
			pv.StopPIM()
		}
	}
}
