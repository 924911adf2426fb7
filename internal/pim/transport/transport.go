// Package transport wraps the raw IP sockets PIM speaks on: protocol 103
// datagrams to 224.0.0.13 (All-PIM-Routers) for IPv4 and ff02::d for
// IPv6, with TTL 1; the IP Router Alert option is not set. It generalizes the teacher's pim/server.go RawConner +
// sendMsg to a bidirectional per-vif socket used by both the Hello engine
// and the Join/Prune/Assert/Register/Bootstrap paths.
package transport

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// AllPIMRoutersV4 is 224.0.0.13.
var AllPIMRoutersV4 = net.IPv4(224, 0, 0, 13)

// AllPIMRoutersV6 is ff02::d.
var AllPIMRoutersV6 = net.ParseIP("ff02::d")

// ProtocolPIM is IANA protocol number 103.
const ProtocolPIM = 103

// RawConnerV4 is the subset of *ipv4.RawConn this package depends on,
// continuing the teacher's RawConner shape so a fake can substitute it in
// tests.
type RawConnerV4 interface {
	WriteTo(h *ipv4.Header, b []byte, cm *ipv4.ControlMessage) error
	ReadFrom(b []byte) (*ipv4.Header, []byte, *ipv4.ControlMessage, error)
	Close() error
	SetMulticastInterface(iface *net.Interface) error
	SetMulticastTTL(ttl int) error
	JoinGroup(ifi *net.Interface, group net.Addr) error
	LeaveGroup(ifi *net.Interface, group net.Addr) error
	SetControlMessage(cm ipv4.ControlFlags, on bool) error
}

// PacketConnerV6 is the subset of *ipv6.PacketConn this package depends
// on for the IPv6 transport.
type PacketConnerV6 interface {
	WriteTo(b []byte, cm *ipv6.ControlMessage, dst net.Addr) (int, error)
	ReadFrom(b []byte) (int, *ipv6.ControlMessage, net.Addr, error)
	Close() error
	JoinGroup(ifi *net.Interface, group net.Addr) error
	LeaveGroup(ifi *net.Interface, group net.Addr) error
	SetHopLimit(hoplim int) error
	SetControlMessage(cm ipv6.ControlFlags, on bool) error
}

// Socket is a PIM raw socket bound to one vif, speaking either IPv4 or
// IPv6 depending on which conn was supplied.
type Socket struct {
	ifi *net.Interface
	v4  RawConnerV4
	v6  PacketConnerV6
}

// NewV4 builds an IPv4 PIM socket over an already-open raw connection,
// joins the All-PIM-Routers group on ifi, and sets the outgoing
// multicast TTL to 1 (spec §6.2: PIM control traffic never leaves the
// local link).
func NewV4(conn RawConnerV4, ifi *net.Interface) (*Socket, error) {
	if err := conn.SetMulticastInterface(ifi); err != nil {
		return nil, fmt.Errorf("transport: set multicast interface: %w", err)
	}
	if err := conn.SetMulticastTTL(1); err != nil {
		return nil, fmt.Errorf("transport: set multicast ttl: %w", err)
	}
	if err := conn.JoinGroup(ifi, &net.IPAddr{IP: AllPIMRoutersV4}); err != nil {
		return nil, fmt.Errorf("transport: join all-pim-routers: %w", err)
	}
	if err := conn.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		return nil, fmt.Errorf("transport: enable control messages: %w", err)
	}
	return &Socket{ifi: ifi, v4: conn}, nil
}

// NewV6 is NewV4 for an IPv6 carrier.
func NewV6(conn PacketConnerV6, ifi *net.Interface) (*Socket, error) {
	if err := conn.JoinGroup(ifi, &net.IPAddr{IP: AllPIMRoutersV6}); err != nil {
		return nil, fmt.Errorf("transport: join all-pim-routers: %w", err)
	}
	if err := conn.SetHopLimit(1); err != nil {
		return nil, fmt.Errorf("transport: set hop limit: %w", err)
	}
	if err := conn.SetControlMessage(ipv6.FlagInterface, true); err != nil {
		return nil, fmt.Errorf("transport: enable control messages: %w", err)
	}
	return &Socket{ifi: ifi, v6: conn}, nil
}

// IsV6 reports whether this socket carries IPv6.
func (s *Socket) IsV6() bool { return s.v6 != nil }

// SendToAllRouters transmits body (an already-serialized wire.Message,
// checksum included) to the All-PIM-Routers group on this vif.
func (s *Socket) SendToAllRouters(body []byte) error {
	if s.v6 != nil {
		cm := &ipv6.ControlMessage{IfIndex: s.ifi.Index, HopLimit: 1}
		_, err := s.v6.WriteTo(body, cm, &net.IPAddr{IP: AllPIMRoutersV6})
		return err
	}
	h := &ipv4.Header{
		Version:  4,
		Len:      ipv4.HeaderLen,
		TTL:      1,
		Protocol: ProtocolPIM,
		Dst:      AllPIMRoutersV4,
		TotalLen: ipv4.HeaderLen + len(body),
	}
	cm := &ipv4.ControlMessage{IfIndex: s.ifi.Index}
	return s.v4.WriteTo(h, body, cm)
}

// SendTo transmits body to a specific unicast destination (Register,
// Register-Stop, and Candidate-RP-Advertisement are unicast).
func (s *Socket) SendTo(body []byte, dst net.IP) error {
	if s.v6 != nil {
		cm := &ipv6.ControlMessage{IfIndex: s.ifi.Index, HopLimit: 1}
		_, err := s.v6.WriteTo(body, cm, &net.IPAddr{IP: dst})
		return err
	}
	h := &ipv4.Header{
		Version:  4,
		Len:      ipv4.HeaderLen,
		TTL:      1,
		Protocol: ProtocolPIM,
		Dst:      dst,
		TotalLen: ipv4.HeaderLen + len(body),
	}
	cm := &ipv4.ControlMessage{IfIndex: s.ifi.Index}
	return s.v4.WriteTo(h, body, cm)
}

// ReceivedPacket is one datagram read off the socket, with the
// kernel-reported source address and arrival vif index attached so the
// engine can attribute it to a PimVif/PimNbr without re-parsing IP.
type ReceivedPacket struct {
	Src     net.IP
	IfIndex int
	Payload []byte
}

// Recv reads one PIM datagram, stripping the IPv4 header where the
// kernel delivers one (raw IPv4 sockets include it; IPv6 does not).
func (s *Socket) Recv(buf []byte) (ReceivedPacket, error) {
	if s.v6 != nil {
		n, cm, src, err := s.v6.ReadFrom(buf)
		if err != nil {
			return ReceivedPacket{}, err
		}
		ifIndex := 0
		if cm != nil {
			ifIndex = cm.IfIndex
		}
		ua, _ := src.(*net.UDPAddr)
		srcIP := net.IP(nil)
		if ua != nil {
			srcIP = ua.IP
		} else if ia, ok := src.(*net.IPAddr); ok {
			srcIP = ia.IP
		}
		return ReceivedPacket{Src: srcIP, IfIndex: ifIndex, Payload: buf[:n]}, nil
	}
	h, payload, cm, err := s.v4.ReadFrom(buf)
	if err != nil {
		return ReceivedPacket{}, err
	}
	ifIndex := 0
	if cm != nil {
		ifIndex = cm.IfIndex
	}
	var src net.IP
	if h != nil {
		src = h.Src
	}
	return ReceivedPacket{Src: src, IfIndex: ifIndex, Payload: payload}, nil
}

// Close releases the underlying socket, leaving the multicast group
// first where the driver requires an explicit leave.
func (s *Socket) Close() error {
	if s.v6 != nil {
		_ = s.v6.LeaveGroup(s.ifi, &net.IPAddr{IP: AllPIMRoutersV6})
		return s.v6.Close()
	}
	_ = s.v4.LeaveGroup(s.ifi, &net.IPAddr{IP: AllPIMRoutersV4})
	return s.v4.Close()
}
