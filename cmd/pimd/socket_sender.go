//go:build linux

package main

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/pim-sm/pimd/internal/control"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/node"
	"github.com/pim-sm/pimd/internal/pim/transport"
	"github.com/pim-sm/pimd/internal/pim/wire"
	"github.com/pim-sm/pimd/internal/types"
)

// socketSender maps vif indices to their raw PIM socket, implementing
// node.Sender over real interfaces (spec §6.1: one socket per vif, joined
// to All-PIM-Routers, TTL 1).
type socketSender struct {
	mu      sync.Mutex
	sockets map[types.VifIndex]*transport.Socket
}

func newSocketSender() (*socketSender, error) {
	return &socketSender{sockets: make(map[types.VifIndex]*transport.Socket)}, nil
}

func (s *socketSender) SendMulticast(vifIdx types.VifIndex, msg *wire.Message) error {
	sock, ok := s.socket(vifIdx)
	if !ok {
		return fmt.Errorf("pimd: no socket for vif %d", vifIdx)
	}
	return sock.SendToAllRouters(msg.Serialize())
}

func (s *socketSender) SendUnicast(vifIdx types.VifIndex, dst ipaddr.IPvX, msg *wire.Message) error {
	sock, ok := s.socket(vifIdx)
	if !ok {
		return fmt.Errorf("pimd: no socket for vif %d", vifIdx)
	}
	return sock.SendTo(msg.Serialize(), net.IP(dst.Addr().AsSlice()))
}

func (s *socketSender) socket(vifIdx types.VifIndex) (*transport.Socket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sock, ok := s.sockets[vifIdx]
	return sock, ok
}

func (s *socketSender) set(vifIdx types.VifIndex, sock *transport.Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[vifIdx] = sock
}

func (s *socketSender) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sock := range s.sockets {
		_ = sock.Close()
	}
}

// receiveLoop reads from every open socket concurrently, decodes each
// datagram, and hands it to n.HandleReceived.
func (s *socketSender) receiveLoop(n *node.Node) {
	s.mu.Lock()
	targets := make(map[types.VifIndex]*transport.Socket, len(s.sockets))
	for k, v := range s.sockets {
		targets[k] = v
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for idx, sock := range targets {
		wg.Add(1)
		go func(idx types.VifIndex, sock *transport.Socket) {
			defer wg.Done()
			buf := make([]byte, 65535)
			for {
				pkt, err := sock.Recv(buf)
				if err != nil {
					slog.Debug("pim socket closed", "vif", idx, "error", err)
					return
				}
				msg, err := wire.Decode(pkt.Payload)
				if err != nil {
					slog.Debug("dropping malformed PIM message", "vif", idx, "error", err)
					continue
				}
				src, err := ipaddr.Parse(pkt.Src.String())
				if err != nil {
					continue
				}
				n.HandleReceived(idx, src, msg)
			}
		}(idx, sock)
	}
	wg.Wait()
}

// bringUpVif opens a raw PIM socket on name, registers the vif with n, and
// copies every IPv4 address of the interface in before starting the PIM
// engine on it.
func bringUpVif(n *node.Node, sender *socketSender, name string, idx types.VifIndex) error {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return fmt.Errorf("interface %s: %w", name, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return fmt.Errorf("interface %s addrs: %w", name, err)
	}

	conn, err := net.ListenPacket("ip4:103", "0.0.0.0")
	if err != nil {
		return fmt.Errorf("open raw socket on %s: %w", name, err)
	}
	rawConn, err := ipv4.NewRawConn(conn)
	if err != nil {
		return fmt.Errorf("wrap raw socket on %s: %w", name, err)
	}
	sock, err := transport.NewV4(rawConn, ifi)
	if err != nil {
		return fmt.Errorf("build PIM socket on %s: %w", name, err)
	}
	sender.set(idx, sock)

	if err := n.AddVif(name, idx, control.VifFlags{
		IsMulticastCapable: ifi.Flags&net.FlagMulticast != 0,
		IsPointToPoint:     ifi.Flags&net.FlagPointToPoint != 0,
		IsLoopback:         ifi.Flags&net.FlagLoopback != 0,
	}); err != nil {
		return err
	}

	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.To4() == nil {
			continue
		}
		addr, err := ipaddr.Parse(ipNet.IP.String())
		if err != nil {
			continue
		}
		prefixLen, _ := ipNet.Mask.Size()
		if err := n.AddVifAddr(control.VifAddrParams{Vif: idx, Addr: addr, PrefixL: prefixLen}); err != nil {
			return err
		}
	}

	return n.StartVif(idx)
}
