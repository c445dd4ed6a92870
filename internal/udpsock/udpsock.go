// Package udpsock wraps the UDP socket the crypto-side stage uses to
// exchange ESP datagrams with the peer.
//
// Grounded on crypto_bind_address()/crypto_send_packet()/
// crypto_recv_packets() in the original: bind locally, disable
// fragmentation so an oversized datagram is reported back rather than
// silently split, and track the peer by address rather than by
// connecting the socket (the peer's address can change — see peer
// address learning — so a connected UDP socket would have to be
// reconnected on every roam instead of just updating where sends go).
package udpsock

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/signsky/signsky/internal/packet"
)

// Socket is a non-blocking UDP endpoint bound to a local address, used
// to send to and receive from one fixed peer.
type Socket struct {
	conn *net.UDPConn
}

// Open binds a UDP socket to local and configures it to refuse to
// fragment outgoing datagrams at the IP layer, surfacing an oversized
// write as an error instead.
func Open(local netip.AddrPort) (*Socket, error) {
	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(local))
	if err != nil {
		return nil, fmt.Errorf("udpsock: listen %v: %w", local, err)
	}

	if err := setDontFragment(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &Socket{conn: conn}, nil
}

// Close releases the socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// SendTo transmits pkt's wire bytes (ESP head through tag) to addr.
func (s *Socket) SendTo(pkt *packet.Packet, addr netip.AddrPort) error {
	_, err := s.conn.WriteToUDPAddrPort(pkt.Wire(), addr)
	if err != nil {
		return fmt.Errorf("udpsock: send: %w", err)
	}
	return nil
}

// RecvInto blocks until a datagram arrives, stores it into pkt as
// wire bytes and records its source into pkt.Addr for peer-address
// learning.
func (s *Socket) RecvInto(pkt *packet.Packet) error {
	n, addr, err := s.conn.ReadFromUDPAddrPort(pkt.Buf[:])
	if err != nil {
		return fmt.Errorf("udpsock: recv: %w", err)
	}

	if n < packet.HeadLen {
		pkt.Length = 0
		pkt.Addr = addr
		return nil
	}

	pkt.Length = n - packet.HeadLen
	pkt.Addr = addr
	return nil
}
