// Package state holds the fields every stage needs to read or update
// concurrently, but that don't belong to any one stage: the peer and
// local addresses, the active SPIs, and the traffic counters the
// status socket reports.
//
// The original kept this in a single mmap'd struct signsky_state
// shared by every forked process and touched only through
// signsky_atomic_read/write. Here it's one struct shared by pointer
// across goroutines, with the same field-level atomics doing the
// same job without needing a process-wide memory map.
package state

import (
	"net/netip"
	"sync/atomic"
	"time"
)

// Shared is passed by pointer to every stage at construction. There is
// deliberately no package-level singleton — a test, or an embedder
// running more than one tunnel, constructs its own.
type Shared struct {
	peer atomic.Pointer[netip.AddrPort]
	local atomic.Pointer[netip.AddrPort]

	txSPI atomic.Uint32
	rxSPI atomic.Uint32

	txPackets atomic.Uint64
	txBytes   atomic.Uint64
	rxPackets atomic.Uint64
	rxBytes   atomic.Uint64

	lastActivity atomic.Int64

	started time.Time
}

// New returns a Shared with its clock started now and local bound to
// local. The peer address starts unset until learned or configured.
func New(local netip.AddrPort) *Shared {
	s := &Shared{started: time.Now()}
	s.local.Store(&local)
	return s
}

// Peer returns the current peer address, or the zero value if none
// has been configured or learned yet.
func (s *Shared) Peer() netip.AddrPort {
	if p := s.peer.Load(); p != nil {
		return *p
	}
	return netip.AddrPort{}
}

// SetPeer atomically replaces the peer address, used both for initial
// configuration and for peer-address learning on verified packets.
func (s *Shared) SetPeer(addr netip.AddrPort) {
	s.peer.Store(&addr)
}

// Local returns the configured local address.
func (s *Shared) Local() netip.AddrPort {
	if p := s.local.Load(); p != nil {
		return *p
	}
	return netip.AddrPort{}
}

// TXSPI returns the SPI currently installed for transmission.
func (s *Shared) TXSPI() uint32 { return s.txSPI.Load() }

// SetTXSPI records a newly installed transmit SPI.
func (s *Shared) SetTXSPI(spi uint32) { s.txSPI.Store(spi) }

// RXSPI returns the SPI currently active for reception.
func (s *Shared) RXSPI() uint32 { return s.rxSPI.Load() }

// SetRXSPI records a newly active receive SPI.
func (s *Shared) SetRXSPI(spi uint32) { s.rxSPI.Store(spi) }

// RecordTX accounts for one transmitted packet of n bytes on the wire.
func (s *Shared) RecordTX(n int) {
	s.txPackets.Add(1)
	s.txBytes.Add(uint64(n))
	s.touch()
}

// RecordRX accounts for one received, verified packet of n bytes.
func (s *Shared) RecordRX(n int) {
	s.rxPackets.Add(1)
	s.rxBytes.Add(uint64(n))
	s.touch()
}

func (s *Shared) touch() {
	s.lastActivity.Store(time.Now().Unix())
}

// Counters is a point-in-time snapshot of the traffic counters,
// returned by Snapshot for the status socket to serialize.
type Counters struct {
	TXSPI        uint32
	RXSPI        uint32
	TXPackets    uint64
	TXBytes      uint64
	RXPackets    uint64
	RXBytes      uint64
	LastActivity time.Time
	Uptime       time.Duration
}

// Snapshot returns a consistent-enough read of every counter. Fields
// are read independently (there is no single lock covering all of
// them) which matches the original's per-field atomic reads in its
// status reporting path.
func (s *Shared) Snapshot() Counters {
	var last time.Time
	if unix := s.lastActivity.Load(); unix != 0 {
		last = time.Unix(unix, 0)
	}

	return Counters{
		TXSPI:        s.TXSPI(),
		RXSPI:        s.RXSPI(),
		TXPackets:    s.txPackets.Load(),
		TXBytes:      s.txBytes.Load(),
		RXPackets:    s.rxPackets.Load(),
		RXBytes:      s.rxBytes.Load(),
		LastActivity: last,
		Uptime:       time.Since(s.started),
	}
}
