// Package packet defines the fixed-size buffer signsky moves between
// stages, and the pool those buffers are drawn from.
package packet

import "net/netip"

// Stage names the next worker a packet is routed to.
type Stage uint32

const (
	// StageNone marks a packet that has not been assigned a destination yet.
	StageNone Stage = iota
	StageClear
	StageCrypto
	StageEncrypt
	StageDecrypt
)

const (
	// HeadLen is the ESP tunnel-mode head reservation: 4-byte SPI,
	// 4-byte truncated sequence, 8-byte packet number.
	HeadLen = 16

	// DataLen is the largest plaintext IP datagram signsky will carry.
	// No jumbo frames, no fragmentation/reassembly.
	DataLen = 1500

	// TailLen is the 2-byte ESP trailer (pad length, next header).
	TailLen = 2

	// TagLen is the AEAD authentication tag appended after ciphertext.
	TagLen = 16

	// MaxLen is the total buffer size: head + data + tail + tag, rounded
	// up generously so offset arithmetic never needs to special-case the
	// last few bytes.
	MaxLen = 2048

	// MinLen is the minimum number of bytes a read from an interface
	// must produce for it to be considered a packet at all.
	MinLen = 12
)

// Packet is a single fixed-size buffer. It is always owned by exactly one
// stage, or sits free in a Pool — never both, never referenced by two
// stages at once.
type Packet struct {
	Length int
	Target Stage

	// Addr is the origin address for packets arriving over UDP, used for
	// peer-address learning in the decrypt stage.
	Addr netip.AddrPort

	Buf [MaxLen]byte
}

// Reset clears the packet's bookkeeping fields so it looks freshly
// allocated. The buffer contents themselves are left in place; callers
// overwrite exactly as many bytes as they read or write.
func (p *Packet) Reset() {
	p.Length = 0
	p.Target = StageNone
	p.Addr = netip.AddrPort{}
}

// Head returns the ESP head reservation at the front of the buffer.
func (p *Packet) Head() []byte {
	return p.Buf[:HeadLen]
}

// Data returns the payload region immediately following the ESP head,
// sized to the packet's current Length.
func (p *Packet) Data() []byte {
	return p.Buf[HeadLen : HeadLen+p.Length]
}

// Tail returns the full remaining capacity after the head reservation,
// for code that needs to append a trailer and an AEAD tag to it.
func (p *Packet) Tail() []byte {
	return p.Buf[HeadLen:]
}

// Wire returns the bytes that should actually be transmitted or were
// actually received: the head reservation plus Length bytes of payload.
func (p *Packet) Wire() []byte {
	return p.Buf[:HeadLen+p.Length]
}
