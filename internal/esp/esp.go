// Package esp implements the ESP tunnel-mode wire framing signsky uses
// between the encrypt/decrypt stages and the crypto-side UDP socket.
//
// The layout is lifted byte-for-byte from the original's
// signsky_ipsec_hdr/signsky_ipsec_tail pair and the nonce/AAD
// construction in cipher_aes_gcm.c: a 16-byte head (4-byte SPI, 4-byte
// truncated sequence, 8-byte packet number), the AEAD-sealed payload,
// a 2-byte trailer folded into the plaintext before sealing (pad
// length, next header), and the AEAD's own 16-byte tag.
package esp

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"sync/atomic"

	"github.com/signsky/signsky/internal/aead"
	"github.com/signsky/signsky/internal/packet"
)

// NextProtoIP is the ESP trailer's next-header value for a plain IPv4
// datagram. Tunnels carrying anything else are a Non-goal.
const NextProtoIP = 4

var (
	// ErrShortPacket is returned when a packet handed to Decrypt is too
	// small to possibly contain a trailer and an AEAD tag.
	ErrShortPacket = errors.New("esp: packet shorter than trailer+tag")

	// ErrSPIMismatch is returned when the packet's SPI does not match
	// the security association it is being verified against.
	ErrSPIMismatch = errors.New("esp: spi mismatch")

	// ErrSeqMismatch is returned when the truncated 32-bit sequence in
	// the head disagrees with the low 32 bits of the full packet number.
	ErrSeqMismatch = errors.New("esp: truncated sequence mismatch")

	// ErrAuthFailed is returned when AEAD verification fails.
	ErrAuthFailed = errors.New("esp: authentication failed")

	// ErrTrailerInvalid is returned when the decrypted trailer does not
	// hold the expected pad/next-header values.
	ErrTrailerInvalid = errors.New("esp: invalid trailer")

	// ErrPayloadTooLarge is returned when a plaintext packet is too big
	// to fit a trailer and tag inside the fixed packet buffer.
	ErrPayloadTooLarge = errors.New("esp: payload too large")
)

// SA is one security association: an SPI, the salt folded into every
// nonce, a free-running packet-number counter, and the AEAD it was
// installed under. Encrypt assigns packet numbers from Seq; Decrypt
// relies entirely on the caller-supplied Header's packet number.
type SA struct {
	SPI  uint32
	Salt uint32
	Seq  atomic.Uint64
	AEAD cipher.AEAD
}

// NextPN atomically reserves and returns the next packet number to
// assign on transmit.
func (sa *SA) NextPN() uint64 {
	return sa.Seq.Add(1) - 1
}

// Header is the parsed ESP head of a packet, read before any AEAD
// verification is attempted so callers can run the anti-replay
// pre-checks before spending a decrypt on a packet already known bad.
type Header struct {
	SPI uint32
	Seq uint32
	PN  uint64
}

// ParseHeader reads the 16-byte ESP head without mutating the packet.
func ParseHeader(pkt *packet.Packet) Header {
	head := pkt.Head()
	return Header{
		SPI: binary.BigEndian.Uint32(head[0:4]),
		Seq: binary.BigEndian.Uint32(head[4:8]),
		PN:  binary.BigEndian.Uint64(head[8:16]),
	}
}

func nonceFor(salt uint32, pn uint64) [12]byte {
	var nonce [12]byte
	binary.BigEndian.PutUint32(nonce[0:4], salt)
	binary.BigEndian.PutUint64(nonce[4:12], pn)
	return nonce
}

func aadFor(spi uint32, pn uint64) [12]byte {
	var aad [12]byte
	binary.BigEndian.PutUint32(aad[0:4], spi)
	binary.BigEndian.PutUint64(aad[4:12], pn)
	return aad
}

// Encrypt assigns the next packet number from sa, folds the ESP
// trailer into the plaintext, seals it in place under sa's AEAD, and
// writes the ESP head. On return pkt.Length covers the sealed
// payload (trailer included) plus the authentication tag; pkt.Wire()
// is ready to hand to the crypto-side socket.
func Encrypt(pkt *packet.Packet, sa *SA) error {
	if pkt.Length+packet.TailLen+aead.Overhead > len(pkt.Buf)-packet.HeadLen {
		return ErrPayloadTooLarge
	}

	pn := sa.NextPN()

	tail := pkt.Buf[packet.HeadLen+pkt.Length : packet.HeadLen+pkt.Length+packet.TailLen]
	tail[0] = 0
	tail[1] = NextProtoIP

	plainLen := pkt.Length + packet.TailLen
	plaintext := pkt.Buf[packet.HeadLen : packet.HeadLen+plainLen]

	nonce := nonceFor(sa.Salt, pn)
	aad := aadFor(sa.SPI, pn)

	sa.AEAD.Seal(plaintext[:0], nonce[:], plaintext, aad[:])
	pkt.Length = plainLen + aead.Overhead

	head := pkt.Head()
	binary.BigEndian.PutUint32(head[0:4], sa.SPI)
	binary.BigEndian.PutUint32(head[4:8], uint32(pn))
	binary.BigEndian.PutUint64(head[8:16], pn)

	return nil
}

// Decrypt verifies and opens pkt in place under sa, using hdr (as
// returned by ParseHeader, usually after an anti-replay pre-check).
// On success pkt.Length is reduced to the plaintext length with the
// ESP trailer stripped off.
func Decrypt(pkt *packet.Packet, sa *SA, hdr Header) error {
	if pkt.Length < packet.TailLen+aead.Overhead {
		return ErrShortPacket
	}
	if hdr.SPI != sa.SPI {
		return ErrSPIMismatch
	}
	if uint32(hdr.PN) != hdr.Seq {
		return ErrSeqMismatch
	}

	nonce := nonceFor(sa.Salt, hdr.PN)
	aad := aadFor(sa.SPI, hdr.PN)

	ciphertext := pkt.Buf[packet.HeadLen : packet.HeadLen+pkt.Length]
	plaintext, err := sa.AEAD.Open(ciphertext[:0], nonce[:], ciphertext, aad[:])
	if err != nil {
		return ErrAuthFailed
	}

	plainLen := len(plaintext) - packet.TailLen
	tail := pkt.Buf[packet.HeadLen+plainLen : packet.HeadLen+plainLen+packet.TailLen]
	if tail[0] != 0 || tail[1] != NextProtoIP {
		return ErrTrailerInvalid
	}

	pkt.Length = plainLen
	return nil
}
