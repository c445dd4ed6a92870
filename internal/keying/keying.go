// Package keying implements the handoff of fresh session secrets from
// the control-socket listener into the encrypt and decrypt stages.
//
// The state machine is the original's EMPTY/GENERATING/PENDING/
// INSTALLING dance over a shared struct signsky_key, translated onto a
// single atomic word: the keying listener owns the EMPTY->GENERATING
// ->PENDING transition, a stage owns PENDING->INSTALLING->EMPTY. A
// failed CAS on either side means two writers disagreed about who
// owns the cell, which cannot happen if both sides follow the
// protocol — so it is treated as fatal, exactly as the original's
// bare fatal() calls around its CAS failures were.
package keying

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"runtime"
	"sync/atomic"

	"golang.org/x/crypto/hkdf"

	"github.com/signsky/signsky/internal/aead"
	"github.com/signsky/signsky/internal/esp"
)

// SecretLen is the length of the pre-shared secret carried over the
// keying socket, matching the original's SIGNSKY_KEY_LENGTH.
const SecretLen = 32

type cellState uint32

const (
	cellEmpty cellState = iota
	cellGenerating
	cellPending
	cellInstalling
)

// ErrProtocolViolation is returned when a Cell's state does not match
// what the caller's side of the protocol requires. It can only happen
// if a producer and a consumer both believe they own the cell at the
// same time, which is always a programming error, never recoverable
// packet-level noise.
var ErrProtocolViolation = errors.New("keying: protocol violation")

// Cell is a single-slot mailbox for handing one SPI and one secret
// from a producer (the keying listener) to exactly one consumer (an
// encrypt or decrypt stage).
type Cell struct {
	state  atomic.Uint32
	spi    uint32
	secret [SecretLen]byte
}

// Publish waits for the cell to be empty and installs spi/secret into
// it as pending. It blocks until the previous occupant has been
// installed by its consumer or ctx is cancelled.
func (c *Cell) Publish(ctx context.Context, spi uint32, secret [SecretLen]byte) error {
	for c.state.Load() != uint32(cellEmpty) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			runtime.Gosched()
		}
	}

	if !c.state.CompareAndSwap(uint32(cellEmpty), uint32(cellGenerating)) {
		return ErrProtocolViolation
	}

	c.spi = spi
	c.secret = secret

	if !c.state.CompareAndSwap(uint32(cellGenerating), uint32(cellPending)) {
		return ErrProtocolViolation
	}

	return nil
}

// Take attempts to remove a pending key. ok is false if the cell held
// nothing pending — that is the common case, not an error. err is
// only set on a genuine protocol violation.
func (c *Cell) Take() (spi uint32, secret [SecretLen]byte, ok bool, err error) {
	if !c.state.CompareAndSwap(uint32(cellPending), uint32(cellInstalling)) {
		return 0, secret, false, nil
	}

	spi = c.spi
	secret = c.secret
	c.secret = [SecretLen]byte{}

	if !c.state.CompareAndSwap(uint32(cellInstalling), uint32(cellEmpty)) {
		return 0, secret, false, ErrProtocolViolation
	}

	return spi, secret, true, nil
}

// direction labels feed HKDF's info parameter so the same pre-shared
// secret yields independent TX and RX keys instead of symmetric reuse
// — the original left this as a "XXX, RX/TX derivation" TODO and
// installed the raw secret on both sides.
type direction string

const (
	// DirectionTX derives the key this end encrypts with.
	DirectionTX direction = "signsky tx"

	// DirectionRX derives the key this end decrypts with.
	DirectionRX direction = "signsky rx"
)

// DeriveSA expands secret via HKDF-SHA256 into an AES-256 key and a
// 4-byte GCM salt, and returns a ready-to-use security association for
// the given SPI and direction.
func DeriveSA(dir direction, spi uint32, secret [SecretLen]byte) (*esp.SA, error) {
	out := make([]byte, aead.KeySize+4)

	kdf := hkdf.New(sha256.New, secret[:], nil, []byte(dir))
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, err
	}

	var key [aead.KeySize]byte
	copy(key[:], out[:aead.KeySize])
	salt := beUint32(out[aead.KeySize:])
	zero(out)

	gcm, err := aead.New(key)
	zero(key[:])
	if err != nil {
		return nil, err
	}

	sa := &esp.SA{SPI: spi, Salt: salt, AEAD: gcm}

	// Packet number 0 is reserved: the anti-replay window never accepts
	// it (see replay.Window), so a freshly derived SA starts handing
	// out sequence numbers at 1 rather than NextPN's natural 0.
	sa.Seq.Store(1)

	return sa, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
