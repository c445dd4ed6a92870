// Package ctlsock implements the two local control sockets signsky
// listens on: one accepting new key material, one answering status
// queries.
//
// Both are grounded on keying_create_socket() in the original: a
// SOCK_DGRAM AF_UNIX socket, bound to a configured path, chowned to a
// configured uid/gid and chmod'd 0700 so only the intended operator
// (or a co-located keying agent) can reach it.
package ctlsock

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/signsky/signsky/internal/config"
	"github.com/signsky/signsky/internal/keying"
	"github.com/signsky/signsky/internal/state"
)

func bindUnixgram(path string, owner config.Owner) (*net.UnixConn, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("ctlsock: remove %q: %w", path, err)
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("ctlsock: listen %q: %w", path, err)
	}

	if err := os.Chmod(path, 0o700); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ctlsock: chmod %q: %w", path, err)
	}

	if owner.UID != 0 || owner.GID != 0 {
		if err := os.Chown(path, owner.UID, owner.GID); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ctlsock: chown %q: %w", path, err)
		}
	}

	return conn, nil
}

// keyRequestLen is the fixed wire size of a keying-socket datagram:
// 4-byte TX SPI, 4-byte RX SPI, 32-byte shared secret, all big-endian.
const keyRequestLen = 4 + 4 + keying.SecretLen

// KeyingSocket accepts new key material and hands it to the TX and RX
// handoff cells.
type KeyingSocket struct {
	conn *net.UnixConn
}

// OpenKeying binds the keying control socket at path.
func OpenKeying(path string, owner config.Owner) (*KeyingSocket, error) {
	conn, err := bindUnixgram(path, owner)
	if err != nil {
		return nil, err
	}
	return &KeyingSocket{conn: conn}, nil
}

// Close releases the socket.
func (k *KeyingSocket) Close() error {
	return k.conn.Close()
}

// Serve reads key requests until ctx is cancelled or the socket
// fails, publishing each one to tx and rx in turn.
func (k *KeyingSocket) Serve(ctx context.Context, tx, rx *keying.Cell) error {
	go func() {
		<-ctx.Done()
		k.conn.Close()
	}()

	buf := make([]byte, keyRequestLen)

	for {
		n, err := k.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ctlsock: keying read: %w", err)
		}
		if n != keyRequestLen {
			continue
		}

		txSPI := binary.BigEndian.Uint32(buf[0:4])
		rxSPI := binary.BigEndian.Uint32(buf[4:8])

		var secret [keying.SecretLen]byte
		copy(secret[:], buf[8:])

		if err := tx.Publish(ctx, txSPI, secret); err != nil {
			return fmt.Errorf("ctlsock: publish tx: %w", err)
		}
		if err := rx.Publish(ctx, rxSPI, secret); err != nil {
			return fmt.Errorf("ctlsock: publish rx: %w", err)
		}

		secret = [keying.SecretLen]byte{}
	}
}

// statusRecordLen is the fixed wire size of a status reply.
const statusRecordLen = 4 + 4 + 8*6

// StatusSocket answers single-byte status queries with a fixed-width
// snapshot of the tunnel's counters.
type StatusSocket struct {
	conn *net.UnixConn
}

// OpenStatus binds the status control socket at path.
func OpenStatus(path string, owner config.Owner) (*StatusSocket, error) {
	conn, err := bindUnixgram(path, owner)
	if err != nil {
		return nil, err
	}
	return &StatusSocket{conn: conn}, nil
}

// Close releases the socket.
func (s *StatusSocket) Close() error {
	return s.conn.Close()
}

// Serve answers status queries until ctx is cancelled or the socket
// fails.
func (s *StatusSocket) Serve(ctx context.Context, shared *state.Shared) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	req := make([]byte, 1)

	for {
		_, addr, err := s.conn.ReadFromUnix(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ctlsock: status read: %w", err)
		}
		if addr == nil {
			continue
		}

		reply := encodeStatus(shared.Snapshot())
		if _, err := s.conn.WriteToUnix(reply, addr); err != nil {
			return fmt.Errorf("ctlsock: status write: %w", err)
		}
	}
}

func encodeStatus(c state.Counters) []byte {
	buf := make([]byte, statusRecordLen)

	binary.BigEndian.PutUint32(buf[0:4], c.TXSPI)
	binary.BigEndian.PutUint32(buf[4:8], c.RXSPI)
	binary.BigEndian.PutUint64(buf[8:16], c.TXPackets)
	binary.BigEndian.PutUint64(buf[16:24], c.TXBytes)
	binary.BigEndian.PutUint64(buf[24:32], c.RXPackets)
	binary.BigEndian.PutUint64(buf[32:40], c.RXBytes)

	var lastActivity int64
	if !c.LastActivity.IsZero() {
		lastActivity = c.LastActivity.Unix()
	}
	binary.BigEndian.PutUint64(buf[40:48], uint64(lastActivity))
	binary.BigEndian.PutUint64(buf[48:56], uint64(c.Uptime.Seconds()))

	return buf
}
