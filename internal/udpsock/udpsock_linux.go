//go:build linux

package udpsock

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

func setDontFragment(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("udpsock: SyscallConn: %w", err)
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP,
			unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO)
	})
	if err != nil {
		return fmt.Errorf("udpsock: Control: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("udpsock: setsockopt: %w", sockErr)
	}

	return nil
}
