// Command signsky runs one site-to-site ESP tunnel endpoint: it reads
// a configuration file, opens the tunnel device and peer UDP socket,
// and runs the clear/crypto/encrypt/decrypt/keying/status stages
// until it is told to stop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/signsky/signsky/internal/config"
	"github.com/signsky/signsky/internal/ctlsock"
	"github.com/signsky/signsky/internal/keying"
	"github.com/signsky/signsky/internal/packet"
	"github.com/signsky/signsky/internal/privsep"
	"github.com/signsky/signsky/internal/proc"
	"github.com/signsky/signsky/internal/replay"
	"github.com/signsky/signsky/internal/ring"
	"github.com/signsky/signsky/internal/stage"
	"github.com/signsky/signsky/internal/state"
	"github.com/signsky/signsky/internal/tundev"
	"github.com/signsky/signsky/internal/udpsock"
)

// daemonizeEnv marks a re-exec'd child so it does not try to
// daemonize a second time.
const daemonizeEnv = "SIGNSKY_DAEMONIZED"

// queueDepth is the capacity of every inter-stage ring, nominally the
// original's 1024-entry default.
const queueDepth = 1024

// poolSize is the number of packet buffers shared across every stage.
const poolSize = 2048

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	configPath := flag.StringP("config", "c", "/etc/signsky.conf", "configuration file path")
	daemonize := flag.BoolP("daemonize", "d", false, "run in the background")
	flag.Parse()

	if *daemonize && os.Getenv(daemonizeEnv) == "" {
		if err := reexecDaemonized(*configPath); err != nil {
			slog.Error("failed to daemonize", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("signsky exiting", "error", err)
		os.Exit(1)
	}
}

// reexecDaemonized re-executes the current binary detached from the
// controlling terminal, in its own session, and exits the parent
// immediately — the original forks and has the parent exit once the
// child has attached its sockets; a re-exec under Setsid achieves the
// same detachment without relying on fork() semantics Go doesn't
// expose safely in a multi-threaded process.
func reexecDaemonized(configPath string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(self, "--config", configPath)
	cmd.Env = append(os.Environ(), daemonizeEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start child: %w", err)
	}

	slog.Info("signsky daemonized", "pid", cmd.Process.Pid)
	return nil
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shared := state.New(cfg.Local)
	if cfg.Peer.IsValid() {
		shared.SetPeer(cfg.Peer)
	}

	tun, err := tundev.Open(cfg.Tun, packet.DataLen)
	if err != nil {
		return fmt.Errorf("open tunnel %q: %w", cfg.Tun, err)
	}

	sock, err := udpsock.Open(cfg.Local)
	if err != nil {
		tun.Close()
		return fmt.Errorf("open udp socket %q: %w", cfg.Local, err)
	}

	keysock, err := ctlsock.OpenKeying(cfg.KeyingSocket, cfg.KeyingOwner)
	if err != nil {
		tun.Close()
		sock.Close()
		return fmt.Errorf("open keying socket: %w", err)
	}

	statsock, err := ctlsock.OpenStatus(cfg.StatusSocket, cfg.StatusOwner)
	if err != nil {
		tun.Close()
		sock.Close()
		keysock.Close()
		return fmt.Errorf("open status socket: %w", err)
	}

	var dropper privsep.Dropper = privsep.NoOp{}
	for stageName, user := range cfg.RunAs {
		if err := dropper.Drop(stageName, user); err != nil {
			tun.Close()
			sock.Close()
			keysock.Close()
			statsock.Close()
			return fmt.Errorf("drop privileges for %q: %w", stageName, err)
		}
	}

	pool := packet.NewPool(poolSize)
	window := &replay.Window{}

	var txCell, rxCell keying.Cell

	clearToEncrypt := ring.New[packet.Packet](queueDepth)
	decryptToClear := ring.New[packet.Packet](queueDepth)
	cryptoToDecrypt := ring.New[packet.Packet](queueDepth)
	encryptToCrypto := ring.New[packet.Packet](queueDepth)

	clearIO := &stage.ClearIO{
		Tun:         tun,
		Pool:        pool,
		ToEncrypt:   clearToEncrypt,
		FromDecrypt: decryptToClear,
	}

	cryptoIO := &stage.CryptoIO{
		Sock:        sock,
		Pool:        pool,
		Shared:      shared,
		Replay:      window,
		ToDecrypt:   cryptoToDecrypt,
		FromEncrypt: encryptToCrypto,
		QueueDepth:  queueDepth - 1,
	}

	encryptIO := &stage.EncryptIO{
		Pool:      pool,
		Shared:    shared,
		TXCell:    &txCell,
		FromClear: clearToEncrypt,
		ToCrypto:  encryptToCrypto,
	}

	decryptIO := &stage.DecryptIO{
		Pool:       pool,
		Shared:     shared,
		RXCell:     &rxCell,
		Replay:     window,
		FromCrypto: cryptoToDecrypt,
		ToClear:    decryptToClear,
	}

	sup := &proc.Supervisor{
		Stages: []proc.Stage{
			{Name: "clear", Run: func(ctx context.Context) error { return stage.RunClear(ctx, clearIO) }},
			{Name: "crypto", Run: func(ctx context.Context) error { return stage.RunCrypto(ctx, cryptoIO) }},
			{Name: "encrypt", Run: func(ctx context.Context) error { return stage.RunEncrypt(ctx, encryptIO) }},
			{Name: "decrypt", Run: func(ctx context.Context) error { return stage.RunDecrypt(ctx, decryptIO) }},
			{Name: "keying", Run: func(ctx context.Context) error { return keysock.Serve(ctx, &txCell, &rxCell) }},
			{Name: "status", Run: func(ctx context.Context) error { return statsock.Serve(ctx, shared) }},
		},
	}

	slog.Info("signsky starting", "local", cfg.Local, "peer", cfg.Peer, "tun", cfg.Tun)

	return sup.Run(context.Background())
}
