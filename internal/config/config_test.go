package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signsky.conf")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeTemp(t, `
# comment line, and a blank line follows

peer 203.0.113.9:51820
local 0.0.0.0:51820
tun signsky3
run clear as _signsky
run keying as _signsky-keying
keying-socket /var/run/signsky/keying.sock
keying-owner 100:200
status-socket /var/run/signsky/status.sock
status-owner 100:200
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Peer != netip.MustParseAddrPort("203.0.113.9:51820") {
		t.Fatalf("Peer = %v", cfg.Peer)
	}
	if cfg.Local != netip.MustParseAddrPort("0.0.0.0:51820") {
		t.Fatalf("Local = %v", cfg.Local)
	}
	if cfg.Tun != "signsky3" {
		t.Fatalf("Tun = %q", cfg.Tun)
	}
	if cfg.RunAs["clear"] != "_signsky" {
		t.Fatalf("RunAs[clear] = %q", cfg.RunAs["clear"])
	}
	if cfg.RunAs["keying"] != "_signsky-keying" {
		t.Fatalf("RunAs[keying] = %q", cfg.RunAs["keying"])
	}
	if cfg.KeyingSocket != "/var/run/signsky/keying.sock" {
		t.Fatalf("KeyingSocket = %q", cfg.KeyingSocket)
	}
	if cfg.KeyingOwner != (Owner{UID: 100, GID: 200}) {
		t.Fatalf("KeyingOwner = %+v", cfg.KeyingOwner)
	}
	if cfg.StatusSocket != "/var/run/signsky/status.sock" {
		t.Fatalf("StatusSocket = %q", cfg.StatusSocket)
	}
}

func TestTunDefaultsWhenUnset(t *testing.T) {
	path := writeTemp(t, "local 0.0.0.0:51820\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tun != DefaultTun {
		t.Fatalf("Tun = %q, want default %q", cfg.Tun, DefaultTun)
	}
}

func TestUnknownOptionRejected(t *testing.T) {
	path := writeTemp(t, "bogus value\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown option")
	}
}

func TestMalformedRunRejected(t *testing.T) {
	path := writeTemp(t, "run clear\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a malformed run directive")
	}
}

func TestDuplicateRunAsRejected(t *testing.T) {
	path := writeTemp(t, "run clear as a\nrun clear as b\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a duplicate run directive")
	}
}

func TestMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
