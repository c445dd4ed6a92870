// Package privsep defines the collaborator interface a stage calls
// once at startup to drop privileges.
//
// The original forks one OS process per stage and calls setgroups/
// setgid/setuid inside signsky_proc_privsep, using the uid/gid looked
// up for the "run <stage> as <user>" config directive. A goroutine has
// no process-level identity to drop — all goroutines in a Go binary
// share one uid/gid — so an actual privilege drop only makes sense for
// an embedder that also separates stages into OS processes. Dropper is
// that extension point: the daemon calls it for each configured stage,
// but within this module it is satisfied by a no-op that only logs
// what it would have done.
package privsep

import "log/slog"

// Dropper is called once per configured stage, before any stage starts
// processing packets, with the name of the stage and the user it
// should run as (as configured via "run <stage> as <user>").
type Dropper interface {
	Drop(stage, user string) error
}

// NoOp is the default Dropper: it logs the request and does nothing
// else. It is what this module ships; an embedder running stages as
// separate OS processes supplies its own Dropper that actually calls
// into setuid/chroot or a container-native equivalent.
type NoOp struct {
	Logger *slog.Logger
}

// Drop logs the requested privilege drop and always succeeds.
func (n NoOp) Drop(stage, user string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("privsep: drop requested (no-op)", "stage", stage, "user", user)
	return nil
}
