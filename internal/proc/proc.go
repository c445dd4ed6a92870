// Package proc supervises signsky's worker stages.
//
// The original forks one OS process per stage (signsky_proc_create)
// and has its parent wait on all of them (signsky_proc_reap): the
// moment any child dies, the parent signals every survivor and exits
// itself rather than limping along with a tunnel missing one of its
// stages. Here each stage is a goroutine instead of a process, and
// golang.org/x/sync/errgroup gives the same all-or-nothing shutdown
// for free — the first stage to return cancels the shared context
// every other stage is watching.
package proc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Stage is one named long-running worker the supervisor manages.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor runs a fixed set of stages concurrently.
type Supervisor struct {
	Stages []Stage
}

// Run starts every stage and blocks until all of them have stopped,
// either because one returned (successfully or not, taking the rest
// down with it) or because ctx was cancelled, including by SIGINT or
// SIGTERM. It returns the first non-nil error any stage produced.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	for _, st := range s.Stages {
		st := st
		g.Go(func() error {
			defer cancel()
			err := st.Run(gctx)
			if err != nil {
				slog.Error("proc: stage exited", "stage", st.Name, "error", err)
				return fmt.Errorf("%s: %w", st.Name, err)
			}
			slog.Info("proc: stage stopped", "stage", st.Name)
			return nil
		})
	}

	return g.Wait()
}
