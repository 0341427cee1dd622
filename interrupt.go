package portforward

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Interrupt is a one-way flag set when the operator asks the program to stop.
// Setting it is safe from any goroutine; it never resets.
type Interrupt struct {
	triggered atomic.Bool
}

// Trigger sets the flag.
func (i *Interrupt) Trigger() {
	i.triggered.Store(true)
}

// Triggered reports whether the flag has been set.
func (i *Interrupt) Triggered() bool {
	return i.triggered.Load()
}

// NotifyOnSignal sets the flag when any of sigs arrives. The returned stop
// function releases the signal handler.
func (i *Interrupt) NotifyOnSignal(sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			i.Trigger()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// Wait blocks until the flag is set, polling every interval on clk. It
// returns ctx.Err() if ctx ends first.
func (i *Interrupt) Wait(ctx context.Context, clk clock.Clock, interval time.Duration) error {
	if i.Triggered() {
		return nil
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if i.Triggered() {
				return nil
			}
		}
	}
}
