// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package consumer implements the Event Consumer component of spec.md
// §4.5: the single goroutine that polls the ring, forwards every event to
// the correlator's statistics and flow tracking, and — unless quiet mode
// suppresses it — to the streaming reporter.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/platformbuilds/ioamp/internal/correlator"
	"github.com/platformbuilds/ioamp/internal/events"
	"github.com/platformbuilds/ioamp/internal/report"
	"github.com/platformbuilds/ioamp/internal/ring"
	"github.com/platformbuilds/ioamp/internal/selftelemetry"
)

// Consumer owns the ring-draining loop. It is the only goroutine that
// reads from the ring, matching spec.md §4.4's single-consumer design.
type Consumer struct {
	ring       *ring.Ring
	correlator *correlator.Correlator
	streamer   *report.Streamer // nil in quiet mode
	st         *selftelemetry.Metrics
	log        *slog.Logger

	received uint64
}

func New(r *ring.Ring, c *correlator.Correlator, streamer *report.Streamer, st *selftelemetry.Metrics, log *slog.Logger) *Consumer {
	return &Consumer{ring: r, correlator: c, streamer: streamer, st: st, log: log.With("component", "consumer")}
}

// Run polls the ring until ctx is cancelled, draining any remaining ready
// events before returning — the bounded drain spec.md §7's shutdown
// sequence requires so a cancelled trace doesn't silently lose events still
// sitting in the ring.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.drain()
			return
		default:
		}

		ev, ok := c.ring.PopTimeout(100 * time.Millisecond)
		if !ok {
			continue
		}
		c.handle(ev)
	}
}

func (c *Consumer) drain() {
	for {
		ev, ok := c.ring.Pop()
		if !ok {
			return
		}
		c.handle(ev)
	}
}

// handle updates the correlator and, in non-quiet mode, writes the
// streaming line for a single event.
func (c *Consumer) handle(ev events.Event) {
	c.received++
	c.correlator.Ingest(ev)
	if c.st != nil {
		c.st.RingEventsReceived.Inc()
	}
	if c.streamer != nil {
		if err := c.streamer.Write(ev); err != nil {
			c.log.Warn("failed to write streamed event", "error", err)
		}
	}
}

// Received returns the number of events this consumer has processed.
func (c *Consumer) Received() uint64 { return c.received }
