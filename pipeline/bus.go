// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package pipeline

import "context"

// DefaultBusBuffer is the event buffer size when none is configured.
const DefaultBusBuffer = 50

// Bus is a bounded multi-producer buffer with one logical subscriber.
// There is no replay and no fan-out.
type Bus struct {
	ch chan Event
}

// NewBus creates a bus with the given buffer capacity.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBusBuffer
	}
	return &Bus{ch: make(chan Event, buffer)}
}

// Publish enqueues an event, blocking while the buffer is full.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the subscriber side.
func (b *Bus) Events() <-chan Event {
	return b.ch
}
