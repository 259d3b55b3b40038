// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventKind classifies events published by a Client
type EventKind int

const (
	EventStatus EventKind = iota // Decoded poll event
	EventTrace                   // Raw frame sent or received
	EventError                   // Polling loop stopped on an error
)

// String returns the kind name
func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventTrace:
		return "trace"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Direction of a traced frame
type Direction uint8

const (
	DirectionTx Direction = iota + 1
	DirectionRx
)

// String returns TX or RX
func (d Direction) String() string {
	if d == DirectionTx {
		return "TX"
	}
	return "RX"
}

// Event is published to every subscriber of a Client
type Event struct {
	Kind      EventKind
	Time      time.Time
	Name      string     // Poll event name, or the command for traces
	Poll      *PollEvent // EventStatus
	Direction Direction  // EventTrace
	Frame     []byte     // EventTrace
	Err       error      // EventError
}

// Broker fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Broker struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	size    int
	dropped atomic.Uint64
	closed  bool
}

// NewBroker creates a broker whose subscriptions buffer size events
func NewBroker(size int) *Broker {
	if size <= 0 {
		size = DefaultEventBuffer
	}
	return &Broker{subs: make(map[int]chan Event), size: size}
}

// Subscribe registers a new subscriber. The returned function removes it
// and closes the channel.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.size)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking
func (b *Broker) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscription
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
