// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Broker Tests
// ============================================================

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker(4)
	first, unsubFirst := b.Subscribe()
	second, unsubSecond := b.Subscribe()
	defer unsubFirst()
	defer unsubSecond()

	b.Publish(Event{Kind: EventStatus, Name: EventReadNote})

	for _, ch := range []<-chan Event{first, second} {
		ev := <-ch
		assert.Equal(t, EventStatus, ev.Kind)
		assert.Equal(t, EventReadNote, ev.Name)
		assert.False(t, ev.Time.IsZero(), "publish stamps the event time")
	}
}

func TestBroker_FullSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker(1)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(Event{Kind: EventTrace})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(4), b.Dropped())
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := NewBroker(4)
	ch, unsubscribe := b.Subscribe()
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)

	b.Publish(Event{Kind: EventTrace})
	assert.Zero(t, b.Dropped())
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker(0)
	ch, unsubscribe := b.Subscribe()
	b.Close()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)
	unsubscribe()

	late, _ := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscriptions after close are closed")
}

func TestEventKindAndDirectionNames(t *testing.T) {
	assert.Equal(t, "status", EventStatus.String())
	assert.Equal(t, "trace", EventTrace.String())
	assert.Equal(t, "error", EventError.String())
	assert.Equal(t, "unknown", EventKind(9).String())
	assert.Equal(t, "TX", DirectionTx.String())
	assert.Equal(t, "RX", DirectionRx.String())
}

// ============================================================
// Capture Tests
// ============================================================

func TestCapture_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewCaptureWriter(&buf)

	now := time.Now()
	poll := []byte{0x7F, 0x80, 0x01, 0x07, 0x12, 0x02}
	reply := []byte{0x7F, 0x80, 0x01, 0xF0, 0x23, 0x80}

	require.NoError(t, w.WriteEvent(Event{Kind: EventTrace, Time: now, Name: CmdPoll, Direction: DirectionTx, Frame: poll}))
	require.NoError(t, w.WriteEvent(Event{Kind: EventStatus, Name: EventReadNote}))
	require.NoError(t, w.WriteEvent(Event{Kind: EventTrace, Time: now, Direction: DirectionRx, Frame: reply}))

	r := NewCaptureReader(&buf)

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, DirectionTx, rec.Direction)
	assert.Equal(t, CmdPoll, rec.Command)
	assert.Equal(t, poll, rec.Frame)
	assert.Equal(t, now.UnixNano(), rec.Timestamp().UnixNano())

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, DirectionRx, rec.Direction)
	assert.Empty(t, rec.Command)
	assert.Equal(t, reply, rec.Frame)

	_, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestCapture_TruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewCaptureWriter(&buf)
	require.NoError(t, w.Write(CaptureRecord{Time: 1, Direction: DirectionTx, Frame: []byte{1, 2, 3}}))

	data := buf.Bytes()
	r := NewCaptureReader(bytes.NewReader(data[:len(data)-1]))
	_, err := r.Next()
	require.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF))
}
