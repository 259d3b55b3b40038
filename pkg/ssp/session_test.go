// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 200 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

func newTestClient(t *testing.T, port Port, cfg Config) *Client {
	t.Helper()
	client, err := NewClient(port, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// ============================================================
// Command Tests
// ============================================================

func TestClient_SyncAndSequence(t *testing.T) {
	device := newSimDevice()
	port := device.port()

	var seqs []byte
	inner := port.handler
	port.handler = func(frame []byte) [][]byte {
		seqs = append(seqs, frame[1])
		return inner(frame)
	}

	client := newTestClient(t, port, testConfig())
	ctx := context.Background()

	for _, cmd := range []string{CmdSync, CmdGetSerialNumber, CmdSync, CmdSync, CmdDisplayOn} {
		_, err := client.Command(ctx, cmd, nil)
		require.NoError(t, err, cmd)
	}

	// SYNC always goes out with the high bit, every success toggles it
	assert.Equal(t, []byte{0x80, 0x00, 0x80, 0x80, 0x00}, seqs)
	assert.Equal(t, byte(SequenceInitial), client.State().Sequence)
}

func TestClient_CommandResult(t *testing.T) {
	device := newSimDevice()
	client := newTestClient(t, device.port(), testConfig())

	result, err := client.Command(context.Background(), "get_serial_number", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "OK", result.Status)
	serial, _ := result.Info.Uint("serial_number")
	assert.Equal(t, uint64(123456), serial)
}

func TestClient_UnitDataUpdatesState(t *testing.T) {
	device := newSimDevice()
	client := newTestClient(t, device.port(), testConfig())

	_, err := client.Command(context.Background(), CmdHostProtocolVersion, Args{"version": 6})
	require.NoError(t, err)
	_, err = client.Command(context.Background(), CmdUnitData, nil)
	require.NoError(t, err)

	state := client.State()
	assert.Equal(t, 6, state.ProtocolVersion)
	assert.Equal(t, UnitSmartPayout, state.UnitType)
}

func TestClient_UnknownCommand(t *testing.T) {
	client := newTestClient(t, newSimDevice().port(), testConfig())

	_, err := client.Command(context.Background(), "LAUNCH_ROCKET", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "LAUNCH_ROCKET", ce.Command)
}

func TestClient_LocalValidation(t *testing.T) {
	device := newSimDevice()
	port := device.port()
	client := newTestClient(t, port, testConfig())
	ctx := context.Background()

	_, err := client.Command(ctx, CmdSetChannelInhibits, nil)
	assert.ErrorIs(t, err, ErrArgsMissing)

	_, err = client.Command(ctx, CmdPayoutAmount, Args{"amount": 100})
	assert.ErrorIs(t, err, ErrEncryptionRequired)

	assert.Zero(t, port.writes.Load())
}

func TestClient_CancelledContext(t *testing.T) {
	port := newSimDevice().port()
	client := newTestClient(t, port, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Command(ctx, CmdSync, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, port.writes.Load())
}

func TestClient_AlreadyProcessing(t *testing.T) {
	device := newSimDevice()
	device.block = make(chan struct{})
	client := newTestClient(t, device.port(), testConfig())

	done := make(chan error, 1)
	go func() {
		_, err := client.Command(context.Background(), CmdSync, nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return client.State().Processing }, time.Second, time.Millisecond)

	_, err := client.Command(context.Background(), CmdPoll, nil)
	assert.ErrorIs(t, err, ErrAlreadyProcessing)

	close(device.block)
	assert.NoError(t, <-done)
	assert.False(t, client.State().Processing)
	assert.Equal(t, []string{CmdSync}, device.sent())
}

// ============================================================
// Retry Tests
// ============================================================

func TestClient_MaxAttemptsOnTransportError(t *testing.T) {
	port := newSimDevice().port()
	port.writeErr = errWire
	client := newTestClient(t, port, testConfig())

	_, err := client.Command(context.Background(), CmdSync, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, int32(MaxAttempts), port.writes.Load())

	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, MaxAttempts, ce.Attempts)
	assert.False(t, client.State().Processing)
}

func TestClient_TimeoutRetriesIdenticalFrame(t *testing.T) {
	device := newSimDevice()
	device.silent = true
	port := device.port()

	var frames [][]byte
	inner := port.handler
	port.handler = func(frame []byte) [][]byte {
		frames = append(frames, frame)
		return inner(frame)
	}

	cfg := testConfig()
	cfg.Timeout = 5 * time.Millisecond
	cfg.MaxAttempts = 3
	client := newTestClient(t, port, cfg)

	_, err := client.Command(context.Background(), CmdSync, nil)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, ErrTimeout)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, 3, oopsErr.Context()["attempts"])
	assert.Equal(t, CmdSync, oopsErr.Context()["command"])
	require.Len(t, frames, 3)
	assert.Equal(t, frames[0], frames[1])
	assert.Equal(t, frames[0], frames[2])

	// No round trip completed, the sequence bit is unchanged
	assert.Equal(t, byte(SequenceInitial), client.State().Sequence)
}

func TestClient_RecoversAfterTimeout(t *testing.T) {
	device := newSimDevice()
	port := device.port()

	var calls int
	inner := port.handler
	port.handler = func(frame []byte) [][]byte {
		calls++
		if calls == 1 {
			return nil
		}
		return inner(frame)
	}

	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	client := newTestClient(t, port, cfg)

	result, err := client.Command(context.Background(), CmdSync, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, calls)
}

func TestClient_SequenceMismatchNotRetried(t *testing.T) {
	device := newSimDevice()
	device.mangle = func(frame []byte) []byte {
		wrong, _ := EncodeFrame(frame[1]^SequenceMask, []byte{StatusOK}, nil)
		return wrong
	}
	port := device.port()
	client := newTestClient(t, port, testConfig())

	_, err := client.Command(context.Background(), CmdSync, nil)
	assert.ErrorIs(t, err, ErrSequenceMismatch)
	assert.Equal(t, int32(1), port.writes.Load())
	assert.Equal(t, byte(SequenceInitial), client.State().Sequence)
}

func TestClient_CrcMismatchReturnsResult(t *testing.T) {
	device := newSimDevice()
	device.mangle = func(frame []byte) []byte {
		frame[len(frame)-1] ^= 0x01
		return frame
	}
	port := device.port()
	client := newTestClient(t, port, testConfig())

	result, err := client.Command(context.Background(), CmdSync, nil)
	assert.ErrorIs(t, err, ErrCrcMismatch)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrCrcMismatch)
	assert.Equal(t, int32(1), port.writes.Load())
}

func TestClient_DeviceRejection(t *testing.T) {
	device := newSimDevice()
	device.replies[0x0A] = []byte{StatusCommandCannotBeProcessed}
	client := newTestClient(t, device.port(), testConfig())

	result, err := client.Command(context.Background(), CmdEnable, nil)
	assert.ErrorIs(t, err, ErrCommandRejected)
	require.NotNil(t, result)
	assert.Equal(t, StatusNameCommandCannotBeProcessed, result.Status)
	assert.False(t, client.Polling())
}

// ============================================================
// Encryption Tests
// ============================================================

func TestClient_InitEncryption(t *testing.T) {
	device := newSimDevice()
	client := newTestClient(t, device.port(), testConfig())
	ctx := context.Background()

	_, err := client.InitEncryption(ctx)
	require.NoError(t, err)
	require.True(t, client.EncryptionActive())
	assert.Equal(t, []string{CmdSetGenerator, CmdSetModulus, CmdRequestKeyExchange}, device.sent())
	assert.Equal(t, device.key, client.key)
	assert.Equal(t, uint32(0), client.State().Counter)

	for i := 1; i <= 3; i++ {
		result, err := client.Command(ctx, CmdPoll, nil)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, uint32(i), client.State().Counter)
	}
	assert.Equal(t, []bool{false, false, false, true, true, true}, device.encrypted)

	// Encryption-only commands are now accepted
	_, err = client.Command(ctx, CmdPayoutAmount, Args{"amount": 100})
	require.NoError(t, err)

	// A second exchange keeps the installed key
	_, err = client.InitEncryption(ctx)
	require.NoError(t, err)
	assert.Equal(t, device.key, client.key)
}

func TestClient_EncryptOnlyFlaggedCommands(t *testing.T) {
	device := newSimDevice()
	cfg := testConfig()
	cfg.EncryptAll = false
	client := newTestClient(t, device.port(), cfg)
	ctx := context.Background()

	_, err := client.InitEncryption(ctx)
	require.NoError(t, err)

	_, err = client.Command(ctx, CmdPoll, nil)
	require.NoError(t, err)
	_, err = client.Command(ctx, CmdHaltPayout, nil)
	require.NoError(t, err)

	assert.Equal(t, []bool{false, false, false, false, true}, device.encrypted)
	assert.Equal(t, uint32(1), client.State().Counter)
}

func TestClient_InitEncryptionFailureInstallsNoKey(t *testing.T) {
	device := newSimDevice()
	device.replies[0x4C] = []byte{StatusFail}
	client := newTestClient(t, device.port(), testConfig())

	_, err := client.InitEncryption(context.Background())
	assert.ErrorIs(t, err, ErrKeyExchangeFailed)
	assert.ErrorIs(t, err, ErrCommandRejected)
	assert.False(t, client.EncryptionActive())

	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CmdRequestKeyExchange, ce.Command)
}

func TestClient_ReplayCounterMismatch(t *testing.T) {
	device := newSimDevice()
	client := newTestClient(t, device.port(), testConfig())
	ctx := context.Background()

	_, err := client.InitEncryption(ctx)
	require.NoError(t, err)
	_, err = client.Command(ctx, CmdPoll, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(1), client.State().Counter)

	// Replay the device's previous reply counter
	device.mangle = func(frame []byte) []byte {
		replayed, _ := EncodeFrame(frame[1], []byte{StatusOK}, &Encryption{Key: device.key, Counter: 1})
		return replayed
	}
	_, err = client.Command(ctx, CmdPoll, nil)
	assert.ErrorIs(t, err, ErrReplayCounterMismatch)
	assert.Equal(t, uint32(1), client.State().Counter)
}

func TestClient_ResetEncryption(t *testing.T) {
	device := newSimDevice()
	client := newTestClient(t, device.port(), testConfig())

	_, err := client.InitEncryption(context.Background())
	require.NoError(t, err)
	client.ResetEncryption()
	assert.False(t, client.EncryptionActive())
	assert.Zero(t, client.State().Counter)
}

// ============================================================
// Polling Tests
// ============================================================

func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "subscription closed")
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
			return Event{}
		}
	}
}

func TestClient_EnablePollsAndPublishes(t *testing.T) {
	device := newSimDevice()
	device.queueEvents([]byte{0xEF, 0x02}, []byte{0xEE, 0x02})
	client := newTestClient(t, device.port(), testConfig())

	events, unsubscribe := client.Events().Subscribe()
	defer unsubscribe()

	_, err := client.Enable(context.Background())
	require.NoError(t, err)
	assert.True(t, client.Polling())
	assert.True(t, client.State().Enabled)

	ev := waitEvent(t, events, EventStatus)
	assert.Equal(t, "READ_NOTE", ev.Name)
	require.NotNil(t, ev.Poll)
	assert.Equal(t, 2, ev.Poll.Info["channel"])

	ev = waitEvent(t, events, EventStatus)
	assert.Equal(t, "CREDIT_NOTE", ev.Name)

	_, err = client.Disable(context.Background())
	require.NoError(t, err)
	assert.False(t, client.Polling())
	assert.False(t, client.State().Enabled)

	sent := device.sent()
	assert.Equal(t, CmdEnable, sent[0])
	assert.Equal(t, CmdDisable, sent[len(sent)-1])
	for _, cmd := range sent[1 : len(sent)-1] {
		assert.Equal(t, CmdPoll, cmd)
	}
}

func TestClient_PollWithAck(t *testing.T) {
	device := newSimDevice()
	device.queueEvents([]byte{0xE8})
	cfg := testConfig()
	cfg.PollWithAck = true
	client := newTestClient(t, device.port(), cfg)

	events, unsubscribe := client.Events().Subscribe()
	defer unsubscribe()

	_, err := client.Enable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventDisabled, waitEvent(t, events, EventStatus).Name)
	require.NoError(t, client.StopPolling())

	assert.Contains(t, device.sent(), CmdPollWithAck)
	assert.Contains(t, device.sent(), CmdEventAck)
}

func TestClient_PollFailureHaltsLoop(t *testing.T) {
	device := newSimDevice()
	cfg := testConfig()
	cfg.Timeout = 5 * time.Millisecond
	cfg.MaxAttempts = 2
	client := newTestClient(t, device.port(), cfg)

	events, unsubscribe := client.Events().Subscribe()
	defer unsubscribe()

	_, err := client.Enable(context.Background())
	require.NoError(t, err)

	device.mu.Lock()
	device.silent = true
	device.mu.Unlock()

	ev := waitEvent(t, events, EventError)
	assert.ErrorIs(t, ev.Err, ErrMaxRetriesExceeded)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = client.WaitPolling(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, client.Polling())

	// Polling can be restarted once the device answers again
	device.mu.Lock()
	device.silent = false
	device.mu.Unlock()
	client.StartPolling()
	assert.True(t, client.Polling())
	assert.NoError(t, client.StopPolling())
}

func TestClient_DisableReturnsPollFailure(t *testing.T) {
	device := newSimDevice()
	cfg := testConfig()
	cfg.Timeout = 5 * time.Millisecond
	cfg.MaxAttempts = 2
	client := newTestClient(t, device.port(), cfg)

	events, unsubscribe := client.Events().Subscribe()
	defer unsubscribe()

	_, err := client.Enable(context.Background())
	require.NoError(t, err)

	device.mu.Lock()
	device.silent = true
	device.mu.Unlock()
	waitEvent(t, events, EventError)

	device.mu.Lock()
	device.silent = false
	device.mu.Unlock()

	result, err := client.Disable(context.Background())
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, ErrTimeout)

	sent := device.sent()
	assert.Equal(t, CmdDisable, sent[len(sent)-1])
	assert.False(t, client.State().Enabled)

	// A clean stop after a fresh start reports nothing
	_, err = client.Enable(context.Background())
	require.NoError(t, err)
	_, err = client.Disable(context.Background())
	assert.NoError(t, err)
}

func TestClient_StopPollingDrainsInFlightPoll(t *testing.T) {
	device := newSimDevice()
	port := device.port()

	var hold atomic.Bool
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	inner := port.handler
	port.handler = func(frame []byte) [][]byte {
		if hold.Load() {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
		}
		return inner(frame)
	}

	client := newTestClient(t, port, testConfig())
	_, err := client.Enable(context.Background())
	require.NoError(t, err)

	hold.Store(true)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("no poll reached the device")
	}

	countPolls := func() int {
		n := 0
		for _, name := range device.sent() {
			if name == CmdPoll {
				n++
			}
		}
		return n
	}
	polls := countPolls()

	stopped := make(chan error, 1)
	go func() { stopped <- client.StopPolling() }()

	assert.Never(t, func() bool { return len(stopped) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.True(t, client.State().Processing)

	close(release)
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StopPolling did not return")
	}

	assert.Equal(t, polls+1, countPolls())
	assert.False(t, client.Polling())
	assert.False(t, client.State().Processing)
}

func TestClient_PollCadence(t *testing.T) {
	device := newSimDevice()
	port := device.port()

	var stamps []time.Time
	inner := port.handler
	port.handler = func(frame []byte) [][]byte {
		stamps = append(stamps, time.Now())
		return inner(frame)
	}

	cfg := testConfig()
	cfg.PollInterval = 40 * time.Millisecond
	client := newTestClient(t, port, cfg)

	client.StartPolling()
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, client.StopPolling())

	require.GreaterOrEqual(t, len(stamps), 3)
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 30*time.Millisecond)
	}
}

func TestClient_TraceEvents(t *testing.T) {
	device := newSimDevice()
	client := newTestClient(t, device.port(), testConfig())

	events, unsubscribe := client.Events().Subscribe()
	defer unsubscribe()

	_, err := client.Command(context.Background(), CmdSync, nil)
	require.NoError(t, err)

	tx := waitEvent(t, events, EventTrace)
	assert.Equal(t, DirectionTx, tx.Direction)
	assert.Equal(t, CmdSync, tx.Name)
	sent, err := ParsePacket(tx.Frame)
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), sent.Code())
	rx := waitEvent(t, events, EventTrace)
	assert.Equal(t, DirectionRx, rx.Direction)

	stats := client.Statistics()
	assert.Equal(t, uint64(1), stats.TotalPackets)
	assert.Equal(t, uint64(1), stats.ValidPackets)
}

func TestClient_CloseEndsSubscriptions(t *testing.T) {
	client, err := NewClient(newSimDevice().port(), testConfig())
	require.NoError(t, err)
	events, _ := client.Events().Subscribe()

	require.NoError(t, client.Close())
	_, ok := <-events
	assert.False(t, ok)

	_, err = client.Command(context.Background(), CmdSync, nil)
	assert.True(t, errors.Is(err, ErrClosed) || errors.Is(err, ErrTransport))
}

func TestClient_CloseInterruptsRetries(t *testing.T) {
	device := newSimDevice()
	cfg := testConfig()
	cfg.Timeout = 2 * time.Second
	client, err := NewClient(device.port(), cfg)
	require.NoError(t, err)

	_, err = client.Enable(context.Background())
	require.NoError(t, err)

	device.mu.Lock()
	device.silent = true
	device.mu.Unlock()
	require.Eventually(t, func() bool { return client.State().Processing }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, client.Close())
	assert.Less(t, time.Since(start), cfg.Timeout)
	assert.False(t, client.Polling())
}

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Address = 0x80
	_, err := NewClient(newSimDevice().port(), cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.FixedKey = "abc"
	_, err = NewClient(newSimDevice().port(), cfg)
	assert.Error(t, err)
}
