// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// SessionState is a snapshot of a Client's protocol state
type SessionState struct {
	Sequence        byte
	Counter         uint32
	Enabled         bool
	Polling         bool
	Processing      bool
	Encrypted       bool
	ProtocolVersion int
	UnitType        string
}

// Option configures a Client
type Option func(*Client)

// WithCodec replaces the default argument codec
func WithCodec(codec ArgCodec) Option {
	return func(c *Client) {
		c.codec = codec
	}
}

// WithLogger replaces the package logger
func WithLogger(entry *logrus.Entry) Option {
	return func(c *Client) {
		c.log = entry
	}
}

// WithRandom replaces the entropy source used for padding
func WithRandom(r io.Reader) Option {
	return func(c *Client) {
		c.random = r
	}
}

// Client is the session engine for one SSP device. It owns the sequence
// bit, the encryption counter and key, and guarantees at most one command
// is in flight.
type Client struct {
	cfg      Config
	port     Port
	codec    ArgCodec
	log      *logrus.Entry
	random   io.Reader
	fixedKey []byte
	events   *Broker
	stats    *Statistics

	inflight sync.Mutex // held for one whole command, TryLock only
	mu       sync.Mutex // guards state, keys and key
	idle     *sync.Cond
	state    SessionState
	keys     *KeyMaterial
	key      []byte

	frames     chan []byte
	rxErrs     chan error
	closed     chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once

	polling    atomic.Bool
	pollMu     sync.Mutex
	pollCancel context.CancelFunc
	pollDone   chan struct{}
	pollErr    error
}

// NewClient starts a session over port. The client reads from port until
// Close is called.
func NewClient(port Port, cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fixedKey, err := ParseFixedKey(cfg.FixedKey)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		port:       port,
		codec:      DefaultCodec{},
		log:        log,
		fixedKey:   fixedKey,
		events:     NewBroker(cfg.EventBuffer),
		stats:      NewStatistics(),
		frames:     make(chan []byte, 16),
		rxErrs:     make(chan error, 4),
		closed:     make(chan struct{}),
		readerDone: make(chan struct{}),
		state:      SessionState{Sequence: SequenceInitial},
	}
	c.idle = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("address", fmt.Sprintf("0x%02X", cfg.Address))

	go c.readLoop()
	return c, nil
}

// Config returns the effective configuration
func (c *Client) Config() Config {
	return c.cfg
}

// Events returns the client's event broker
func (c *Client) Events() *Broker {
	return c.events
}

// Statistics returns a snapshot of received frame statistics
func (c *Client) Statistics() *Statistics {
	return c.stats.Snapshot()
}

// State returns a snapshot of the session state
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Polling = c.polling.Load()
	s.Encrypted = c.key != nil
	return s
}

// EncryptionActive reports whether a session key is installed
func (c *Client) EncryptionActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key != nil
}

// ResetEncryption discards the session key and key material, for use
// after the device has reset
func (c *Client) ResetEncryption() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = nil
	c.key = nil
	c.state.Counter = 0
}

// Close stops polling, closes the port and ends every subscription. A
// command waiting on a reply returns ErrClosed at once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if perr := c.StopPolling(); perr != nil && !errors.Is(perr, ErrClosed) {
			c.log.WithError(perr).Debug("polling had stopped with an error")
		}
		err = c.port.Close()
		<-c.readerDone
		c.events.Close()
	})
	return err
}

// readLoop feeds received bytes through the frame decoder
func (c *Client) readLoop() {
	defer close(c.readerDone)

	decoder := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := c.port.Read(buf)
		for _, frame := range decoder.Decode(buf[:n]) {
			c.deliver(frame)
		}
		if err == nil {
			continue
		}

		select {
		case <-c.closed:
			return
		default:
		}
		if errors.Is(err, io.EOF) {
			if partial := decoder.Flush(); partial != nil {
				c.deliver(partial)
			}
			c.log.Debug("transport reached end of stream")
			return
		}

		c.log.WithError(err).Warn("transport read failed")
		select {
		case c.rxErrs <- err:
		default:
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (c *Client) deliver(frame []byte) {
	packet, err := ParsePacket(frame)
	var anomalies []ValidationError
	if err == nil {
		anomalies = ValidatePacket(packet)
	}
	c.stats.Update(packet, err, anomalies)

	c.events.Publish(Event{Kind: EventTrace, Direction: DirectionRx, Frame: frame})

	select {
	case c.frames <- frame:
	default:
		c.log.WithField("frame", fmt.Sprintf("% X", frame)).Warn("no command waiting, frame dropped")
	}
}

// drainFrames discards frames that arrived outside a request
func (c *Client) drainFrames() {
	for {
		select {
		case frame := <-c.frames:
			c.log.WithField("frame", fmt.Sprintf("% X", frame)).Debug("discarding stale frame")
		case <-c.rxErrs:
		default:
			return
		}
	}
}

// Command sends one command and waits for its reply. Only one command may
// be in flight; a concurrent call fails with ErrAlreadyProcessing. ctx is
// honoured before the first transmission, after that the retry budget
// bounds the call.
func (c *Client) Command(ctx context.Context, name string, args Args) (*Result, error) {
	name = strings.ToUpper(name)
	desc, ok := LookupCommand(name)
	if !ok {
		return nil, commandError(name, 0, oops.In("session").Wrapf(ErrUnknownCommand, "%q", name))
	}
	if !c.inflight.TryLock() {
		return nil, commandError(name, 0, ErrAlreadyProcessing)
	}
	defer c.inflight.Unlock()
	c.setProcessing(true)
	defer c.setProcessing(false)

	if err := ctx.Err(); err != nil {
		return nil, commandError(name, 0, err)
	}

	c.mu.Lock()
	if name == CmdSync {
		c.state.Sequence = SequenceInitial
	}
	if name == CmdHostProtocolVersion {
		if v, ok := args.Int("version"); ok {
			c.state.ProtocolVersion = int(v)
		}
	}
	protocolVersion := c.state.ProtocolVersion
	c.mu.Unlock()

	argBytes, err := c.codec.Encode(name, args, protocolVersion)
	if err != nil {
		return nil, commandError(name, 0, err)
	}

	frame, seqID, err := c.buildFrame(desc, argBytes)
	if err != nil {
		return nil, commandError(name, 0, err)
	}

	raw, attempts, err := c.transact(name, frame)
	if err != nil {
		return nil, commandError(name, attempts, err)
	}
	return c.handleReply(name, seqID, raw, attempts)
}

func (c *Client) buildFrame(desc Descriptor, args []byte) ([]byte, byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seqID := SeqID(c.cfg.Address, c.state.Sequence)
	var enc *Encryption
	if c.key != nil && (desc.RequiresEncryption || c.cfg.EncryptAll) {
		enc = &Encryption{Key: c.key, Counter: c.state.Counter, Random: c.random}
	}
	frame, err := BuildFrame(desc, args, seqID, enc)
	return frame, seqID, err
}

// transact writes frame and waits for a reply, resending the identical
// frame after a timeout or transport error
func (c *Client) transact(name string, frame []byte) ([]byte, int, error) {
	c.drainFrames()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		raw, err := c.attempt(name, frame)
		if err == nil {
			return raw, attempt, nil
		}
		if errors.Is(err, ErrClosed) {
			return nil, attempt, err
		}
		lastErr = err
		c.log.WithFields(logrus.Fields{
			"command": name,
			"attempt": attempt,
		}).WithError(err).Debug("attempt failed")
	}
	return nil, c.cfg.MaxAttempts, oops.In("session").
		With("command", name).
		With("attempts", c.cfg.MaxAttempts).
		Join(ErrMaxRetriesExceeded, lastErr)
}

func (c *Client) attempt(name string, frame []byte) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}

	c.events.Publish(Event{Kind: EventTrace, Name: name, Direction: DirectionTx, Frame: unstuffFrame(frame)})
	c.log.WithFields(logrus.Fields{
		"command": name,
		"frame":   fmt.Sprintf("% X", frame),
	}).Trace("tx")

	if _, err := c.port.Write(frame); err != nil {
		return nil, oops.In("transport").Wrapf(ErrTransport, "write: %v", err)
	}
	if err := c.port.Drain(); err != nil {
		return nil, oops.In("transport").Wrapf(ErrTransport, "drain: %v", err)
	}

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	select {
	case raw := <-c.frames:
		return raw, nil
	case err := <-c.rxErrs:
		return nil, oops.In("transport").Wrapf(ErrTransport, "read: %v", err)
	case <-c.readerDone:
		return nil, oops.In("transport").Wrapf(ErrTransport, "connection closed")
	case <-c.closed:
		return nil, ErrClosed
	case <-timer.C:
		return nil, oops.In("session").With("timeout", c.cfg.Timeout).Wrapf(ErrTimeout, "%s", c.cfg.Timeout)
	}
}

// handleReply validates the echoed sequence, extracts and decodes the
// payload and applies the session side effects of the command
func (c *Client) handleReply(name string, seqID byte, raw []byte, attempts int) (*Result, error) {
	if len(raw) < 2 || raw[1] != seqID {
		received := -1
		if len(raw) >= 2 {
			received = int(raw[1])
		}
		return nil, commandError(name, attempts, oops.In("session").
			With("expected", seqID).
			With("received", received).
			Wrapf(ErrSequenceMismatch, "expected SEQ_ID 0x%02X", seqID))
	}

	c.mu.Lock()
	payload, counter, err := ExtractPayload(raw, c.state.Counter, c.key)
	if err != nil {
		c.mu.Unlock()
		return &Result{Command: name, Status: StatusNameUndefined, Info: Info{}, Err: err}, commandError(name, attempts, err)
	}
	c.state.Counter = counter
	c.state.Sequence ^= SequenceMask
	protocolVersion, unitType := c.state.ProtocolVersion, c.state.UnitType
	c.mu.Unlock()

	result := c.codec.Decode(payload, name, protocolVersion, unitType)
	if result.Err != nil {
		return result, commandError(name, attempts, result.Err)
	}
	if !result.Success {
		err := oops.In("session").
			With("status", result.Status).
			With("info", result.Info).
			Wrapf(ErrCommandRejected, "%s", result.Status)
		result.Err = err
		return result, commandError(name, attempts, err)
	}

	switch name {
	case CmdRequestKeyExchange:
		peer, _ := result.Info.Bytes("key")
		if err := c.installKey(peer); err != nil {
			result.Err = err
			return result, commandError(name, attempts, err)
		}
	case CmdSetupRequest, CmdUnitData:
		c.mu.Lock()
		if v, ok := result.Info.Int("protocol_version"); ok && name == CmdSetupRequest {
			c.state.ProtocolVersion = int(v)
		}
		if ut, ok := result.Info.String("unit_type"); ok {
			c.state.UnitType = ut
		}
		c.mu.Unlock()
	}

	return result, nil
}

// installKey derives and installs the session key once. A second call
// while a key is installed is a no-op.
func (c *Client) installKey(peerInter []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != nil {
		return nil
	}
	if c.keys == nil {
		return oops.In("keys").Wrapf(ErrKeyExchangeFailed, "no host key material")
	}
	key, shared, err := DeriveSharedKey(peerInter, c.keys.HostRandom, c.keys.Modulus, c.fixedKey)
	if err != nil {
		return err
	}
	c.keys.PeerInter = new(big.Int).SetBytes(reverseBytes(peerInter[:8]))
	c.keys.SharedKey = shared
	c.key = key
	c.state.Counter = 0
	c.log.Debug("session key installed")
	return nil
}

// InitEncryption runs the key exchange: SET_GENERATOR, SET_MODULUS and
// REQUEST_KEY_EXCHANGE. The session key is installed only when all three
// succeed. It does nothing when a key is already installed.
func (c *Client) InitEncryption(ctx context.Context) (*Result, error) {
	if c.EncryptionActive() {
		return nil, nil
	}

	keys, err := GenerateHostKeys(c.cfg.KeyBits)
	if err != nil {
		return nil, commandError(CmdSetGenerator, 0, err)
	}
	c.mu.Lock()
	c.keys = keys
	c.mu.Unlock()

	steps := []struct {
		command string
		value   *big.Int
	}{
		{CmdSetGenerator, keys.Generator},
		{CmdSetModulus, keys.Modulus},
		{CmdRequestKeyExchange, keys.HostInter},
	}

	var result *Result
	for _, step := range steps {
		result, err = c.Command(ctx, step.command, Args{"key": step.value.Uint64()})
		if err != nil {
			c.mu.Lock()
			c.keys = nil
			c.mu.Unlock()

			attempts := 0
			var ce *CommandError
			if errors.As(err, &ce) {
				attempts, err = ce.Attempts, ce.Err
			}
			return result, &CommandError{
				Command:  step.command,
				Attempts: attempts,
				Err:      fmt.Errorf("%w: %w", ErrKeyExchangeFailed, err),
			}
		}
	}
	return result, nil
}

// Enable sends ENABLE and starts the polling loop
func (c *Client) Enable(ctx context.Context) (*Result, error) {
	result, err := c.Command(ctx, CmdEnable, nil)
	if err != nil {
		return result, err
	}
	c.mu.Lock()
	c.state.Enabled = true
	c.mu.Unlock()

	c.StartPolling()
	return result, nil
}

// Disable stops polling, waits for any in-flight command to finish and
// sends DISABLE. When polling had halted on a failure, DISABLE is still
// sent and that failure is returned with its result.
func (c *Client) Disable(ctx context.Context) (*Result, error) {
	pollErr := c.StopPolling()
	if pollErr != nil {
		c.log.WithError(pollErr).Warn("polling had stopped with an error")
	}
	if err := c.waitIdle(ctx); err != nil {
		return nil, commandError(CmdDisable, 0, err)
	}

	result, err := c.Command(ctx, CmdDisable, nil)
	if err != nil {
		return result, err
	}
	c.mu.Lock()
	c.state.Enabled = false
	c.mu.Unlock()
	return result, pollErr
}

func (c *Client) setProcessing(v bool) {
	c.mu.Lock()
	c.state.Processing = v
	c.mu.Unlock()
	if !v {
		c.idle.Broadcast()
	}
}

// waitIdle blocks until no command is in flight
func (c *Client) waitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.idle.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state.Processing {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.idle.Wait()
	}
	return nil
}
