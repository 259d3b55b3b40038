// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"encoding/binary"
	"errors"
	"io"
	"math/big"
	"sync"
	"sync/atomic"
)

// ============================================================
// Simulated Port
// ============================================================

// simPort is an in-memory Port. Every frame written by the host is passed
// to handler and the returned chunks are queued for the host to read.
type simPort struct {
	mu      sync.Mutex
	decoder *Decoder
	handler func(frame []byte) [][]byte

	rx      chan []byte
	closed  chan struct{}
	once    sync.Once
	pending []byte

	writes   atomic.Int32
	writeErr error
}

func newSimPort(handler func(frame []byte) [][]byte) *simPort {
	return &simPort{
		decoder: NewDecoder(),
		handler: handler,
		rx:      make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (p *simPort) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case data := <-p.rx:
			p.pending = data
		case <-p.closed:
			return 0, io.EOF
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *simPort) Write(b []byte) (int, error) {
	p.writes.Add(1)
	if p.writeErr != nil {
		return 0, p.writeErr
	}

	p.mu.Lock()
	frames := p.decoder.Decode(b)
	p.mu.Unlock()

	for _, frame := range frames {
		for _, chunk := range p.handler(frame) {
			if len(chunk) > 0 {
				p.rx <- chunk
			}
		}
	}
	return len(b), nil
}

func (p *simPort) Drain() error {
	return nil
}

func (p *simPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// ============================================================
// Simulated Device
// ============================================================

// simDevice answers SSP commands like a note validator, including the
// device side of the key exchange
type simDevice struct {
	mu sync.Mutex

	fixedKey    []byte
	slaveRandom *big.Int
	generator   *big.Int
	modulus     *big.Int
	key         []byte
	count       uint32

	commands  []string
	encrypted []bool
	events    [][]byte
	replies   map[byte][]byte

	// Hooks for fault injection
	mangle func(frame []byte) []byte
	block  chan struct{}
	silent bool
}

func newSimDevice() *simDevice {
	fixed, _ := ParseFixedKey(DefaultFixedKey)
	return &simDevice{
		fixedKey:    fixed,
		slaveRandom: big.NewInt(4721),
		replies:     map[byte][]byte{},
	}
}

func (d *simDevice) port() *simPort {
	return newSimPort(d.handle)
}

func (d *simDevice) queueEvents(events ...[]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, events...)
}

func (d *simDevice) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func (d *simDevice) handle(frame []byte) [][]byte {
	d.mu.Lock()
	block, silent := d.block, d.silent
	d.mu.Unlock()
	if block != nil {
		<-block
	}
	if silent {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	packet, err := ParsePacket(frame)
	if err != nil {
		return nil
	}

	data := packet.Data()
	var enc *Encryption
	if packet.Encrypted() {
		plain, err := openSubPacket(d.key, d.count, data[1:])
		if err != nil {
			return nil
		}
		data = plain
		d.count++
		enc = &Encryption{Key: d.key, Counter: d.count}
	}

	desc, _ := LookupCommandCode(data[0])
	d.commands = append(d.commands, desc.Name)
	d.encrypted = append(d.encrypted, enc != nil)

	reply, err := EncodeFrame(packet.SeqID(), d.reply(desc, data[1:]), enc)
	if err != nil {
		return nil
	}
	if d.mangle != nil {
		reply = d.mangle(reply)
	}
	return [][]byte{reply}
}

// reply must be called with mu held
func (d *simDevice) reply(desc Descriptor, args []byte) []byte {
	if r, ok := d.replies[desc.Code]; ok {
		return r
	}

	switch desc.Name {
	case CmdSetGenerator:
		d.generator = new(big.Int).SetUint64(binary.LittleEndian.Uint64(args))
	case CmdSetModulus:
		d.modulus = new(big.Int).SetUint64(binary.LittleEndian.Uint64(args))
	case CmdRequestKeyExchange:
		if d.generator == nil || d.modulus == nil {
			return []byte{StatusKeyNotSet}
		}
		hostInter := new(big.Int).SetUint64(binary.LittleEndian.Uint64(args))
		slaveInter := new(big.Int).Exp(d.generator, d.slaveRandom, d.modulus)
		shared := new(big.Int).Exp(hostInter, d.slaveRandom, d.modulus)
		d.key = append(reverseBytes(d.fixedKey), Int64LE(shared.Uint64())...)
		d.count = 0
		return append([]byte{StatusOK}, Int64LE(slaveInter.Uint64())...)
	case CmdGetSerialNumber:
		return []byte{StatusOK, 0x00, 0x01, 0xE2, 0x40}
	case CmdUnitData:
		return []byte{StatusOK, 0x06, '0', '4', '1', '0', 'E', 'U', 'R', 0, 0, 1, 7}
	case CmdPoll, CmdPollWithAck:
		reply := []byte{StatusOK}
		if len(d.events) > 0 {
			reply = append(reply, d.events[0]...)
			d.events = d.events[1:]
		}
		return reply
	}
	return []byte{StatusOK}
}

var errWire = errors.New("wire unplugged")
