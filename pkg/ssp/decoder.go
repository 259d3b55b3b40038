// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

// Decoder recovers raw frames from an SSP byte stream. It undoes STX
// doubling and emits frames including the leading STX and trailing CRC.
// Chunk boundaries never affect the output.
type Decoder struct {
	buffer     []byte
	byteCount  int
	checkStuff bool
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		buffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset discards any partially accumulated frame
func (d *Decoder) Reset() {
	d.buffer = d.buffer[:0]
	d.byteCount = 0
	d.checkStuff = false
}

// Buffered returns the number of bytes held for the current frame
func (d *Decoder) Buffered() int {
	return len(d.buffer)
}

// DecodeByte processes a single byte through the decoder.
// Returns a completed frame, or nil if the frame is incomplete.
func (d *Decoder) DecodeByte(b byte) []byte {
	switch {
	case b == STX && d.byteCount == 0:
		d.buffer = append(d.buffer[:0], b)
		d.byteCount = 1
		return nil
	case b == STX && d.byteCount == 1:
		// Restart: a second STX directly after the first is not a frame
		d.Reset()
		return nil
	case d.byteCount == 0:
		// Noise before the first STX
		return nil
	}

	switch {
	case d.checkStuff && b != STX:
		// Lone STX inside a frame, keep it and the byte that followed
		d.buffer = append(d.buffer, STX, b)
		d.byteCount += 2
		d.checkStuff = false
	case d.checkStuff:
		d.buffer = append(d.buffer, b)
		d.byteCount++
		d.checkStuff = false
	case b == STX:
		d.checkStuff = true
		return nil
	default:
		d.buffer = append(d.buffer, b)
		d.byteCount++
	}

	if d.byteCount < 3 {
		return nil
	}

	expected := int(d.buffer[2]) + frameOverhead
	switch {
	case d.byteCount == expected:
		frame := make([]byte, len(d.buffer))
		copy(frame, d.buffer)
		d.Reset()
		return frame
	case d.byteCount > expected:
		// Overshot by a lone STX, the frame cannot be recovered
		d.Reset()
	}
	return nil
}

// Decode feeds a chunk of bytes and returns every frame completed by it
func (d *Decoder) Decode(chunk []byte) [][]byte {
	var frames [][]byte
	for _, b := range chunk {
		if frame := d.DecodeByte(b); frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

// Flush returns the partial frame accumulated so far (nil if empty) and
// resets the decoder. Call it at end of stream.
func (d *Decoder) Flush() []byte {
	if len(d.buffer) == 0 {
		d.Reset()
		return nil
	}
	partial := make([]byte, len(d.buffer))
	copy(partial, d.buffer)
	d.Reset()
	return partial
}
