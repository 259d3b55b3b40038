// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/samber/oops"
)

// CaptureRecord is one traced frame in a capture file. Records are stored
// as a sequence of CBOR maps with integer keys.
type CaptureRecord struct {
	Time      int64     `cbor:"0,keyasint"` // Unix nanoseconds
	Direction Direction `cbor:"1,keyasint"`
	Command   string    `cbor:"2,keyasint,omitempty"`
	Frame     []byte    `cbor:"3,keyasint"`
}

// Timestamp returns the record time
func (r *CaptureRecord) Timestamp() time.Time {
	return time.Unix(0, r.Time)
}

// CaptureWriter appends trace records to a stream
type CaptureWriter struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewCaptureWriter creates a writer encoding records to w
func NewCaptureWriter(w io.Writer) *CaptureWriter {
	return &CaptureWriter{enc: cbor.NewEncoder(w)}
}

// Write appends one record
func (w *CaptureWriter) Write(rec CaptureRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return oops.In("capture").Wrapf(err, "encoding record")
	}
	return nil
}

// WriteEvent records a trace event. Other event kinds are ignored.
func (w *CaptureWriter) WriteEvent(ev Event) error {
	if ev.Kind != EventTrace {
		return nil
	}
	return w.Write(CaptureRecord{
		Time:      ev.Time.UnixNano(),
		Direction: ev.Direction,
		Command:   ev.Name,
		Frame:     ev.Frame,
	})
}

// CaptureReader reads records written by CaptureWriter
type CaptureReader struct {
	dec *cbor.Decoder
}

// NewCaptureReader creates a reader decoding records from r
func NewCaptureReader(r io.Reader) *CaptureReader {
	return &CaptureReader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream
func (r *CaptureReader) Next() (*CaptureRecord, error) {
	var rec CaptureRecord
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, oops.In("capture").Wrapf(err, "decoding record")
	}
	return &rec, nil
}
