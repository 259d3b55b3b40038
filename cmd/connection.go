// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/sspctl/pkg/ssp"
	"github.com/gorilla/websocket"
	"github.com/samber/oops"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// Connection is a byte stream to an SSP bus, either a serial port or a
// serial-over-WebSocket bridge. It satisfies ssp.Port.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
	Drain() error
}

var _ ssp.Port = Connection(nil)

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// Drain blocks until the output buffer has been transmitted
func (s *SerialConnection) Drain() error {
	return s.port.Drain()
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket
// connection. It matches io.EOF so a session treats it as end of stream.
var ErrConnectionClosed = fmt.Errorf("websocket connection closed: %w", io.EOF)

// WebSocketConnection wraps a WebSocket connection for byte-level reading
type WebSocketConnection struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	buf       []byte
	bufOffset int
	closed    bool // Track if connection has failed/closed
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	// Return immediately if connection is known to be closed
	if w.closed {
		return 0, ErrConnectionClosed
	}

	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, fmt.Errorf("%w (%v)", ErrConnectionClosed, err)
		}

		// The bridge carries raw line bytes as binary messages
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Drain is a no-op, each message is handed to the bridge whole
func (w *WebSocketConnection) Drain() error {
	return nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// serialMode returns the SSP line settings, 8 data bits, no parity and
// 2 stop bits
func serialMode(baudRate int) *serial.Mode {
	stopBits := serial.OneStopBit
	if ssp.DefaultStopBits == 2 {
		stopBits = serial.TwoStopBits
	}
	return &serial.Mode{
		BaudRate: baudRate,
		DataBits: ssp.DefaultDataBits,
		Parity:   serial.NoParity,
		StopBits: stopBits,
	}
}

// OpenSerialConnection opens a serial port with the SSP line settings
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := serialMode(baudRate)

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, oops.In("transport").
			With("port", portName).
			With("baud", baudRate).
			Wrapf(err, "failed to open serial port %s", portName)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, oops.In("transport").Wrapf(err, "invalid URL")
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, oops.In("transport").Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		errb := oops.In("transport").With("url", wsURL)
		if resp != nil {
			return nil, errb.With("status", resp.StatusCode).Wrapf(err, "WebSocket connection failed (HTTP %d)", resp.StatusCode)
		}
		return nil, errb.Wrapf(err, "WebSocket connection failed")
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("SSP_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", oops.In("transport").Wrapf(err, "failed to read password")
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket connection based on flags
func OpenConnection() (Connection, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud 8N2", portName, baudRate), nil
	}

	return nil, "", oops.In("transport").Errorf("either --port or --url must be specified")
}

// openClient opens the configured connection and starts an SSP session on it
func openClient() (*ssp.Client, string, error) {
	cfg, err := sessionConfig()
	if err != nil {
		return nil, "", err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, "", err
	}

	client, err := ssp.NewClient(conn, cfg, ssp.WithLogger(log.WithField("conn", connInfo)))
	if err != nil {
		conn.Close()
		return nil, "", err
	}
	return client, connInfo, nil
}
