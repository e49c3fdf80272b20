// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/bluestat/pkg/config"
	"github.com/Thermoquad/bluestat/pkg/gatt"
	"github.com/Thermoquad/bluestat/pkg/heater"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// Connection provides a common interface for reading/writing bytes from serial or WebSocket
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// FrameReader yields whole heater frames from a bridge connection
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// BridgeConnection is a bridge link that can be read frame by frame
type BridgeConnection interface {
	Connection
	FrameReader
}

// SerialConnection wraps a serial port. The UART stream carries 26-byte
// frames starting with 76 16; ReadFrame resynchronizes on that pair.
type SerialConnection struct {
	port     serial.Port
	splitter uartSplitter
	pending  [][]byte
	buf      []byte
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

func (s *SerialConnection) ReadFrame() ([]byte, error) {
	for len(s.pending) == 0 {
		n, err := s.port.Read(s.buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// go.bug.st/serial returns 0 bytes when the port is closed
			return nil, ErrConnectionClosed
		}
		s.pending = s.splitter.Push(s.buf[:n])
	}
	frame := s.pending[0]
	s.pending = s.pending[1:]
	return frame, nil
}

// uartSplitter cuts a byte stream into UART status frames
type uartSplitter struct {
	buf     []byte
	skipped int
}

var uartSync = []byte{heater.UARTSync0, heater.UARTSync1}

// Push appends stream bytes and returns every complete frame
func (u *uartSplitter) Push(data []byte) [][]byte {
	u.buf = append(u.buf, data...)
	var frames [][]byte
	for {
		i := bytes.Index(u.buf, uartSync)
		if i < 0 {
			// Keep a trailing first sync byte, it may pair with the next read
			keep := 0
			if n := len(u.buf); n > 0 && u.buf[n-1] == heater.UARTSync0 {
				keep = 1
			}
			u.skipped += len(u.buf) - keep
			u.buf = append(u.buf[:0], u.buf[len(u.buf)-keep:]...)
			return frames
		}
		if i > 0 {
			u.skipped += i
			u.buf = u.buf[i:]
		}
		if len(u.buf) < heater.UARTFrameSize {
			return frames
		}
		frame := make([]byte, heater.UARTFrameSize)
		copy(frame, u.buf)
		frames = append(frames, frame)
		u.buf = u.buf[heater.UARTFrameSize:]
	}
}

// ErrConnectionClosed is returned when reading from a closed bridge connection
var ErrConnectionClosed = fmt.Errorf("bridge connection closed")

// WebSocketConnection wraps a WebSocket connection. Each binary message is
// one heater frame.
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool // Track if connection has failed/closed
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	frame, err := w.ReadFrame()
	if err != nil {
		return 0, err
	}
	w.buf = frame
	n := copy(p, w.buf)
	w.bufOffset = n
	return n, nil
}

func (w *WebSocketConnection) ReadFrame() ([]byte, error) {
	// Return immediately if connection is known to be closed
	if w.closed {
		return nil, ErrConnectionClosed
	}

	// Non-recursive loop to avoid stack overflow on text message floods
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			// Mark connection as closed to prevent further read attempts
			w.closed = true
			return nil, err
		}

		// We only handle binary messages
		if messageType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (BridgeConnection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", portName, err)
	}

	return &SerialConnection{port: port, buf: make([]byte, 128)}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(ctx context.Context, wsURL, username, password string, skipSSLVerify bool) (BridgeConnection, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	// Validate scheme
	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	// Create dialer with timeout
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	// Configure TLS for wss://
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	// Build HTTP headers with Basic auth
	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	// Connect
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("BLUESTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket bridge connection
func OpenConnection(ctx context.Context, tc config.TransportConfig) (BridgeConnection, string, error) {
	switch tc.Kind {
	case config.TransportWebSocket:
		if tc.URL == "" {
			return nil, "", errors.New("--url is required for the websocket transport")
		}
		password := ""
		if tc.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(ctx, tc.URL, tc.Username, password, tc.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", tc.URL), nil

	case config.TransportSerial:
		if tc.Port == "" {
			return nil, "", errors.New("--port is required for the serial transport")
		}
		conn, err := OpenSerialConnection(tc.Port, tc.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", tc.Port, tc.Baud), nil
	}

	return nil, "", fmt.Errorf("transport %q is not a bridge", tc.Kind)
}

//////////////////////////////////////////////////////////////
// Bridge transport
//////////////////////////////////////////////////////////////

// bridgeTransport presents a serial or WebSocket bridge as a peripheral
// with the heater service fff0: frames read from the link arrive as fff1
// notifications and fff2 writes go to the link.
type bridgeTransport struct {
	open func(ctx context.Context) (BridgeConnection, string, error)
}

func newBridgeTransport(tc config.TransportConfig) *bridgeTransport {
	return &bridgeTransport{open: func(ctx context.Context) (BridgeConnection, string, error) {
		return OpenConnection(ctx, tc)
	}}
}

func (t *bridgeTransport) Connect(ctx context.Context, address string) (gatt.Conn, error) {
	conn, info, err := t.open(ctx)
	if err != nil {
		return nil, err
	}
	log.WithField("bridge", info).Info("Bridge connected")
	return newBridgeConn(conn, info), nil
}

type bridgeConn struct {
	link BridgeConnection
	info string

	mu           sync.Mutex
	closed       bool
	reading      bool
	onDisconnect func()
}

func newBridgeConn(link BridgeConnection, info string) *bridgeConn {
	return &bridgeConn{link: link, info: info}
}

func (c *bridgeConn) Address() string { return c.info }

func (c *bridgeConn) DiscoverServices(_ context.Context, filter []gatt.UUID) ([]gatt.Service, error) {
	if len(filter) > 0 && !containsUUID(filter, gatt.HeaterService) {
		return nil, nil
	}
	return []gatt.Service{&bridgeService{conn: c}}, nil
}

func (c *bridgeConn) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

func (c *bridgeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.link.Close()
}

// readLoop delivers frames until the link fails. A failure that was not
// caused by Close is reported as a remote disconnect.
func (c *bridgeConn) readLoop(handler func([]byte)) {
	for {
		frame, err := c.link.ReadFrame()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			fn := c.onDisconnect
			c.mu.Unlock()
			if !closed {
				log.WithError(err).WithField("bridge", c.info).Warn("Bridge read failed")
				if fn != nil {
					fn()
				}
			}
			return
		}
		handler(frame)
	}
}

type bridgeService struct {
	conn *bridgeConn
}

func (s *bridgeService) UUID() gatt.UUID { return gatt.HeaterService }

func (s *bridgeService) DiscoverCharacteristics(context.Context) ([]gatt.Characteristic, error) {
	return []gatt.Characteristic{
		&bridgeChar{conn: s.conn, id: gatt.HeaterNotify, props: gatt.PropNotify},
		&bridgeChar{conn: s.conn, id: gatt.HeaterWrite, props: gatt.PropWrite | gatt.PropWriteNoResponse},
	}, nil
}

type bridgeChar struct {
	conn  *bridgeConn
	id    gatt.UUID
	props gatt.Props
}

func (c *bridgeChar) UUID() gatt.UUID        { return c.id }
func (c *bridgeChar) Properties() gatt.Props { return c.props }

func (c *bridgeChar) Read(context.Context) ([]byte, error) {
	return nil, errors.New("bridge characteristics are not readable")
}

func (c *bridgeChar) Write(_ context.Context, data []byte) error {
	if !c.props.CanWrite() {
		return errors.New("characteristic is not writable")
	}
	_, err := c.conn.link.Write(data)
	return err
}

func (c *bridgeChar) Subscribe(_ context.Context, handler func([]byte)) error {
	if !c.props.CanSubscribe() {
		return errors.New("characteristic does not notify")
	}
	c.conn.mu.Lock()
	if c.conn.reading {
		c.conn.mu.Unlock()
		return errors.New("already subscribed")
	}
	c.conn.reading = true
	c.conn.mu.Unlock()

	go c.conn.readLoop(handler)
	return nil
}

func containsUUID(list []gatt.UUID, id gatt.UUID) bool {
	for _, u := range list {
		if u == id {
			return true
		}
	}
	return false
}
