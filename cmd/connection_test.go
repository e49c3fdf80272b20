// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/bluestat/pkg/gatt"
	"github.com/Thermoquad/bluestat/pkg/heater"
	"github.com/gorilla/websocket"
)

func uartFrame(marker byte) []byte {
	f := make([]byte, heater.UARTFrameSize)
	f[0] = heater.UARTSync0
	f[1] = heater.UARTSync1
	f[2] = marker
	return f
}

func TestUARTSplitter(t *testing.T) {
	t.Run("single frame", func(t *testing.T) {
		var s uartSplitter
		frames := s.Push(uartFrame(1))
		if len(frames) != 1 {
			t.Fatalf("Push() returned %d frames, want 1", len(frames))
		}
		if !bytes.Equal(frames[0], uartFrame(1)) {
			t.Errorf("frame = % X, want % X", frames[0], uartFrame(1))
		}
	})

	t.Run("resync after garbage", func(t *testing.T) {
		var s uartSplitter
		stream := append([]byte{0x00, 0x16, 0x76, 0x01}, uartFrame(2)...)
		frames := s.Push(stream)
		if len(frames) != 1 {
			t.Fatalf("Push() returned %d frames, want 1", len(frames))
		}
		if frames[0][2] != 2 {
			t.Errorf("frame marker = %d, want 2", frames[0][2])
		}
		if s.skipped != 4 {
			t.Errorf("skipped = %d, want 4", s.skipped)
		}
	})

	t.Run("frame split across reads", func(t *testing.T) {
		var s uartSplitter
		f := uartFrame(3)
		if frames := s.Push(f[:1]); len(frames) != 0 {
			t.Fatalf("first Push() returned %d frames, want 0", len(frames))
		}
		if frames := s.Push(f[1:10]); len(frames) != 0 {
			t.Fatalf("second Push() returned %d frames, want 0", len(frames))
		}
		frames := s.Push(f[10:])
		if len(frames) != 1 || !bytes.Equal(frames[0], f) {
			t.Fatalf("third Push() = %v, want the whole frame", frames)
		}
		if s.skipped != 0 {
			t.Errorf("skipped = %d, want 0", s.skipped)
		}
	})

	t.Run("multiple frames in one read", func(t *testing.T) {
		var s uartSplitter
		stream := append(uartFrame(4), uartFrame(5)...)
		stream = append(stream, uartFrame(6)[:5]...)
		frames := s.Push(stream)
		if len(frames) != 2 {
			t.Fatalf("Push() returned %d frames, want 2", len(frames))
		}
		if frames[0][2] != 4 || frames[1][2] != 5 {
			t.Errorf("markers = %d %d, want 4 5", frames[0][2], frames[1][2])
		}
		if len(s.buf) != 5 {
			t.Errorf("buffered %d bytes, want 5", len(s.buf))
		}
	})
}

// fakeLink is an in-memory bridge connection
type fakeLink struct {
	frames chan []byte

	mu      sync.Mutex
	written [][]byte
	closed  bool
	done    chan struct{}
}

func newFakeLink() *fakeLink {
	return &fakeLink{frames: make(chan []byte, 8), done: make(chan struct{})}
}

func (f *fakeLink) Read(p []byte) (int, error) {
	frame, err := f.ReadFrame()
	return copy(p, frame), err
}

func (f *fakeLink) ReadFrame() ([]byte, error) {
	select {
	case frame, ok := <-f.frames:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return frame, nil
	case <-f.done:
		return nil, ErrConnectionClosed
	}
}

func (f *fakeLink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func bridgeChars(t *testing.T, conn *bridgeConn) (notify, write gatt.Characteristic) {
	t.Helper()
	services, err := conn.DiscoverServices(context.Background(), nil)
	if err != nil || len(services) != 1 {
		t.Fatalf("DiscoverServices() = %v, %v", services, err)
	}
	chars, err := services[0].DiscoverCharacteristics(context.Background())
	if err != nil {
		t.Fatalf("DiscoverCharacteristics() error = %v", err)
	}
	for _, c := range chars {
		switch c.UUID() {
		case gatt.HeaterNotify:
			notify = c
		case gatt.HeaterWrite:
			write = c
		}
	}
	if notify == nil || write == nil {
		t.Fatalf("bridge is missing fff1 or fff2: %v", chars)
	}
	return notify, write
}

func TestBridgeConnServices(t *testing.T) {
	conn := newBridgeConn(newFakeLink(), "test")

	services, err := conn.DiscoverServices(context.Background(), []gatt.UUID{gatt.HeaterNotify})
	if err != nil {
		t.Fatalf("DiscoverServices() error = %v", err)
	}
	if len(services) != 0 {
		t.Errorf("filtered DiscoverServices() returned %d services, want 0", len(services))
	}

	notify, write := bridgeChars(t, conn)
	if !notify.Properties().CanSubscribe() || notify.Properties().CanWrite() {
		t.Errorf("fff1 properties = %v, want notify only", notify.Properties())
	}
	if !write.Properties().CanWrite() || write.Properties().CanSubscribe() {
		t.Errorf("fff2 properties = %v, want write only", write.Properties())
	}
	if _, err := notify.Read(context.Background()); err == nil {
		t.Error("Read() on a bridge characteristic should fail")
	}
}

func TestBridgeConnNotifyAndWrite(t *testing.T) {
	link := newFakeLink()
	conn := newBridgeConn(link, "test")
	notify, write := bridgeChars(t, conn)

	got := make(chan []byte, 1)
	if err := notify.Subscribe(context.Background(), func(b []byte) { got <- b }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := notify.Subscribe(context.Background(), func([]byte) {}); err == nil {
		t.Error("second Subscribe() should fail")
	}

	link.frames <- uartFrame(7)
	select {
	case b := <-got:
		if !bytes.Equal(b, uartFrame(7)) {
			t.Errorf("notification = % X, want % X", b, uartFrame(7))
		}
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}

	cmd := []byte{0x01, 0x02}
	if err := write.Write(context.Background(), cmd); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := notify.Write(context.Background(), cmd); err == nil {
		t.Error("Write() on fff1 should fail")
	}
	link.mu.Lock()
	defer link.mu.Unlock()
	if len(link.written) != 1 || !bytes.Equal(link.written[0], cmd) {
		t.Errorf("link writes = %v, want [% X]", link.written, cmd)
	}
}

func TestBridgeConnDisconnect(t *testing.T) {
	t.Run("remote failure reports disconnect", func(t *testing.T) {
		link := newFakeLink()
		conn := newBridgeConn(link, "test")
		notify, _ := bridgeChars(t, conn)

		lost := make(chan struct{})
		conn.OnDisconnect(func() { close(lost) })
		if err := notify.Subscribe(context.Background(), func([]byte) {}); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
		close(link.frames)

		select {
		case <-lost:
		case <-time.After(time.Second):
			t.Fatal("OnDisconnect callback not called")
		}
	})

	t.Run("local close is silent", func(t *testing.T) {
		link := newFakeLink()
		conn := newBridgeConn(link, "test")
		notify, _ := bridgeChars(t, conn)

		lost := make(chan struct{}, 1)
		conn.OnDisconnect(func() { lost <- struct{}{} })
		if err := notify.Subscribe(context.Background(), func([]byte) {}); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
		if err := conn.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if err := conn.Close(); err != nil {
			t.Errorf("second Close() error = %v", err)
		}

		select {
		case <-lost:
			t.Error("OnDisconnect called after a local Close")
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestBridgeTransportConnect(t *testing.T) {
	link := newFakeLink()
	tr := &bridgeTransport{open: func(context.Context) (BridgeConnection, string, error) {
		return link, "fake", nil
	}}
	conn, err := tr.Connect(context.Background(), bridgeTarget)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if conn.Address() != "fake" {
		t.Errorf("Address() = %q, want %q", conn.Address(), "fake")
	}

	failing := &bridgeTransport{open: func(context.Context) (BridgeConnection, string, error) {
		return nil, "", errors.New("no port")
	}}
	if _, err := failing.Connect(context.Background(), bridgeTarget); err == nil {
		t.Error("Connect() should return the open error")
	}
}

func TestWebSocketConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 1)
	auth := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		// Text messages are not frames and must be skipped
		c.WriteMessage(websocket.TextMessage, []byte("hello"))
		c.WriteMessage(websocket.BinaryMessage, uartFrame(9))
		if _, data, err := c.ReadMessage(); err == nil {
			received <- data
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := OpenWebSocketConnection(context.Background(), url, "user", "secret", false)
	if err != nil {
		t.Fatalf("OpenWebSocketConnection() error = %v", err)
	}
	defer conn.Close()

	if gotAuth := <-auth; !strings.HasPrefix(gotAuth, "Basic ") {
		t.Errorf("Authorization = %q, want Basic credentials", gotAuth)
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if !bytes.Equal(frame, uartFrame(9)) {
		t.Errorf("ReadFrame() = % X, want % X", frame, uartFrame(9))
	}

	if _, err := conn.Write([]byte{0xAA}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	select {
	case data := <-received:
		if !bytes.Equal(data, []byte{0xAA}) {
			t.Errorf("server received % X, want AA", data)
		}
	case <-time.After(time.Second):
		t.Fatal("server received nothing")
	}
}

func TestOpenWebSocketConnectionRejectsScheme(t *testing.T) {
	_, err := OpenWebSocketConnection(context.Background(), "http://example.com/ws", "", "", false)
	if err == nil || !strings.Contains(err.Error(), "unsupported URL scheme") {
		t.Errorf("OpenWebSocketConnection() error = %v, want unsupported scheme", err)
	}
}
