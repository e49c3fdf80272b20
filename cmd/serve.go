// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
	"github.com/Thermoquad/bluestat/pkg/gatt"
	"github.com/Thermoquad/bluestat/pkg/heater"
	"github.com/Thermoquad/bluestat/pkg/telemetry"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve [device]",
	Short: "Stream a device to websocket clients and Prometheus",
	Long: `Connect to a device and publish what it sends.

  /ws       JSON frames: telemetry snapshots, heater status and connection
            changes. Clients may send {"command": "on"} style messages to
            control a heater.
  /metrics  Prometheus metrics for the telemetry display values, the
            notification counters and the heater state.

The device is reconnected with exponential backoff when it drops.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (default from serve.listen)")
}

//////////////////////////////////////////////////////////////
// Frames
//////////////////////////////////////////////////////////////

// serveFrame is the JSON structure sent to websocket clients
type serveFrame struct {
	Telemetry *telemetry.Snapshot `json:"telemetry,omitempty"`
	Heater    *heaterFrame        `json:"heater,omitempty"`
	Link      *linkFrame          `json:"link,omitempty"`
	Result    *resultFrame        `json:"result,omitempty"`
	Stamp     int64               `json:"stamp"` // Unix ms
}

type heaterFrame struct {
	State  string         `json:"state"`
	Line   string         `json:"line"`
	Hex    string         `json:"hex"`
	Status *heater.Status `json:"status"`
}

type linkFrame struct {
	Connected bool   `json:"connected"`
	Device    string `json:"device"`
	Error     string `json:"error,omitempty"`
}

type resultFrame struct {
	Command string `json:"command"`
	Error   string `json:"error,omitempty"`
}

// clientCommand is a control message sent by a websocket client
type clientCommand struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

//////////////////////////////////////////////////////////////
// Hub
//////////////////////////////////////////////////////////////

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// wsHub fans frames out to every connected websocket client
type wsHub struct {
	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader

	// Called for control messages, may be nil
	onCommand func(ctx context.Context, c clientCommand) error

	// Sent to every client when it connects, may be nil
	greeting func() serveFrame
}

func newWSHub() *wsHub {
	return &wsHub{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *wsHub) count() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *wsHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.clientsMu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.clientsMu.Unlock()

	log.WithFields(log.Fields{"remote": r.RemoteAddr, "clients": total}).Info("Websocket client connected")

	if h.greeting != nil {
		if data, err := json.Marshal(h.greeting()); err == nil {
			client.send <- data
		}
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (control messages / keep-alive)
	go func() {
		defer func() {
			h.clientsMu.Lock()
			delete(h.clients, client)
			total := len(h.clients)
			close(client.send)
			h.clientsMu.Unlock()
			log.WithField("clients", total).Info("Websocket client disconnected")
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			h.handleMessage(client, data)
		}
	}()
}

func (h *wsHub) handleMessage(client *wsClient, data []byte) {
	var c clientCommand
	if err := json.Unmarshal(data, &c); err != nil || c.Command == "" {
		log.WithField("message", string(data)).Debug("Ignoring websocket message")
		return
	}
	if h.onCommand == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	result := resultFrame{Command: c.Command}
	if err := h.onCommand(ctx, c); err != nil {
		result.Error = err.Error()
	}

	out, err := json.Marshal(serveFrame{Result: &result, Stamp: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- out:
	default:
	}
}

func (h *wsHub) broadcast(frame serveFrame) {
	if frame.Stamp == 0 {
		frame.Stamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(frame)
	if err != nil {
		log.WithError(err).Warn("Failed to encode frame")
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

//////////////////////////////////////////////////////////////
// Metrics
//////////////////////////////////////////////////////////////

// serveMetrics exports the session state to Prometheus
type serveMetrics struct {
	registry *prometheus.Registry

	telemetry     *prometheus.GaugeVec
	notifications *prometheus.CounterVec
	heaterState   prometheus.Gauge
	heaterChamber prometheus.Gauge
	connected     prometheus.Gauge
	clients       prometheus.GaugeFunc
}

func newServeMetrics(hub *wsHub) *serveMetrics {
	m := &serveMetrics{
		registry: prometheus.NewRegistry(),
		telemetry: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluestat_telemetry",
			Help: "Displayed telemetry value (aux median, starter latest)",
		}, []string{"role", "metric"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bluestat_notifications_total",
			Help: "Routed notification and read values by kind",
		}, []string{"kind"}),
		heaterState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bluestat_heater_state",
			Help: "Raw heater state code from the last status frame",
		}),
		heaterChamber: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bluestat_heater_chamber_celsius",
			Help: "Heater chamber temperature (°C)",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bluestat_connected",
			Help: "1 while the device is connected",
		}),
		clients: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bluestat_websocket_clients",
			Help: "Connected websocket clients",
		}, func() float64 { return float64(hub.count()) }),
	}
	m.registry.MustRegister(m.telemetry, m.notifications, m.heaterState, m.heaterChamber, m.connected, m.clients)
	return m
}

func (m *serveMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *serveMetrics) observeSnapshot(s telemetry.Snapshot) {
	setDisplay := func(role string, d telemetry.Display, power []float64, pick func([]float64) float64) {
		if d.HasVoltage {
			m.telemetry.WithLabelValues(role, "voltage").Set(d.Voltage)
		}
		if d.HasCurrent {
			m.telemetry.WithLabelValues(role, "current").Set(d.Current)
		}
		if len(power) > 0 {
			m.telemetry.WithLabelValues(role, "power").Set(pick(power))
		}
	}
	setDisplay(telemetry.RoleAux.String(), s.AuxDisplay, s.Aux.Power, telemetry.Median)
	setDisplay(telemetry.RoleStarter.String(), s.StarterDisplay, s.Starter.Power, func(p []float64) float64 {
		return p[len(p)-1]
	})
}

func (m *serveMetrics) observeEvent(ev gatt.Event) {
	m.notifications.WithLabelValues(ev.Kind.String()).Inc()
	if ev.Kind != gatt.EventHeater || ev.Status == nil {
		return
	}
	switch {
	case ev.Status.Hcalory != nil:
		m.heaterState.Set(float64(ev.Status.Hcalory.State))
		m.heaterChamber.Set(float64(ev.Status.Hcalory.ChamberTemp))
	case ev.Status.UART != nil:
		m.heaterState.Set(float64(ev.Status.UART.State))
		m.heaterChamber.Set(float64(ev.Status.UART.ChamberTemp))
	}
}

func (m *serveMetrics) setConnected(connected bool) {
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

//////////////////////////////////////////////////////////////
// Command
//////////////////////////////////////////////////////////////

// runClientCommand executes a websocket control message on the dispatcher
func runClientCommand(ctx context.Context, sess *gatt.Session, c clientCommand) error {
	d := sess.Dispatcher()
	name := strings.ToLower(c.Command)
	if name == "legacy" {
		if len(c.Args) == 0 {
			return errors.New("legacy requires a command name")
		}
		variants, policy, err := parseLegacy(c.Args)
		if err != nil {
			return err
		}
		res, err := d.SendLegacy(ctx, strings.ToLower(c.Args[0]), variants, policy)
		if err != nil {
			return err
		}
		if !res.Succeeded() {
			return errors.New("no variant was written")
		}
		return nil
	}
	command, err := heater.ParseCommand(name, c.Args...)
	if err != nil {
		return err
	}
	return d.Send(ctx, command)
}

func heaterFrameFor(ev gatt.Event) *heaterFrame {
	return &heaterFrame{
		State:  ev.Status.StateName(),
		Line:   heater.FormatStatusLine(ev.Status),
		Hex:    byteframe.FormatHex(ev.Notification.Data),
		Status: ev.Status,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ref, err := deviceRef(args)
	if err != nil {
		return err
	}
	listen := serveListen
	if listen == "" {
		listen = cfg.Serve.Listen
	}

	st, err := openStores()
	if err != nil {
		return err
	}
	defer st.Close()

	tr, err := newTransport()
	if err != nil {
		return err
	}
	sess, err := newSession(tr)
	if err != nil {
		return err
	}
	trackConnection(st, sess)
	target := resolveTarget(cmd.Context(), st, ref)

	hub := newWSHub()
	metrics := newServeMetrics(hub)

	var linkMu sync.Mutex
	link := linkFrame{Device: target.Name}

	hub.greeting = func() serveFrame {
		snap := sess.Aggregator().Snapshot()
		linkMu.Lock()
		l := link
		linkMu.Unlock()
		frame := serveFrame{Telemetry: &snap, Link: &l, Stamp: time.Now().UnixMilli()}
		if status := sess.Status(); status != nil {
			frame.Heater = &heaterFrame{
				State:  status.StateName(),
				Line:   heater.FormatStatusLine(status),
				Status: status,
			}
		}
		return frame
	}
	hub.onCommand = func(ctx context.Context, c clientCommand) error {
		err := runClientCommand(ctx, sess, c)
		entry := log.WithField("command", c.Command)
		if err != nil {
			entry.WithError(err).Warn("Websocket command failed")
		} else {
			entry.Info("Websocket command sent")
		}
		return err
	}

	sess.Aggregator().SetSink(func(s telemetry.Snapshot) {
		metrics.observeSnapshot(s)
		hub.broadcast(serveFrame{Telemetry: &s})
	})
	sess.AddListener(func(ev gatt.Event) {
		metrics.observeEvent(ev)
		if ev.Kind == gatt.EventHeater {
			hub.broadcast(serveFrame{Heater: heaterFrameFor(ev)})
		}
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", metrics.handler())

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	reconnectDone := goReconnect(ctx, sess, st, target, func(ev connectionEvent) {
		linkMu.Lock()
		link.Connected = ev.connected
		link.Error = ""
		if ev.err != nil {
			link.Error = ev.err.Error()
			log.WithError(ev.err).Warn("Connection lost - reconnecting...")
		} else if ev.connected {
			log.WithField("device", ev.info).Info("Connected")
		}
		l := link
		linkMu.Unlock()

		metrics.setConnected(ev.connected)
		hub.broadcast(serveFrame{Link: &l})
	})
	go func() {
		if err := <-reconnectDone; err != nil {
			log.WithError(err).Error("Connection loop stopped")
			stop()
		}
	}()

	log.WithFields(log.Fields{"listen": listen, "device": target.Name}).Info("Serving")
	err = srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	stop()
	sess.Close()
	<-reconnectDone
	return err
}
