// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gatt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
	"github.com/Thermoquad/bluestat/pkg/dispatch"
	"github.com/Thermoquad/bluestat/pkg/heater"
	"github.com/Thermoquad/bluestat/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Wait after the session was closed locally
var ErrClosed = errors.New("session closed")

// Target identifies the peripheral to connect to. Category is only used
// when Registered is set; unregistered devices are not gated.
type Target struct {
	Address    string
	Name       string
	Category   string
	Registered bool
}

// Options carries the collaborators of a session. Nil fields get defaults.
type Options struct {
	Dispatcher *dispatch.Dispatcher
	Decoder    *telemetry.Decoder
	Aggregator *telemetry.Aggregator
	Logger     logrus.FieldLogger
	Now        func() time.Time
}

// Session runs one connection: discovery, reads, subscriptions and routing
// of every incoming value. Only one connection is active at a time.
type Session struct {
	transport  Transport
	dispatcher *dispatch.Dispatcher
	aggregator *telemetry.Aggregator
	router     *Router
	stats      *Statistics
	log        logrus.FieldLogger
	now        func() time.Time

	mu           sync.RWMutex
	conn         Conn
	target       Target
	status       *heater.Status
	listeners    []func(Event)
	onDisconnect []func(Target)
	done         chan struct{}
	closeOnce    *sync.Once
	remoteClosed bool
}

// NewSession creates a session over transport
func NewSession(transport Transport, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Decoder == nil {
		opts.Decoder = telemetry.NewDecoder(telemetry.DefaultThresholds(), opts.Logger)
	}
	if opts.Aggregator == nil {
		opts.Aggregator = telemetry.NewAggregator(telemetry.DefaultWindowSize, opts.Now)
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = dispatch.New(dispatch.DefaultConfig(), nil, opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		transport:  transport,
		dispatcher: opts.Dispatcher,
		aggregator: opts.Aggregator,
		router:     NewRouter(opts.Decoder),
		stats:      NewStatistics(),
		log:        opts.Logger,
		now:        opts.Now,
	}
}

// Dispatcher returns the command dispatcher bound by this session
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Aggregator returns the telemetry aggregator fed by this session
func (s *Session) Aggregator() *telemetry.Aggregator { return s.aggregator }

// Statistics returns the session counters
func (s *Session) Statistics() *Statistics { return s.stats }

// AddListener registers fn for every routed event. Listeners run on the
// transport goroutine and must not block.
func (s *Session) AddListener(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// OnDisconnect registers fn for peripheral initiated disconnects
func (s *Session) OnDisconnect(fn func(Target)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// Status returns the last decoded heater status, or nil
func (s *Session) Status() *heater.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Connected reports whether a connection is open
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// Connect opens the connection, discovers services and sets up every
// characteristic in transport order. Only a connect failure or an empty
// discovery is returned; per-characteristic failures are logged.
func (s *Session) Connect(ctx context.Context, target Target) error {
	log := s.log.WithField("address", target.Address)
	log.Info("Connecting")

	conn, err := s.transport.Connect(ctx, target.Address)
	if err != nil {
		return &ConnectionError{Address: target.Address, Err: err}
	}

	done := make(chan struct{})
	once := &sync.Once{}

	s.mu.Lock()
	s.conn = conn
	s.target = target
	s.status = nil
	s.done = done
	s.closeOnce = once
	s.remoteClosed = false
	s.mu.Unlock()

	if target.Registered {
		s.aggregator.SetActiveDevice(target.Category)
	} else {
		s.aggregator.ClearActiveDevice()
	}
	conn.OnDisconnect(func() { s.teardown(conn, once, done, true) })
	log.Info("Connected")

	services, err := s.discover(ctx, conn, log)
	if err != nil {
		s.teardown(conn, once, done, false)
		return err
	}

	for _, svc := range services {
		svcLog := log.WithField("service", svc.UUID().Short())
		svcLog.Infof("Service: %s", svc.UUID().Label())

		chars, err := svc.DiscoverCharacteristics(ctx)
		if err != nil {
			svcLog.WithError(err).Warn("Characteristic discovery failed")
			continue
		}
		for _, c := range chars {
			s.setupCharacteristic(ctx, c, svcLog)
		}
	}
	return nil
}

// discover lists every service, falling back to probing known services
// one at a time
func (s *Session) discover(ctx context.Context, conn Conn, log logrus.FieldLogger) ([]Service, error) {
	services, err := conn.DiscoverServices(ctx, nil)
	if err == nil && len(services) > 0 {
		log.Infof("Discovered %d services", len(services))
		return services, nil
	}
	if err != nil {
		log.WithError(err).Warn("Service discovery failed, probing known services")
	} else {
		log.Warn("No services returned, probing known services")
	}

	lastErr := err
	for _, id := range FallbackServices() {
		found, err := conn.DiscoverServices(ctx, []UUID{id})
		if err != nil {
			lastErr = err
			log.WithError(err).Debugf("Service %s not found", id.Label())
			continue
		}
		services = append(services, found...)
	}
	if len(services) > 0 {
		log.Infof("Discovered %d services by probing", len(services))
		return services, nil
	}

	for _, line := range Remediation {
		log.Error(line)
	}
	return nil, &DiscoveryError{Address: conn.Address(), Err: lastErr}
}

func (s *Session) setupCharacteristic(ctx context.Context, c Characteristic, log logrus.FieldLogger) {
	id := c.UUID()
	props := c.Properties()
	clog := log.WithField("characteristic", id.Short())
	clog.Infof("Characteristic: %s [%s]", id.Label(), props)

	if id == HeaterWrite && props.CanWrite() {
		s.dispatcher.Bind(s.writerFor(c))
		clog.Info("Bound heater write characteristic")
	}

	if props.Has(PropRead) {
		data, err := c.Read(ctx)
		if err != nil {
			s.stats.ReadFailed()
			clog.WithError(&ReadError{Characteristic: id, Err: err}).Warn("Read failed")
		} else {
			s.logRead(id, data, clog)
			n := byteframe.NewRawNotification(id.Short(), data, s.now())
			s.handle(n, true)
		}
	}

	if props.CanSubscribe() {
		short := id.Short()
		err := c.Subscribe(ctx, func(data []byte) {
			n := byteframe.NewRawNotification(short, data, s.now())
			s.logNotification(n, clog)
			s.handle(n, false)
		})
		if err != nil {
			clog.WithError(err).Warn("Subscribe failed")
		} else {
			clog.Info("Subscribed to notifications")
		}
	}
}

func (s *Session) writerFor(c Characteristic) dispatch.Writer {
	id := c.UUID()
	return dispatch.WriterFunc(func(ctx context.Context, frame []byte) error {
		err := c.Write(ctx, frame)
		s.stats.WriteDone(err)
		if err != nil {
			return &WriteError{Characteristic: id, Err: err}
		}
		return nil
	})
}

func (s *Session) logRead(id UUID, data []byte, log logrus.FieldLogger) {
	log.Infof("Hex: %s", byteframe.FormatHex(data))
	if id == BatteryLevel && len(data) > 0 {
		log.Infof("Battery: %d%%", data[0])
	}
	if byteframe.IsPrintable(data) {
		log.Infof("Text: %s", string(data))
	}
}

func (s *Session) logNotification(n byteframe.RawNotification, log logrus.FieldLogger) {
	entry := log.WithFields(logrus.Fields{
		"hex": byteframe.FormatHex(n.Data),
		"dec": byteframe.FormatDecimal(n.Data),
	})
	if byteframe.HasPrintable(n.Data) {
		entry = entry.WithField("ascii", byteframe.FormatASCII(n.Data))
	}
	entry.Debug("Notification")
}

// Handle routes a value as if it had arrived from the peripheral. It is
// used for replaying captures.
func (s *Session) Handle(n byteframe.RawNotification) Event {
	return s.handle(n, false)
}

func (s *Session) handle(n byteframe.RawNotification, read bool) Event {
	ev := s.router.Route(n)
	ev.Read = read
	s.stats.Update(ev)

	switch ev.Kind {
	case EventHeater:
		s.mu.Lock()
		s.status = ev.Status
		s.mu.Unlock()
		s.log.WithField("characteristic", n.Characteristic).Infof("Heater: %s", heater.FormatStatusLine(ev.Status))
	case EventInvalid:
		s.log.WithField("characteristic", n.Characteristic).WithError(ev.Err).Warn("Heater frame rejected")
	case EventTelemetry:
		for _, r := range ev.Readings {
			s.aggregator.PushReading(r)
		}
	}

	s.mu.RLock()
	listeners := append([]func(Event){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
	return ev
}

// Wait blocks until the peripheral disconnects, the session is closed or
// ctx is done
func (s *Session) Wait(ctx context.Context) error {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	if done == nil {
		return ErrClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.remoteClosed {
		return &ConnectionError{Address: s.target.Address, Err: errors.New("peripheral disconnected")}
	}
	return ErrClosed
}

// Close disconnects and releases the write binding
func (s *Session) Close() error {
	s.mu.RLock()
	conn, once, done := s.conn, s.closeOnce, s.done
	s.mu.RUnlock()
	if conn == nil {
		return nil
	}
	return s.teardown(conn, once, done, false)
}

// teardown runs once per connection. A disconnect after the connection was
// replaced is ignored.
func (s *Session) teardown(conn Conn, once *sync.Once, done chan struct{}, remote bool) error {
	var err error
	once.Do(func() {
		s.dispatcher.Unbind()
		s.aggregator.ClearActiveDevice()

		s.mu.Lock()
		target := s.target
		if s.conn == conn {
			s.conn = nil
		}
		s.remoteClosed = remote
		hooks := append([]func(Target){}, s.onDisconnect...)
		s.mu.Unlock()

		if remote {
			s.log.WithField("address", target.Address).Warn("Disconnected")
			for _, fn := range hooks {
				fn(target)
			}
		} else {
			err = conn.Close()
		}
		close(done)
	})
	return err
}

// Run connects and blocks until disconnect or ctx is done
func (s *Session) Run(ctx context.Context, target Target) error {
	if err := s.Connect(ctx, target); err != nil {
		return err
	}
	err := s.Wait(ctx)
	if closeErr := s.Close(); closeErr != nil {
		s.log.WithError(closeErr).Debug("Close failed")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}
