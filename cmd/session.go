// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/bluestat/pkg/config"
	"github.com/Thermoquad/bluestat/pkg/dispatch"
	"github.com/Thermoquad/bluestat/pkg/gatt"
	"github.com/Thermoquad/bluestat/pkg/store"
	"github.com/Thermoquad/bluestat/pkg/telemetry"
	log "github.com/sirupsen/logrus"
)

// bridgeTarget names the single peripheral behind a serial or websocket bridge
const bridgeTarget = "bridge"

// stores bundles the sqlite backed repositories
type stores struct {
	db         *sql.DB
	devices    *store.Devices
	brands     *store.List
	categories *store.List
	learned    *store.Learned
}

func openStores() (*stores, error) {
	db, err := store.InitDB(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	return newStores(db), nil
}

func newStores(db *sql.DB) *stores {
	kv := store.NewSQLiteKV(db)
	return &stores{
		db:         db,
		devices:    store.NewDevices(kv, nil),
		brands:     store.NewBrands(kv),
		categories: store.NewCategories(kv),
		learned:    store.NewLearned(kv, nil),
	}
}

func (s *stores) Close() error {
	return s.db.Close()
}

// newTransport returns the transport selected by --transport
func newTransport() (gatt.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportBLE:
		return newBLETransport(), nil
	case config.TransportSerial, config.TransportWebSocket:
		return newBridgeTransport(cfg.Transport), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
}

// deviceRef picks the device argument, falling back to transport.address
func deviceRef(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if cfg.Transport.Address != "" {
		return cfg.Transport.Address, nil
	}
	if cfg.Transport.Kind != config.TransportBLE {
		return bridgeTarget, nil
	}
	return "", errors.New("a device address or name is required")
}

// resolveTarget looks ref up in the registry. Unknown devices are still
// connectable but are not category gated.
func resolveTarget(ctx context.Context, st *stores, ref string) gatt.Target {
	dev, err := st.devices.Find(ctx, ref)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).Warn("Device lookup failed")
		}
		return gatt.Target{Address: ref, Name: ref}
	}
	return gatt.Target{
		Address:    dev.ID,
		Name:       dev.DisplayName(),
		Category:   dev.Category,
		Registered: true,
	}
}

// newSession builds a session with the configured decoder, dispatcher and
// aggregator
func newSession(tr gatt.Transport) (*gatt.Session, error) {
	dcfg, err := cfg.DispatchSettings()
	if err != nil {
		return nil, err
	}
	logger := log.StandardLogger()
	return gatt.NewSession(tr, gatt.Options{
		Dispatcher: dispatch.New(dcfg, nil, logger),
		Decoder:    telemetry.NewDecoder(cfg.Decoder, logger),
		Aggregator: telemetry.NewAggregator(cfg.Monitor.Window, nil),
		Logger:     logger,
	}), nil
}

// trackConnection keeps the registry connection status in step with the
// session
func trackConnection(st *stores, sess *gatt.Session) {
	sess.OnDisconnect(func(t gatt.Target) {
		if !t.Registered {
			return
		}
		if _, err := st.devices.SetConnectionStatus(context.Background(), t.Address, store.StatusDisconnected); err != nil {
			log.WithError(err).Warn("Failed to update connection status")
		}
	})
}

func markConnected(ctx context.Context, st *stores, t gatt.Target, status string) {
	if !t.Registered {
		return
	}
	if _, err := st.devices.SetConnectionStatus(ctx, t.Address, status); err != nil {
		log.WithError(err).Warn("Failed to update connection status")
	}
}

// connectOnce connects the session for a one-shot command. setup, when not
// nil, runs before connecting so listeners also see the initial reads.
func connectOnce(ctx context.Context, args []string, setup func(*gatt.Session, gatt.Target) error) (*gatt.Session, *stores, gatt.Target, error) {
	ref, err := deviceRef(args)
	if err != nil {
		return nil, nil, gatt.Target{}, err
	}
	st, err := openStores()
	if err != nil {
		return nil, nil, gatt.Target{}, err
	}
	tr, err := newTransport()
	if err != nil {
		st.Close()
		return nil, nil, gatt.Target{}, err
	}
	sess, err := newSession(tr)
	if err != nil {
		st.Close()
		return nil, nil, gatt.Target{}, err
	}
	trackConnection(st, sess)

	target := resolveTarget(ctx, st, ref)
	if setup != nil {
		if err := setup(sess, target); err != nil {
			st.Close()
			return nil, nil, target, err
		}
	}
	timeout, err := cfg.ScanTimeout()
	if err != nil {
		st.Close()
		return nil, nil, gatt.Target{}, err
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sess.Connect(connectCtx, target); err != nil {
		st.Close()
		return nil, nil, target, describeError(err)
	}
	markConnected(ctx, st, target, store.StatusConnected)
	return sess, st, target, nil
}

// closeSession disconnects and records the status
func closeSession(sess *gatt.Session, st *stores, target gatt.Target) {
	if err := sess.Close(); err != nil {
		log.WithError(err).Debug("Disconnect failed")
	}
	markConnected(context.Background(), st, target, store.StatusDisconnected)
	st.Close()
}

// describeError adds the discovery diagnostic to an empty discovery
func describeError(err error) error {
	var derr *gatt.DiscoveryError
	if errors.As(err, &derr) {
		return fmt.Errorf("%w\n\n%s", err, derr.Diagnostic())
	}
	return err
}

// connectionEvent reports connection changes from runWithReconnect
type connectionEvent struct {
	connected bool
	info      string
	err       error
}

// goReconnect runs runWithReconnect in the background. The channel
// receives its result and is closed after the final status write, so the
// stores must outlive it.
func goReconnect(ctx context.Context, sess *gatt.Session, st *stores, target gatt.Target, notify func(connectionEvent)) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- runWithReconnect(ctx, sess, st, target, notify)
	}()
	return done
}

// runWithReconnect keeps the session connected until ctx is done,
// reconnecting with exponential backoff after a disconnect
func runWithReconnect(ctx context.Context, sess *gatt.Session, st *stores, target gatt.Target, notify func(connectionEvent)) error {
	timeout, err := cfg.ScanTimeout()
	if err != nil {
		return err
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		err := sess.Connect(connectCtx, target)
		cancel()

		if err == nil {
			backoff = 1 * time.Second
			markConnected(ctx, st, target, store.StatusConnected)
			notify(connectionEvent{connected: true, info: target.Name})

			err = sess.Wait(ctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, gatt.ErrClosed) {
				sess.Close()
				markConnected(context.Background(), st, target, store.StatusDisconnected)
				return nil
			}
			notify(connectionEvent{err: err})
		} else {
			if ctx.Err() != nil {
				return nil
			}
			notify(connectionEvent{err: describeError(err)})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		// Exponential backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
