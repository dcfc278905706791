// Package connectivity reports network reachability transitions to the
// sync engine. The engine consumes the Monitor interface only; the
// websocket implementation here is one producer, and tests substitute
// their own.
package connectivity

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// Event is one connectivity transition. Online reports whether the remote
// service is currently reachable.
type Event struct {
	Online bool
}

// Monitor emits connectivity events. Events() yields an event on each
// transition; producers may also repeat Online events as change hints when
// the server signals new data. Close releases monitor resources and closes
// the event channel.
type Monitor interface {
	Events() <-chan Event
	Close() error
}

// Reconnect backoff bounds for the websocket monitor.
const (
	minReconnectDelay = 2 * time.Second
	maxReconnectDelay = 2 * time.Minute
)

// WSMonitor detects connectivity by holding a websocket open against the
// service's notification endpoint. A live socket means online; a failed
// dial or dropped connection means offline. The server also pushes change
// hints over the socket, which surface as online events so the engine
// syncs promptly.
type WSMonitor struct {
	url    string
	logger *slog.Logger

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSMonitor starts a monitor against the given websocket URL. The
// monitor runs until Close is called.
func NewWSMonitor(url string, logger *slog.Logger) *WSMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	m := &WSMonitor{
		url:    url,
		logger: logger,
		events: make(chan Event, 4),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go m.run(ctx)

	return m
}

// Events returns the transition channel. Closed after Close.
func (m *WSMonitor) Events() <-chan Event {
	return m.events
}

// Close stops the monitor and closes the event channel.
func (m *WSMonitor) Close() error {
	m.cancel()
	<-m.done

	return nil
}

// run dials the notification endpoint in a loop. Dial failures back off
// exponentially up to maxReconnectDelay; a successful connection resets
// the delay.
func (m *WSMonitor) run(ctx context.Context) {
	defer close(m.events)
	defer close(m.done)

	online := false
	delay := minReconnectDelay

	for {
		conn, _, err := websocket.Dial(ctx, m.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			if online {
				online = false
				m.emit(ctx, Event{Online: false})
			}

			m.logger.Debug("notify socket dial failed",
				slog.String("url", m.url),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)

			if !sleepCtx(ctx, delay) {
				return
			}

			delay = min(delay*2, maxReconnectDelay)

			continue
		}

		delay = minReconnectDelay

		if !online {
			online = true
			m.emit(ctx, Event{Online: true})
		}

		m.logger.Info("notify socket connected", slog.String("url", m.url))

		m.readUntilClosed(ctx, conn)

		if ctx.Err() != nil {
			conn.Close(websocket.StatusNormalClosure, "shutting down")

			return
		}

		// Connection dropped; report offline and reconnect.
		online = false
		m.emit(ctx, Event{Online: false})

		m.logger.Warn("notify socket disconnected", slog.String("url", m.url))
	}
}

// readUntilClosed drains server messages until the connection fails or the
// context is canceled. Each message is a change hint; re-emitting an
// online event nudges the engine into a sync cycle.
func (m *WSMonitor) readUntilClosed(ctx context.Context, conn *websocket.Conn) {
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return
		}

		m.emit(ctx, Event{Online: true})
	}
}

// emit sends an event without blocking shutdown.
func (m *WSMonitor) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

// sleepCtx sleeps for d or until ctx is canceled, returning false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
