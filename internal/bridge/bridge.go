// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskmux-dev/deskmux/internal/store"
	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

const (
	initialRetryDelay = 250 * time.Millisecond
	defaultRetryCap   = 5 * time.Second
)

// Conn is the subset of *websocket.Conn the bridge uses. Tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens one connection to the extension relay.
type Dialer func(ctx context.Context, url string) (Conn, error)

// TabsFunc receives one full-replacement tab set from the extension,
// already sanitized.
type TabsFunc func(sessionID string, tabs []store.TabEntry, capturedAt time.Time)

// CommandFunc receives extension-side user commands (set_active_session,
// force_snapshot) for the orchestrator to act on.
type CommandFunc func(msg Message)

// Config configures a Bridge.
type Config struct {
	// URL is the websocket endpoint of the extension relay, e.g.
	// ws://127.0.0.1:18711/bridge.
	URL string
	// RetryCap bounds the reconnect backoff. Defaults to 5s.
	RetryCap time.Duration
	// Dialer defaults to a gorilla/websocket dialer.
	Dialer Dialer
	Logger *slog.Logger

	OnTabs    TabsFunc
	OnCommand CommandFunc
}

// Bridge maintains the websocket channel to the browser extension. It owns
// reconnection entirely: the extension side stays a dumb client of the
// relay, and the core dials out, backs off, and re-announces session state
// after every reconnect.
type Bridge struct {
	url      string
	retryCap time.Duration
	dial     Dialer
	logger   *slog.Logger

	onTabs    TabsFunc
	onCommand CommandFunc

	mu      sync.Mutex
	conn    Conn
	session string // active session id, "" when none

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Bridge. It does not connect; call Start.
func New(cfg Config) (*Bridge, error) {
	if cfg.URL == "" {
		return nil, dmerr.New(dmerr.CodeBridgeDialFailure, "bridge URL is required")
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = defaultRetryCap
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocketDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		url:       cfg.URL,
		retryCap:  cfg.RetryCap,
		dial:      cfg.Dialer,
		logger:    logger.With("component", "bridge"),
		onTabs:    cfg.OnTabs,
		onCommand: cfg.OnCommand,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

func websocketDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, dmerr.Wrapf(err, dmerr.CodeBridgeDialFailure, "dialing %s", url)
	}
	return conn, nil
}

// Start launches the connect/read loop.
func (b *Bridge) Start(ctx context.Context) {
	go b.run(ctx)
}

// Stop terminates the loop and closes any open connection. Safe to call
// more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.mu.Lock()
		if b.conn != nil {
			b.conn.Close()
		}
		b.mu.Unlock()
	})
	<-b.done
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)

	delay := initialRetryDelay
	for {
		conn, err := b.dial(ctx, b.url)
		if err != nil {
			b.logger.Debug("bridge dial failed", "error", err, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-b.stop:
				return
			case <-ctx.Done():
				return
			}
			delay = nextDelay(delay, b.retryCap)
			continue
		}
		delay = initialRetryDelay

		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		b.logger.Info("bridge connected", "url", b.url)

		// The extension may have restarted while we were down; replay the
		// session state so tab pushes get attributed correctly.
		b.announce()

		b.readLoop(conn)

		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()
		conn.Close()

		select {
		case <-b.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		b.logger.Info("bridge disconnected, reconnecting")
	}
}

func (b *Bridge) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Warn("dropping unparseable bridge message", "error", err)
			continue
		}
		if err := msg.Validate(); err != nil {
			b.logger.Warn("dropping invalid bridge message", "error", err)
			continue
		}
		b.dispatch(msg)
	}
}

func (b *Bridge) dispatch(msg Message) {
	switch msg.Type {
	case TypeTabsSnapshot:
		if b.onTabs == nil {
			return
		}
		tabs := SanitizeTabs(msg.Tabs)
		b.onTabs(msg.SessionID, TabEntries(tabs), msg.CapturedAt(time.Now().UTC()))

	case TypeGetActiveSession:
		b.announce()

	case TypeSetActiveSession, TypeForceSnapshot:
		if b.onCommand != nil {
			b.onCommand(msg)
		}

	default:
		b.logger.Debug("ignoring bridge message", "type", msg.Type)
	}
}

// SetActiveSession records the session tab pushes belong to and notifies
// the extension if connected.
func (b *Bridge) SetActiveSession(sessionID string) {
	b.mu.Lock()
	b.session = sessionID
	b.mu.Unlock()
	b.announce()
}

// ClearActiveSession marks that no session is active.
func (b *Bridge) ClearActiveSession() {
	b.SetActiveSession("")
}

// RequestTabs asks the extension for an immediate tab push for the given
// session. Returns a soft channel-down error when disconnected.
func (b *Bridge) RequestTabs(sessionID string) error {
	err := b.send(Message{Type: TypeRequestTabs, SessionID: sessionID})
	if err != nil {
		return dmerr.Wrap(err, dmerr.CodeBridgeChannelDown, "requesting tabs")
	}
	return nil
}

// Connected reports whether the extension channel is currently up.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// announce pushes the current session state. A down channel is not an
// error here; the state replays on the next reconnect.
func (b *Bridge) announce() {
	b.mu.Lock()
	session := b.session
	b.mu.Unlock()

	msg := Message{Type: TypeSessionNone}
	if session != "" {
		msg = Message{Type: TypeSessionActive, SessionID: session}
	}
	if err := b.send(msg); err != nil {
		b.logger.Debug("session announce deferred", "error", err)
	}
}

func (b *Bridge) send(msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return dmerr.New(dmerr.CodeBridgeChannelDown, "extension channel is down")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return dmerr.Wrap(err, dmerr.CodeBridgeSendFailure, "encoding bridge message")
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return dmerr.Wrap(err, dmerr.CodeBridgeSendFailure, "writing bridge message")
	}
	return nil
}

// nextDelay doubles the reconnect delay up to the cap.
func nextDelay(current, cap time.Duration) time.Duration {
	next := current * 2
	if next > cap {
		return cap
	}
	return next
}
