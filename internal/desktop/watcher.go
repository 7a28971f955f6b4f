// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package desktop

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Enumerator abstracts the OS virtual-desktop query. The OS offers no push
// notification for desktop creation, so the watcher polls this interface.
type Enumerator interface {
	// Desktops returns the desktop keys in the order the OS reports them.
	// Ordering among simultaneously created desktops is not stable.
	Desktops() ([]string, error)
	// Current returns the key of the foreground desktop.
	Current() (string, error)
}

// EventKind identifies a topology change.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventRemoved  EventKind = "removed"
	EventSwitched EventKind = "switched"
)

// Event is one observed desktop topology change.
type Event struct {
	Kind EventKind
	// Key is the created or removed desktop key.
	Key string
	// OldKey and NewKey are set for switch events.
	OldKey string
	NewKey string
	// BecameForeground is set on creation events when the new desktop is
	// already the foreground one.
	BecameForeground bool
}

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultFailureGrace = 2
)

// Config holds watcher dependencies and tuning.
type Config struct {
	Enumerator Enumerator
	// PollInterval is how often the OS desktop list is re-enumerated.
	PollInterval time.Duration
	// FailureGrace is the consecutive enumeration failure count at which an
	// empty result is trusted and removals are emitted; fewer consecutive
	// failures keep the last-known topology. With the default of 2, a single
	// transient failure never produces removal events.
	FailureGrace int
	Logger       *slog.Logger
}

// Watcher polls the OS desktop enumeration and emits creation, removal, and
// switch events computed by set-difference against the last observed topology.
type Watcher struct {
	enum     Enumerator
	interval time.Duration
	grace    int
	logger   *slog.Logger

	events chan Event

	mu       sync.Mutex
	known    []string
	current  string
	failures int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWatcher creates a Watcher. It does not start polling until Start.
func NewWatcher(cfg Config) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.FailureGrace <= 0 {
		cfg.FailureGrace = defaultFailureGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Watcher{
		enum:     cfg.Enumerator,
		interval: cfg.PollInterval,
		grace:    cfg.FailureGrace,
		logger:   cfg.Logger.With("component", "desktop.watcher"),
		events:   make(chan Event, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Events returns the event stream. The channel is closed after Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Topology returns the last observed desktop list and foreground key.
// Before the first successful poll both are empty.
func (w *Watcher) Topology() ([]string, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	known := make([]string, len(w.known))
	copy(known, w.known)
	return known, w.current
}

// Start primes the topology from a first enumeration and begins polling.
// It returns immediately; polling stops when ctx is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) {
	// Prime without emitting events: desktops that already exist at startup
	// are not "created".
	if desktops, err := w.enum.Desktops(); err == nil {
		w.mu.Lock()
		w.known = desktops
		w.mu.Unlock()
	} else {
		w.logger.Warn("initial desktop enumeration failed", "error", err)
	}
	if current, err := w.enum.Current(); err == nil {
		w.mu.Lock()
		w.current = current
		w.mu.Unlock()
	}

	go w.loop(ctx)
}

// Stop ends polling and closes the event channel. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			for _, ev := range w.tick() {
				select {
				case w.events <- ev:
				case <-ctx.Done():
					return
				case <-w.stop:
					return
				}
			}
		}
	}
}

// tick polls once and returns the events the diff produced.
func (w *Watcher) tick() []Event {
	desktops, err := w.enum.Desktops()
	if err != nil {
		w.mu.Lock()
		w.failures++
		failures := w.failures
		w.mu.Unlock()

		if failures < w.grace {
			// Keep the last-known topology: a transient hiccup must not
			// produce spurious removal events.
			w.logger.Warn("desktop enumeration failed, keeping last topology",
				"error", err, "consecutive_failures", failures)
			return nil
		}
		w.logger.Error("desktop enumeration failing persistently, trusting empty result",
			"error", err, "consecutive_failures", failures)
		desktops = nil
	}

	current, currErr := w.enum.Current()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err == nil {
		w.failures = 0
	}
	if currErr != nil {
		current = w.current
	}

	prevSet := make(map[string]struct{}, len(w.known))
	for _, k := range w.known {
		prevSet[k] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(desktops))
	for _, k := range desktops {
		nextSet[k] = struct{}{}
	}

	var events []Event
	created := make(map[string]struct{})

	// Creations, in the order the OS reported them.
	for _, k := range desktops {
		if _, ok := prevSet[k]; !ok {
			created[k] = struct{}{}
			events = append(events, Event{
				Kind:             EventCreated,
				Key:              k,
				BecameForeground: k == current,
			})
		}
	}

	// Removals, in last-known order.
	for _, k := range w.known {
		if _, ok := nextSet[k]; !ok {
			events = append(events, Event{Kind: EventRemoved, Key: k})
		}
	}

	// Foreground change not already covered by a created event.
	if current != w.current {
		if _, justCreated := created[current]; !justCreated {
			events = append(events, Event{Kind: EventSwitched, OldKey: w.current, NewKey: current})
		}
	}

	w.known = desktops
	w.current = current
	return events
}
