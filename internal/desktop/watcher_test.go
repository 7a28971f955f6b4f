// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package desktop_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deskmux-dev/deskmux/internal/desktop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEnumerator is a scriptable Enumerator controlled from the test body.
type fakeEnumerator struct {
	mu       sync.Mutex
	desktops []string
	current  string
	err      error
	failN    int // next n Desktops calls fail, then recover
}

func (f *fakeEnumerator) set(desktops []string, current string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.desktops = desktops
	f.current = current
	f.err = nil
}

func (f *fakeEnumerator) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeEnumerator) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failN = n
}

func (f *fakeEnumerator) Desktops() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return nil, errors.New("enumeration hiccup")
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, len(f.desktops))
	copy(out, f.desktops)
	return out, nil
}

func (f *fakeEnumerator) Current() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.current, nil
}

func startWatcher(t *testing.T, enum desktop.Enumerator, grace int) *desktop.Watcher {
	t.Helper()
	w := desktop.NewWatcher(desktop.Config{
		Enumerator:   enum,
		PollInterval: 5 * time.Millisecond,
		FailureGrace: grace,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w.Start(ctx)
	t.Cleanup(w.Stop)
	return w
}

// waitEvent fails the test if no event arrives in time.
func waitEvent(t *testing.T, w *desktop.Watcher) desktop.Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher event")
		return desktop.Event{}
	}
}

func expectNoEvent(t *testing.T, w *desktop.Watcher, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(wait):
	}
}

func TestWatcherEmitsCreation(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set([]string{"d1"}, "d1")
	w := startWatcher(t, enum, 2)

	// The primed desktop is not reported as created.
	expectNoEvent(t, w, 50*time.Millisecond)

	enum.set([]string{"d1", "d2"}, "d2")

	ev := waitEvent(t, w)
	assert.Equal(t, desktop.EventCreated, ev.Kind)
	assert.Equal(t, "d2", ev.Key)
	assert.True(t, ev.BecameForeground)
}

func TestWatcherBurstCreationInOSOrder(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set([]string{"d1"}, "d1")
	w := startWatcher(t, enum, 2)

	enum.set([]string{"d1", "d2", "d3"}, "d1")

	first := waitEvent(t, w)
	second := waitEvent(t, w)
	require.Equal(t, desktop.EventCreated, first.Kind)
	require.Equal(t, desktop.EventCreated, second.Kind)
	assert.Equal(t, "d2", first.Key)
	assert.Equal(t, "d3", second.Key)
	assert.False(t, first.BecameForeground)
	assert.False(t, second.BecameForeground)
}

func TestWatcherEmitsRemoval(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set([]string{"d1", "d2"}, "d1")
	w := startWatcher(t, enum, 2)

	enum.set([]string{"d1"}, "d1")

	ev := waitEvent(t, w)
	assert.Equal(t, desktop.EventRemoved, ev.Kind)
	assert.Equal(t, "d2", ev.Key)
}

func TestWatcherSwitchWithoutMembershipChange(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set([]string{"d1", "d2"}, "d1")
	w := startWatcher(t, enum, 2)

	enum.set([]string{"d1", "d2"}, "d2")

	ev := waitEvent(t, w)
	assert.Equal(t, desktop.EventSwitched, ev.Kind)
	assert.Equal(t, "d1", ev.OldKey)
	assert.Equal(t, "d2", ev.NewKey)

	expectNoEvent(t, w, 50*time.Millisecond)
}

func TestWatcherSuppressesRemovalsDuringGrace(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set([]string{"d1", "d2"}, "d1")
	w := startWatcher(t, enum, 1000) // effectively never trust a failure

	enum.fail(errors.New("enumeration hiccup"))

	// Failures keep the last-known topology: no removal events.
	expectNoEvent(t, w, 100*time.Millisecond)

	// Recovery with an unchanged list stays silent too.
	enum.set([]string{"d1", "d2"}, "d1")
	expectNoEvent(t, w, 50*time.Millisecond)
}

func TestWatcherToleratesSingleFailureBelowGrace(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set([]string{"d1", "d2"}, "d1")
	w := startWatcher(t, enum, 2)

	// Exactly one failing poll, then recovery: below the grace count the
	// last-known topology holds and nothing is emitted.
	enum.failNext(1)
	expectNoEvent(t, w, 100*time.Millisecond)
}

func TestWatcherTrustsEmptyAfterGraceExceeded(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set([]string{"d1"}, "d1")
	w := startWatcher(t, enum, 2)

	enum.fail(errors.New("enumeration down"))

	// After the second consecutive failure the empty result is trusted and
	// the removal surfaces.
	ev := waitEvent(t, w)
	assert.Equal(t, desktop.EventRemoved, ev.Kind)
	assert.Equal(t, "d1", ev.Key)
}

func TestWatcherTopologySnapshot(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set([]string{"d1", "d2"}, "d2")

	w := desktop.NewWatcher(desktop.Config{Enumerator: enum, PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	known, current := w.Topology()
	assert.Equal(t, []string{"d1", "d2"}, known)
	assert.Equal(t, "d2", current)
}

func TestWatcherStopClosesEvents(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set([]string{"d1"}, "d1")

	w := desktop.NewWatcher(desktop.Config{Enumerator: enum, PollInterval: 5 * time.Millisecond})
	w.Start(context.Background())
	w.Stop()

	_, open := <-w.Events()
	assert.False(t, open, "event channel closes on stop")
}
