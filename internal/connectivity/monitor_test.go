package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// TestMonitorReportsOnline verifies a reachable probe flips the monitor online
// and notifies subscribers.
func TestMonitorReportsOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor(srv.URL, time.Minute)

	var mu sync.Mutex
	var transitions []bool
	m.Subscribe(func(online bool) {
		mu.Lock()
		transitions = append(transitions, online)
		mu.Unlock()
	})

	m.probe(context.Background())

	if !m.Online() {
		t.Fatal("expected monitor to be online after successful probe")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || !transitions[0] {
		t.Errorf("expected one online transition, got %v", transitions)
	}
}

// TestMonitorReportsOffline verifies an unreachable probe is treated as
// offline.
func TestMonitorReportsOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // listener gone, probe must fail

	m := NewMonitor(srv.URL, time.Minute)
	m.probe(context.Background())

	if m.Online() {
		t.Fatal("expected monitor to be offline when probe fails")
	}
}

// TestMonitorCoalescesUnchangedState verifies subscribers only hear
// transitions, not every probe.
func TestMonitorCoalescesUnchangedState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewMonitor(srv.URL, time.Minute)

	var mu sync.Mutex
	count := 0
	m.Subscribe(func(bool) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		m.probe(context.Background())
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected a single notification for repeated online probes, got %d", count)
	}
}

// TestMonitorLateSubscriberSeesCurrentState verifies a subscriber added after
// the first probe is told the current state immediately.
func TestMonitorLateSubscriberSeesCurrentState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor(srv.URL, time.Minute)
	m.probe(context.Background())

	got := make(chan bool, 1)
	m.Subscribe(func(online bool) {
		got <- online
	})

	select {
	case online := <-got:
		if !online {
			t.Error("expected late subscriber to observe online state")
		}
	default:
		t.Fatal("expected late subscriber to be notified immediately")
	}
}

// TestMonitorServerErrorIsOffline verifies a 5xx probe response counts as
// unreachable.
func TestMonitorServerErrorIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewMonitor(srv.URL, time.Minute)
	m.probe(context.Background())

	if m.Online() {
		t.Fatal("expected 5xx probe response to report offline")
	}
}
