// Package connectivity watches whether the attestation service is reachable
// and notifies subscribers on transitions.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/verdantchain/fieldsync/internal/logging"
)

// Subscriber receives online/offline transitions.
type Subscriber func(online bool)

// Monitor polls a probe URL and reports reachability changes. The engine
// subscribes so that coming back online triggers an immediate sync cycle.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client

	mu          sync.Mutex
	online      bool
	known       bool
	subscribers []Subscriber
}

// NewMonitor creates a monitor that probes the given URL on the given
// interval. Until the first probe completes the monitor reports offline.
func NewMonitor(probeURL string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		probeURL: probeURL,
		interval: interval,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Subscribe registers a callback for transitions. If the monitor already
// knows its state, the callback is invoked immediately with it.
func (m *Monitor) Subscribe(fn Subscriber) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, fn)
	known := m.known
	online := m.online
	m.mu.Unlock()

	if known {
		fn(online)
	}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Run probes until the context is cancelled. The first probe fires
// immediately rather than waiting a full interval.
func (m *Monitor) Run(ctx context.Context) {
	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	m.set(m.reachable(ctx))
}

func (m *Monitor) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	// Any response at all means the network path is up; the probe endpoint
	// may legitimately reject HEAD.
	return resp.StatusCode < http.StatusInternalServerError
}

func (m *Monitor) set(online bool) {
	m.mu.Lock()
	changed := !m.known || m.online != online
	m.known = true
	m.online = online
	subscribers := make([]Subscriber, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		logging.Info("connectivity restored", map[string]interface{}{"probe_url": m.probeURL})
	} else {
		logging.Warn("connectivity lost", map[string]interface{}{"probe_url": m.probeURL})
	}

	for _, fn := range subscribers {
		fn(online)
	}
}
