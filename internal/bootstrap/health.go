package bootstrap

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Prober is satisfied by every client in internal/clients.
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

// HealthChecker fans a deep health check out over the registered probers.
type HealthChecker struct {
	mu      sync.RWMutex
	probers map[string]Prober
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{probers: make(map[string]Prober)}
}

// Register adds p under name. Registering a name twice replaces the prober.
func (h *HealthChecker) Register(name string, p Prober) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probers[name] = p
}

// Names returns the registered dependency names in sorted order.
func (h *HealthChecker) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.probers))
	for name := range h.probers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunDeepHealth probes every dependency concurrently and returns a map of
// dependency name to ProbeResult. A failing probe never cancels its siblings.
func (h *HealthChecker) RunDeepHealth(ctx context.Context) map[string]ProbeResult {
	h.mu.RLock()
	probers := make(map[string]Prober, len(h.probers))
	for name, p := range h.probers {
		probers[name] = p
	}
	h.mu.RUnlock()

	results := make(map[string]ProbeResult, len(probers))
	var mu sync.Mutex
	var g errgroup.Group

	for name, p := range probers {
		g.Go(func() error {
			probe := p.Probe(ctx)
			mu.Lock()
			results[name] = probe
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// AllOK reports whether every result in probes succeeded.
func AllOK(probes map[string]ProbeResult) bool {
	for _, p := range probes {
		if !p.OK {
			return false
		}
	}
	return true
}
