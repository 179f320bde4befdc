package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/kreid-dev/fbroker/internal/observability/dashboard"
	"github.com/kreid-dev/fbroker/internal/protocol"
	"github.com/kreid-dev/fbroker/internal/wire"
)

func TestDashboardAdapterGetStatsAndWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = pickPort(t)
	c := New(cfg)
	if err := c.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer c.Shutdown()

	worker := dial(t, cfg.Port)
	defer worker.Close()

	status := protocol.SetWorkerStatus{IsAvailable: true, ProtocolVersion: cfg.ProtocolVersion, Platform: 0}
	if err := wire.WriteChunk(worker, status.Encode()); err != nil {
		t.Fatalf("write SetWorkerStatus: %v", err)
	}
	waitForCount(t, c, 1)

	adapter := NewDashboardAdapter(c)

	stats := adapter.GetStats()
	if stats.TotalWorkers != 1 {
		t.Fatalf("expected 1 worker in stats, got %d", stats.TotalWorkers)
	}
	if stats.WorkersByPlatform["linux"] != 1 {
		t.Fatalf("expected 1 linux worker, got %+v", stats.WorkersByPlatform)
	}
	if stats.InstanceID != c.InstanceID() {
		t.Fatalf("InstanceID mismatch: %s vs %s", stats.InstanceID, c.InstanceID())
	}

	workers := adapter.GetWorkers()
	if len(workers) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(workers))
	}
	if workers[0].Platform != "linux" {
		t.Errorf("Platform = %s, want linux", workers[0].Platform)
	}
}

func TestDashboardNotifierReceivesJoinAndRemoveEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = pickPort(t)
	c := New(cfg)

	var mu sync.Mutex
	var joined []string
	var removed []string

	c.SetDashboardNotifier(dashboard.RegistryEventNotifier{
		OnWorkerJoined: func(w *dashboard.WorkerInfo) {
			mu.Lock()
			joined = append(joined, w.Address)
			mu.Unlock()
		},
		OnWorkerRemoved: func(addr string) {
			mu.Lock()
			removed = append(removed, addr)
			mu.Unlock()
		},
		OnWorkerEvicted: func(addr string) {},
	})

	if err := c.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer c.Shutdown()

	worker := dial(t, cfg.Port)
	defer worker.Close()

	if err := wire.WriteChunk(worker, (protocol.SetWorkerStatus{IsAvailable: true, ProtocolVersion: cfg.ProtocolVersion, Platform: 0}).Encode()); err != nil {
		t.Fatalf("write available: %v", err)
	}
	waitForCount(t, c, 1)

	if err := wire.WriteChunk(worker, (protocol.SetWorkerStatus{IsAvailable: false, ProtocolVersion: cfg.ProtocolVersion, Platform: 0}).Encode()); err != nil {
		t.Fatalf("write unavailable: %v", err)
	}
	waitForCount(t, c, 0)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		gotBoth := len(joined) == 1 && len(removed) == 1
		mu.Unlock()
		if gotBoth {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	t.Fatalf("expected 1 joined and 1 removed event, got joined=%v removed=%v", joined, removed)
}

func TestDashboardNotifierReceivesEvictEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = pickPort(t)
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.HeartbeatTimeout = 20 * time.Millisecond
	c := New(cfg)

	var mu sync.Mutex
	var evicted []string
	c.SetDashboardNotifier(dashboard.RegistryEventNotifier{
		OnWorkerJoined:  func(w *dashboard.WorkerInfo) {},
		OnWorkerRemoved: func(addr string) {},
		OnWorkerEvicted: func(addr string) {
			mu.Lock()
			evicted = append(evicted, addr)
			mu.Unlock()
		},
	})

	if err := c.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer c.Shutdown()

	worker := dial(t, cfg.Port)
	defer worker.Close()

	if err := wire.WriteChunk(worker, (protocol.SetWorkerStatus{IsAvailable: true, ProtocolVersion: cfg.ProtocolVersion, Platform: 0}).Encode()); err != nil {
		t.Fatalf("write available: %v", err)
	}
	waitForCount(t, c, 1)
	waitForCount(t, c, 0)

	mu.Lock()
	defer mu.Unlock()
	if len(evicted) != 1 {
		t.Fatalf("expected 1 evicted event, got %v", evicted)
	}
	if c.evictedTotal.Load() != 1 {
		t.Fatalf("evictedTotal = %d, want 1", c.evictedTotal.Load())
	}
}
