// Package integration exercises the coordinator, brokerage client/server
// and dashboard adapter wired together end to end over real loopback
// TCP connections, as opposed to the package-level tests which stub or
// bypass the network boundary between components.
package integration

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kreid-dev/fbroker/internal/brokerage"
	"github.com/kreid-dev/fbroker/internal/brokerage/client"
	"github.com/kreid-dev/fbroker/internal/brokerage/server"
	"github.com/kreid-dev/fbroker/internal/coordinator"
	"github.com/kreid-dev/fbroker/internal/protocol"
	"github.com/kreid-dev/fbroker/internal/transport"
)

func testWorkerInfo() protocol.UpdateWorkerInfo {
	return protocol.UpdateWorkerInfo{
		Version:      "test",
		User:         "tester",
		Hostname:     "integration-worker",
		Mode:         "idle",
		NumCPUsUsed:  0,
		NumCPUsTotal: 4,
		MemoryMiB:    8192,
	}
}

func startCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	coord := coordinator.New(coordinator.Config{
		Port:             0,
		SweepInterval:    30 * time.Millisecond,
		HeartbeatTimeout: 150 * time.Millisecond,
		ProtocolVersion:  1,
	})
	require.NoError(t, coord.Serve())
	t.Cleanup(coord.Shutdown)
	return coord
}

func coordinatorAddr(t *testing.T, coord *coordinator.Coordinator) string {
	t.Helper()
	addr, ok := coord.Addr().(*net.TCPAddr)
	require.True(t, ok, "expected a bound TCP address")
	return fmt.Sprintf("127.0.0.1:%d", addr.Port)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met within timeout")
}

// TestWorkerAnnouncesAndDeregisters drives a real brokerage server
// against a real coordinator over loopback TCP and confirms the
// registration and explicit deregistration both reach the dashboard's
// StatsProvider view, not just the bare registry.
func TestWorkerAnnouncesAndDeregisters(t *testing.T) {
	coord := startCoordinator(t)
	adapter := coordinator.NewDashboardAdapter(coord)

	srv, err := server.New(brokerage.Flags{
		CoordinatorAddress: coordinatorAddr(t, coord),
		ProtocolVersion:    1,
		Platform:           brokerage.CurrentPlatform(),
	}, testWorkerInfo)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	waitFor(t, time.Second, func() bool {
		return len(adapter.GetWorkers()) == 1
	})

	workers := adapter.GetWorkers()
	require.Len(t, workers, 1)
	require.Equal(t, "integration-worker", workers[0].Hostname)
	require.Equal(t, int32(4), workers[0].TotalCPUs)

	stats := adapter.GetStats()
	require.Equal(t, 1, stats.TotalWorkers)
	require.NotEmpty(t, stats.InstanceID)

	cancel()
	require.NoError(t, <-done)

	waitFor(t, time.Second, func() bool {
		return len(adapter.GetWorkers()) == 0
	})
}

// TestWorkerEvictedAfterHeartbeatTimeout simulates a crashed worker: it
// announces availability directly over transport.Pool (bypassing
// brokerage/server, which always sends a clean "unavailable" status on
// shutdown) and then severs the TCP connection without announcing
// anything further, so the only way the coordinator can notice is its
// own sweep loop timing the worker out.
func TestWorkerEvictedAfterHeartbeatTimeout(t *testing.T) {
	coord := startCoordinator(t)
	adapter := coordinator.NewDashboardAdapter(coord)

	tcpAddr, ok := coord.Addr().(*net.TCPAddr)
	require.True(t, ok)

	pool := transport.New(transport.Callbacks{})
	t.Cleanup(pool.ShutdownAll)

	conn := pool.Connect("127.0.0.1", tcpAddr.Port, 2*time.Second, nil)
	require.NotNil(t, conn, "expected to connect to the coordinator")

	status := protocol.SetWorkerStatus{IsAvailable: true, ProtocolVersion: 1, Platform: brokerage.CurrentPlatform()}
	require.NoError(t, pool.Send(conn, status.Encode()))

	waitFor(t, time.Second, func() bool {
		return len(adapter.GetWorkers()) == 1
	})

	beforeEvicted := adapter.GetStats().EvictedTotal

	// Drop the connection without ever sending IsAvailable: false, the
	// way a killed worker process would.
	pool.Disconnect(conn)

	waitFor(t, time.Second, func() bool {
		return len(adapter.GetWorkers()) == 0
	})
	require.Greater(t, adapter.GetStats().EvictedTotal, beforeEvicted)
}

// TestFilesystemDiscoveryAcrossRealFiles exercises a real worker
// announcing itself via a rendezvous root in filesystem mode alongside
// a second, manually-planted entry representing a different host, then
// confirms a client resolves the merged, self-filtered set from real
// files on disk.
//
// The real worker's own entry is expected to be filtered out: without
// PreferHostname it announces under this machine's first non-loopback
// IPv4 address (its hostname only when it has none), which the
// client's own identity also resolves to, so IsLocal excludes it. This is
// why the assertion below checks for exactly the planted remote entry,
// not both.
func TestFilesystemDiscoveryAcrossRealFiles(t *testing.T) {
	root := t.TempDir()

	srv, err := server.New(brokerage.Flags{
		BrokerageRoots:  root,
		ProtocolVersion: 1,
		Platform:        brokerage.CurrentPlatform(),
	}, testWorkerInfo)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	// A client and a server resolve the same raw root into the same
	// versioned "<root>/main/<version>.<os>" directory; recover that
	// resolved path the same way they do instead of guessing the
	// platform directory suffix here.
	resolvedRoot := brokerage.ResolveServer(brokerage.Flags{
		BrokerageRoots:  root,
		ProtocolVersion: 1,
		Platform:        brokerage.CurrentPlatform(),
	}).BrokerageRoots[0]

	waitFor(t, time.Second, func() bool {
		entries, statErr := os.ReadDir(resolvedRoot)
		return statErr == nil && len(entries) >= 1
	})

	require.NoError(t, brokerage.WriteAnnounceFile(resolvedRoot, "remote-build-farm-1", map[string]string{
		"Host Name": "remote-build-farm-1",
	}))

	c := client.New(brokerage.Flags{
		BrokerageRoots:  root,
		ProtocolVersion: 1,
		Platform:        brokerage.CurrentPlatform(),
	})

	workers, err := c.FindWorkers(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"remote-build-farm-1"}, workers)

	cancel()
	require.NoError(t, <-done)
}

// TestStaticListTakesPrecedenceOverEverything confirms the discovery
// precedence order end to end: a static list wins even with a live
// coordinator and a populated brokerage root both available.
func TestStaticListTakesPrecedenceOverEverything(t *testing.T) {
	coord := startCoordinator(t)
	root := t.TempDir()
	require.NoError(t, brokerage.WriteAnnounceFile(root, "fs-worker", nil))

	c := client.New(brokerage.Flags{
		StaticWorkers:      "10.0.0.1;10.0.0.2",
		CoordinatorAddress: coordinatorAddr(t, coord),
		BrokerageRoots:     root,
		ProtocolVersion:    1,
		Platform:           brokerage.CurrentPlatform(),
	})

	workers, err := c.FindWorkers(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, workers)
}
