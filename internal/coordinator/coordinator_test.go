package coordinator

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/kreid-dev/fbroker/internal/protocol"
	"github.com/kreid-dev/fbroker/internal/wire"
)

func pickPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 2*time.Second)
	if err != nil {
		t.Fatalf("dial coordinator: %v", err)
	}
	return conn
}

func TestCoordinatorRegistersWorkerAndAnswersWorkerList(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = pickPort(t)
	c := New(cfg)
	if err := c.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer c.Shutdown()

	worker := dial(t, cfg.Port)
	defer worker.Close()

	status := protocol.SetWorkerStatus{IsAvailable: true, ProtocolVersion: 7, Platform: 1}
	if err := wire.WriteChunk(worker, status.Encode()); err != nil {
		t.Fatalf("write SetWorkerStatus: %v", err)
	}

	waitForCount(t, c, 1)

	client := dial(t, cfg.Port)
	defer client.Close()

	req := protocol.RequestWorkerList{ProtocolVersion: 7, Platform: 1, WantFullInfo: false}
	if err := wire.WriteChunk(client, req.Encode()); err != nil {
		t.Fatalf("write RequestWorkerList: %v", err)
	}

	r := wire.NewReader(client)
	header, err := r.ReadChunk()
	if err != nil {
		t.Fatalf("read WorkerList header: %v", err)
	}
	hdr, err := protocol.DecodeHeader(header)
	if err != nil || hdr.MsgType != protocol.MsgWorkerList {
		t.Fatalf("unexpected header: %+v err=%v", hdr, err)
	}

	payload, err := r.ReadChunk()
	if err != nil {
		t.Fatalf("read WorkerList payload: %v", err)
	}
	entries, err := protocol.DecodeWorkerListPayload(payload, false)
	if err != nil {
		t.Fatalf("DecodeWorkerListPayload: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 worker in list, got %d", len(entries))
	}
}

func TestCoordinatorRequestWorkerListFiltersByPlatform(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = pickPort(t)
	c := New(cfg)
	if err := c.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer c.Shutdown()

	worker := dial(t, cfg.Port)
	defer worker.Close()
	status := protocol.SetWorkerStatus{IsAvailable: true, ProtocolVersion: 7, Platform: 1}
	if err := wire.WriteChunk(worker, status.Encode()); err != nil {
		t.Fatalf("write SetWorkerStatus: %v", err)
	}
	waitForCount(t, c, 1)

	client := dial(t, cfg.Port)
	defer client.Close()
	req := protocol.RequestWorkerList{ProtocolVersion: 7, Platform: 2, WantFullInfo: false}
	if err := wire.WriteChunk(client, req.Encode()); err != nil {
		t.Fatalf("write RequestWorkerList: %v", err)
	}

	r := wire.NewReader(client)
	if _, err := r.ReadChunk(); err != nil {
		t.Fatalf("read WorkerList header: %v", err)
	}
	payload, err := r.ReadChunk()
	if err != nil {
		t.Fatalf("read WorkerList payload: %v", err)
	}
	entries, err := protocol.DecodeWorkerListPayload(payload, false)
	if err != nil {
		t.Fatalf("DecodeWorkerListPayload: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected 0 workers for mismatched platform, got %d", len(entries))
	}
}

func TestCoordinatorSetWorkerStatusUnavailableRemoves(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = pickPort(t)
	c := New(cfg)
	if err := c.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer c.Shutdown()

	worker := dial(t, cfg.Port)
	defer worker.Close()

	if err := wire.WriteChunk(worker, (protocol.SetWorkerStatus{IsAvailable: true, ProtocolVersion: 1, Platform: 0}).Encode()); err != nil {
		t.Fatalf("write available: %v", err)
	}
	waitForCount(t, c, 1)

	if err := wire.WriteChunk(worker, (protocol.SetWorkerStatus{IsAvailable: false, ProtocolVersion: 1, Platform: 0}).Encode()); err != nil {
		t.Fatalf("write unavailable: %v", err)
	}
	waitForCount(t, c, 0)
}

func waitForCount(t *testing.T, c *Coordinator, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Registry().Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("registry count never reached %d, got %d", want, c.Registry().Count())
}
