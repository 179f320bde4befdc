// Package coordinator implements the coordinator service: it accepts
// connections from workers and clients, dispatches decoded protocol
// messages against the worker registry, and runs the periodic
// heartbeat sweep.
package coordinator

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kreid-dev/fbroker/internal/coordinator/metrics"
	"github.com/kreid-dev/fbroker/internal/discovery/mdns"
	"github.com/kreid-dev/fbroker/internal/observability/dashboard"
	obsmetrics "github.com/kreid-dev/fbroker/internal/observability/metrics"
	"github.com/kreid-dev/fbroker/internal/protocol"
	"github.com/kreid-dev/fbroker/internal/registry"
	"github.com/kreid-dev/fbroker/internal/transport"
)

// Config controls the coordinator's listening port and sweep cadence.
type Config struct {
	Port             int
	SweepInterval    time.Duration
	HeartbeatTimeout time.Duration
	ProtocolVersion  uint32

	// AnnounceMDNS advertises this coordinator on the LAN via mDNS, an
	// enrichment on top of the brokerage discovery modes; it never
	// substitutes for them.
	AnnounceMDNS bool
}

// DefaultConfig returns the coordinator's standard operating
// parameters.
func DefaultConfig() Config {
	return Config{
		Port:             31264,
		SweepInterval:    10 * time.Second,
		HeartbeatTimeout: registry.HeartbeatTimeout,
		ProtocolVersion:  1,
	}
}

// Coordinator wires the transport pool to the worker registry,
// answering RequestWorkerList queries from clients with a point-in-time
// snapshot and recording worker availability/info announcements.
type Coordinator struct {
	cfg     Config
	reg     registry.Registry
	pool    *transport.Pool
	latency *metrics.LatencyTracker

	instanceID string
	announcer  *mdns.CoordAnnouncer

	evictedTotal      atomic.Int64
	dashboardNotifier *dashboard.RegistryEventNotifier

	mu      sync.Mutex
	pending map[*transport.Conn]protocol.Header // awaiting the payload chunk of a has_payload message

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// SetDashboardNotifier wires a dashboard server's event callbacks so
// worker registration, explicit departure and heartbeat eviction reach
// connected WebSocket clients as they happen.
func (c *Coordinator) SetDashboardNotifier(n dashboard.RegistryEventNotifier) {
	c.dashboardNotifier = &n
}

// New creates a coordinator backed by an in-memory registry.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		cfg:        cfg,
		reg:        registry.New(),
		latency:    metrics.NewLatencyTracker(),
		instanceID: uuid.NewString(),
		pending:    make(map[*transport.Conn]protocol.Header),
		stopSweep:  make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}
	c.pool = transport.New(transport.Callbacks{
		OnConnected:    c.onConnected,
		OnDisconnected: c.onDisconnected,
		OnReceive:      c.onReceive,
	})
	return c
}

// InstanceID is a unique identifier for this coordinator process,
// surfaced in mDNS TXT records and the dashboard.
func (c *Coordinator) InstanceID() string {
	return c.instanceID
}

// Registry exposes the underlying worker registry, e.g. for a
// dashboard's read-only view.
func (c *Coordinator) Registry() registry.Registry {
	return c.reg
}

// Addr returns the coordinator's bound listening address. Only valid
// after Serve has returned successfully; useful when Config.Port is 0
// and the OS chose an ephemeral port.
func (c *Coordinator) Addr() net.Addr {
	return c.pool.Addr()
}

// Serve binds the listening socket and starts the heartbeat sweep.
// It returns once the socket is bound; both the accept loop and the
// sweep loop run in the background until Shutdown is called.
func (c *Coordinator) Serve() error {
	if err := c.pool.Listen(c.cfg.Port); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	go c.sweepLoop()
	log.Info().Int("port", c.cfg.Port).Msg("coordinator: listening")

	if c.cfg.AnnounceMDNS {
		c.announcer = mdns.NewCoordAnnouncer(mdns.CoordAnnouncerConfig{
			Instance:        "fbroker-coord-" + c.instanceID[:8],
			Port:            c.cfg.Port,
			ProtocolVersion: c.cfg.ProtocolVersion,
			InstanceID:      c.instanceID,
		})
		if err := c.announcer.Start(); err != nil {
			log.Warn().Err(err).Msg("coordinator: mDNS announce failed, continuing without it")
			c.announcer = nil
		}
	}

	return nil
}

// Shutdown stops the sweep loop and tears down every connection.
func (c *Coordinator) Shutdown() {
	if c.announcer != nil {
		c.announcer.Stop()
	}
	close(c.stopSweep)
	<-c.sweepDone
	c.pool.ShutdownAll()
}

func (c *Coordinator) sweepLoop() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopSweep:
			return
		case now := <-ticker.C:
			sweepStart := time.Now()
			// registry.Sweep measures staleness against
			// registry.HeartbeatTimeout; shifting the reference time by
			// the difference applies c.cfg.HeartbeatTimeout instead.
			sweepAt := now
			if c.cfg.HeartbeatTimeout > 0 {
				sweepAt = now.Add(registry.HeartbeatTimeout - c.cfg.HeartbeatTimeout)
			}
			evicted := c.reg.Sweep(sweepAt)
			obsmetrics.Default().ObserveSweepDuration(time.Since(sweepStart).Seconds())
			if len(evicted) > 0 {
				log.Debug().Int("count", len(evicted)).Msg("coordinator: swept stale workers")
				c.evictedTotal.Add(int64(len(evicted)))
				obsmetrics.Default().RecordWorkersEvicted(len(evicted))
				if c.dashboardNotifier != nil {
					for _, addr := range evicted {
						c.dashboardNotifier.OnWorkerEvicted(protocol.AddressToString(addr))
					}
				}
			}
			c.reportWorkersOnline()
		}
	}
}

func (c *Coordinator) onConnected(conn *transport.Conn) {
	obsmetrics.Default().RecordConnection("accepted")
	obsmetrics.Default().SetConnectionsOpen(float64(c.pool.ActiveCount()))
}

func (c *Coordinator) onDisconnected(conn *transport.Conn) {
	c.mu.Lock()
	delete(c.pending, conn)
	c.mu.Unlock()
	obsmetrics.Default().SetConnectionsOpen(float64(c.pool.ActiveCount()))
}

// reportWorkersOnline refreshes the per-platform online-worker gauge
// from a fresh registry snapshot; called once per sweep tick.
func (c *Coordinator) reportWorkersOnline() {
	counts := map[uint8]int{0: 0, 1: 0, 2: 0}
	for platform := range counts {
		counts[platform] = len(c.reg.Snapshot(c.cfg.ProtocolVersion, platform))
	}
	for platform, count := range counts {
		obsmetrics.Default().SetWorkersOnline(protocol.PlatformName(platform), float64(count))
	}
}

// onReceive is invoked once per decoded chunk. A has_payload message
// arrives as two consecutive calls for the same connection: first the
// fixed-size body, then the payload. Between the two, the connection's
// pending header is held in c.pending.
func (c *Coordinator) onReceive(conn *transport.Conn, buf []byte, keepMemory *bool) {
	c.mu.Lock()
	hdr, awaitingPayload := c.pending[conn]
	c.mu.Unlock()

	if awaitingPayload {
		c.mu.Lock()
		delete(c.pending, conn)
		c.mu.Unlock()
		c.handlePayload(conn, hdr, buf)
		return
	}

	hdr, err := protocol.DecodeHeader(buf)
	if err != nil {
		log.Warn().Err(err).Msg("coordinator: corrupt frame, disconnecting peer")
		c.pool.Disconnect(conn)
		return
	}

	if hdr.HasPayload {
		c.mu.Lock()
		c.pending[conn] = hdr
		c.mu.Unlock()
		return
	}

	c.handleFixedBody(conn, hdr, buf)
}

func (c *Coordinator) handleFixedBody(conn *transport.Conn, hdr protocol.Header, buf []byte) {
	switch hdr.MsgType {
	case protocol.MsgSetWorkerStatus:
		c.handleSetWorkerStatus(conn, buf)
	case protocol.MsgRequestWorkerList:
		c.handleRequestWorkerList(conn, buf)
	default:
		log.Warn().Str("type", hdr.MsgType.String()).Msg("coordinator: unexpected message type, disconnecting peer")
		c.pool.Disconnect(conn)
	}
}

func (c *Coordinator) handlePayload(conn *transport.Conn, hdr protocol.Header, payload []byte) {
	switch hdr.MsgType {
	case protocol.MsgUpdateWorkerInfo:
		c.handleUpdateWorkerInfo(conn, payload)
	default:
		log.Warn().Str("type", hdr.MsgType.String()).Msg("coordinator: unexpected payload type, disconnecting peer")
		c.pool.Disconnect(conn)
	}
}

func (c *Coordinator) handleSetWorkerStatus(conn *transport.Conn, buf []byte) {
	msg, err := protocol.DecodeSetWorkerStatus(buf)
	if err != nil {
		log.Warn().Err(err).Msg("coordinator: corrupt SetWorkerStatus, disconnecting peer")
		c.pool.Disconnect(conn)
		return
	}

	addr, ok := addrOf(conn)
	if !ok {
		return
	}

	addrStr := protocol.AddressToString(addr)
	if msg.IsAvailable {
		result := c.reg.UpsertAvailable(addr, msg.ProtocolVersion, msg.Platform)
		log.Debug().Str("addr", addrStr).Str("result", upsertResultString(result)).Msg("coordinator: worker available")
		if result == registry.Created {
			obsmetrics.Default().RecordWorkerRegistered(protocol.PlatformName(msg.Platform))
		}
		if c.dashboardNotifier != nil {
			if records := c.reg.Snapshot(msg.ProtocolVersion, msg.Platform); len(records) > 0 {
				for _, r := range records {
					if r.Address == addr {
						c.dashboardNotifier.OnWorkerJoined(toWorkerInfo(r, time.Now()))
						break
					}
				}
			}
		}
	} else {
		c.reg.Remove(addr)
		log.Debug().Str("addr", addrStr).Msg("coordinator: worker unavailable")
		if c.dashboardNotifier != nil {
			c.dashboardNotifier.OnWorkerRemoved(addrStr)
		}
	}
}

func (c *Coordinator) handleUpdateWorkerInfo(conn *transport.Conn, payload []byte) {
	msg, err := protocol.DecodeUpdateWorkerInfoPayload(payload)
	if err != nil {
		log.Warn().Err(err).Msg("coordinator: corrupt UpdateWorkerInfo, disconnecting peer")
		c.pool.Disconnect(conn)
		return
	}

	addr, ok := addrOf(conn)
	if !ok {
		return
	}

	c.reg.UpdateInfo(addr, registry.Info{
		Version:       msg.Version,
		User:          msg.User,
		Hostname:      msg.Hostname,
		Domainname:    msg.Domainname,
		Mode:          msg.Mode,
		AvailableCPUs: msg.NumCPUsTotal - msg.NumCPUsUsed,
		TotalCPUs:     msg.NumCPUsTotal,
		MemoryMiB:     msg.MemoryMiB,
	})
}

func (c *Coordinator) handleRequestWorkerList(conn *transport.Conn, buf []byte) {
	start := time.Now()
	req, err := protocol.DecodeRequestWorkerList(buf)
	if err != nil {
		log.Warn().Err(err).Msg("coordinator: corrupt RequestWorkerList, disconnecting peer")
		c.pool.Disconnect(conn)
		return
	}

	records := c.reg.Snapshot(req.ProtocolVersion, req.Platform)
	entries := make([]protocol.WorkerListEntry, 0, len(records))
	for _, r := range records {
		entry := protocol.WorkerListEntry{Address: r.Address}
		if req.WantFullInfo {
			entry.Full = &protocol.WorkerListEntryInfo{
				Version:       r.Info.Version,
				User:          r.Info.User,
				Hostname:      r.Info.Hostname,
				Domainname:    r.Info.Domainname,
				Mode:          r.Info.Mode,
				AvailableCPUs: r.Info.AvailableCPUs,
				TotalCPUs:     r.Info.TotalCPUs,
				MemoryMiB:     r.Info.MemoryMiB,
			}
		}
		entries = append(entries, entry)
	}

	header := protocol.EncodeWorkerListHeader()
	payload := protocol.EncodeWorkerListPayload(entries, req.WantFullInfo)
	if err := c.pool.SendWithPayload(conn, header, payload); err != nil {
		log.Debug().Err(err).Msg("coordinator: failed to send worker list")
	}

	elapsed := time.Since(start)
	if addr, ok := addrOf(conn); ok {
		c.latency.Record(protocol.AddressToString(addr), float64(elapsed.Milliseconds()))
	}
	obsmetrics.Default().ObserveRequestWorkerListDuration(elapsed.Seconds())
}

// addrOf extracts the peer's IPv4 address as the registry's uint32 key.
func addrOf(conn *transport.Conn) (uint32, bool) {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return 0, false
	}
	return protocol.AddressFromIP(tcpAddr.IP)
}

func upsertResultString(r registry.UpsertResult) string {
	if r == registry.Created {
		return "new"
	}
	return "refreshed"
}
