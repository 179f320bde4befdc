// Package server implements a single worker's side of the brokerage
// protocol: announcing its own availability, either to a coordinator
// over the wire protocol or via a filesystem rendezvous file, on a
// fixed heartbeat cadence.
package server

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kreid-dev/fbroker/internal/brokerage"
	"github.com/kreid-dev/fbroker/internal/protocol"
	"github.com/kreid-dev/fbroker/internal/transport"
)

// CoordinatorPort is the coordinator's fixed listening port.
const CoordinatorPort = 31264

// HeartbeatInterval is how often Run re-announces. It must
// stay comfortably under the coordinator's heartbeat timeout.
const HeartbeatInterval = 10 * time.Second

// IdentityRefreshInterval is how often a running worker re-resolves its
// own hostname/IP set to notice a network change (DHCP lease renewal,
// NIC change, etc.) without restarting.
const IdentityRefreshInterval = 5 * time.Minute

// InfoProvider supplies the descriptive fields sent via
// UpdateWorkerInfo / written into the rendezvous file. In coordinator
// mode it is called once per heartbeat, so a worker can report live
// CPU/memory figures; in filesystem mode it is called only when the
// rendezvous file is (re)written, not on every heartbeat.
type InfoProvider func() protocol.UpdateWorkerInfo

// Server announces one worker's availability for as long as Run is
// executing; cancelling its context triggers a best-effort
// deregistration before Run returns.
type Server struct {
	Flags    brokerage.Flags
	Info     InfoProvider
	identity brokerage.Identity

	dialTimeout             time.Duration
	heartbeatInterval       time.Duration
	identityRefreshInterval time.Duration
}

// New creates a server for the local worker identity.
func New(flags brokerage.Flags, info InfoProvider) (*Server, error) {
	identity, err := brokerage.ResolveIdentity()
	if err != nil {
		return nil, err
	}
	return &Server{
		Flags:                   flags,
		Info:                    info,
		identity:                identity,
		dialTimeout:             2 * time.Second,
		heartbeatInterval:       HeartbeatInterval,
		identityRefreshInterval: IdentityRefreshInterval,
	}, nil
}

// Run announces availability on HeartbeatInterval until ctx is
// cancelled, then deregisters and returns.
func (s *Server) Run(ctx context.Context) error {
	cfg := brokerage.ResolveServer(s.Flags)

	switch cfg.Mode {
	case brokerage.ModeCoordinator:
		return s.runCoordinator(ctx, cfg)
	case brokerage.ModeFilesystem:
		return s.runFilesystem(ctx, cfg)
	default:
		log.Warn().Msg("server: no brokerage root and no coordinator available; did you set FASTBUILD_BROKERAGE_PATH or FASTBUILD_COORDINATOR?")
		<-ctx.Done()
		return nil
	}
}

func (s *Server) runCoordinator(ctx context.Context, cfg brokerage.Config) error {
	host, portStr, err := net.SplitHostPort(cfg.CoordinatorAddress)
	if err != nil {
		host, portStr = cfg.CoordinatorAddress, strconv.Itoa(CoordinatorPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = CoordinatorPort
	}

	pool := transport.New(transport.Callbacks{})
	defer pool.ShutdownAll()

	var lastInfo protocol.UpdateWorkerInfo
	haveLastInfo := false

	// heartbeat connects, announces, and disconnects immediately: the
	// coordinator only needs a momentary connection to record the
	// status/info, not a held-open session. pushInfo forces
	// UpdateWorkerInfo onto this cycle even if s.Info reports no
	// change, used for the very first heartbeat and whenever the
	// worker's identity has just been re-resolved as changed.
	heartbeat := func(pushInfo bool) {
		conn := pool.Connect(host, port, s.dialTimeout, nil)
		if conn == nil {
			log.Warn().Str("coordinator", cfg.CoordinatorAddress).Msg("server: failed to connect to coordinator")
			return
		}
		defer pool.Disconnect(conn)

		status := protocol.SetWorkerStatus{IsAvailable: true, ProtocolVersion: cfg.ProtocolVersion, Platform: cfg.Platform}
		if err := pool.Send(conn, status.Encode()); err != nil {
			log.Warn().Err(err).Msg("server: failed to announce availability")
			return
		}

		if s.Info == nil {
			return
		}
		info := s.Info()
		if pushInfo || !haveLastInfo || info != lastInfo {
			if err := pool.SendWithPayload(conn, info.Encode(), info.EncodePayload()); err != nil {
				log.Warn().Err(err).Msg("server: failed to send worker info")
				return
			}
			lastInfo = info
			haveLastInfo = true
		}
	}

	heartbeat(true)

	heartbeatTicker := time.NewTicker(s.heartbeatInterval)
	defer heartbeatTicker.Stop()
	identityTicker := time.NewTicker(s.identityRefreshInterval)
	defer identityTicker.Stop()

	forcePush := false
	for {
		select {
		case <-ctx.Done():
			conn := pool.Connect(host, port, s.dialTimeout, nil)
			if conn != nil {
				status := protocol.SetWorkerStatus{IsAvailable: false, ProtocolVersion: cfg.ProtocolVersion, Platform: cfg.Platform}
				_ = pool.Send(conn, status.Encode())
				pool.Disconnect(conn)
			}
			return nil
		case <-identityTicker.C:
			if s.refreshIdentity() {
				log.Info().Msg("server: identity changed, forcing a config push on the next heartbeat")
				forcePush = true
			}
		case <-heartbeatTicker.C:
			heartbeat(forcePush)
			forcePush = false
		}
	}
}

// refreshIdentity re-resolves this host's hostname and local IPv4 set
// and reports whether either changed since the last resolution.
func (s *Server) refreshIdentity() bool {
	identity, err := brokerage.ResolveIdentity()
	if err != nil {
		log.Warn().Err(err).Msg("server: failed to re-resolve identity")
		return false
	}
	changed := identity.Hostname != s.identity.Hostname || !sameIPSet(identity.LocalIPs, s.identity.LocalIPs)
	s.identity = identity
	return changed
}

func sameIPSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for ip := range a {
		if _, ok := b[ip]; !ok {
			return false
		}
	}
	return true
}

func (s *Server) runFilesystem(ctx context.Context, cfg brokerage.Config) error {
	root := cfg.BrokerageRoots[0]
	name := s.identity.RendezvousName(cfg.PreferHostname)

	announce := func() {
		fields := map[string]string{"Host Name": s.identity.Hostname}
		if s.Info != nil {
			info := s.Info()
			fields["Version"] = info.Version
			fields["User"] = info.User
			fields["Domain Name"] = info.Domainname
			fields["Mode"] = info.Mode
			fields["CPUs"] = strconv.Itoa(int(info.NumCPUsTotal-info.NumCPUsUsed)) + "/" + strconv.Itoa(int(info.NumCPUsTotal))
		}
		if err := brokerage.WriteAnnounceFile(root, name, fields); err != nil {
			log.Warn().Err(err).Msg("server: failed to write rendezvous file")
		}
	}
	announce()

	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()
	gc := time.NewTicker(brokerage.GCInterval)
	defer gc.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := brokerage.RemoveAnnounceFile(root, name); err != nil {
				log.Warn().Err(err).Msg("server: failed to remove rendezvous file on shutdown")
			}
			return nil
		case <-heartbeat.C:
			if err := brokerage.Touch(root, name); err != nil {
				announce()
			}
		case <-gc.C:
			brokerage.GC(root, time.Now())
		}
	}
}
