// Package client implements the brokerage client side: FindWorkers
// resolves the configured discovery mode and returns the set of
// candidate worker addresses, filtering the local host out of the
// result either way.
package client

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kreid-dev/fbroker/internal/brokerage"
	"github.com/kreid-dev/fbroker/internal/discovery/mdns"
	"github.com/kreid-dev/fbroker/internal/observability/metrics"
	"github.com/kreid-dev/fbroker/internal/protocol"
	"github.com/kreid-dev/fbroker/internal/registry"
	"github.com/kreid-dev/fbroker/internal/resilience"
	"github.com/kreid-dev/fbroker/internal/transport"
)

// CoordinatorPort is the coordinator's fixed listening port.
const CoordinatorPort = 31264

// Sentinel errors for the coordinator discovery path.
var (
	ErrCoordinatorUnreachable = errors.New("client: could not connect to coordinator")
	ErrConnectionClosed       = errors.New("client: connection closed before a reply arrived")
)

// Client finds workers via whichever discovery mode brokerage.Config
// resolves to.
type Client struct {
	Flags       brokerage.Flags
	DialTimeout time.Duration

	breakers *resilience.CircuitManager
	retry    resilience.RetryConfig
}

// New creates a client with the standard dial timeout and a circuit
// breaker guarding repeated failed dials to the same coordinator.
func New(flags brokerage.Flags) *Client {
	breakers := resilience.NewCircuitManager(resilience.DefaultCircuitConfig())
	breakers.OnStateChange(func(endpoint string, from, to resilience.CircuitState) {
		metrics.Default().SetCircuitState(endpoint, circuitStateValue(to))
	})
	return &Client{
		Flags:       flags,
		DialTimeout: 2 * time.Second,
		breakers:    breakers,
		retry:       resilience.DefaultRetryConfig(),
	}
}

func circuitStateValue(s resilience.CircuitState) metrics.CircuitStateValue {
	switch s {
	case resilience.CircuitHalfOpen:
		return metrics.CircuitStateHalfOpen
	case resilience.CircuitOpen:
		return metrics.CircuitStateOpen
	default:
		return metrics.CircuitStateClosed
	}
}

// FindWorkers resolves the configured discovery mode and returns
// candidate worker addresses, excluding the local host.
func (c *Client) FindWorkers(ctx context.Context) ([]string, error) {
	identity, err := brokerage.ResolveIdentity()
	if err != nil {
		return nil, err
	}
	cfg := brokerage.ResolveClient(c.Flags)

	switch cfg.Mode {
	case brokerage.ModeStatic:
		log.Info().Strs("workers", cfg.StaticWorkers).Msg("client: using static worker list")
		metrics.Default().RecordDiscoveryAttempt("static", "success")
		return cfg.StaticWorkers, nil
	case brokerage.ModeCoordinator:
		workers, err := c.findFromCoordinator(ctx, cfg, identity)
		metrics.Default().RecordDiscoveryAttempt("coordinator", discoveryOutcome(err))
		if err != nil || len(cfg.BrokerageRoots) == 0 {
			return workers, err
		}
		// The coordinator address takes precedence over the brokerage
		// root, but a root may still be configured alongside it (e.g.
		// during a staged migration). Merge in anything the filesystem
		// path also sees, deduping by a stable hash of the worker name
		// so a name reported by both paths doesn't double count. Only
		// identical name strings are merged; the same host under two
		// different names (hostname vs. IPv4) is listed twice.
		fsWorkers := c.findFromFilesystem(cfg, identity)
		metrics.Default().RecordDiscoveryAttempt("filesystem", "success")
		return mergeDedup(workers, fsWorkers), nil
	case brokerage.ModeFilesystem:
		workers := c.findFromFilesystem(cfg, identity)
		metrics.Default().RecordDiscoveryAttempt("filesystem", "success")
		return workers, nil
	default:
		log.Warn().Msg("client: no brokerage root and no coordinator available; did you set FASTBUILD_BROKERAGE_PATH or FASTBUILD_COORDINATOR?")
		workers, err := c.findFromMDNS(ctx, cfg, identity)
		metrics.Default().RecordDiscoveryAttempt("mdns", discoveryOutcome(err))
		return workers, err
	}
}

func discoveryOutcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// mergeDedup combines two worker lists, keeping primary's order and
// appending any secondary entry not already represented by the same
// xxhash of its name. Workers are deduped by name hash rather than
// exact string match so the merge stays cheap even for long lists.
func mergeDedup(primary, secondary []string) []string {
	seen := make(map[uint64]struct{}, len(primary))
	for _, w := range primary {
		seen[registry.HashName(w)] = struct{}{}
	}
	merged := append([]string(nil), primary...)
	for _, w := range secondary {
		h := registry.HashName(w)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		merged = append(merged, w)
	}
	return merged
}

// findFromMDNS is a last-resort enrichment tried only when none of the
// spec-mandated discovery modes are configured: it never overrides an
// explicit static list, coordinator address, or brokerage root.
func (c *Client) findFromMDNS(ctx context.Context, cfg brokerage.Config, identity brokerage.Identity) ([]string, error) {
	browser := mdns.NewCoordBrowser(mdns.CoordBrowserConfig{Timeout: c.DialTimeout})
	coord, err := browser.Discover(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("client: mDNS coordinator discovery found nothing")
		return nil, nil
	}
	log.Info().Str("address", coord.Address).Msg("client: found coordinator via mDNS")

	discovered := brokerage.Config{
		Mode:               brokerage.ModeCoordinator,
		CoordinatorAddress: coord.Address,
		ProtocolVersion:    cfg.ProtocolVersion,
		Platform:           cfg.Platform,
	}
	return c.findFromCoordinator(ctx, discovered, identity)
}

func (c *Client) findFromFilesystem(cfg brokerage.Config, identity brokerage.Identity) []string {
	var found []string
	for _, root := range cfg.BrokerageRoots {
		entries := brokerage.ListWorkers(root)
		log.Debug().Int("count", len(entries)).Str("root", root).Msg("client: scanned brokerage root")
		for _, e := range entries {
			if identity.IsLocal(e.Name) {
				continue
			}
			found = append(found, e.Name)
		}
	}
	return found
}

func (c *Client) findFromCoordinator(ctx context.Context, cfg brokerage.Config, identity brokerage.Identity) ([]string, error) {
	entries, err := resilience.RetryWithResult(ctx, c.retry, func() ([]protocol.WorkerListEntry, error) {
		result, dialErr := c.breakers.Execute(cfg.CoordinatorAddress, func() (interface{}, error) {
			return c.requestWorkerList(ctx, cfg)
		})
		if dialErr != nil {
			return nil, dialErr
		}
		return result.([]protocol.WorkerListEntry), nil
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		addr := protocol.AddressToString(e.Address)
		if identity.IsLocal(addr) {
			continue
		}
		names = append(names, addr)
	}
	return names, nil
}

// requestWorkerList opens one connection to the coordinator, sends
// RequestWorkerList, and waits for the two-chunk WorkerList reply. The
// original implementation polled m_WorkerListUpdateReady in a 1ms
// sleep loop; here the reply (or the connection closing, or ctx being
// done) is delivered through a channel, so the wait is a single select
// with no busy polling and a hard upper bound from ctx.
func (c *Client) requestWorkerList(ctx context.Context, cfg brokerage.Config) ([]protocol.WorkerListEntry, error) {
	host, portStr, err := net.SplitHostPort(cfg.CoordinatorAddress)
	if err != nil {
		host, portStr = cfg.CoordinatorAddress, strconv.Itoa(CoordinatorPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = CoordinatorPort
	}

	type reply struct {
		entries []protocol.WorkerListEntry
		err     error
	}
	replyCh := make(chan reply, 1)

	var mu sync.Mutex
	awaitingPayload := false

	pool := transport.New(transport.Callbacks{
		OnReceive: func(conn *transport.Conn, buf []byte, keep *bool) {
			mu.Lock()
			if awaitingPayload {
				awaitingPayload = false
				mu.Unlock()
				entries, decodeErr := protocol.DecodeWorkerListPayload(buf, false)
				select {
				case replyCh <- reply{entries: entries, err: decodeErr}:
				default:
				}
				return
			}
			hdr, decodeErr := protocol.DecodeHeader(buf)
			if decodeErr != nil {
				mu.Unlock()
				select {
				case replyCh <- reply{err: decodeErr}:
				default:
				}
				return
			}
			if hdr.MsgType == protocol.MsgWorkerList && hdr.HasPayload {
				awaitingPayload = true
			} else if hdr.MsgType == protocol.MsgWorkerList {
				mu.Unlock()
				select {
				case replyCh <- reply{}:
				default:
				}
				return
			}
			mu.Unlock()
		},
		OnDisconnected: func(conn *transport.Conn) {
			select {
			case replyCh <- reply{err: ErrConnectionClosed}:
			default:
			}
		},
	})
	defer pool.ShutdownAll()

	conn := pool.Connect(host, port, c.DialTimeout, nil)
	if conn == nil {
		return nil, ErrCoordinatorUnreachable
	}

	req := protocol.RequestWorkerList{
		ProtocolVersion: cfg.ProtocolVersion,
		Platform:        cfg.Platform,
		WantFullInfo:    false,
	}
	if err := pool.Send(conn, req.Encode()); err != nil {
		return nil, err
	}

	select {
	case r := <-replyCh:
		return r.entries, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
