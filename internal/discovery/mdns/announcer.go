// Package mdns advertises and discovers the coordinator on the local
// network via mDNS/DNS-SD. It is the lowest-priority discovery
// enrichment: FASTBUILD_WORKERS, FASTBUILD_COORDINATOR and
// FASTBUILD_BROKERAGE_PATH all take precedence over it, and it never
// overrides a coordinator address a caller already has.
package mdns

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

const (
	// CoordServiceType is the DNS-SD service type coordinators
	// register under.
	CoordServiceType = "_fbroker-coord._tcp"
	Domain           = "local."
)

// CoordAnnouncerConfig holds coordinator announcer configuration.
type CoordAnnouncerConfig struct {
	Instance        string // e.g., "coord-hostname"
	Port            int    // coordinator's TCP listen port
	ProtocolVersion uint32
	InstanceID      string // unique ID for this coordinator instance
}

// CoordAnnouncer advertises a coordinator via mDNS.
type CoordAnnouncer struct {
	mu     sync.Mutex
	server *zeroconf.Server
	cfg    CoordAnnouncerConfig
}

// NewCoordAnnouncer creates a new coordinator mDNS announcer.
func NewCoordAnnouncer(cfg CoordAnnouncerConfig) *CoordAnnouncer {
	return &CoordAnnouncer{cfg: cfg}
}

// Start begins advertising the coordinator service via mDNS.
func (a *CoordAnnouncer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return fmt.Errorf("coordinator announcer already started")
	}

	txt := a.buildTXTRecords()

	log.Debug().
		Str("instance", a.cfg.Instance).
		Int("port", a.cfg.Port).
		Strs("txt", txt).
		Msg("starting coordinator mDNS announcer")

	server, err := zeroconf.Register(
		a.cfg.Instance,
		CoordServiceType,
		Domain,
		a.cfg.Port,
		txt,
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("failed to register coordinator mDNS: %w", err)
	}

	a.server = server

	log.Info().
		Str("instance", a.cfg.Instance).
		Str("service", CoordServiceType).
		Int("port", a.cfg.Port).
		Msg("coordinator mDNS announcer started")

	return nil
}

// buildTXTRecords creates TXT records for the coordinator.
func (a *CoordAnnouncer) buildTXTRecords() []string {
	txt := []string{
		"port=" + strconv.Itoa(a.cfg.Port),
	}
	if a.cfg.ProtocolVersion != 0 {
		txt = append(txt, "protocol_version="+strconv.FormatUint(uint64(a.cfg.ProtocolVersion), 10))
	}
	if a.cfg.InstanceID != "" {
		txt = append(txt, "instance_id="+a.cfg.InstanceID)
	}
	return txt
}

// Stop stops advertising the coordinator service.
func (a *CoordAnnouncer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		log.Info().Str("instance", a.cfg.Instance).Msg("coordinator mDNS announcer stopped")
	}
}

// ParseTXTRecords parses TXT records back into a map.
func ParseTXTRecords(txt []string) map[string]string {
	result := make(map[string]string)
	for _, record := range txt {
		parts := strings.SplitN(record, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}
