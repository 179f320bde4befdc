package coordinator

import (
	"time"

	"github.com/kreid-dev/fbroker/internal/observability/dashboard"
	"github.com/kreid-dev/fbroker/internal/protocol"
	"github.com/kreid-dev/fbroker/internal/registry"
)

// DashboardAdapter implements dashboard.StatsProvider by reading a
// Coordinator's registry. Event-driven join/leave/evict pushes are
// wired separately through Coordinator.SetDashboardNotifier, since
// those fire from inside the coordinator's message handlers rather
// than from a stats poll.
type DashboardAdapter struct {
	coord     *Coordinator
	startedAt time.Time
}

// NewDashboardAdapter wraps coord for use as a dashboard StatsProvider.
func NewDashboardAdapter(coord *Coordinator) *DashboardAdapter {
	return &DashboardAdapter{coord: coord, startedAt: time.Now()}
}

// GetStats implements dashboard.StatsProvider.
func (a *DashboardAdapter) GetStats() *dashboard.Stats {
	all := a.allRecords()

	return &dashboard.Stats{
		TotalWorkers:            len(all),
		WorkersByPlatform:       platformCounts(all),
		OpenConnections:         a.coord.pool.ActiveCount(),
		EvictedTotal:            a.coord.evictedTotal.Load(),
		HeartbeatTimeoutSeconds: a.coord.cfg.HeartbeatTimeout.Seconds(),
		UptimeSeconds:           int64(time.Since(a.startedAt).Seconds()),
		InstanceID:              a.coord.InstanceID(),
		Timestamp:               time.Now().Unix(),
	}
}

// GetWorkers implements dashboard.StatsProvider.
func (a *DashboardAdapter) GetWorkers() []*dashboard.WorkerInfo {
	now := time.Now()
	records := a.allRecords()
	workers := make([]*dashboard.WorkerInfo, 0, len(records))
	for _, r := range records {
		workers = append(workers, toWorkerInfo(r, now))
	}
	return workers
}

// allRecords snapshots every platform the registry currently holds,
// since Snapshot filters by a single protocol/platform pair and the
// dashboard needs the whole fleet regardless of platform.
func (a *DashboardAdapter) allRecords() []registry.WorkerRecord {
	var all []registry.WorkerRecord
	for platform := uint8(0); platform <= 2; platform++ {
		all = append(all, a.coord.reg.Snapshot(a.coord.cfg.ProtocolVersion, platform)...)
	}
	return all
}

func platformCounts(records []registry.WorkerRecord) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		counts[protocol.PlatformName(r.Platform)]++
	}
	return counts
}

func toWorkerInfo(r registry.WorkerRecord, now time.Time) *dashboard.WorkerInfo {
	return &dashboard.WorkerInfo{
		Address:             protocol.AddressToString(r.Address),
		Platform:            protocol.PlatformName(r.Platform),
		Hostname:            r.Info.Hostname,
		User:                r.Info.User,
		Version:             r.Info.Version,
		Mode:                r.Info.Mode,
		AvailableCPUs:       int32(r.Info.AvailableCPUs),
		TotalCPUs:           int32(r.Info.TotalCPUs),
		MemoryMiB:           int32(r.Info.MemoryMiB),
		ProtocolVersion:     r.ProtocolVersion,
		LastSeen:            r.LastHeartbeat.Unix(),
		HeartbeatAgoSeconds: now.Sub(r.LastHeartbeat).Seconds(),
	}
}
