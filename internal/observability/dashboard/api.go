package dashboard

import (
	"encoding/json"
	"net/http"
	"time"
)

// Stats summarizes the coordinator's registry and connection state for
// the dashboard's landing view.
type Stats struct {
	TotalWorkers     int     `json:"total_workers"`
	WorkersByPlatform map[string]int `json:"workers_by_platform"`
	OpenConnections  int     `json:"open_connections"`
	EvictedTotal     int64   `json:"evicted_total"`
	HeartbeatTimeoutSeconds float64 `json:"heartbeat_timeout_seconds"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
	InstanceID       string  `json:"instance_id"`
	Timestamp        int64   `json:"timestamp"`
}

// WorkerInfo is the dashboard's JSON projection of a registry.WorkerRecord.
type WorkerInfo struct {
	Address       string `json:"address"`
	Platform      string `json:"platform"`
	Hostname      string `json:"hostname"`
	User          string `json:"user"`
	Version       string `json:"version"`
	Mode          string `json:"mode"`
	AvailableCPUs int32  `json:"available_cpus"`
	TotalCPUs     int32  `json:"total_cpus"`
	MemoryMiB     int32  `json:"memory_mib"`
	ProtocolVersion uint32 `json:"protocol_version"`
	LastSeen      int64  `json:"last_seen"`
	HeartbeatAgoSeconds float64 `json:"heartbeat_ago_seconds"`
}

// handleStats returns cluster statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var stats *Stats
	if s.provider != nil {
		stats = s.provider.GetStats()
	} else {
		stats = &Stats{Timestamp: time.Now().Unix()}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleWorkers returns the live worker list.
func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var workers []*WorkerInfo
	if s.provider != nil {
		workers = s.provider.GetWorkers()
	} else {
		workers = []*WorkerInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"workers":   workers,
		"count":     len(workers),
		"timestamp": time.Now().Unix(),
	})
}
