// Package registry implements the coordinator's in-memory worker
// registry: a set of WorkerRecords keyed by address, with
// heartbeat-based timeout eviction and protocol/platform-filtered
// snapshots.
package registry

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
)

// HashName returns a stable hash of a worker's rendezvous/address
// name, used by brokerage clients to dedup entries seen via more than
// one discovery path without comparing full strings.
func HashName(name string) uint64 {
	return xxhash.Sum64String(name)
}

// HeartbeatTimeout is the maximum time a worker record may go without a
// heartbeat before it is evicted by Sweep.
const HeartbeatTimeout = 30 * time.Second

// Info holds the optional descriptive fields carried by UpdateWorkerInfo.
// A record may exist with all of these at their zero value until the
// first UpdateWorkerInfo arrives.
type Info struct {
	Version       string
	User          string
	Hostname      string
	Domainname    string
	Mode          string
	AvailableCPUs uint32
	TotalCPUs     uint32
	MemoryMiB     uint32
}

// WorkerRecord is the coordinator's registry entry for one worker.
type WorkerRecord struct {
	Address         uint32 // remote peer IPv4, host byte order; the key
	ProtocolVersion uint32
	Platform        uint8
	LastHeartbeat   time.Time

	Info Info
}

// UpsertResult reports whether Upsert created a new record or refreshed
// an existing one.
type UpsertResult int

const (
	Refreshed UpsertResult = iota
	Created
)

// Registry is the coordinator-side worker directory. Every operation is
// safe for concurrent use; Sweep and Snapshot observe a consistent point
// because both run under the same mutex.
type Registry interface {
	// UpsertAvailable inserts or refreshes a record for addr, resetting
	// its heartbeat and liveness fields.
	UpsertAvailable(addr uint32, protocolVersion uint32, platform uint8) UpsertResult

	// Remove erases the record for addr. Returns whether it existed.
	Remove(addr uint32) bool

	// UpdateInfo merges descriptive fields into an existing record.
	// Returns false if no record exists for addr.
	UpdateInfo(addr uint32, info Info) bool

	// Snapshot returns a consistent copy of every live record whose
	// protocol version and platform exactly match the filter.
	Snapshot(protocolVersion uint32, platform uint8) []WorkerRecord

	// Sweep evicts every record whose heartbeat is older than
	// HeartbeatTimeout as of now, returning the evicted addresses.
	Sweep(now time.Time) []uint32

	// Count returns the number of live records.
	Count() int
}

// InMemory is the only Registry implementation: a mutex-guarded map.
type InMemory struct {
	mu      sync.Mutex
	workers map[uint32]*WorkerRecord
}

// New creates an empty registry.
func New() *InMemory {
	return &InMemory{
		workers: make(map[uint32]*WorkerRecord),
	}
}

// UpsertAvailable implements Registry.
func (r *InMemory) UpsertAvailable(addr uint32, protocolVersion uint32, platform uint8) UpsertResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.workers[addr]; ok {
		existing.ProtocolVersion = protocolVersion
		existing.Platform = platform
		existing.LastHeartbeat = now
		return Refreshed
	}

	r.workers[addr] = &WorkerRecord{
		Address:         addr,
		ProtocolVersion: protocolVersion,
		Platform:        platform,
		LastHeartbeat:   now,
	}
	return Created
}

// Remove implements Registry.
func (r *InMemory) Remove(addr uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[addr]; !ok {
		return false
	}
	delete(r.workers, addr)
	return true
}

// UpdateInfo implements Registry.
func (r *InMemory) UpdateInfo(addr uint32, info Info) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[addr]
	if !ok {
		return false
	}
	w.Info = info
	return true
}

// Snapshot implements Registry.
func (r *InMemory) Snapshot(protocolVersion uint32, platform uint8) []WorkerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]WorkerRecord, 0, len(r.workers))
	for _, w := range r.workers {
		if w.ProtocolVersion != protocolVersion || w.Platform != platform {
			continue
		}
		result = append(result, *w)
	}
	return result
}

// Sweep implements Registry.
func (r *InMemory) Sweep(now time.Time) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []uint32
	for addr, w := range r.workers {
		if now.Sub(w.LastHeartbeat) >= HeartbeatTimeout {
			evicted = append(evicted, addr)
			delete(r.workers, addr)
		}
	}
	if len(evicted) > 0 {
		log.Debug().Int("count", len(evicted)).Msg("registry sweep evicted stale workers")
	}
	return evicted
}

// Count implements Registry.
func (r *InMemory) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}
