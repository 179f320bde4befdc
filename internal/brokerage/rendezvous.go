package brokerage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kreid-dev/fbroker/internal/validate"
)

// StaleAfter is how old a rendezvous file's modification time can get
// before GC considers it an orphan from a crashed or killed worker.
const StaleAfter = 24 * time.Hour

// GCInterval is how often a running server sweeps stale files from its
// primary brokerage root.
const GCInterval = 12 * time.Hour

// WorkerEntry is the parsed content of one rendezvous file: free-form
// key/value pairs plus the file's own modification time, which the
// stale-file GC compares against StaleAfter. Clients do not look at it:
// for discovery, the file's existence is what matters, not its age or
// content.
type WorkerEntry struct {
	Name     string // filename, e.g. hostname or dotted IPv4
	Fields   map[string]string
	ModTime  time.Time
}

// WriteAnnounceFile creates or refreshes root/name with the given
// key/value fields rendered one per line as "Key: Value".
func WriteAnnounceFile(root, name string, fields map[string]string) error {
	name = validate.SanitizeRendezvousName(name)
	if name == "" {
		return fmt.Errorf("brokerage: invalid rendezvous name")
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("brokerage: ensure root %q: %w", root, err)
	}

	path := filepath.Join(root, name)
	var sb strings.Builder
	for _, k := range orderedKeys(fields) {
		fmt.Fprintf(&sb, "%s: %s\n", k, fields[k])
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("brokerage: write announce file %q: %w", path, err)
	}
	return nil
}

// orderedKeys gives a stable field order so repeated writes with
// unchanged content produce byte-identical files.
func orderedKeys(fields map[string]string) []string {
	order := []string{"Version", "User", "Host Name", "Domain Name", "FQDN", "IPv4 Address", "CPUs", "Memory", "Mode"}
	keys := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, k := range order {
		if _, ok := fields[k]; ok {
			keys = append(keys, k)
			seen[k] = struct{}{}
		}
	}
	for k := range fields {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Touch updates root/name's modification time without rewriting its
// content, used when a worker's settings have not changed since the
// last announce.
func Touch(root, name string) error {
	name = validate.SanitizeRendezvousName(name)
	if name == "" {
		return fmt.Errorf("brokerage: invalid rendezvous name")
	}
	path := filepath.Join(root, name)
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("brokerage: touch %q: %w", path, err)
	}
	return nil
}

// RemoveAnnounceFile deletes root/name, ignoring a not-exist error.
func RemoveAnnounceFile(root, name string) error {
	name = validate.SanitizeRendezvousName(name)
	if name == "" {
		return fmt.Errorf("brokerage: invalid rendezvous name")
	}
	path := filepath.Join(root, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("brokerage: remove %q: %w", path, err)
	}
	return nil
}

// ListWorkers enumerates every rendezvous file directly under root.
// A root that does not exist or cannot be read yields an empty list,
// not an error: an unreachable brokerage root is a normal client-side
// condition (e.g. an unmounted share), not a fatal one.
func ListWorkers(root string) []WorkerEntry {
	entries, err := os.ReadDir(root)
	if err != nil {
		log.Debug().Err(err).Str("root", root).Msg("brokerage: root unreadable")
		return nil
	}

	var workers []WorkerEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		workers = append(workers, WorkerEntry{
			Name:    e.Name(),
			ModTime: info.ModTime(),
		})
	}
	return workers
}

// ParseAnnounceFile reads and parses one rendezvous file's key/value
// content, e.g. for a query tool to display full worker info.
func ParseAnnounceFile(root, name string) (WorkerEntry, error) {
	clean := validate.SanitizeRendezvousName(name)
	if clean == "" {
		return WorkerEntry{}, fmt.Errorf("brokerage: invalid rendezvous name %q", name)
	}
	path := filepath.Join(root, clean)
	f, err := os.Open(path)
	if err != nil {
		return WorkerEntry{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return WorkerEntry{}, err
	}

	fields := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return WorkerEntry{}, err
	}

	return WorkerEntry{Name: name, Fields: fields, ModTime: info.ModTime()}, nil
}

// GC removes every file under root whose modification time is older
// than StaleAfter, matching the original implementation's crashed-
// worker cleanup. now is injected so it is deterministic under test.
func GC(root string, now time.Time) int {
	entries := ListWorkers(root)
	removed := 0
	for _, e := range entries {
		if now.Sub(e.ModTime) <= StaleAfter {
			continue
		}
		if err := RemoveAnnounceFile(root, e.Name); err != nil {
			log.Debug().Err(err).Str("name", e.Name).Msg("brokerage: GC failed to remove stale file")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("count", removed).Str("root", root).Msg("brokerage: GC removed stale announce files")
	}
	return removed
}
