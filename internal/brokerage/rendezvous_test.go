package brokerage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteAndListAnnounceFile(t *testing.T) {
	root := t.TempDir()

	if err := WriteAnnounceFile(root, "worker-a", map[string]string{
		"Version":  "1.0",
		"Host Name": "worker-a",
	}); err != nil {
		t.Fatalf("WriteAnnounceFile: %v", err)
	}

	workers := ListWorkers(root)
	if len(workers) != 1 || workers[0].Name != "worker-a" {
		t.Fatalf("expected one worker named worker-a, got %+v", workers)
	}
}

func TestParseAnnounceFileReadsFields(t *testing.T) {
	root := t.TempDir()
	if err := WriteAnnounceFile(root, "worker-a", map[string]string{
		"Version": "1.0",
		"CPUs":    "8/16",
	}); err != nil {
		t.Fatalf("WriteAnnounceFile: %v", err)
	}

	entry, err := ParseAnnounceFile(root, "worker-a")
	if err != nil {
		t.Fatalf("ParseAnnounceFile: %v", err)
	}
	if entry.Fields["Version"] != "1.0" || entry.Fields["CPUs"] != "8/16" {
		t.Fatalf("unexpected fields: %+v", entry.Fields)
	}
}

func TestRemoveAnnounceFileIsIdempotent(t *testing.T) {
	root := t.TempDir()
	if err := WriteAnnounceFile(root, "worker-a", nil); err != nil {
		t.Fatalf("WriteAnnounceFile: %v", err)
	}
	if err := RemoveAnnounceFile(root, "worker-a"); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if err := RemoveAnnounceFile(root, "worker-a"); err != nil {
		t.Fatalf("second Remove should be a no-op, got: %v", err)
	}
}

func TestListWorkersOnMissingRootIsEmptyNotError(t *testing.T) {
	workers := ListWorkers(filepath.Join(t.TempDir(), "does-not-exist"))
	if workers != nil {
		t.Fatalf("expected nil, got %+v", workers)
	}
}

func TestGCRemovesOnlyStaleFiles(t *testing.T) {
	root := t.TempDir()
	if err := WriteAnnounceFile(root, "fresh", nil); err != nil {
		t.Fatalf("WriteAnnounceFile fresh: %v", err)
	}
	if err := WriteAnnounceFile(root, "stale", nil); err != nil {
		t.Fatalf("WriteAnnounceFile stale: %v", err)
	}

	stalePath := filepath.Join(root, "stale")
	oldTime := time.Now().Add(-StaleAfter - time.Hour)
	if err := os.Chtimes(stalePath, oldTime, oldTime); err != nil {
		t.Fatalf("backdate stale file: %v", err)
	}

	removed := GC(root, time.Now())
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	workers := ListWorkers(root)
	if len(workers) != 1 || workers[0].Name != "fresh" {
		t.Fatalf("expected only 'fresh' to remain, got %+v", workers)
	}
}
