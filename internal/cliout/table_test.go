package cliout

import (
	"bytes"
	"testing"
	"time"

	"github.com/kreid-dev/fbroker/internal/protocol"
	"github.com/kreid-dev/fbroker/internal/registry"
)

func TestWorkerRowsFromRecords(t *testing.T) {
	now := time.Now()
	records := []registry.WorkerRecord{
		{
			Address:       0x0A000001,
			ProtocolVersion: 1,
			Platform:      0,
			LastHeartbeat: now.Add(-5 * time.Second),
			Info: registry.Info{
				Version:       "1.0",
				Mode:          "idle",
				AvailableCPUs: 6,
				TotalCPUs:     8,
				MemoryMiB:     16384,
			},
		},
	}

	rows := WorkerRowsFromRecords(records, now)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Address != "10.0.0.1" {
		t.Errorf("Address = %q, want 10.0.0.1", rows[0].Address)
	}
	if rows[0].Platform != "linux" {
		t.Errorf("Platform = %q, want linux", rows[0].Platform)
	}
	if rows[0].HeartbeatAgo < 4*time.Second || rows[0].HeartbeatAgo > 6*time.Second {
		t.Errorf("HeartbeatAgo = %v, want ~5s", rows[0].HeartbeatAgo)
	}
}

func TestPrintWorkersTableEmpty(t *testing.T) {
	DisableColors()
	defer EnableColors()

	// No assertion on stdout capture; this just verifies no panic on
	// the empty path.
	PrintWorkersTable(nil, 30*time.Second)
}

func TestNewTableWithConfigRenders(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var buf bytes.Buffer
	table := NewTableWithConfig([]string{"A", "B"}, TableConfig{Writer: &buf})
	table.Append([]string{"1", "2"})
	table.Render()

	if buf.Len() == 0 {
		t.Fatal("expected table output, got none")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m30s"},
		{90 * time.Minute, "1h30m"},
		{50 * time.Hour, "2d2h"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
