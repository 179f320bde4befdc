package cliout

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/kreid-dev/fbroker/internal/protocol"
	"github.com/kreid-dev/fbroker/internal/registry"
)

// Table wraps tablewriter with fbctl-specific defaults.
type Table struct {
	table *tablewriter.Table
}

// TableConfig holds table configuration options.
type TableConfig struct {
	Writer   io.Writer
	NoHeader bool
	Center   bool
}

// NewTable creates a new table with the given headers.
func NewTable(headers []string) *Table {
	return NewTableWithConfig(headers, TableConfig{})
}

// NewTableWithConfig creates a table with custom configuration.
func NewTableWithConfig(headers []string, cfg TableConfig) *Table {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	t := tablewriter.NewWriter(writer)

	if !cfg.NoHeader && len(headers) > 0 {
		t.SetHeader(headers)
	}

	t.SetBorder(false)
	t.SetHeaderLine(true)
	t.SetColumnSeparator(" ")
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)

	if cfg.Center {
		t.SetAlignment(tablewriter.ALIGN_CENTER)
	}

	return &Table{table: t}
}

// Append adds a row to the table.
func (t *Table) Append(row []string) {
	t.table.Append(row)
}

// AppendBulk adds multiple rows to the table.
func (t *Table) AppendBulk(rows [][]string) {
	t.table.AppendBulk(rows)
}

// Render outputs the table.
func (t *Table) Render() {
	t.table.Render()
}

// WorkerRow is a WorkerRecord flattened for display, with the
// platform byte already resolved to a name and the heartbeat age
// pre-computed against a fixed "now".
type WorkerRow struct {
	Address       string
	Platform      string
	Version       string
	Mode          string
	AvailableCPUs uint32
	TotalCPUs     uint32
	MemoryMiB     uint32
	HeartbeatAgo  time.Duration
}

// WorkerRowsFromRecords converts registry snapshots into display rows.
func WorkerRowsFromRecords(records []registry.WorkerRecord, now time.Time) []WorkerRow {
	rows := make([]WorkerRow, 0, len(records))
	for _, w := range records {
		rows = append(rows, WorkerRow{
			Address:       protocol.AddressToString(w.Address),
			Platform:      protocol.PlatformName(w.Platform),
			Version:       w.Info.Version,
			Mode:          w.Info.Mode,
			AvailableCPUs: w.Info.AvailableCPUs,
			TotalCPUs:     w.Info.TotalCPUs,
			MemoryMiB:     w.Info.MemoryMiB,
			HeartbeatAgo:  now.Sub(w.LastHeartbeat),
		})
	}
	return rows
}

// PrintWorkersTable prints a colored table of registered workers.
func PrintWorkersTable(rows []WorkerRow, heartbeatTimeout time.Duration) {
	if len(rows) == 0 {
		fmt.Println(Warning("No workers registered"))
		return
	}

	fmt.Printf("Workers: %s registered\n\n", Bold(fmt.Sprintf("%d", len(rows))))

	table := NewTable([]string{"ADDRESS", "PLATFORM", "CPUS", "MEMORY", "MODE", "LAST HEARTBEAT"})

	timeoutSec := heartbeatTimeout.Seconds()
	for _, w := range rows {
		cpus := fmt.Sprintf("%d/%d", w.AvailableCPUs, w.TotalCPUs)
		mem := fmt.Sprintf("%d MiB", w.MemoryMiB)
		table.Append([]string{
			w.Address,
			w.Platform,
			cpus,
			mem,
			w.Mode,
			Age(w.HeartbeatAgo.Seconds(), timeoutSec),
		})
	}

	table.Render()
}

// CoordinatorStatus holds coordinator status fields for PrintStatus.
type CoordinatorStatus struct {
	Address       string
	WorkerCount   int
	SweepInterval time.Duration
	Uptime        time.Duration
}

// PrintStatus prints a colored coordinator status summary.
func PrintStatus(status CoordinatorStatus) {
	fmt.Println(Bold("Coordinator Status"))
	fmt.Println("──────────────────")

	table := NewTable(nil)
	table.Append([]string{"Address:", Info(status.Address)})
	table.Append([]string{"Workers:", fmt.Sprintf("%d", status.WorkerCount)})
	table.Append([]string{"Sweep interval:", status.SweepInterval.String()})
	if status.Uptime > 0 {
		table.Append([]string{"Uptime:", formatDuration(status.Uptime)})
	}
	table.Render()
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	} else if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", mins, secs)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd%dh", days, hours)
}
