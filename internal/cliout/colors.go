// Package cliout renders fbctl's terminal output: colored status
// labels and tables over the worker registry and coordinator state.
package cliout

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	Success = color.New(color.FgGreen).SprintFunc()
	Error   = color.New(color.FgRed).SprintFunc()
	Warning = color.New(color.FgYellow).SprintFunc()
	Info    = color.New(color.FgCyan).SprintFunc()
	Bold    = color.New(color.Bold).SprintFunc()
	Dim     = color.New(color.Faint).SprintFunc()

	SuccessBold = color.New(color.FgGreen, color.Bold).SprintFunc()
	ErrorBold   = color.New(color.FgRed, color.Bold).SprintFunc()
	WarningBold = color.New(color.FgYellow, color.Bold).SprintFunc()
)

// DisableColors disables color output (for non-TTY environments).
func DisableColors() {
	color.NoColor = true
}

// EnableColors enables color output.
func EnableColors() {
	color.NoColor = false
}

// AutoDetectColors enables/disables colors based on terminal capability.
func AutoDetectColors() {
	if !isTerminal() {
		DisableColors()
	}
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// AvailabilityLabel returns a colored availability label.
func AvailabilityLabel(available bool) string {
	if available {
		return Success("[available]")
	}
	return Dim("[unavailable]")
}

// StatusIcon returns a colored status icon.
func StatusIcon(ok bool) string {
	if ok {
		return Success("✓")
	}
	return Error("✗")
}

// CircuitState returns a colored circuit breaker state label.
func CircuitState(state string) string {
	switch state {
	case "", "closed", "CLOSED":
		return Success("closed")
	case "open", "OPEN":
		return Error("open")
	case "half-open", "HALF_OPEN":
		return Warning("half-open")
	default:
		return Warning(state)
	}
}

// Percent returns a colored percentage (green if >= 80, yellow if >= 50, red otherwise).
func Percent(value float64) string {
	formatted := fmt.Sprintf("%.1f%%", value)
	if value >= 80 {
		return Success(formatted)
	} else if value >= 50 {
		return Warning(formatted)
	}
	return Error(formatted)
}

// Age renders how long ago a heartbeat was seen, coloring stale
// entries (close to the eviction timeout) yellow and evicted/expired
// ones red.
func Age(secondsAgo float64, timeoutSeconds float64) string {
	formatted := fmt.Sprintf("%.0fs ago", secondsAgo)
	if secondsAgo >= timeoutSeconds {
		return Error(formatted)
	} else if secondsAgo >= timeoutSeconds*0.75 {
		return Warning(formatted)
	}
	return formatted
}
