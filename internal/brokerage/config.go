// Package brokerage implements worker discovery (components C6/C7):
// a client side that finds workers, and a server side that announces
// one worker's availability. Both share the same discovery precedence
// and the same filesystem rendezvous format.
package brokerage

import (
	"os"
	"runtime"
	"strings"
)

// Mode names which discovery mechanism is in effect, in ascending
// priority order.
type Mode int

const (
	// ModeNone means no discovery mechanism is configured at all.
	ModeNone Mode = iota
	// ModeFilesystem resolves workers via rendezvous files under
	// BrokerageRoots.
	ModeFilesystem
	// ModeCoordinator resolves workers via RPC to CoordinatorAddress.
	ModeCoordinator
	// ModeStatic is only ever produced for the client side: a fixed
	// worker list from FASTBUILD_WORKERS, bypassing discovery entirely.
	ModeStatic
)

func (m Mode) String() string {
	switch m {
	case ModeStatic:
		return "static"
	case ModeCoordinator:
		return "coordinator"
	case ModeFilesystem:
		return "filesystem"
	default:
		return "none"
	}
}

// Platform identifiers, matching the registry's protocol/platform
// filter fields.
const (
	PlatformLinux   uint8 = 0
	PlatformWindows uint8 = 1
	PlatformDarwin  uint8 = 2
)

// CurrentPlatform maps the running GOOS to the wire platform code.
func CurrentPlatform() uint8 {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformDarwin
	default:
		return PlatformLinux
	}
}

// platformDirSuffix names the per-platform brokerage subdirectory,
// matching the original implementation's "main/<version>.<os>" layout.
func platformDirSuffix() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "osx"
	default:
		return "linux"
	}
}

// DefaultProtocolVersion is used when the caller does not override it.
const DefaultProtocolVersion = 1

// Flags carries the CLI/env inputs that determine discovery mode.
// Each field's zero value means "not set"; CoordinatorAddress and
// BrokerageRoots fall back to their FASTBUILD_* environment variables
// when empty.
type Flags struct {
	StaticWorkers      string // -workers or FASTBUILD_WORKERS (client only)
	CoordinatorAddress string // -coordinator or FASTBUILD_COORDINATOR
	BrokerageRoots     string // -brokerage or FASTBUILD_BROKERAGE_PATH, semicolon-separated
	ProtocolVersion    uint32
	Platform           uint8
	PreferHostname     bool
}

// Config is the resolved discovery configuration.
type Config struct {
	Mode               Mode
	StaticWorkers      []string
	CoordinatorAddress string
	BrokerageRoots      []string // full "<root>/main/<version>.<os>" paths, priority order
	ProtocolVersion    uint32
	Platform           uint8
	PreferHostname     bool
}

// ResolveClient applies the client-side precedence: static list >
// coordinator > filesystem > none.
func ResolveClient(f Flags) Config {
	cfg := resolveCommon(f)

	if list := firstNonEmpty(f.StaticWorkers, os.Getenv("FASTBUILD_WORKERS")); list != "" {
		workers := splitNonEmpty(list, ';')
		if len(workers) > 0 {
			cfg.Mode = ModeStatic
			cfg.StaticWorkers = workers
			return cfg
		}
	}

	return finalizeMode(cfg)
}

// ResolveServer applies the worker/server-side precedence: coordinator
// > filesystem > none. The static list is a client-only mechanism and
// is never consulted here.
func ResolveServer(f Flags) Config {
	return finalizeMode(resolveCommon(f))
}

func resolveCommon(f Flags) Config {
	cfg := Config{
		ProtocolVersion: f.ProtocolVersion,
		Platform:        f.Platform,
		PreferHostname:  f.PreferHostname,
	}
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = DefaultProtocolVersion
	}

	cfg.CoordinatorAddress = firstNonEmpty(f.CoordinatorAddress, os.Getenv("FASTBUILD_COORDINATOR"))

	rootsRaw := firstNonEmpty(f.BrokerageRoots, os.Getenv("FASTBUILD_BROKERAGE_PATH"))
	for _, root := range splitNonEmpty(rootsRaw, ';') {
		cfg.BrokerageRoots = append(cfg.BrokerageRoots, rendezvousPath(root, cfg.ProtocolVersion))
	}

	return cfg
}

func finalizeMode(cfg Config) Config {
	switch {
	case cfg.CoordinatorAddress != "":
		cfg.Mode = ModeCoordinator
	case len(cfg.BrokerageRoots) > 0:
		cfg.Mode = ModeFilesystem
	default:
		cfg.Mode = ModeNone
	}
	return cfg
}

// rendezvousPath builds "<root>/main/<version>.<os>", the directory a
// worker's announce file lives in and a client scans for workers.
func rendezvousPath(root string, protocolVersion uint32) string {
	root = strings.TrimRight(strings.TrimSpace(root), "/\\")
	return root + "/main/" + itoa(protocolVersion) + "." + platformDirSuffix()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitNonEmpty(s string, sep byte) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, string(sep)) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
