// Package validate sanitizes the filesystem paths and rendezvous
// names fbroker derives from FASTBUILD_BROKERAGE_PATH and worker
// identities, rejecting traversal before any file is written or read.
package validate

import (
	"path/filepath"
	"runtime"
	"strings"
)

// WindowsReservedNames are device names that cannot be used as filenames on Windows.
var WindowsReservedNames = []string{
	"CON", "PRN", "AUX", "NUL",
	"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
	"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
}

// WindowsInvalidChars are characters that cannot be used in Windows filenames.
var WindowsInvalidChars = []byte{'<', '>', ':', '"', '|', '?', '*'}

// SanitizePath validates and sanitizes path against basePath, returning
// "" if path is invalid or attempts to escape basePath via traversal.
func SanitizePath(basePath, path string) string {
	if path == "" {
		return ""
	}

	cleaned := filepath.Clean(path)

	if containsPathTraversal(cleaned) {
		return ""
	}

	if runtime.GOOS == "windows" {
		if errMsg := ValidatePathForWindows(cleaned); errMsg != "" {
			return ""
		}
	}

	if filepath.IsAbs(cleaned) {
		if basePath != "" && !pathStartsWithBase(cleaned, basePath) {
			return ""
		}
		return cleaned
	}

	if basePath != "" {
		abs := filepath.Clean(filepath.Join(basePath, cleaned))
		if !pathStartsWithBase(abs, basePath) {
			return ""
		}
		return abs
	}

	return cleaned
}

// SanitizeRendezvousName validates a worker rendezvous file name (a
// hostname, FQDN, or dotted IPv4 address): no path separators, no
// traversal, no Windows-reserved device name, since the name becomes
// a literal path component under a brokerage root.
func SanitizeRendezvousName(name string) string {
	if name == "" || name == "." || name == ".." {
		return ""
	}
	if strings.ContainsAny(name, `/\`) {
		return ""
	}
	if isWindowsReservedName(name) {
		return ""
	}
	return name
}

func containsPathTraversal(path string) bool {
	normalizedPath := filepath.ToSlash(path)
	for _, part := range strings.Split(normalizedPath, "/") {
		if part == ".." {
			return true
		}
	}
	if strings.Contains(path, "%2e%2e") || strings.Contains(path, "%2E%2E") {
		return true
	}
	return false
}

func isWindowsReservedName(name string) bool {
	base := strings.ToUpper(name)
	if idx := strings.LastIndex(base, "."); idx != -1 {
		base = base[:idx]
	}
	for _, reserved := range WindowsReservedNames {
		if base == reserved {
			return true
		}
	}
	return false
}

func hasWindowsInvalidChars(path string) bool {
	for i, r := range path {
		if r == ':' {
			if i != 1 {
				return true
			}
			continue
		}
		for _, c := range WindowsInvalidChars {
			if r == rune(c) {
				return true
			}
		}
	}
	return false
}

// ValidatePathForWindows checks if a path is valid on Windows. Returns
// an error message if invalid, empty string if valid.
func ValidatePathForWindows(path string) string {
	if path == "" {
		return ""
	}
	if hasWindowsInvalidChars(path) {
		return "path contains invalid Windows characters"
	}
	normalizedPath := filepath.ToSlash(path)
	for _, part := range strings.Split(normalizedPath, "/") {
		if part == "" {
			continue
		}
		if isWindowsReservedName(part) {
			return "path contains Windows reserved name: " + part
		}
	}
	return ""
}

func pathStartsWithBase(fullPath, basePath string) bool {
	fullPath = filepath.Clean(fullPath)
	basePath = filepath.Clean(basePath)

	if runtime.GOOS == "windows" {
		fullPath = strings.ToLower(fullPath)
		basePath = strings.ToLower(basePath)
	}
	sep := string(filepath.Separator)
	return fullPath == basePath || strings.HasPrefix(fullPath, strings.TrimSuffix(basePath, sep)+sep)
}
