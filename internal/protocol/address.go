package protocol

import (
	"encoding/binary"
	"fmt"
	"net"
)

// AddressToString renders a registry/wire uint32 IPv4 address (big-
// endian byte order, the form produced by reading raw IP bytes) as a
// dotted-quad string.
func AddressToString(addr uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], addr)
	return net.IP(b[:]).String()
}

// AddressFromIP converts a net.IP (v4 or v4-in-v6) to the wire's
// uint32 address form. Returns ok=false for a non-IPv4 address.
func AddressFromIP(ip net.IP) (uint32, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}

// PlatformName renders the wire's platform byte (carried by
// SetWorkerStatus, UpdateWorkerInfo and RequestWorkerList) as a name
// for logs, tables and the dashboard API.
func PlatformName(p uint8) string {
	switch p {
	case 0:
		return "linux"
	case 1:
		return "windows"
	case 2:
		return "darwin"
	default:
		return fmt.Sprintf("unknown(%d)", p)
	}
}
