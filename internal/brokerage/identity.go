package brokerage

import (
	"net"
	"os"
	"strings"
)

// Identity is this host's rendezvous identity: the name used for the
// brokerage announce filename, and the local IPv4 set used to filter
// this host out of a discovered worker list.
type Identity struct {
	Hostname string
	Domain   string
	LocalIPs map[string]struct{}
}

// ResolveIdentity gathers the local hostname and every local IPv4
// address. Every platform uses the same full-address enumeration; the
// original implementation's macOS-only address-to-IP conversion was a
// workaround for a narrower bug, not a feature worth preserving, so it
// is not replicated here.
func ResolveIdentity() (Identity, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return Identity{}, err
	}

	ips, err := localIPv4Set()
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		Hostname: hostname,
		LocalIPs: ips,
	}, nil
}

// RendezvousName returns the filename a worker announces itself under:
// the hostname, unless PreferHostname is false and a non-loopback IPv4
// address is available, in which case the IP is used instead.
func (id Identity) RendezvousName(preferHostname bool) string {
	if preferHostname {
		return id.Hostname
	}
	for ip := range id.LocalIPs {
		if ip != "127.0.0.1" {
			return ip
		}
	}
	return id.Hostname
}

// IsLocal reports whether name (a hostname or dotted IPv4 string)
// refers to this host, so that FindWorkers can filter it out of the
// discovered set.
func (id Identity) IsLocal(name string) bool {
	if name == "127.0.0.1" || strings.EqualFold(name, id.Hostname) {
		return true
	}
	_, ok := id.LocalIPs[name]
	return ok
}

func localIPv4Set() (map[string]struct{}, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			set[v4.String()] = struct{}{}
		}
	}
	return set, nil
}
