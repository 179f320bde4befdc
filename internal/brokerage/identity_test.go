package brokerage

import "testing"

func TestRendezvousNamePrefersHostnameWhenRequested(t *testing.T) {
	id := Identity{
		Hostname: "build-box-7",
		LocalIPs: map[string]struct{}{"127.0.0.1": {}, "192.168.1.42": {}},
	}
	if got := id.RendezvousName(true); got != "build-box-7" {
		t.Fatalf("RendezvousName(true) = %q, want hostname", got)
	}
}

func TestRendezvousNamePrefersNonLoopbackIP(t *testing.T) {
	id := Identity{
		Hostname: "build-box-7",
		LocalIPs: map[string]struct{}{"127.0.0.1": {}, "192.168.1.42": {}},
	}
	if got := id.RendezvousName(false); got != "192.168.1.42" {
		t.Fatalf("RendezvousName(false) = %q, want the non-loopback IP", got)
	}
}

func TestRendezvousNameFallsBackToHostnameWithoutNonLoopbackIP(t *testing.T) {
	id := Identity{
		Hostname: "build-box-7",
		LocalIPs: map[string]struct{}{"127.0.0.1": {}},
	}
	if got := id.RendezvousName(false); got != "build-box-7" {
		t.Fatalf("RendezvousName(false) = %q, want hostname fallback", got)
	}
}

func TestIsLocalMatchesLoopbackHostnameAndLocalIP(t *testing.T) {
	id := Identity{
		Hostname: "build-box-7",
		LocalIPs: map[string]struct{}{"192.168.1.42": {}},
	}

	cases := map[string]bool{
		"127.0.0.1":    true,
		"build-box-7":  true,
		"192.168.1.42": true,
		"10.0.0.9":     false,
		"other-host":   false,
	}
	for name, want := range cases {
		if got := id.IsLocal(name); got != want {
			t.Errorf("IsLocal(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIsLocalHostnameMatchIsCaseInsensitive(t *testing.T) {
	id := Identity{Hostname: "Build-Box-7"}

	cases := []string{"build-box-7", "BUILD-BOX-7", "Build-Box-7"}
	for _, name := range cases {
		if !id.IsLocal(name) {
			t.Errorf("IsLocal(%q) = false, want true (case-insensitive match against %q)", name, id.Hostname)
		}
	}
}
