//go:build integration || !short

package mdns

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_AnnounceDiscover(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	announcer := NewCoordAnnouncer(CoordAnnouncerConfig{
		Instance:        "integration-test-coord",
		Port:            29000,
		ProtocolVersion: 1,
		InstanceID:      "integration-test-123",
	})

	err := announcer.Start()
	require.NoError(t, err)
	defer announcer.Stop()

	time.Sleep(500 * time.Millisecond)

	browser := NewCoordBrowser(CoordBrowserConfig{
		Timeout: 5 * time.Second,
	})

	ctx := context.Background()
	coord, err := browser.Discover(ctx)

	require.NoError(t, err)
	require.NotNil(t, coord)

	assert.Equal(t, "integration-test-coord", coord.Instance)
	assert.Equal(t, 29000, coord.Port)
	assert.Equal(t, uint32(1), coord.ProtocolVersion)
	assert.Equal(t, "integration-test-123", coord.InstanceID)
	assert.Contains(t, coord.Address, "29000")
}

func TestIntegration_MultipleAnnouncers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	announcer1 := NewCoordAnnouncer(CoordAnnouncerConfig{
		Instance:        "multi-test-coord-1",
		Port:            39001,
		ProtocolVersion: 1,
	})
	announcer2 := NewCoordAnnouncer(CoordAnnouncerConfig{
		Instance:        "multi-test-coord-2",
		Port:            39002,
		ProtocolVersion: 1,
	})

	require.NoError(t, announcer1.Start())
	defer announcer1.Stop()

	require.NoError(t, announcer2.Start())
	defer announcer2.Stop()

	time.Sleep(500 * time.Millisecond)

	browser := NewCoordBrowser(CoordBrowserConfig{
		Timeout: 3 * time.Second,
	})

	coord, err := browser.Discover(context.Background())
	require.NoError(t, err)

	assert.True(t,
		coord.Instance == "multi-test-coord-1" ||
			coord.Instance == "multi-test-coord-2",
		"should find one of the coordinators, got: %s", coord.Instance)
}

func TestIntegration_DiscoveryAfterAnnouncerStarts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	time.Sleep(1 * time.Second)

	browser := NewCoordBrowser(CoordBrowserConfig{
		Timeout: 5 * time.Second,
	})

	announcer := NewCoordAnnouncer(CoordAnnouncerConfig{
		Instance:        "delayed-coord-unique-12345",
		Port:            49000,
		ProtocolVersion: 1,
	})

	go func() {
		time.Sleep(300 * time.Millisecond)
		announcer.Start()
	}()
	defer announcer.Stop()

	ctx := context.Background()
	coord, err := browser.Discover(ctx)

	require.NoError(t, err)
	assert.NotEmpty(t, coord.Instance)
	assert.NotZero(t, coord.Port)
}
