package mdns

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCoordAnnouncer(t *testing.T) {
	cfg := CoordAnnouncerConfig{
		Instance:        "test-coord",
		Port:            31264,
		ProtocolVersion: 1,
		InstanceID:      "test-123",
	}

	announcer := NewCoordAnnouncer(cfg)

	assert.NotNil(t, announcer)
	assert.Equal(t, cfg.Instance, announcer.cfg.Instance)
	assert.Equal(t, cfg.Port, announcer.cfg.Port)
	assert.Equal(t, cfg.ProtocolVersion, announcer.cfg.ProtocolVersion)
	assert.Equal(t, cfg.InstanceID, announcer.cfg.InstanceID)
}

func TestCoordAnnouncer_BuildTXTRecords(t *testing.T) {
	announcer := NewCoordAnnouncer(CoordAnnouncerConfig{
		Instance:        "test",
		Port:            31264,
		ProtocolVersion: 1,
		InstanceID:      "abc123",
	})

	txt := announcer.buildTXTRecords()

	assert.Contains(t, txt, "port=31264")
	assert.Contains(t, txt, "protocol_version=1")
	assert.Contains(t, txt, "instance_id=abc123")
}

func TestCoordAnnouncer_BuildTXTRecords_Minimal(t *testing.T) {
	announcer := NewCoordAnnouncer(CoordAnnouncerConfig{
		Instance: "test",
		Port:     31264,
		// no protocol version or instance id
	})

	txt := announcer.buildTXTRecords()

	assert.Contains(t, txt, "port=31264")
	assert.Len(t, txt, 1)
}

func TestCoordAnnouncer_StartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	announcer := NewCoordAnnouncer(CoordAnnouncerConfig{
		Instance: "test-coord-mdns",
		Port:     19000, // use high port to avoid conflicts
		ProtocolVersion: 1,
	})

	err := announcer.Start()
	require.NoError(t, err)

	err = announcer.Start()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	time.Sleep(100 * time.Millisecond)

	announcer.Stop()
	announcer.Stop()
}

func TestCoordAnnouncer_StopWithoutStart(t *testing.T) {
	announcer := NewCoordAnnouncer(CoordAnnouncerConfig{
		Instance: "test",
		Port:     31264,
	})

	announcer.Stop()
}

func TestCoordAnnouncer_ConcurrentStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	announcer := NewCoordAnnouncer(CoordAnnouncerConfig{
		Instance: "concurrent-test-coord",
		Port:     29001,
		ProtocolVersion: 1,
	})

	var wg sync.WaitGroup

	startErrors := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := announcer.Start()
			startErrors <- err
		}()
	}

	wg.Wait()
	close(startErrors)

	successCount := 0
	for err := range startErrors {
		if err == nil {
			successCount++
		}
	}

	assert.Equal(t, 1, successCount, "exactly one concurrent Start should succeed")

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			announcer.Stop()
		}()
	}

	wg.Wait()
}

func TestCoordAnnouncer_RestartAfterStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	announcer := NewCoordAnnouncer(CoordAnnouncerConfig{
		Instance: "restart-test-coord",
		Port:     29002,
		ProtocolVersion: 1,
	})

	err := announcer.Start()
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	announcer.Stop()

	time.Sleep(50 * time.Millisecond)

	err = announcer.Start()
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	announcer.Stop()
}
