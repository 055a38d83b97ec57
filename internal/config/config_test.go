package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simkernel/internal/core/simtime"
)

func Test_Load_Defaults(t *testing.T) {
	// Arrange & Act
	cfg, err := Load("")

	// Assert
	require.NoError(t, err)
	assert.InDelta(t, 1.0/60.0, float64(cfg.Time.FixedDeltaSeconds), 1e-6)
	assert.Equal(t, 0.1, cfg.Time.PLLGain)
	assert.InDelta(t, 0.05, float64(cfg.Time.MaxSlew), 1e-6)
	assert.Equal(t, 500.0, cfg.Time.SnapThresholdMS)
	assert.Equal(t, uint32(5), cfg.Time.JitterWindow)
	assert.Equal(t, uint32(5), cfg.Time.PauseBarrierFrames)
	assert.Equal(t, 5, cfg.Provider.OnDemandInitialPool)
	assert.Equal(t, 10, cfg.Provider.SharedPoolWarmup)
	assert.Equal(t, uint32(2000), cfg.Provider.HardLeaseExpiryMS)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 1024, cfg.Repository.InitialCapacity)
	assert.Equal(t, 0, cfg.Repository.MaxEntities)
	assert.Equal(t, simtime.RoleStandalone, cfg.Role())
}

func Test_Load_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "simhost.yaml")
	data := []byte(`
time:
  pll_gain: 0.2
  jitter_window: 9
provider:
  hard_lease_expiry_ms: 750
host:
  role: master
  node_id: 3
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.Time.PLLGain)
	assert.Equal(t, uint32(9), cfg.Time.JitterWindow)
	assert.Equal(t, 750*time.Millisecond, cfg.Tuning().HardLeaseExpiry)
	assert.Equal(t, simtime.RoleMaster, cfg.Role())
	assert.Equal(t, int32(3), cfg.Host.NodeID)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched keys keep their defaults.
	assert.InDelta(t, 0.05, float64(cfg.Time.MaxSlew), 1e-6)
}

func Test_Load_ValidationRejectsBadRanges(t *testing.T) {
	dir := t.TempDir()

	cases := []string{
		"time:\n  pll_gain: 0\n",
		"time:\n  max_slew: 2\n",
		"time:\n  jitter_window: 0\n",
		"time:\n  fixed_delta_seconds: -1\n",
		"host:\n  role: admiral\n",
		"host:\n  frame_rate_hz: 0\n",
	}
	for i, body := range cases {
		path := filepath.Join(dir, "bad"+string(rune('a'+i))+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

		_, err := Load(path)
		assert.Error(t, err, "case %d must fail validation", i)
	}
}

func Test_Config_DumpRoundTrips(t *testing.T) {
	// Arrange: a config diverging from the defaults.
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Time.PLLGain = 0.25
	cfg.Host.Role = "slave"
	cfg.Host.NodeID = 7
	cfg.Logging.Format = "json"

	// Act: dump to a file and load it back.
	path := filepath.Join(t.TempDir(), "dumped.yaml")
	require.NoError(t, cfg.WriteFile(path))
	reloaded, err := Load(path)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 0.25, reloaded.Time.PLLGain)
	assert.Equal(t, simtime.RoleSlave, reloaded.Role())
	assert.Equal(t, int32(7), reloaded.Host.NodeID)
	assert.Equal(t, "json", reloaded.Logging.Format)
	assert.Equal(t, cfg.Provider, reloaded.Provider)
	assert.Equal(t, cfg.Repository, reloaded.Repository)
}

func Test_Config_SimTimeConversion(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	st := cfg.SimTime()

	assert.Equal(t, cfg.Time.PLLGain, st.PLLGain)
	assert.Equal(t, cfg.Time.JitterWindow, st.JitterWindow)
	assert.Equal(t, cfg.Time.AverageLatencyTicks, st.AverageLatencyTicks)
}
