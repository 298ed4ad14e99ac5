package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/testcluster/internal/common"
	"github.com/G-Research/testcluster/pkg/clustererrors"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.NumBrokers)
	assert.Equal(t, 5, cfg.PortCount())
	assert.False(t, cfg.AutoCreateTopics)
}

func TestPortCount(t *testing.T) {
	cfg := Default()
	cfg.NumBrokers = 1
	assert.Equal(t, 3, cfg.PortCount())
	cfg.NumPorts = 10
	assert.Equal(t, 10, cfg.PortCount())
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate func(c *HarnessConfig)
		valid  bool
	}{
		"zero brokers":          {mutate: func(c *HarnessConfig) { c.NumBrokers = 0 }, valid: true},
		"extra ports":           {mutate: func(c *HarnessConfig) { c.NumPorts = 8 }, valid: true},
		"exact ports":           {mutate: func(c *HarnessConfig) { c.NumPorts = 5 }, valid: true},
		"negative brokers":      {mutate: func(c *HarnessConfig) { c.NumBrokers = -1 }},
		"too few ports":         {mutate: func(c *HarnessConfig) { c.NumPorts = 4 }},
		"no host":               {mutate: func(c *HarnessConfig) { c.Host = "" }},
		"bind address is no ip": {mutate: func(c *HarnessConfig) { c.BindAddress = "localhost" }},
		"start timeout not set": {mutate: func(c *HarnessConfig) { c.StartTimeout = 0 }},
		"negative stop timeout": {mutate: func(c *HarnessConfig) { c.StopTimeout = -time.Second }},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			var configErr *clustererrors.ErrConfiguration
			assert.True(t, errors.As(err, &configErr), "got %v", err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
numBrokers: 2
host: localhost
bindAddress: 127.0.0.1
startTimeout: 5s
stopTimeout: 10s
logLevel: debug
`), 0o644))
	override := filepath.Join(dir, "override.yaml")
	require.NoError(t, os.WriteFile(override, []byte("autoCreateTopics: true\nnumPorts: 6\n"), 0o644))

	cfg := Default()
	require.NoError(t, common.LoadConfig(&cfg, dir, []string{override}))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2, cfg.NumBrokers)
	assert.Equal(t, 6, cfg.PortCount())
	assert.Equal(t, 5*time.Second, cfg.StartTimeout)
	assert.Equal(t, 10*time.Second, cfg.StopTimeout)
	assert.True(t, cfg.AutoCreateTopics)
	assert.Equal(t, log.DebugLevel, cfg.LogLevel)
}

func TestLoadConfig_MissingBaseConfigKeepsDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, common.LoadConfig(&cfg, t.TempDir(), nil))
	assert.Equal(t, Default(), cfg)
}
