package plogwatch

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInstanceDefaults(t *testing.T) {
	inst := NewInstance()

	assert.Equal(t, "127.0.0.1", inst.Host)
	assert.Equal(t, 23456, inst.Port)
	assert.Equal(t, 3*time.Second, inst.TimeoutDuration())
	assert.Equal(t, 65536, inst.MaxSize)
	assert.Equal(t, "plog.", inst.MetricPrefix())
	assert.Equal(t, "", inst.Suffix)
	assert.Equal(t, []string{}, inst.Tags)
	assert.Equal(t, 15*time.Second, inst.IntervalDuration())
	assert.True(t, inst.PeerVerification())
	assert.Equal(t, "127.0.0.1:23456", inst.Address())
	require.NoError(t, inst.Validate())
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
init_config:
  min_collection_interval: 30
instances:
  - {}
  - host: plog.internal
    port: 9999
    timeout: 0.5
    prefix: ""
    suffix: .eu
    tags: [env:prod]
    min_collection_interval: 5
    verify_peer: false
    schema: legacy
  - fields:
      - {name: up, source: uptime, kind: gauge}
    handlers: true
`))
	require.NoError(t, err)
	require.Len(t, cfg.Instances, 3)

	first := cfg.Instances[0]
	assert.Equal(t, DefaultHost, first.Host)
	assert.Equal(t, DefaultPort, first.Port)
	assert.Equal(t, 30*time.Second, first.IntervalDuration(), "file-level interval applies")
	assert.True(t, first.PeerVerification())

	second := cfg.Instances[1]
	assert.Equal(t, "plog.internal:9999", second.Address())
	assert.Equal(t, 500*time.Millisecond, second.TimeoutDuration())
	assert.Equal(t, "", second.MetricPrefix(), "explicit empty prefix is kept")
	assert.Equal(t, ".eu", second.Suffix)
	assert.Equal(t, []string{"env:prod"}, second.Tags)
	assert.Equal(t, 5*time.Second, second.IntervalDuration())
	assert.False(t, second.PeerVerification())
	schema, err := second.ResolveSchema()
	require.NoError(t, err)
	assert.Equal(t, "legacy", schema.Name)
	assert.False(t, schema.Handlers)

	third, err := cfg.Instances[2].ResolveSchema()
	require.NoError(t, err)
	assert.Equal(t, "custom", third.Name)
	assert.Equal(t, []FieldSpec{gauge("up", "uptime")}, third.Fields)
	assert.True(t, third.Handlers)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := map[string]string{
		"no instances":      "init_config: {}\n",
		"bad yaml":          "instances: [",
		"port too large":    "instances: [{port: 70000}]",
		"negative timeout":  "instances: [{timeout: -1}]",
		"negative max size": "instances: [{max_size: -4}]",
		"unknown schema":    "instances: [{schema: nope}]",
		"bad custom field":  "instances: [{fields: [{name: up}]}]",
		"negative interval": "init_config: {min_collection_interval: -1}\ninstances: [{}]",
		"nan interval":      "init_config: {min_collection_interval: .nan}\ninstances: [{}]",
		"nan timeout":       "instances:\n  - host: 127.0.0.1\n    timeout: .nan\n",
		"infinite timeout":  "instances: [{timeout: .inf}]",
		"huge max size":     "instances: [{max_size: 1125899906842624}]",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(body))
			require.Error(t, err)
		})
	}

	_, err := ParseConfig([]byte("instances: [{port: 0, host: h, schema: nope}]"))
	assert.ErrorIs(t, err, ErrInvalidInstance)
	assert.ErrorIs(t, err, ErrUnknownSchema)
}

func TestInstanceValidate(t *testing.T) {
	inst := NewInstance()
	inst.Host = " "
	inst.Port = -1
	inst.Timeout = 0
	inst.MaxSize = 0

	err := inst.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInstance)
	assert.Contains(t, err.Error(), "host is empty")
	assert.Contains(t, err.Error(), "port -1 out of range")
	assert.Contains(t, err.Error(), "timeout must be in")
	assert.Contains(t, err.Error(), "max_size must be in")
}

func TestInstanceValidate_Bounds(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Instance)
		valid  bool
	}{
		{name: "largest datagram", modify: func(i *Instance) { i.MaxSize = MaxDatagramSize }, valid: true},
		{name: "max size beyond a datagram", modify: func(i *Instance) { i.MaxSize = MaxDatagramSize + 1 }},
		{name: "huge max size", modify: func(i *Instance) { i.MaxSize = 1 << 50 }},
		{name: "nan timeout", modify: func(i *Instance) { i.Timeout = math.NaN() }},
		{name: "infinite timeout", modify: func(i *Instance) { i.Timeout = math.Inf(1) }},
		{name: "overlong timeout", modify: func(i *Instance) { i.Timeout = MaxSeconds + 1 }},
		{name: "day long timeout", modify: func(i *Instance) { i.Timeout = MaxSeconds }, valid: true},
		{name: "nan interval", modify: func(i *Instance) { i.Interval = math.NaN() }},
		{name: "negative infinite interval", modify: func(i *Instance) { i.Interval = math.Inf(-1) }},
		{name: "infinite interval", modify: func(i *Instance) { i.Interval = math.Inf(1) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inst := NewInstance()
			tc.modify(&inst)
			err := inst.Validate()
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidInstance)

			_, err = NewStatsCollector(inst)
			assert.ErrorIs(t, err, ErrInvalidInstance, "collector refuses what validation refuses")
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instances:\n  - port: 1234\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Instances, 1)
	assert.Equal(t, 1234, cfg.Instances[0].Port)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
