package plogwatch

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultHost is the address of a plog server running next to the agent.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the UDP port plog answers stats requests on.
	DefaultPort = 23456
	// DefaultTimeout is the reply timeout in seconds.
	DefaultTimeout = 3.0
	// DefaultMaxSize is the read buffer size in bytes, large enough for any UDP datagram.
	DefaultMaxSize = 65536
	// DefaultPrefix is prepended to every metric name.
	DefaultPrefix = "plog."
	// DefaultInterval is the poll interval in seconds.
	DefaultInterval = 15.0

	// MaxDatagramSize is the largest accepted max_size, the size of the largest UDP datagram.
	MaxDatagramSize = 65536
	// MaxSeconds bounds the timeout and poll interval.
	MaxSeconds = 86400.0
)

// Config is the content of a check configuration file.
type Config struct {
	InitConfig InitConfig `yaml:"init_config"`
	Instances  []Instance `yaml:"instances"`
}

// InitConfig holds settings shared by every instance.
type InitConfig struct {
	// MinCollectionInterval is the default poll interval in seconds.
	MinCollectionInterval float64 `yaml:"min_collection_interval"`
}

// Instance configures one monitored plog server. Durations are expressed in seconds.
type Instance struct {
	ID       string   `yaml:"id"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Timeout  float64  `yaml:"timeout"`
	MaxSize  int      `yaml:"max_size"`
	Prefix   *string  `yaml:"prefix"`
	Suffix   string   `yaml:"suffix"`
	Tags     []string `yaml:"tags"`
	Interval float64  `yaml:"min_collection_interval"`

	// VerifyPeer drops reply datagrams whose source is not the polled address. Defaults to true.
	VerifyPeer *bool `yaml:"verify_peer"`

	// Schema names a built-in field table; ignored when Fields is set.
	Schema string `yaml:"schema"`
	// Fields replaces the built-in field table.
	Fields []FieldSpec `yaml:"fields"`
	// Handlers overrides whether the handlers walk runs.
	Handlers *bool `yaml:"handlers"`
}

// NewInstance returns an Instance with every default applied.
func NewInstance() Instance {
	inst := Instance{}
	inst.applyDefaults(0)
	return inst
}

// applyDefaults fills unset fields. interval is the file-level default, zero for none.
func (i *Instance) applyDefaults(interval float64) {
	if strings.TrimSpace(i.Host) == "" {
		i.Host = DefaultHost
	}
	if i.Port == 0 {
		i.Port = DefaultPort
	}
	if i.Timeout == 0 {
		i.Timeout = DefaultTimeout
	}
	if i.MaxSize == 0 {
		i.MaxSize = DefaultMaxSize
	}
	if i.Prefix == nil {
		i.Prefix = ptr(DefaultPrefix)
	}
	if i.Tags == nil {
		i.Tags = []string{}
	}
	if i.Interval == 0 {
		i.Interval = interval
	}
	if i.Interval == 0 {
		i.Interval = DefaultInterval
	}
	if i.VerifyPeer == nil {
		i.VerifyPeer = ptr(true)
	}
}

// Validate checks that the instance can be polled.
func (i Instance) Validate() error {
	var errs []error
	if strings.TrimSpace(i.Host) == "" {
		errs = append(errs, errors.New("host is empty"))
	}
	if i.Port < 1 || i.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", i.Port))
	}
	if !(i.Timeout > 0 && i.Timeout <= MaxSeconds) {
		errs = append(errs, fmt.Errorf("timeout must be in (0, %v] seconds, got %v", MaxSeconds, i.Timeout))
	}
	if i.MaxSize < 1 || i.MaxSize > MaxDatagramSize {
		errs = append(errs, fmt.Errorf("max_size must be in [1, %d], got %d", MaxDatagramSize, i.MaxSize))
	}
	if !validInterval(i.Interval) {
		errs = append(errs, fmt.Errorf("min_collection_interval must be in [0, %v] seconds, got %v",
			MaxSeconds, i.Interval))
	}
	if _, err := i.ResolveSchema(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidInstance}, errs...)...)
	}
	return nil
}

// ResolveSchema returns the field table the instance polls with.
func (i Instance) ResolveSchema() (Schema, error) {
	var schema Schema
	if len(i.Fields) > 0 {
		schema = Schema{Name: "custom", Fields: i.Fields, Handlers: false}
	} else {
		s, err := SchemaByName(i.Schema)
		if err != nil {
			return Schema{}, err
		}
		schema = s
	}
	if i.Handlers != nil {
		schema.Handlers = *i.Handlers
	}
	if err := schema.Validate(); err != nil {
		return Schema{}, fmt.Errorf("schema %s: %w", schema.Name, err)
	}
	return schema, nil
}

// Address returns host:port.
func (i Instance) Address() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// TimeoutDuration returns the reply timeout.
func (i Instance) TimeoutDuration() time.Duration {
	return secondsToDuration(i.Timeout)
}

// IntervalDuration returns the poll interval.
func (i Instance) IntervalDuration() time.Duration {
	return secondsToDuration(i.Interval)
}

// MetricPrefix returns the configured prefix, the default one when unset.
func (i Instance) MetricPrefix() string {
	if i.Prefix == nil {
		return DefaultPrefix
	}
	return *i.Prefix
}

// PeerVerification reports whether replies from other addresses are dropped.
func (i Instance) PeerVerification() bool {
	return i.VerifyPeer == nil || *i.VerifyPeer
}

// ptr returns a pointer to the given value.
func ptr[T any](v T) *T { return &v }

// validInterval reports whether s is a usable interval in seconds. Zero means unset.
func validInterval(s float64) bool {
	return !math.IsNaN(s) && s >= 0 && s <= MaxSeconds
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ParseConfig decodes a YAML check configuration and applies defaults to every instance.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Instances) == 0 {
		return nil, errors.Join(ErrInvalidInstance, errors.New("no instances configured"))
	}
	if !validInterval(cfg.InitConfig.MinCollectionInterval) {
		return nil, fmt.Errorf("init_config.min_collection_interval must be in [0, %v] seconds, got %v",
			MaxSeconds, cfg.InitConfig.MinCollectionInterval)
	}
	for idx := range cfg.Instances {
		cfg.Instances[idx].applyDefaults(cfg.InitConfig.MinCollectionInterval)
		if err := cfg.Instances[idx].Validate(); err != nil {
			return nil, fmt.Errorf("instance %d (%s): %w", idx, cfg.Instances[idx].Address(), err)
		}
	}
	return cfg, nil
}

// LoadConfig reads and parses the check configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}
