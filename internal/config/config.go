// Package config loads hlsfetch settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/agleyzer/hlsfetch/internal/fetcher"
	"github.com/agleyzer/hlsfetch/internal/manifest"
	"github.com/agleyzer/hlsfetch/internal/pipeline"
	"github.com/agleyzer/hlsfetch/internal/transcoder"
	"github.com/agleyzer/hlsfetch/internal/transport"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment variable, e.g. HLSFETCH_WORKERS.
const EnvPrefix = "HLSFETCH"

// Config holds every tunable of a run.
type Config struct {
	// Workers is the number of transfers in flight.
	Workers int `yaml:"workers" envconfig:"WORKERS"`
	// ChunkSize is the buffer size of streamed segment transfers, in bytes.
	ChunkSize int `yaml:"chunkSize" envconfig:"CHUNK_SIZE"`
	// RateLimit caps total download throughput in bytes per second. Zero
	// means unlimited.
	RateLimit int `yaml:"rateLimit" envconfig:"RATE_LIMIT"`

	// Retries is the number of extra attempts on a failed request. Negative
	// disables retrying.
	Retries        int               `yaml:"retries" envconfig:"RETRIES"`
	RetryWaitMin   time.Duration     `yaml:"retryWaitMin" envconfig:"RETRY_WAIT_MIN"`
	RetryWaitMax   time.Duration     `yaml:"retryWaitMax" envconfig:"RETRY_WAIT_MAX"`
	RequestTimeout time.Duration     `yaml:"requestTimeout" envconfig:"REQUEST_TIMEOUT"`
	Headers        map[string]string `yaml:"headers" envconfig:"HEADERS"`
	UserAgent      string            `yaml:"userAgent" envconfig:"USER_AGENT"`

	// Tool is the media tool executable.
	Tool string `yaml:"tool" envconfig:"TOOL"`
	// Container is the extension of produced files.
	Container string `yaml:"container" envconfig:"CONTAINER"`

	OutputRoot    string `yaml:"outputRoot" envconfig:"OUTPUT"`
	WorkspaceRoot string `yaml:"workspaceRoot" envconfig:"WORKSPACE"`

	// Probe1080 looks for an unlisted 1080 rendition.
	Probe1080 bool `yaml:"probe1080" envconfig:"PROBE_1080"`

	// StatusAddr enables the status server when set, e.g. "127.0.0.1:8080".
	StatusAddr string `yaml:"statusAddr" envconfig:"STATUS_ADDR"`
	Verbose    bool   `yaml:"verbose" envconfig:"VERBOSE"`
}

// Load reads the YAML file at path, then applies HLSFETCH_* environment
// variables on top. An empty path falls back to HLSFETCH_CONFIG_FILE; when
// neither is set only the environment is read. The result is not validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}

	var c Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	return &c, nil
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return errors.New("workers must be at least 1")
	}
	if c.ChunkSize < 0 {
		return errors.New("chunk-size must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("rate-limit must not be negative")
	}
	if c.RetryWaitMin < 0 || c.RetryWaitMax < 0 {
		return errors.New("retry waits must not be negative")
	}
	if c.RetryWaitMin > 0 && c.RetryWaitMax > 0 && c.RetryWaitMin > c.RetryWaitMax {
		return fmt.Errorf("retry-wait-min %s exceeds retry-wait-max %s", c.RetryWaitMin, c.RetryWaitMax)
	}
	if c.RequestTimeout < 0 {
		return errors.New("request-timeout must not be negative")
	}
	if strings.ContainsAny(c.Container, `/\`) {
		return fmt.Errorf("invalid container %q", c.Container)
	}

	// Set defaults
	if c.Workers == 0 {
		c.Workers = fetcher.DefaultWorkers
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = fetcher.DefaultChunkSize
	}
	if c.Retries == 0 {
		c.Retries = 5
	} else if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryWaitMin == 0 {
		c.RetryWaitMin = 100 * time.Millisecond
	}
	if c.RetryWaitMax == 0 {
		c.RetryWaitMax = 2 * time.Second
	}
	if c.RetryWaitMax < c.RetryWaitMin {
		c.RetryWaitMax = c.RetryWaitMin
	}
	if c.Tool == "" {
		c.Tool = transcoder.DefaultTool
	}
	if c.Container == "" {
		c.Container = pipeline.DefaultContainer
	}
	c.Container = strings.TrimPrefix(c.Container, ".")
	if c.OutputRoot == "" {
		c.OutputRoot = "."
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = c.OutputRoot
	}

	return nil
}

// Transport returns the HTTP client settings.
func (c *Config) Transport() transport.Options {
	return transport.Options{
		Retries:      c.Retries,
		RetryWaitMin: c.RetryWaitMin,
		RetryWaitMax: c.RetryWaitMax,
		Timeout:      c.RequestTimeout,
		Headers:      c.Headers,
		UserAgent:    c.UserAgent,
		Verbose:      c.Verbose,
	}
}

// Fetcher returns the download pool settings.
func (c *Config) Fetcher() fetcher.Options {
	return fetcher.Options{
		Workers:   c.Workers,
		ChunkSize: c.ChunkSize,
		RateLimit: c.RateLimit,
	}
}

// Pipeline returns the orchestrator settings.
func (c *Config) Pipeline() pipeline.Options {
	return pipeline.Options{
		OutputRoot:    c.OutputRoot,
		WorkspaceRoot: c.WorkspaceRoot,
		Container:     c.Container,
		Manifest:      manifest.Options{Probe1080: c.Probe1080},
	}
}
