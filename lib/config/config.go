// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the configuration file for [Load].
const EnvironmentVariable = "REASSEMBLY_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String formats d like time.Duration.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Config is the complete configuration for a reassembly deployment.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths    PathsConfig    `yaml:"paths"`
	Registry RegistryConfig `yaml:"registry"`
	Chunks   ChunksConfig   `yaml:"chunks"`
	Scratch  ScratchConfig  `yaml:"scratch"`
	Assembly AssemblyConfig `yaml:"assembly"`
	Reaper   ReaperConfig   `yaml:"reaper"`
	Server   ServerConfig   `yaml:"server"`
	Publish  PublishConfig  `yaml:"publish"`

	// Per-environment overrides, applied after the base config loads.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the sections an environment block may replace.
// Only non-zero fields take effect.
type Overrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	Scratch  *ScratchConfig  `yaml:"scratch,omitempty"`
	Assembly *AssemblyConfig `yaml:"assembly,omitempty"`
	Reaper   *ReaperConfig   `yaml:"reaper,omitempty"`
	Server   *ServerConfig   `yaml:"server,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for all reassembly state.
	Root string `yaml:"root"`

	// Scratch holds one subdirectory per in-progress session.
	Scratch string `yaml:"scratch"`

	// Artifacts receives assembled artifacts.
	Artifacts string `yaml:"artifacts"`

	// Catalog is the SQLite database recording finalized artifacts.
	Catalog string `yaml:"catalog"`
}

// RegistryConfig sizes the session registry.
type RegistryConfig struct {
	// Shards is the number of independently locked registry shards.
	Shards int `yaml:"shards"`

	// MaxSessions caps concurrently registered sessions. Zero means
	// unlimited.
	MaxSessions int `yaml:"max_sessions"`
}

// ChunksConfig bounds what a session may declare.
type ChunksConfig struct {
	// MaxChunkSize is the largest accepted chunk payload in bytes.
	MaxChunkSize int64 `yaml:"max_chunk_size"`

	// MaxChunks is the largest accepted expected chunk count.
	MaxChunks int `yaml:"max_chunks"`

	// Algorithm is the fingerprint algorithm used when a session does
	// not name one: "xxh64" or "blake3".
	Algorithm string `yaml:"algorithm"`
}

// ScratchConfig configures per-session scratch storage.
type ScratchConfig struct {
	// Compression for stored chunks: "none", "lz4", or "zstd".
	Compression string `yaml:"compression"`

	// RetainFailed keeps the scratch area of a session whose assembly
	// failed until its tombstone is purged.
	RetainFailed bool `yaml:"retain_failed"`
}

// AssemblyConfig configures artifact assembly.
type AssemblyConfig struct {
	// MaxAttempts bounds attempts for transient I/O failures.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay is the pause between attempts.
	RetryDelay Duration `yaml:"retry_delay"`
}

// ReaperConfig configures session expiry.
type ReaperConfig struct {
	// Interval between sweeps.
	Interval Duration `yaml:"interval"`

	// TTL is the inactivity limit for an active session.
	TTL Duration `yaml:"ttl"`

	// TombstoneTTL is how long expired, failed, and unacknowledged
	// complete sessions stay visible before they are purged.
	TombstoneTTL Duration `yaml:"tombstone_ttl"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	// Listen is the TCP address, e.g. "127.0.0.1:8470".
	Listen string `yaml:"listen"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// PublishConfig configures optional upload of finished artifacts to
// S3-compatible object storage. Publishing is disabled when Endpoint
// is empty.
type PublishConfig struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	UseSSL   bool   `yaml:"use_ssl"`

	// AccessKeyEnv and SecretKeyEnv name the environment variables
	// holding credentials. Credentials never appear in the file.
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
}

// Enabled reports whether publishing is configured.
func (p PublishConfig) Enabled() bool { return p.Endpoint != "" }

// Credentials resolves the access and secret keys from the
// environment.
func (p PublishConfig) Credentials() (accessKey, secretKey string, err error) {
	accessKey = os.Getenv(p.AccessKeyEnv)
	secretKey = os.Getenv(p.SecretKeyEnv)
	if accessKey == "" || secretKey == "" {
		return "", "", fmt.Errorf("publish credentials: %s and %s must both be set", p.AccessKeyEnv, p.SecretKeyEnv)
	}
	return accessKey, secretKey, nil
}

// Default returns the configuration used as the base before a file is
// applied.
func Default() *Config {
	homeDirectory, _ := os.UserHomeDir()
	root := filepath.Join(homeDirectory, ".cache", "reassembly")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:      root,
			Scratch:   "${REASSEMBLY_ROOT}/scratch",
			Artifacts: "${REASSEMBLY_ROOT}/artifacts",
			Catalog:   "${REASSEMBLY_ROOT}/catalog.db",
		},
		Registry: RegistryConfig{
			Shards: 32,
		},
		Chunks: ChunksConfig{
			MaxChunkSize: 64 << 20,
			MaxChunks:    1 << 20,
			Algorithm:    "xxh64",
		},
		Scratch: ScratchConfig{
			Compression: "none",
		},
		Assembly: AssemblyConfig{
			MaxAttempts: 3,
			RetryDelay:  Duration(500 * time.Millisecond),
		},
		Reaper: ReaperConfig{
			Interval:     Duration(time.Minute),
			TTL:          Duration(30 * time.Minute),
			TombstoneTTL: Duration(10 * time.Minute),
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:8470",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Publish: PublishConfig{
			AccessKeyEnv: "REASSEMBLY_PUBLISH_ACCESS_KEY",
			SecretKeyEnv: "REASSEMBLY_PUBLISH_SECRET_KEY",
		},
	}
}

// Load loads the file named by REASSEMBLY_CONFIG. It fails when the
// variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your reassembly.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path on top of [Default].
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of [Default], applies the matching
// environment overrides, and expands path variables. Unknown keys are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		setString(&c.Paths.Root, paths.Root)
		setString(&c.Paths.Scratch, paths.Scratch)
		setString(&c.Paths.Artifacts, paths.Artifacts)
		setString(&c.Paths.Catalog, paths.Catalog)
	}
	if scratch := overrides.Scratch; scratch != nil {
		setString(&c.Scratch.Compression, scratch.Compression)
		// Booleans always apply from a present section.
		c.Scratch.RetainFailed = scratch.RetainFailed
	}
	if assembly := overrides.Assembly; assembly != nil {
		if assembly.MaxAttempts != 0 {
			c.Assembly.MaxAttempts = assembly.MaxAttempts
		}
		setDuration(&c.Assembly.RetryDelay, assembly.RetryDelay)
	}
	if reaper := overrides.Reaper; reaper != nil {
		setDuration(&c.Reaper.Interval, reaper.Interval)
		setDuration(&c.Reaper.TTL, reaper.TTL)
		setDuration(&c.Reaper.TombstoneTTL, reaper.TombstoneTTL)
	}
	if server := overrides.Server; server != nil {
		setString(&c.Server.Listen, server.Listen)
		setDuration(&c.Server.ShutdownTimeout, server.ShutdownTimeout)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setDuration(target *Duration, value Duration) {
	if value != 0 {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["REASSEMBLY_ROOT"] = c.Paths.Root

	c.Paths.Scratch = expandVars(c.Paths.Scratch, vars)
	c.Paths.Artifacts = expandVars(c.Paths.Artifacts, vars)
	c.Paths.Catalog = expandVars(c.Paths.Catalog, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default}. Known vars win over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

var (
	compressionValues = []string{"none", "lz4", "zstd"}
	algorithmValues   = []string{"xxh64", "blake3"}
)

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]Environment{Development, Staging, Production}, c.Environment) {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	for _, path := range []struct{ name, value string }{
		{"paths.root", c.Paths.Root},
		{"paths.scratch", c.Paths.Scratch},
		{"paths.artifacts", c.Paths.Artifacts},
		{"paths.catalog", c.Paths.Catalog},
	} {
		if path.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", path.name))
		}
	}

	if c.Registry.Shards < 1 {
		errs = append(errs, fmt.Errorf("registry.shards must be at least 1, got %d", c.Registry.Shards))
	}
	if c.Registry.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("registry.max_sessions must not be negative"))
	}
	if c.Chunks.MaxChunkSize < 1 {
		errs = append(errs, fmt.Errorf("chunks.max_chunk_size must be positive, got %d", c.Chunks.MaxChunkSize))
	}
	if c.Chunks.MaxChunks < 1 {
		errs = append(errs, fmt.Errorf("chunks.max_chunks must be positive, got %d", c.Chunks.MaxChunks))
	}
	if !slices.Contains(algorithmValues, c.Chunks.Algorithm) {
		errs = append(errs, fmt.Errorf("chunks.algorithm must be one of %v, got %q", algorithmValues, c.Chunks.Algorithm))
	}
	if !slices.Contains(compressionValues, c.Scratch.Compression) {
		errs = append(errs, fmt.Errorf("scratch.compression must be one of %v, got %q", compressionValues, c.Scratch.Compression))
	}
	if c.Assembly.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("assembly.max_attempts must be at least 1, got %d", c.Assembly.MaxAttempts))
	}
	if c.Assembly.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("assembly.retry_delay must not be negative"))
	}
	if c.Reaper.Interval <= 0 {
		errs = append(errs, fmt.Errorf("reaper.interval must be positive"))
	}
	if c.Reaper.TTL <= 0 {
		errs = append(errs, fmt.Errorf("reaper.ttl must be positive"))
	}
	if c.Reaper.TombstoneTTL <= 0 {
		errs = append(errs, fmt.Errorf("reaper.tombstone_ttl must be positive"))
	}
	if c.Server.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen is required"))
	}
	if c.Publish.Enabled() && c.Publish.Bucket == "" {
		errs = append(errs, fmt.Errorf("publish.bucket is required when publish.endpoint is set"))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	directories := []string{
		c.Paths.Root,
		c.Paths.Scratch,
		c.Paths.Artifacts,
		filepath.Dir(c.Paths.Catalog),
	}
	for _, directory := range directories {
		if directory == "" {
			continue
		}
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}
