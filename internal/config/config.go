// Package config provides configuration loading and validation for bulkdns.
// It handles reading configuration from files, providing defaults, and
// ensuring all required settings are properly set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lc/bulkdns/internal/filesys"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoConfig is returned when the configuration file is not found.
	ErrNoConfig = errors.New("configuration file not found")
)

const (
	// DefaultConfigPath is the default path for the configuration file.
	DefaultConfigPath = ".bulkdns/config.yaml"
	// DefaultTries is the default number of attempts per target/nameserver pair.
	DefaultTries = 1
	// DefaultTimeout is the default per-lookup timeout.
	DefaultTimeout = 5 * time.Second
	// DefaultMaxPerCountry is the default cap on public nameservers per country.
	DefaultMaxPerCountry = 100
)

// Config holds the application configuration.
type Config struct {
	Resolver  ResolverConfig  `yaml:"resolver"`
	PublicDNS PublicDNSConfig `yaml:"public_dns"`
}

// ResolverConfig holds resolution-related configuration.
type ResolverConfig struct {
	Nameservers []string      `yaml:"nameservers"`
	Domain      string        `yaml:"domain"`
	Tries       int           `yaml:"tries"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PublicDNSConfig controls fetching of public nameserver lists.
type PublicDNSConfig struct {
	Countries     []string `yaml:"countries"`
	MaxPerCountry int      `yaml:"max_per_country"`
	IPv6          bool     `yaml:"ipv6"`
}

// Provider defines the interface for loading configuration.
type Provider interface {
	Load() (*Config, error)
}

// FSProvider implements Provider using the local filesystem.
type FSProvider struct {
	fs   filesys.ReadWriteFS
	path string
}

// Verify FSProvider implements Provider interface.
var _ Provider = (*FSProvider)(nil)

// New creates a new configuration provider using the default configuration path.
// It uses the OS filesystem and the user's home directory to locate the
// configuration file. If the home directory cannot be determined, it falls
// back to the current directory.
func New() Provider {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not determine home directory: %v\n", err)
		home = ""
	}
	return NewWithPath(filesys.OS(), filepath.Join(home, DefaultConfigPath))
}

// NewWithPath creates a new provider with a specific config path.
// It allows specifying both the filesystem implementation and the path to use.
func NewWithPath(fs filesys.ReadWriteFS, path string) Provider {
	return &FSProvider{
		fs:   fs,
		path: path,
	}
}

// Default returns a default configuration with preset values.
// This is used when no configuration file exists.
func Default() *Config {
	return &Config{
		Resolver: ResolverConfig{
			Nameservers: []string{"8.8.8.8", "8.8.4.4"},
			Tries:       DefaultTries,
			Timeout:     DefaultTimeout,
		},
		PublicDNS: PublicDNSConfig{
			Countries:     []string{"us", "gb"},
			MaxPerCountry: DefaultMaxPerCountry,
		},
	}
}

// Load loads the configuration from the specified path.
func (p *FSProvider) Load() (*Config, error) {
	_ = p.ensureConfigDir()

	cfg, err := p.loadAndParse()
	if err != nil {
		if errors.Is(err, ErrNoConfig) {
			return Default(), nil
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return cfg, nil
}

// Validate checks the configuration to ensure all required fields are set.
func (c *Config) Validate() error {
	if len(c.Resolver.Nameservers) == 0 {
		return errors.New("at least one nameserver is required")
	}
	for _, ns := range c.Resolver.Nameservers {
		if strings.TrimSpace(ns) == "" {
			return errors.New("nameserver entries cannot be empty")
		}
	}
	if c.Resolver.Tries < 1 {
		return errors.New("tries must be at least 1")
	}
	if c.Resolver.Timeout < time.Second {
		return errors.New("timeout must be at least 1 second")
	}
	if c.PublicDNS.MaxPerCountry < 1 {
		return errors.New("max_per_country must be at least 1")
	}
	return nil
}

func (p *FSProvider) ensureConfigDir() error {
	dir := filepath.Dir(p.path)
	if _, err := p.fs.Stat(dir); os.IsNotExist(err) {
		if err := p.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return nil
}

func (p *FSProvider) loadAndParse() (*Config, error) {
	f, err := p.fs.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}

	return &cfg, nil
}
