// Package config provides configuration management for memfsd.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajaxzhan/sandbox-memfs/internal/memfs"
	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

// Config represents the complete daemon configuration.
type Config struct {
	Filesystem FilesystemConfig `yaml:"filesystem"`
	Mount      MountConfig      `yaml:"mount"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Seed       []SeedEntry      `yaml:"seed"`
}

// FilesystemConfig describes the root directory of a new filesystem.
type FilesystemConfig struct {
	RootMode    string `yaml:"root_mode"` // octal, e.g. "0755"
	RootUID     uint32 `yaml:"root_uid"`
	RootGID     uint32 `yaml:"root_gid"`
	MaxFileSize int64  `yaml:"max_file_size"` // bytes, 0 for the engine default
}

// MountConfig holds FUSE mount configuration.
type MountConfig struct {
	Path         string `yaml:"path"`
	AllowOther   bool   `yaml:"allow_other"`
	Debug        bool   `yaml:"debug"`
	EntryTimeout string `yaml:"entry_timeout"`
	AttrTimeout  string `yaml:"attr_timeout"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SeedEntry is a file or directory created at startup.
type SeedEntry struct {
	Path    string `yaml:"path"`
	Type    string `yaml:"type"` // file or dir
	Mode    string `yaml:"mode"` // octal
	UID     uint32 `yaml:"uid"`
	GID     uint32 `yaml:"gid"`
	Content string `yaml:"content"`
}

// Seed entry types.
const (
	SeedTypeFile = "file"
	SeedTypeDir  = "dir"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Filesystem: FilesystemConfig{
			RootMode: "0755",
		},
		Mount: MountConfig{
			Path:         "/tmp/memfs",
			EntryTimeout: "1s",
			AttrTimeout:  "1s",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return config, nil
}

// LoadOrDefault loads configuration from a file, or returns default if file doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Validate checks values that the YAML decoder cannot.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseMode(c.Filesystem.RootMode); err != nil {
		errs = append(errs, fmt.Errorf("filesystem.root_mode: %w", err))
	}
	if c.Filesystem.MaxFileSize < 0 {
		errs = append(errs, errors.New("filesystem.max_file_size: must not be negative"))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr: required when metrics are enabled"))
	}
	for i, e := range c.Seed {
		if _, err := e.toMemfs(); err != nil {
			errs = append(errs, fmt.Errorf("seed[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// GetRootMode returns the root directory mode, falling back to 0755.
func (c *FilesystemConfig) GetRootMode() types.Mode {
	m, err := ParseMode(c.RootMode)
	if err != nil || m == 0 {
		return memfs.DefaultRootMode
	}
	return m
}

// GetEntryTimeout returns the kernel entry cache timeout as a time.Duration.
func (c *MountConfig) GetEntryTimeout() time.Duration {
	d, err := time.ParseDuration(c.EntryTimeout)
	if err != nil {
		return time.Second
	}
	return d
}

// GetAttrTimeout returns the kernel attribute cache timeout as a time.Duration.
func (c *MountConfig) GetAttrTimeout() time.Duration {
	d, err := time.ParseDuration(c.AttrTimeout)
	if err != nil {
		return time.Second
	}
	return d
}

// SeedEntries converts the seed list for memfs.FileSystem.Seed.
func (c *Config) SeedEntries() ([]memfs.SeedEntry, error) {
	out := make([]memfs.SeedEntry, 0, len(c.Seed))
	for i, e := range c.Seed {
		se, err := e.toMemfs()
		if err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
		out = append(out, se)
	}
	return out, nil
}

func (e SeedEntry) toMemfs() (memfs.SeedEntry, error) {
	if !strings.HasPrefix(e.Path, "/") {
		return memfs.SeedEntry{}, fmt.Errorf("path %q must be absolute", e.Path)
	}

	mode, err := ParseMode(e.Mode)
	if err != nil {
		return memfs.SeedEntry{}, err
	}

	se := memfs.SeedEntry{
		Path:    e.Path,
		Mode:    mode,
		UID:     e.UID,
		GID:     e.GID,
		Content: []byte(e.Content),
	}
	switch e.Type {
	case SeedTypeDir:
		se.Kind = types.KindDirectory
		if e.Mode == "" {
			se.Mode = 0o755
		}
		if e.Content != "" {
			return memfs.SeedEntry{}, fmt.Errorf("directory %s cannot have content", e.Path)
		}
	case SeedTypeFile, "":
		se.Kind = types.KindRegular
		if e.Mode == "" {
			se.Mode = 0o644
		}
	default:
		return memfs.SeedEntry{}, fmt.Errorf("unknown type %q", e.Type)
	}
	return se, nil
}

// ParseMode parses an octal permission string such as "0755" or "750".
// An empty string parses as 0.
func ParseMode(s string) (types.Mode, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0o"), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", s, err)
	}
	if types.Mode(v)&^types.PermMask != 0 {
		return 0, fmt.Errorf("mode %q has bits outside 0777", s)
	}
	return types.Mode(v), nil
}
