// Package config handles loading and managing pstvault configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration decodes TOML duration strings like "15m" or "1h30m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// PathsConfig holds input and output locations.
type PathsConfig struct {
	TargetDir      string `toml:"target_dir"`      // directory scanned for archive files
	MboxDir        string `toml:"mbox_dir"`        // intermediate mbox files
	DBPath         string `toml:"db_path"`         // store directory, or file path in shared mode
	AttachmentsDir string `toml:"attachments_dir"` // attachments root; empty = next to the stores
}

// ConvertConfig holds conversion-run configuration.
type ConvertConfig struct {
	Converter      string   `toml:"converter"`       // external converter binary (default: readpst)
	ConverterArgs  []string `toml:"converter_args"`  // extra args before -o <dir> <file>
	ConvertTimeout Duration `toml:"convert_timeout"` // per-archive converter deadline
	MaxWorkers     int      `toml:"max_workers"`     // worker pool size; 0 = available CPUs
	KeepMbox       bool     `toml:"keep_mbox"`       // retain intermediate mbox files
	SharedDB       bool     `toml:"shared_db"`       // one shared store instead of one per archive
}

// WatchConfig holds watch-mode configuration.
type WatchConfig struct {
	Schedule string `toml:"schedule"` // cron expression (e.g., "0 2 * * *" for 2am daily)
}

// Config represents the pstvault configuration.
type Config struct {
	Paths   PathsConfig   `toml:"paths"`
	Convert ConvertConfig `toml:"convert"`
	Watch   WatchConfig   `toml:"watch"`

	// Computed at load time (not from config file)
	HomeDir    string `toml:"-"`
	configPath string
}

// DefaultHome returns the default pstvault home directory.
// Respects PSTVAULT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("PSTVAULT_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pstvault"
	}
	return filepath.Join(home, ".pstvault")
}

// Load reads the configuration from the specified file.
//
// With an empty path the default location (<home>/config.toml under
// DefaultHome) is used and may be absent. An explicitly given path must
// exist, and the directory containing it becomes HomeDir, so relative paths
// in the file resolve against the config file's location.
func Load(path string) (*Config, error) {
	var homeDir string
	explicit := path != ""
	if explicit {
		path = expandPath(path)
		homeDir = filepath.Dir(path)
	} else {
		homeDir = DefaultHome()
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir:    homeDir,
		configPath: path,
		// Defaults
		Paths: PathsConfig{
			MboxDir: filepath.Join(homeDir, "mbox"),
			DBPath:  filepath.Join(homeDir, "db"),
		},
		Convert: ConvertConfig{
			Converter:      "readpst",
			ConverterArgs:  []string{"-D", "-b"},
			ConvertTimeout: Duration(15 * time.Minute),
		},
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		// Config file is optional at the default location
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Expand ~ and resolve relative paths against the config location.
	cfg.Paths.TargetDir = resolvePath(homeDir, cfg.Paths.TargetDir)
	cfg.Paths.MboxDir = resolvePath(homeDir, cfg.Paths.MboxDir)
	cfg.Paths.DBPath = resolvePath(homeDir, cfg.Paths.DBPath)
	cfg.Paths.AttachmentsDir = resolvePath(homeDir, cfg.Paths.AttachmentsDir)
	// The converter is a PATH lookup when bare, so only ~ is expanded.
	cfg.Convert.Converter = expandPath(cfg.Convert.Converter)

	return cfg, nil
}

// ConfigFilePath returns the path Load read (or would have read) the
// configuration from.
func (c *Config) ConfigFilePath() string {
	return c.configPath
}

// DBDir returns the directory holding store files: db_path itself in
// per-archive mode, its parent in shared mode.
func (c *Config) DBDir() string {
	if c.Convert.SharedDB {
		return filepath.Dir(c.Paths.DBPath)
	}
	return c.Paths.DBPath
}

// AttachmentsDir returns the attachments root. Unless configured it sits
// next to the store files.
func (c *Config) AttachmentsDir() string {
	if c.Paths.AttachmentsDir != "" {
		return c.Paths.AttachmentsDir
	}
	return filepath.Join(c.DBDir(), "attachments")
}

// ConvertTimeout returns the per-archive converter deadline.
func (c *Config) ConvertTimeout() time.Duration {
	return time.Duration(c.Convert.ConvertTimeout)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// resolvePath expands ~ and anchors relative paths at base.
func resolvePath(base, path string) string {
	if path == "" {
		return path
	}
	path = expandPath(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
