// Package config loads this engine's configuration via viper/mapstructure,
// adapted from the reference agent's config package and trimmed to the
// fields this engine actually uses: role/transport, logging, and the edge/
// clipboard tunables exposed in internal/edge and internal/clipboard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Role selects which side of the connection a process runs as.
type Role string

const (
	RoleCapture    Role = "capture"
	RoleController Role = "controller"
)

// Config holds every externally tunable setting for both kvm-capture and
// kvm-controller; a given process only reads the fields relevant to its
// Role.
type Config struct {
	Role        string `mapstructure:"role"`
	Port        int    `mapstructure:"port"`
	PeerAddress string `mapstructure:"peer_address"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	EdgeInsetPixels   float64 `mapstructure:"edge_inset_pixels"`
	EdgeCooldownMS    int     `mapstructure:"edge_cooldown_ms"`
	ClipboardPollMS   int     `mapstructure:"clipboard_poll_ms"`
	ClipboardMaxBytes int     `mapstructure:"clipboard_max_bytes"`
}

// Default returns the built-in defaults, matching internal/edge's
// DefaultConfig and internal/clipboard's DefaultPollInterval/DefaultMaxBytes.
func Default() *Config {
	return &Config{
		Port:              50505,
		LogLevel:          "info",
		LogFormat:         "text",
		LogMaxSizeMB:      50,
		LogMaxBackups:     3,
		EdgeInsetPixels:   1,
		EdgeCooldownMS:    500,
		ClipboardPollMS:   200,
		ClipboardMaxBytes: 1 << 20,
	}
}

// Load reads configuration from cfgFile (if non-empty), or "kvm.yaml" on
// the search path, then environment variables prefixed KVM_, into a
// Config seeded with Default's values. Load does not set or validate
// Role: both kvm-capture and kvm-controller read a shared kvm.yaml and
// set Role themselves based on which binary is running, then call
// Validate once Role is in place.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("kvm")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("KVM")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that cannot produce a working session.
func (c *Config) Validate() error {
	switch Role(c.Role) {
	case RoleCapture, RoleController:
	case "":
		return fmt.Errorf("config: role is required (capture or controller)")
	default:
		return fmt.Errorf("config: unknown role %q", c.Role)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if Role(c.Role) == RoleController && c.PeerAddress == "" {
		return fmt.Errorf("config: controller requires peer_address")
	}
	return nil
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "kvm")
	case "darwin":
		return "/Library/Application Support/kvm"
	default:
		return "/etc/kvm"
	}
}
