// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-phygital.
//
// go-phygital is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the device configuration from YAML with
// PHYGITAL_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-phygital/pkg/adapters/logger"
	"github.com/jeremyhahn/go-phygital/pkg/crypto/entropy"
	"github.com/jeremyhahn/go-phygital/pkg/eeprom"
	"github.com/jeremyhahn/go-phygital/pkg/ndef"
	"github.com/jeremyhahn/go-phygital/pkg/tag"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PHYGITAL_"

// Storage backends.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid configuration")

// Config represents the complete device configuration
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Storage     StorageConfig     `yaml:"storage"`
	Entropy     EntropyConfig     `yaml:"entropy"`
	Logging     LoggingConfig     `yaml:"logging"`
	Reader      ReaderConfig      `yaml:"reader"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// DeviceConfig controls the advertised identity and the poll loop
type DeviceConfig struct {
	Identifier           string        `yaml:"identifier"`
	URIPrefix            string        `yaml:"uri_prefix"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	MaxCommandsPerSecond int           `yaml:"max_commands_per_second"`
}

// StorageConfig controls where the EEPROM and tag images live
type StorageConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	EEPROMSize    int    `yaml:"eeprom_size"`
	TagMemorySize int    `yaml:"tag_memory_size"`
}

// EntropyConfig selects the key generation entropy source
type EntropyConfig struct {
	Mode         string `yaml:"mode"`
	Fallback     string `yaml:"fallback"`
	DevicePath   string `yaml:"device_path"`
	TPM2Device   string `yaml:"tpm2_device"`
	PKCS11Module string `yaml:"pkcs11_module"`
	PKCS11Slot   uint   `yaml:"pkcs11_slot"`
	PKCS11PIN    string `yaml:"pkcs11_pin"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ReaderConfig controls the RF bridge socket
type ReaderConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Socket         string `yaml:"socket"`
	RequestsPerMin int    `yaml:"requests_per_min"`
}

// DiagnosticsConfig controls the HTTP diagnostics server
type DiagnosticsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Address     string `yaml:"address"`
	MetricsPath string `yaml:"metrics_path"`
	Metrics     bool   `yaml:"metrics"`

	// RequestsPerMin throttles diagnostics clients. Zero disables it.
	RequestsPerMin int `yaml:"requests_per_min"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Identifier:           "phygital.tuszy.com",
			URIPrefix:            "https://www.",
			PollInterval:         50 * time.Millisecond,
			MaxCommandsPerSecond: 20,
		},
		Storage: StorageConfig{
			Backend:       StorageFile,
			Path:          "/var/lib/phygital",
			EEPROMSize:    eeprom.DefaultSize,
			TagMemorySize: tag.DefaultMemorySize,
		},
		Entropy: EntropyConfig{
			Mode:       string(entropy.ModeAuto),
			Fallback:   string(entropy.ModeSoftware),
			DevicePath: entropy.DefaultDevicePath,
			TPM2Device: "/dev/tpmrm0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Reader: ReaderConfig{
			Enabled:        true,
			Socket:         "/run/phygital/reader.sock",
			RequestsPerMin: 600,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:     true,
			Address:     "127.0.0.1:9464",
			MetricsPath: "/metrics",
			Metrics:     true,
		},
	}
}

// Load reads the YAML file at path over Default, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - config path is provided by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

// applyEnvOverrides applies PHYGITAL_* variables. Malformed numeric or
// boolean values are errors rather than silently ignored.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q: %v", ErrInvalid, EnvPrefix, name, v, err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q: %v", ErrInvalid, EnvPrefix, name, v, err)
		}
		*dst = b
		return nil
	}

	str("IDENTIFIER", &cfg.Device.Identifier)
	str("URI_PREFIX", &cfg.Device.URIPrefix)
	if v, ok := lookup(EnvPrefix + "POLL_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sPOLL_INTERVAL=%q: %v", ErrInvalid, EnvPrefix, v, err)
		}
		cfg.Device.PollInterval = d
	}

	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("DATA_DIR", &cfg.Storage.Path)

	str("ENTROPY_MODE", &cfg.Entropy.Mode)
	str("ENTROPY_FALLBACK", &cfg.Entropy.Fallback)
	str("TPM2_DEVICE", &cfg.Entropy.TPM2Device)
	str("PKCS11_MODULE", &cfg.Entropy.PKCS11Module)
	str("PKCS11_PIN", &cfg.Entropy.PKCS11PIN)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	str("READER_SOCKET", &cfg.Reader.Socket)
	str("DIAGNOSTICS_ADDRESS", &cfg.Diagnostics.Address)

	for _, n := range []struct {
		name string
		dst  *int
	}{
		{"MAX_COMMANDS_PER_SECOND", &cfg.Device.MaxCommandsPerSecond},
		{"EEPROM_SIZE", &cfg.Storage.EEPROMSize},
		{"TAG_MEMORY_SIZE", &cfg.Storage.TagMemorySize},
		{"READER_REQUESTS_PER_MIN", &cfg.Reader.RequestsPerMin},
		{"DIAGNOSTICS_REQUESTS_PER_MIN", &cfg.Diagnostics.RequestsPerMin},
	} {
		if err := num(n.name, n.dst); err != nil {
			return err
		}
	}
	for _, b := range []struct {
		name string
		dst  *bool
	}{
		{"READER_ENABLED", &cfg.Reader.Enabled},
		{"DIAGNOSTICS_ENABLED", &cfg.Diagnostics.Enabled},
		{"METRICS_ENABLED", &cfg.Diagnostics.Metrics},
	} {
		if err := flag(b.name, b.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Device.Identifier == "" {
		return fmt.Errorf("%w: device identifier must be specified", ErrInvalid)
	}
	if _, err := c.URIPrefixCode(); err != nil {
		return err
	}
	if c.Device.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalid)
	}
	if c.Device.MaxCommandsPerSecond < 0 {
		return fmt.Errorf("%w: max_commands_per_second must not be negative", ErrInvalid)
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage path must be specified for the file backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: storage backend %q (must be memory or file)", ErrInvalid, c.Storage.Backend)
	}
	if c.Storage.EEPROMSize < eeprom.RecordLength {
		return fmt.Errorf("%w: eeprom_size %d is smaller than the %d byte key record",
			ErrInvalid, c.Storage.EEPROMSize, eeprom.RecordLength)
	}
	if c.Storage.TagMemorySize < tag.MinMemorySize {
		return fmt.Errorf("%w: tag_memory_size %d is below %d", ErrInvalid, c.Storage.TagMemorySize, tag.MinMemorySize)
	}

	modes := map[string]bool{
		string(entropy.ModeAuto): true, string(entropy.ModeSoftware): true, string(entropy.ModeDevice): true,
		string(entropy.ModeTPM2): true, string(entropy.ModePKCS11): true,
	}
	if !modes[c.Entropy.Mode] {
		return fmt.Errorf("%w: entropy mode %q", ErrInvalid, c.Entropy.Mode)
	}
	if c.Entropy.Fallback != "" && !modes[c.Entropy.Fallback] {
		return fmt.Errorf("%w: entropy fallback %q", ErrInvalid, c.Entropy.Fallback)
	}
	if c.Entropy.Mode == string(entropy.ModePKCS11) && c.Entropy.PKCS11Module == "" {
		return fmt.Errorf("%w: pkcs11_module is required for the pkcs11 entropy mode", ErrInvalid)
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log format %q (must be json or text)", ErrInvalid, c.Logging.Format)
	}

	if c.Reader.Enabled {
		if c.Reader.Socket == "" {
			return fmt.Errorf("%w: reader socket must be specified when the reader is enabled", ErrInvalid)
		}
		if c.Reader.RequestsPerMin < 0 {
			return fmt.Errorf("%w: reader requests_per_min must not be negative", ErrInvalid)
		}
	}

	if c.Diagnostics.Enabled {
		if c.Diagnostics.Address == "" {
			return fmt.Errorf("%w: diagnostics address must be specified", ErrInvalid)
		}
		if c.Diagnostics.RequestsPerMin < 0 {
			return fmt.Errorf("%w: diagnostics requests_per_min must not be negative", ErrInvalid)
		}
		if !strings.HasPrefix(c.Diagnostics.MetricsPath, "/") {
			return fmt.Errorf("%w: metrics_path must start with /", ErrInvalid)
		}
	}
	return nil
}

// URIPrefixCode maps Device.URIPrefix to its NDEF URI identifier code.
func (c *Config) URIPrefixCode() (byte, error) {
	code, ok := ndef.ParseURIPrefix(c.Device.URIPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: unsupported uri_prefix %q", ErrInvalid, c.Device.URIPrefix)
	}
	return code, nil
}

// EntropyOptions converts the entropy section for entropy.New.
func (c *Config) EntropyOptions() *entropy.Config {
	opts := &entropy.Config{
		Mode:         entropy.Mode(c.Entropy.Mode),
		FallbackMode: entropy.Mode(c.Entropy.Fallback),
		DevicePath:   c.Entropy.DevicePath,
		TPM2:         &entropy.TPM2Config{Device: c.Entropy.TPM2Device},
	}
	if c.Entropy.PKCS11Module != "" {
		opts.PKCS11 = &entropy.PKCS11Config{
			Module: c.Entropy.PKCS11Module,
			SlotID: c.Entropy.PKCS11Slot,
			PIN:    c.Entropy.PKCS11PIN,
		}
	}
	return opts
}

// LogLevel returns the parsed logging level.
func (c *Config) LogLevel() logger.Level {
	level, _ := logger.ParseLevel(c.Logging.Level)
	return level
}
