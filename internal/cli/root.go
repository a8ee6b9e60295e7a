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

// Package cli implements the phygital command line: the device daemon,
// offline key and tag inspection, provisioning, and a reader client that
// taps a running device through its RF bridge.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-phygital/internal/config"
	"github.com/jeremyhahn/go-phygital/internal/server"
	"github.com/jeremyhahn/go-phygital/pkg/adapters/logger"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// OutputFormat controls output formatting (json, text)
	OutputFormat string

	// Verbose enables debug logging for offline commands
	Verbose bool

	v *viper.Viper
}

// flagKeys maps persistent flags onto configuration keys. Flags win over
// PHYGITAL_* variables, which win over the file.
var flagKeys = map[string]string{
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"storage":    "storage.backend",
	"data-dir":   "storage.path",
	"socket":     "reader.socket",
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	c := &Config{v: viper.New()}

	root := &cobra.Command{
		Use:   "phygital",
		Short: "Phygital NFC signing device",
		Long: `phygital runs a contactless signing device: a secp256k1 key held in
emulated EEPROM, an NFC tag advertising the device's address, and a
mailbox protocol answering sign and bind requests from a reader.

Use "serve" to run the device, "tap" to act as a reader against a running
device, and "address", "sign", "records" or "provision" to work on the
stored images directly while the device is stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.ConfigFile, "config", "", "config file (default: built-in defaults, or $PHYGITAL_CONFIG)")
	flags.StringVarP(&c.OutputFormat, "output", "o", "text", "output format (text, json)")
	flags.BoolVarP(&c.Verbose, "verbose", "v", false, "verbose output")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("storage", "", "storage backend (memory, file)")
	flags.String("data-dir", "", "directory holding the EEPROM and tag images")
	flags.String("socket", "", "RF bridge socket path")

	c.v.SetEnvPrefix("PHYGITAL")
	_ = c.v.BindEnv("config")
	_ = c.v.BindPFlag("config", flags.Lookup("config"))
	for name, key := range flagKeys {
		_ = c.v.BindPFlag(key, flags.Lookup(name))
	}

	root.AddCommand(
		newServeCommand(c),
		newAddressCommand(c),
		newRecordsCommand(c),
		newSignCommand(c),
		newProvisionCommand(c),
		newDumpCommand(c),
		newTapCommand(c),
		newVersionCommand(c),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// load reads the configuration file named by --config or PHYGITAL_CONFIG
// and applies flag overrides.
func (c *Config) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(c.v.GetString("config"))
	if err != nil {
		return nil, err
	}

	flags := cmd.Root().PersistentFlags()
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f == nil || !f.Changed {
			continue
		}
		value := c.v.GetString(key)
		switch key {
		case "logging.level":
			cfg.Logging.Level = value
		case "logging.format":
			cfg.Logging.Format = value
		case "storage.backend":
			cfg.Storage.Backend = value
		case "storage.path":
			cfg.Storage.Path = value
		case "reader.socket":
			cfg.Reader.Socket = value
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// offlineLogger logs to stderr only in verbose mode.
func (c *Config) offlineLogger(cfg *config.Config, w io.Writer) logger.Logger {
	if !c.Verbose {
		return logger.NewNoOp()
	}
	logging := cfg.Logging
	logging.Level = "debug"
	return server.NewLogger(logging, w)
}

// openStack opens the configured stack without booting it.
func (c *Config) openStack(cmd *cobra.Command) (*server.Stack, error) {
	cfg, err := c.load(cmd)
	if err != nil {
		return nil, err
	}
	return server.OpenStack(cfg, c.offlineLogger(cfg, cmd.ErrOrStderr()))
}

// openBooted opens the configured stack and boots the device.
func (c *Config) openBooted(cmd *cobra.Command) (*server.Stack, error) {
	stack, err := c.openStack(cmd)
	if err != nil {
		return nil, err
	}
	if err := stack.Device.Boot(cmd.Context()); err != nil {
		_ = stack.Close()
		return nil, fmt.Errorf("boot failed: %w", err)
	}
	return stack, nil
}

func (c *Config) printer(cmd *cobra.Command) *Printer {
	return NewPrinter(c.OutputFormat, cmd.OutOrStdout())
}
