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

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-phygital/internal/server"
	"github.com/jeremyhahn/go-phygital/pkg/crypto/keccak"
)

func newServeCommand(c *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Boot the device and serve the RF bridge",
		Long: `Boot the device, then answer mailbox messages until interrupted. The RF
bridge and the diagnostics server start as configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load(cmd)
			if err != nil {
				return err
			}
			log := server.NewLogger(cfg.Logging, cmd.ErrOrStderr())

			srv, err := server.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := server.SetupSignalHandler()
			defer stop()
			return srv.Run(ctx)
		},
	}
}

func newAddressCommand(c *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the device address and public key",
		Long: `Boot the stored device images and print the identity they publish. On
a blank device this creates the key pair and configures the tag.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := c.openBooted(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()
			return c.printer(cmd).PrintIdentity(stack.Device.Identity())
		},
	}
}

func newRecordsCommand(c *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "records",
		Short: "Print the NDEF records stored on the tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := c.openBooted(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()

			records, err := stack.Device.Tag().ReadRecords()
			if err != nil {
				return err
			}
			return c.printer(cmd).PrintRecords(records)
		},
	}
}

func newSignCommand(c *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign with the stored key",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "hash <hex>",
		Short: "Sign a 32-byte hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := keccak.DecodeHex(args[0])
			if err != nil {
				return fmt.Errorf("invalid hash: %w", err)
			}

			stack, err := c.openBooted(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()

			w := stack.Device.Wallet()
			sig, err := w.SignHash(hash)
			if err != nil {
				return err
			}
			return c.printer(cmd).PrintSignature(Signature{
				Hash:      keccak.EncodeHex(hash),
				Signature: keccak.EncodeHex(sig),
				Address:   w.Address(),
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "text <text>",
		Short: "Hash text with Keccak-256 and sign the digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := c.openBooted(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()

			w := stack.Device.Wallet()
			hash, sig, err := w.SignText(args[0])
			if err != nil {
				return err
			}
			return c.printer(cmd).PrintSignature(Signature{
				Hash:      keccak.EncodeHex(hash[:]),
				Signature: keccak.EncodeHex(sig),
				Address:   w.Address(),
			})
		},
	})
	return cmd
}

// errProvisioned is returned when a key is already stored and --force was
// not given.
var errProvisioned = errors.New("device already holds a key (use --force to replace it)")

func newProvisionCommand(c *Config) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "provision <private-key-hex>",
		Short: "Store an existing private key in the device EEPROM",
		Long: `Import a 32-byte secp256k1 private key and write it to the EEPROM key
record. The next boot loads it instead of generating a new key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load(cmd)
			if err != nil {
				return err
			}
			stack, err := server.OpenStack(cfg, c.offlineLogger(cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()

			w := stack.Device.Wallet()
			stored, err := w.HasStoredKeys()
			if err != nil {
				return err
			}
			if stored && !force {
				return errProvisioned
			}

			if err := w.InitializeFromHexPrivateKey(args[0]); err != nil {
				return err
			}
			if err := w.SaveKeys(); err != nil {
				return err
			}
			return c.printer(cmd).PrintSuccess("Provisioned " + w.Address())
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace a stored key")
	return cmd
}

func newDumpCommand(c *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "dump [image]",
		Short: "List or hex-dump the persisted storage images",
		Long: `Without an argument, list the stored images. With one, print it as a hex
dump. The device is not booted, so a blank device stays blank.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := c.openStack(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()

			p := c.printer(cmd)
			if len(args) == 0 {
				names, err := stack.Images()
				if err != nil {
					return err
				}
				for _, name := range names {
					if err := p.PrintSuccess(name); err != nil {
						return err
					}
				}
				return nil
			}

			data, err := stack.Image(args[0])
			if err != nil {
				return fmt.Errorf("image %q: %w", args[0], err)
			}
			return p.PrintImage(args[0], data)
		},
	}
}
