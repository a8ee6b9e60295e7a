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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-phygital/internal/reader"
	"github.com/jeremyhahn/go-phygital/pkg/crypto/keccak"
)

func newTapCommand(c *Config) *cobra.Command {
	var readerID string

	cmd := &cobra.Command{
		Use:   "tap",
		Short: "Act as an NFC reader against a running device",
		Long: `Send mailbox messages to a running device through its RF bridge socket,
or read the NDEF message its tag advertises.`,
	}
	cmd.PersistentFlags().StringVar(&readerID, "reader-id", "", "reader identity used for rate limiting")

	client := func(cmd *cobra.Command) (*reader.Client, error) {
		cfg, err := c.load(cmd)
		if err != nil {
			return nil, err
		}
		return reader.NewClient(cfg.Reader.Socket, readerID), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sign <hash-hex>",
		Short: "Ask the device to sign a 32-byte hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := keccak.DecodeHex(args[0])
			if err != nil {
				return fmt.Errorf("invalid hash: %w", err)
			}
			rc, err := client(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rc.Close() }()

			sig, err := rc.Sign(cmd.Context(), hash)
			if err != nil {
				return err
			}
			return c.printer(cmd).PrintSignature(Signature{
				Hash:      keccak.EncodeHex(hash),
				Signature: keccak.EncodeHex(sig),
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "bind <contract-address>",
		Short: "Link a contract address to the device advertisement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := client(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rc.Close() }()

			if err := rc.Bind(cmd.Context(), args[0]); err != nil {
				return err
			}
			return c.printer(cmd).PrintSuccess("Linked " + args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "read",
		Short: "Read the NDEF records the device advertises",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := client(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rc.Close() }()

			records, err := rc.Records(cmd.Context())
			if err != nil {
				return err
			}
			return c.printer(cmd).PrintRecords(records)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "raw <message-hex>",
		Short: "Send a raw mailbox message and print the raw reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := keccak.DecodeHex(args[0])
			if err != nil {
				return fmt.Errorf("invalid message: %w", err)
			}
			rc, err := client(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rc.Close() }()

			reply, err := rc.Exchange(cmd.Context(), msg)
			if err != nil {
				return err
			}
			return c.printer(cmd).PrintSuccess(keccak.EncodeHex(reply))
		},
	})
	return cmd
}
