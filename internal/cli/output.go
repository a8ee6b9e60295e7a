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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-phygital/pkg/device"
	"github.com/jeremyhahn/go-phygital/pkg/ndef"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintIdentity prints the published identity of a device
func (p *Printer) PrintIdentity(id device.Identity) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(id)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Address:    %s\n", id.Address)
		fmt.Fprintf(p.writer, "Public key: %s\n", id.PublicKey)
		fmt.Fprintf(p.writer, "Identifier: %s\n", id.Identifier)
		if id.Linked != "" {
			fmt.Fprintf(p.writer, "Linked:     %s\n", id.Linked)
		}
		fmt.Fprintf(p.writer, "State:      %s\n", id.State)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// Signature is a signed hash as printed by the sign commands
type Signature struct {
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
	Address   string `json:"address,omitempty"`
}

// PrintSignature prints a signature and the hash it covers
func (p *Printer) PrintSignature(sig Signature) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(sig)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Hash:      %s\n", sig.Hash)
		fmt.Fprintf(p.writer, "Signature: %s\n", sig.Signature)
		if sig.Address != "" {
			fmt.Fprintf(p.writer, "Signer:    %s\n", sig.Address)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

type recordView struct {
	TNF      byte   `json:"tnf"`
	Type     string `json:"type"`
	URI      string `json:"uri,omitempty"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	Payload  string `json:"payload"`
}

func viewRecord(r ndef.Record) recordView {
	v := recordView{TNF: r.TNF, Type: string(r.Type), Payload: fmt.Sprintf("%X", r.Payload)}
	switch {
	case r.IsURI():
		v.URI, _ = r.URI()
	case r.IsText():
		v.Text, _ = r.Text()
		v.Language, _ = r.Language()
	}
	return v
}

// PrintRecords prints decoded NDEF records
func (p *Printer) PrintRecords(records []ndef.Record) error {
	switch p.format {
	case OutputFormatJSON:
		views := make([]recordView, len(records))
		for i, r := range records {
			views[i] = viewRecord(r)
		}
		return p.printJSON(map[string]interface{}{
			"records": views,
		})
	case OutputFormatText:
		if len(records) == 0 {
			fmt.Fprintln(p.writer, "No records")
			return nil
		}
		for i, r := range records {
			v := viewRecord(r)
			switch {
			case v.URI != "":
				fmt.Fprintf(p.writer, "%d: URI  %s\n", i, v.URI)
			case r.IsText():
				fmt.Fprintf(p.writer, "%d: Text %s (%s)\n", i, v.Text, v.Language)
			default:
				fmt.Fprintf(p.writer, "%d: %s\n", i, r)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintImage prints a raw storage image as a hex dump.
func (p *Printer) PrintImage(name string, data []byte) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"name": name,
			"size": len(data),
			"data": hex.EncodeToString(data),
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "%s (%d bytes)\n", name, len(data))
		fmt.Fprint(p.writer, hex.Dump(data))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
