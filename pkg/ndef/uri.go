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

package ndef

// URI identifier codes (NFC Forum URI RTD).
const (
	URIPrefixNone      byte = 0x00
	URIPrefixHTTPWWW   byte = 0x01
	URIPrefixHTTPSWWW  byte = 0x02
	URIPrefixHTTP      byte = 0x03
	URIPrefixHTTPS     byte = 0x04
	URIPrefixTel       byte = 0x05
	URIPrefixMailto    byte = 0x06
	URIPrefixFTPAnon   byte = 0x07
	URIPrefixFTPFTP    byte = 0x08
	URIPrefixFTPS      byte = 0x09
	URIPrefixSFTP      byte = 0x0A
	URIPrefixSMB       byte = 0x0B
	URIPrefixNFS       byte = 0x0C
	URIPrefixFTP       byte = 0x0D
	URIPrefixDAV       byte = 0x0E
	URIPrefixNews      byte = 0x0F
	URIPrefixTelnet    byte = 0x10
	URIPrefixIMAP      byte = 0x11
	URIPrefixRTSP      byte = 0x12
	URIPrefixURN       byte = 0x13
	URIPrefixPOP       byte = 0x14
	URIPrefixSIP       byte = 0x15
	URIPrefixSIPS      byte = 0x16
	URIPrefixTFTP      byte = 0x17
	URIPrefixBTSPP     byte = 0x18
	URIPrefixBTL2CAP   byte = 0x19
	URIPrefixBTGOEP    byte = 0x1A
	URIPrefixTCPOBEX   byte = 0x1B
	URIPrefixIRDAOBEX  byte = 0x1C
	URIPrefixFile      byte = 0x1D
	URIPrefixURNEPCID  byte = 0x1E
	URIPrefixURNEPCTAG byte = 0x1F
	URIPrefixURNEPCPAT byte = 0x20
	URIPrefixURNEPCRAW byte = 0x21
	URIPrefixURNEPC    byte = 0x22
	URIPrefixURNNFC    byte = 0x23
)

var uriPrefixes = [...]string{
	"",
	"http://www.",
	"https://www.",
	"http://",
	"https://",
	"tel:",
	"mailto:",
	"ftp://anonymous:anonymous@",
	"ftp://ftp.",
	"ftps://",
	"sftp://",
	"smb://",
	"nfs://",
	"ftp://",
	"dav://",
	"news:",
	"telnet://",
	"imap:",
	"rtsp://",
	"urn:",
	"pop:",
	"sip:",
	"sips:",
	"tftp:",
	"btspp://",
	"btl2cap://",
	"btgoep://",
	"tcpobex://",
	"irdaobex://",
	"file://",
	"urn:epc:id:",
	"urn:epc:tag:",
	"urn:epc:pat:",
	"urn:epc:raw:",
	"urn:epc:",
	"urn:nfc:",
}

// URIPrefix returns the string abbreviated by code.
func URIPrefix(code byte) (string, bool) {
	if int(code) >= len(uriPrefixes) {
		return "", false
	}
	return uriPrefixes[code], true
}

// ParseURIPrefix maps a prefix string, as written in configuration, back
// to its code.
func ParseURIPrefix(prefix string) (byte, bool) {
	for i, p := range uriPrefixes {
		if p == prefix {
			return byte(i), true
		}
	}
	return 0, false
}
