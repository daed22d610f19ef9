// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"bytes"
	"fmt"
)

// Format is an encoding of a [Prototype].
type Format int

// Supported encodings.
const (
	FormatJSON Format = 1 + iota
	FormatBinary
	FormatCBOR
)

// String returns the conventional name of the format.
func (format Format) String() string {
	switch format {
	case FormatJSON:
		return "json"
	case FormatBinary:
		return "luac"
	case FormatCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("Format(%d)", int(format))
	}
}

// DetectFormat guesses the encoding of data from its first bytes.
// It returns 0 if the data does not look like any supported encoding.
func DetectFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte(Signature)):
		return FormatBinary
	case bytes.HasPrefix(data, []byte(CBORSignature)):
		return FormatCBOR
	}
	if trimmed := trimJSONPrefix(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return 0
}

// trimJSONPrefix removes a UTF-8 byte order mark and leading whitespace.
func trimJSONPrefix(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return bytes.TrimLeft(data, " \t\r\n")
}

// Decode decodes a function in any of the supported encodings
// and validates it with [*Prototype.Validate].
// name is used in error messages.
func Decode(name string, data []byte) (*Prototype, error) {
	f := new(Prototype)
	var err error
	switch DetectFormat(data) {
	case FormatBinary:
		err = f.UnmarshalBinary(data)
	case FormatCBOR:
		err = f.UnmarshalCBOR(data)
	case FormatJSON:
		err = f.UnmarshalJSON(trimJSONPrefix(data))
	default:
		return nil, fmt.Errorf("decode %s: unknown bytecode format", name)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %v", name, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("decode %s: %v", name, err)
	}
	return f, nil
}

// Encode encodes the function in the given format.
func (f *Prototype) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return f.MarshalJSON()
	case FormatBinary:
		return f.MarshalBinary()
	case FormatCBOR:
		return f.MarshalCBOR()
	default:
		return nil, fmt.Errorf("encode function: unsupported format %v", format)
	}
}
