// Package utils provides common utility functions.
package utils

import (
	"bytes"
	"encoding/json"
)

// MaskKey masks a credential for safe logging (first 8 and last 4 chars).
// Use this to avoid logging sensitive values in plain text.
func MaskKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	if len(key) < 16 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// MarshalNoEscape marshals JSON without HTML escaping.
// This avoids inflating payloads by converting characters like '<' into
// \u003c, and keeps thinking-tag stripping working on the literal bytes.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder adds a trailing newline; remove it for parity with json.Marshal.
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
