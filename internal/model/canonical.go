package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MarshalRecordData serializes a record payload canonically: keys sorted,
// keys and values NFC normalized, no HTML escaping. Equal payloads always
// produce identical bytes, so stored snapshots compare byte for byte.
func MarshalRecordData(data map[string]string) (string, error) {
	normalized := make(map[string]string, len(data))
	for k, v := range data {
		nk := norm.NFC.String(k)
		if _, dup := normalized[nk]; dup {
			return "", fmt.Errorf("record data: keys collide after normalization: %q", k)
		}
		normalized[nk] = norm.NFC.String(v)
	}

	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(&buf, k); err != nil {
			return "", err
		}
		buf.WriteByte(':')
		if err := writeCanonicalString(&buf, normalized[k]); err != nil {
			return "", err
		}
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// UnmarshalRecordData is the inverse of MarshalRecordData. An empty input
// yields an empty map.
func UnmarshalRecordData(s string) (map[string]string, error) {
	data := map[string]string{}
	if strings.TrimSpace(s) == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, fmt.Errorf("record data: %w", err)
	}
	return data, nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("record data: %w", err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
