// Package policy wraps every tool invocation with validation, retry,
// timeout, and audit logging. The audit trail is the durable trace of a
// tool-using turn; its request/response payloads are canonicalized so that
// logically identical calls produce byte-identical text.
package policy

import (
	"encoding/json"
	"fmt"
)

// Canonical returns the canonical key-sorted JSON encoding of a value.
// encoding/json serializes map keys in sorted order at every nesting level,
// which is exactly the stable form the audit trail needs; array order is
// preserved as-is.
func Canonical(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(v))
	}
	return string(raw)
}

// CanonicalText canonicalizes a textual tool response. Valid JSON is
// re-encoded key-sorted; anything else is encoded as a JSON string.
func CanonicalText(s string) string {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return Canonical(s)
	}
	return Canonical(v)
}

// CanonicalError is the synthetic tool-result body for a failed invocation.
func CanonicalError(msg string) string {
	return Canonical(map[string]any{"error": msg})
}
