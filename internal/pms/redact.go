package pms

import (
	"encoding/json"
	"strings"
)

// Redaction markers written into audit entries.
const (
	RedactedValue   = "[REDACTED]"
	DepthLimitValue = "[MAX_DEPTH]"
)

// maxRedactDepth bounds traversal of nested payloads. Containers nested
// deeper than this are replaced with the depth-limit sentinel instead of
// being walked, which caps the cost on pathological input.
const maxRedactDepth = 10

// piiFieldMarkers is the declarative field classification: any object key
// containing one of these substrings (case-insensitive) is treated as PII.
var piiFieldMarkers = []string{
	"name",
	"email",
	"phone",
	"address",
	"passport",
	"ssn",
	"birth",
	"password",
	"token",
	"secret",
	"card",
	"iban",
}

func isPIIField(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range piiFieldMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// RedactJSON returns a copy of raw with every PII-named field replaced by
// the redaction marker. Invalid JSON is replaced wholesale rather than
// stored unredacted.
func RedactJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return json.RawMessage(`"[unredactable]"`)
	}

	redacted := redactValue(value, 1)
	out, err := json.Marshal(redacted)
	if err != nil {
		return json.RawMessage(`"[unredactable]"`)
	}
	return out
}

func redactValue(value interface{}, depth int) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		if depth > maxRedactDepth {
			return DepthLimitValue
		}
		out := make(map[string]interface{}, len(v))
		for key, child := range v {
			if isPIIField(key) {
				out[key] = RedactedValue
				continue
			}
			out[key] = redactValue(child, depth+1)
		}
		return out
	case []interface{}:
		if depth > maxRedactDepth {
			return DepthLimitValue
		}
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = redactValue(child, depth+1)
		}
		return out
	default:
		return v
	}
}
