package pms

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redactToMap(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	out := RedactJSON([]byte(raw))
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &m))
	return m
}

func TestRedactJSONTopLevelFields(t *testing.T) {
	m := redactToMap(t, `{
		"guestName": "Ada Lovelace",
		"guestEmail": "ada@example.com",
		"phoneNumber": "+44 20 7946 0000",
		"guests": 2,
		"checkIn": "2026-09-01"
	}`)

	assert.Equal(t, RedactedValue, m["guestName"])
	assert.Equal(t, RedactedValue, m["guestEmail"])
	assert.Equal(t, RedactedValue, m["phoneNumber"])
	assert.Equal(t, float64(2), m["guests"])
	assert.Equal(t, "2026-09-01", m["checkIn"])
}

func TestRedactJSONNestedAndArrays(t *testing.T) {
	m := redactToMap(t, `{
		"booking": {
			"guest": {"email": "ada@example.com", "loyaltyTier": "gold"},
			"occupants": [
				{"passportNumber": "X123", "age": 34},
				{"passportNumber": "Y456", "age": 31}
			]
		}
	}`)

	booking := m["booking"].(map[string]interface{})
	guest := booking["guest"].(map[string]interface{})
	assert.Equal(t, RedactedValue, guest["email"])
	assert.Equal(t, "gold", guest["loyaltyTier"])

	occupants := booking["occupants"].([]interface{})
	for _, o := range occupants {
		occ := o.(map[string]interface{})
		assert.Equal(t, RedactedValue, occ["passportNumber"])
		assert.NotEqual(t, RedactedValue, occ["age"])
	}
}

func TestRedactJSONCaseInsensitiveMarkers(t *testing.T) {
	m := redactToMap(t, `{"GuestEMAIL": "x", "CardNumber": "y", "accessTOKEN": "z"}`)
	assert.Equal(t, RedactedValue, m["GuestEMAIL"])
	assert.Equal(t, RedactedValue, m["CardNumber"])
	assert.Equal(t, RedactedValue, m["accessTOKEN"])
}

func TestRedactJSONDepthLimit(t *testing.T) {
	// Build an object nested beyond the traversal bound with a PII leaf.
	inner := `{"email":"deep@example.com"}`
	for i := 0; i < maxRedactDepth; i++ {
		inner = `{"nested":` + inner + `}`
	}

	out := RedactJSON([]byte(inner))
	assert.Contains(t, string(out), DepthLimitValue)
	assert.NotContains(t, string(out), "deep@example.com")
}

func TestRedactJSONWithinDepthLimit(t *testing.T) {
	inner := `{"email":"shallow@example.com"}`
	for i := 0; i < 3; i++ {
		inner = `{"nested":` + inner + `}`
	}

	out := RedactJSON([]byte(inner))
	assert.Contains(t, string(out), RedactedValue)
	assert.NotContains(t, string(out), "shallow@example.com")
	assert.NotContains(t, string(out), DepthLimitValue)
}

func TestRedactJSONInvalidInput(t *testing.T) {
	out := RedactJSON([]byte(`{"broken":`))
	assert.Equal(t, `"[unredactable]"`, string(out))
}

func TestRedactJSONEmptyInput(t *testing.T) {
	assert.Nil(t, RedactJSON(nil))
	assert.Nil(t, RedactJSON([]byte{}))
}
