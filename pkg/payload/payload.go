// Package payload provides typed accessors over the untyped JSON payloads
// carried on stream records, plus the field unquoting rule applied to values
// read back from the stream store.
package payload

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Unquote strips JSON-string quoting from a stream field value. A value that
// starts and ends with a double quote and, after stripping, does not start
// with '{' or '[' has its escape sequences decoded. Anything else is
// returned unchanged.
func Unquote(s string) string {
	if len(s) < 2 || !strings.HasPrefix(s, `"`) || !strings.HasSuffix(s, `"`) {
		return s
	}
	inner := s[1 : len(s)-1]
	if strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
		return s
	}

	var b strings.Builder
	b.Grow(len(inner))
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			switch inner[i+1] {
			case '"':
				b.WriteByte('"')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte(inner[i])
				b.WriteByte(inner[i+1])
			}
			i++
			continue
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}

// GetString returns the string at path, or "" when the path is missing
func GetString(json, path string) string {
	return gjson.Get(json, path).String()
}

// GetLong returns the int64 at path, or nil when missing
func GetLong(json, path string) *int64 {
	r := gjson.Get(json, path)
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	v := r.Int()
	return &v
}

// GetInteger returns the int at path, or nil when missing
func GetInteger(json, path string) *int {
	r := gjson.Get(json, path)
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	v := int(r.Int())
	return &v
}

// GetBoolean returns the bool at path, or nil when missing
func GetBoolean(json, path string) *bool {
	r := gjson.Get(json, path)
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	v := r.Bool()
	return &v
}

// GetFloat returns the float64 at path, or nil when missing
func GetFloat(json, path string) *float64 {
	r := gjson.Get(json, path)
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	v := r.Float()
	return &v
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp, returning nil on failure
func ParseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// ParseDecimal parses an arbitrary-precision decimal, returning nil on failure
func ParseDecimal(s string) *decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

// ParseResendFlag reports whether the record metadata requests re-ingestion.
// The metadata is a JSON object whose resend key may be a bool or the string
// "true".
func ParseResendFlag(metadataJSON string) bool {
	if strings.TrimSpace(metadataJSON) == "" {
		return false
	}
	r := gjson.Get(metadataJSON, "resend")
	if !r.Exists() {
		return false
	}
	if r.Type == gjson.True {
		return true
	}
	return strings.EqualFold(r.String(), "true")
}
