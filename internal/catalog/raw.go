package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Raw is an upstream record as decoded JSON. Numbers are kept as json.Number so
// identifiers survive without float rounding.
type Raw map[string]any

// DecodeRaw decodes one upstream record.
func DecodeRaw(data []byte) (Raw, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw Raw
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return raw, nil
}

// String returns the first alias holding a non-blank scalar, rendered as text.
func (r Raw) String(aliases ...string) (string, bool) {
	for _, key := range aliases {
		if s, ok := scalarString(r[key]); ok {
			return s, true
		}
	}
	return "", false
}

// Float returns the first alias holding a parseable number.
func (r Raw) Float(aliases ...string) *float64 {
	for _, key := range aliases {
		if f, ok := scalarFloat(r[key]); ok {
			return &f
		}
	}
	return nil
}

// Images lists the attachment URLs under key, in order. Entries may be objects or bare strings.
func (r Raw) Images(key string) []string {
	items, ok := r[key].([]any)
	if !ok {
		return nil
	}
	var urls []string
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			if s, ok := Raw(v).String(attachmentURL...); ok {
				urls = append(urls, s)
			}
		default:
			if s, ok := scalarString(v); ok {
				urls = append(urls, s)
			}
		}
	}
	return urls
}

func scalarString(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case json.Number:
		return canonicalNumber(v), true
	case float64:
		return formatFloat(v), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	}
	return "", false
}

func scalarFloat(v any) (float64, bool) {
	var s string
	switch v := v.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
		// the last separator is the decimal one: "12,50", "1.234,56" and "1,234.56"
		if i, j := strings.LastIndex(s, ","), strings.LastIndex(s, "."); i > j {
			s = strings.ReplaceAll(s[:i], ".", "") + "." + s[i+1:]
		} else if i >= 0 {
			s = strings.ReplaceAll(s, ",", "")
		}
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// canonicalNumber renders integers as plain decimal digits, never in exponent form.
func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err != nil {
		return n.String()
	}
	return formatFloat(f)
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
