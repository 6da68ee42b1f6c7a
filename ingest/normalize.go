package ingest

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// NormalizePayload coerces any JSON value into an object. Objects pass
// through, JSON-object strings are parsed, and anything else is wrapped as
// {"value": v}. A null or absent payload becomes {}.
func NormalizePayload(v any) map[string]any {
	switch p := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return p
	case string:
		if m, ok := decodeObject([]byte(p)); ok {
			return m
		}
		return map[string]any{"value": p}
	default:
		if raw, err := json.Marshal(p); err == nil {
			if m, ok := decodeObject(raw); ok {
				return m
			}
		}
		return map[string]any{"value": p}
	}
}

func decodeObject(raw []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return m, true
}

// ParseTimestamp accepts epoch milliseconds (number or numeric string), an
// RFC 3339 string, or a [year, month, day, hour, minute, second, nanos?]
// array read as UTC. ok is false when v carries no usable instant.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case json.Number:
		if ms, err := t.Int64(); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		if f, err := t.Float64(); err == nil {
			return time.UnixMilli(int64(f)).UTC(), true
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	case int64:
		return time.UnixMilli(t).UTC(), true
	case string:
		s := strings.TrimSpace(t)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC(), true
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
	case []any:
		return parseDateArray(t)
	}
	return time.Time{}, false
}

func parseDateArray(parts []any) (time.Time, bool) {
	if len(parts) != 6 && len(parts) != 7 {
		return time.Time{}, false
	}
	n := make([]int, 7)
	for i, p := range parts {
		v, ok := asInt(p)
		if !ok {
			return time.Time{}, false
		}
		n[i] = v
	}
	if n[6] < 0 || n[6] > 999999999 {
		return time.Time{}, false
	}
	ts := time.Date(n[0], time.Month(n[1]), n[2], n[3], n[4], n[5], n[6], time.UTC)
	// time.Date normalizes out-of-range fields; such input is rejected.
	y, mo, d := ts.Date()
	h, mi, sec := ts.Clock()
	if y != n[0] || int(mo) != n[1] || d != n[2] || h != n[3] || mi != n[4] || sec != n[5] {
		return time.Time{}, false
	}
	return ts, true
}

// asInt reads an array element as an integer. Numbers are truncated toward
// zero; strings must hold a plain decimal integer.
func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i), true
		}
		f, err := x.Float64()
		if err != nil || math.IsInf(f, 0) {
			return 0, false
		}
		return int(math.Trunc(f)), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int(math.Trunc(x)), true
	case int:
		return x, true
	case int64:
		return int(x), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}
