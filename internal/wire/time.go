package wire

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// unix seconds above this are treated as milliseconds
const millisThreshold = 1e11

// Time parses a gateway timestamp: RFC 3339 strings, unix seconds or unix
// milliseconds (as numbers or numeric strings). ok is false when r carries
// no usable timestamp.
func Time(r gjson.Result) (time.Time, bool) {
	switch r.Type {
	case gjson.Number:
		return fromUnix(r.Float())
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if s == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnix(n)
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				if t.IsZero() || t.Year() <= 1 {
					return time.Time{}, false
				}
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func fromUnix(n float64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	if n > millisThreshold {
		return time.UnixMilli(int64(n)).UTC(), true
	}
	return time.Unix(int64(n), 0).UTC(), true
}
