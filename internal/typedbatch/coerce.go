package typedbatch

import (
	"math"
	"strconv"
	"strings"
	"time"

	"parquetconv/internal/jobmodel"
)

const epochDay = 24 * time.Hour

var dateLayouts = []string{"2006-01-02", "01/02/2006", "01-02-2006"}
var datetimeLayouts = []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"}
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

const (
	minDateYear = 1900
	maxDateYear = 2100
)

// coerceResult is the outcome of coercing one raw field against one
// logical type.
type coerceResult struct {
	// value holds the typed value on success (nil if the result is
	// null, whether because the field was empty or because coercion
	// failed under coerce-null policy).
	value any
	// valid is false for any typed null.
	valid bool
	// failed is true only when a non-empty value could not be coerced
	// (distinct from valid=false-due-to-empty-field, since a coercion
	// failure is what feeds the bad-row budget under strict policy).
	failed bool
}

// coerce applies the fixed coercion rules of the declared logical type
// set to one raw field, after leading/trailing whitespace trimming.
func coerce(t jobmodel.LogicalType, raw []byte, nullOnEmptyString bool) coerceResult {
	trimmed := strings.TrimSpace(string(raw))

	if trimmed == "" {
		if t == jobmodel.TypeString && !nullOnEmptyString {
			return coerceResult{value: "", valid: true}
		}
		return coerceResult{valid: false}
	}

	switch t {
	case jobmodel.TypeString:
		return coerceResult{value: trimmed, valid: true}

	case jobmodel.TypeInteger:
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return coerceResult{failed: true}
		}
		return coerceResult{value: n, valid: true}

	case jobmodel.TypeFloat:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return coerceResult{failed: true}
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return coerceResult{valid: false}
		}
		return coerceResult{value: f, valid: true}

	case jobmodel.TypeBoolean:
		b, ok := coerceBool(trimmed)
		if !ok {
			return coerceResult{failed: true}
		}
		return coerceResult{value: b, valid: true}

	case jobmodel.TypeDate:
		days, ok := coerceDate(trimmed)
		if !ok {
			return coerceResult{failed: true}
		}
		return coerceResult{value: days, valid: true}

	case jobmodel.TypeDatetime:
		millis, ok := coerceDatetime(trimmed)
		if !ok {
			return coerceResult{failed: true}
		}
		return coerceResult{value: millis, valid: true}

	case jobmodel.TypeTimestamp:
		millis, ok := coerceTimestamp(trimmed)
		if !ok {
			return coerceResult{failed: true}
		}
		return coerceResult{value: millis, valid: true}

	default:
		return coerceResult{failed: true}
	}
}

func coerceBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "y", "t":
		return true, true
	case "false", "0", "no", "n", "f":
		return false, true
	default:
		return false, false
	}
}

func coerceDate(v string) (int64, bool) {
	for _, layout := range dateLayouts {
		ts, err := time.Parse(layout, v)
		if err != nil {
			continue
		}
		if ts.Year() < minDateYear || ts.Year() > maxDateYear {
			return 0, false
		}
		days := ts.UTC().Truncate(24 * time.Hour).Unix() / int64(epochDay/time.Second)
		return days, true
	}
	return 0, false
}

func coerceDatetime(v string) (int64, bool) {
	for _, layout := range datetimeLayouts {
		ts, err := time.Parse(layout, v)
		if err != nil {
			continue
		}
		return ts.UTC().UnixMilli(), true
	}
	return 0, false
}

func coerceTimestamp(v string) (int64, bool) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, true
	}
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, v)
		if err != nil {
			continue
		}
		return ts.UTC().UnixMilli(), true
	}
	return 0, false
}
