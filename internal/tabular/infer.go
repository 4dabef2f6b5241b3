package tabular

import (
	"strconv"
	"strings"
	"time"
)

// dateLayouts is the fixed set of date patterns the inferrer accepts.
// A column is only typed date when every non-empty value matches one of
// these exactly.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
}

// InferType determines the storage type for a materialized column.
// Precedence is integer > real > date > text; empty values do not vote,
// and a column with no non-empty values is text.
func InferType(values []string) ColumnType {
	allInt, allReal, allDate := true, true, true
	nonEmpty := 0

	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		nonEmpty++

		if allInt && !isInteger(v) {
			allInt = false
		}
		if allReal && !isReal(v) {
			allReal = false
		}
		if allDate {
			if _, ok := ParseDate(v); !ok {
				allDate = false
			}
		}
		if !allInt && !allReal && !allDate {
			return TypeText
		}
	}

	switch {
	case nonEmpty == 0:
		return TypeText
	case allInt:
		return TypeInteger
	case allReal:
		return TypeReal
	case allDate:
		return TypeDate
	default:
		return TypeText
	}
}

// ParseDate parses a value against the fixed date layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isInteger(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func isReal(s string) bool {
	// Reject hex/inf/NaN spellings ParseFloat would accept; CSV numerics
	// are plain decimal or scientific notation.
	if strings.ContainsAny(s, "xXpP") || strings.EqualFold(s, "nan") ||
		strings.EqualFold(strings.TrimLeft(s, "+-"), "inf") {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
