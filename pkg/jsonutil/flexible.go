package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling cases where
// models return numbers or booleans instead of strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if isAbsent(raw) {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return fmt.Sprintf("%d", int64(numVal))
		}
		return fmt.Sprintf("%g", numVal)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	return string(raw)
}

// FlexibleFloat reads a number that may arrive as a JSON number, a numeric
// string ("0.85") or a percentage string ("85%", read as 0.85).
// ok is false for null/absent values and for anything unparseable.
func FlexibleFloat(raw json.RawMessage) (value float64, ok bool) {
	if isAbsent(raw) {
		return 0, false
	}

	if err := json.Unmarshal(raw, &value); err == nil {
		return value, true
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err != nil {
		return 0, false
	}
	strVal = strings.TrimSpace(strVal)

	percent := strings.HasSuffix(strVal, "%")
	strVal = strings.TrimSpace(strings.TrimSuffix(strVal, "%"))

	value, err := strconv.ParseFloat(strVal, 64)
	if err != nil {
		return 0, false
	}
	if percent {
		value /= 100
	}
	return value, true
}

// FlexibleInt reads an integer that may arrive as a number or numeric string.
// Fractional values are truncated.
func FlexibleInt(raw json.RawMessage) (int, bool) {
	f, ok := FlexibleFloat(raw)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
