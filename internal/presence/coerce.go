/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package presence

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// truthy applies JavaScript truthiness to a raw JSON value: false, 0,
// "", null and absent are false, everything else is true.
func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	default:
		return true
	}
}

// toNumber coerces a raw JSON value to a float64, accepting the number,
// string and boolean shapes browsers actually send. Values that do not
// convert come back as NaN; the registry clamps NaN to zero.
func toNumber(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return math.NaN()
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return math.NaN()
	}
	switch t := v.(type) {
	case float64:
		return t
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return math.NaN()
	default:
		return math.NaN()
	}
}
