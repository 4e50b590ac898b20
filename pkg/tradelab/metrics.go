package tradelab

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Metrics maps metric names to values. Infinite values are legitimate (for
// example profit_factor without losing trades) and travel as the strings
// "+Inf", "-Inf" and "NaN".
type Metrics map[string]float64

// Keys returns the metric names in sorted order.
func (m Metrics) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON encodes non-finite values as strings.
func (m Metrics) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case math.IsInf(v, 1):
			out[k] = "+Inf"
		case math.IsInf(v, -1):
			out[k] = "-Inf"
		case math.IsNaN(v):
			out[k] = "NaN"
		default:
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts numbers and the strings written by MarshalJSON.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Metrics, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case float64:
			out[k] = x
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return fmt.Errorf("metric %s: %w", k, err)
			}
			out[k] = f
		}
	}
	*m = out
	return nil
}
