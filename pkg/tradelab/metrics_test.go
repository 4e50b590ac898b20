package tradelab

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestMetricsJSONNonFinite(t *testing.T) {
	in := Metrics{"profit_factor": math.Inf(1), "sortino_ratio": math.Inf(-1), "omega_ratio": math.NaN(), "win_rate": 0.5}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"profit_factor":"+Inf"`) || !strings.Contains(string(data), `"omega_ratio":"NaN"`) {
		t.Errorf("encoded = %s", data)
	}

	var out Metrics
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !math.IsInf(out["profit_factor"], 1) || !math.IsInf(out["sortino_ratio"], -1) || !math.IsNaN(out["omega_ratio"]) || out["win_rate"] != 0.5 {
		t.Errorf("round trip = %v", out)
	}
	if keys := out.Keys(); len(keys) != 4 || keys[0] != "omega_ratio" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestMetricsUnmarshalRejectsBadString(t *testing.T) {
	var m Metrics
	if err := json.Unmarshal([]byte(`{"sharpe_ratio":"high"}`), &m); err == nil {
		t.Error("Unmarshal accepted a non-numeric string")
	}
}
