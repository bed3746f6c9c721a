package analytics

import (
	"encoding/json"
	"testing"
)

func TestMetricValueJSON(t *testing.T) {
	cases := []struct {
		name string
		in   MetricValue
		want string
	}{
		{"known", Known(93.5), `{"value":93.5,"state":"known"}`},
		{"not applicable", NotApplicable(), `{"value":null,"state":"not_applicable"}`},
		{"unknown", UnknownValue(), `{"value":null,"state":"unknown"}`},
		{"zero value defaults to unknown", MetricValue{}, `{"value":null,"state":"unknown"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.in)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			if string(data) != tc.want {
				t.Errorf("marshal = %s, want %s", data, tc.want)
			}

			var back MetricValue
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if back.State == MetricKnown && back.Value != tc.in.Value {
				t.Errorf("round trip value = %v, want %v", back.Value, tc.in.Value)
			}
		})
	}
}

func TestCostBreakdownTotal(t *testing.T) {
	c := CostBreakdown{
		SpeechToTextCents:  30,
		TextToSpeechCents:  45,
		LanguageModelCents: 60,
		TelecomCents:       15,
		CommissionCents:    7,
	}
	if got := c.Total(); got != 157 {
		t.Errorf("Total = %d, want 157", got)
	}
}
