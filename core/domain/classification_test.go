package domain

import "testing"

func TestLLMClassificationValid(t *testing.T) {
	tests := []struct {
		name string
		c    LLMClassification
		want bool
	}{
		{"complete judgment", LLMClassification{IsLead: true, Score: 85, Reason: "buyer tour request"}, true},
		{"not a lead with reason", LLMClassification{Score: 10, Reason: "vendor newsletter"}, true},
		{"zero-value object fails", LLMClassification{}, false},
		{"missing reason fails", LLMClassification{IsLead: true, Score: 90}, false},
		{"score above range", LLMClassification{Score: 101, Reason: "x"}, false},
		{"negative score", LLMClassification{Score: -1, Reason: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v for %+v", got, tt.want, tt.c)
			}
		})
	}
}

func TestParseFailureIsFailClosed(t *testing.T) {
	c := ParseFailure()
	if c.IsLead || c.Score != 0 || c.Reason != "parse_error" {
		t.Errorf("ParseFailure() = %+v, want not-a-lead with score 0 and parse_error reason", c)
	}
}
