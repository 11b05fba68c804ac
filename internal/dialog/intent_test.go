package dialog

import "testing"

func TestKeywordClassifier(t *testing.T) {
	tests := []struct {
		transcript string
		want       Intent
	}{
		{"approve", IntentApprove},
		{"Go ahead with it", IntentApprove},
		{"yes do it", IntentApprove},
		{"please decline this", IntentDecline},
		{"DENY the payment", IntentDecline},
		{"reject it", IntentDecline},
		{"do not approve this", IntentDecline},
		{"don't approve", IntentDecline},
		{"goodbye", IntentDone},
		{"that's all, thanks", IntentDone},
		{"no more questions", IntentDone},
		{"what vendor is this", IntentAsk},
		{"how much money is at stake", IntentAsk},
		{"", IntentAsk},
		{"hmm let me think", IntentAsk},
	}

	var c KeywordClassifier
	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			if got := c.Classify(tt.transcript); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.transcript, got, tt.want)
			}
		})
	}
}
