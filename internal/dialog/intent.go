package dialog

import "strings"

// Intent is the classified meaning of an approver utterance during Q&A.
type Intent string

const (
	IntentApprove Intent = "approve"
	IntentDecline Intent = "decline"
	IntentDone    Intent = "done"
	IntentAsk     Intent = "ask"
)

// Classifier maps a transcript to an intent. Pluggable so deployments can
// swap the keyword matcher for a model-backed classifier.
type Classifier interface {
	Classify(transcript string) Intent
}

// KeywordClassifier is the default classifier: case-insensitive keyword
// matching with light negation handling. Anything unrecognized is treated as
// a question for the Q&A loop, which is the safe default.
type KeywordClassifier struct{}

var (
	declineWords = []string{"decline", "deny", "reject", "block", "do not approve", "don't approve", "cancel"}
	approveWords = []string{"approve", "go ahead", "authorize", "yes do it", "proceed"}
	doneWords    = []string{"goodbye", "good bye", "bye", "that's all", "that is all", "nothing else", "no more questions", "hang up"}
	negations    = []string{"not", "don't", "do not", "never"}
)

// Classify inspects the transcript. Decline wins over approve so "do not
// approve this" never authorizes anything.
func (KeywordClassifier) Classify(transcript string) Intent {
	t := strings.ToLower(strings.TrimSpace(transcript))
	if t == "" {
		return IntentAsk
	}

	if containsAny(t, declineWords) {
		return IntentDecline
	}
	if containsAny(t, doneWords) {
		return IntentDone
	}
	if containsAny(t, approveWords) && !containsAny(t, negations) {
		return IntentApprove
	}
	return IntentAsk
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
