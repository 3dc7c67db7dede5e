package resolver

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencePattern  = regexp.MustCompile("(?im)^```(?:json)?\\s*|\\s*```$")
	objectPattern = regexp.MustCompile(`\{[\s\S]*\}`)
)

// ModelAnswer is the JSON shape LLM-backed providers are asked to return.
type ModelAnswer struct {
	SelectedURL string      `json:"selected_url"`
	Confidence  *float64    `json:"confidence"`
	Reasoning   string      `json:"reasoning"`
	Candidates  []Candidate `json:"candidates"`
}

// ParseModelAnswer extracts a ModelAnswer from model output that may wrap the
// JSON in prose or a code fence. It tries the text as-is, then with fences
// stripped, then the outermost {...} span.
func ParseModelAnswer(text string) (ModelAnswer, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ModelAnswer{}, false
	}
	var ans ModelAnswer
	if json.Unmarshal([]byte(text), &ans) == nil {
		return ans, true
	}
	if unfenced := strings.TrimSpace(fencePattern.ReplaceAllString(text, "")); unfenced != text {
		if json.Unmarshal([]byte(unfenced), &ans) == nil {
			return ans, true
		}
	}
	if span := objectPattern.FindString(text); span != "" {
		if json.Unmarshal([]byte(span), &ans) == nil {
			return ans, true
		}
	}
	return ModelAnswer{}, false
}

// Result converts the answer into a provider Result.
func (a ModelAnswer) Result(provider string, limit int) Result {
	return Result{
		Provider:    provider,
		SelectedURL: strings.TrimSpace(a.SelectedURL),
		Confidence:  a.Confidence,
		Reasoning:   strings.TrimSpace(a.Reasoning),
		Candidates:  DedupCandidates(a.Candidates, limit),
	}
}
