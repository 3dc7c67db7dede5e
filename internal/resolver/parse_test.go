package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseModelAnswer(t *testing.T) {
	direct := `{"selected_url":"https://acme.com","confidence":0.9,"reasoning":"exact","candidates":[{"url":"https://acme.com"}]}`
	fenced := "```json\n" + direct + "\n```"
	prose := "Here is what I found:\n" + direct + "\nLet me know if you need more."

	for name, text := range map[string]string{"direct": direct, "fenced": fenced, "prose": prose} {
		t.Run(name, func(t *testing.T) {
			ans, ok := ParseModelAnswer(text)
			require.True(t, ok)
			require.Equal(t, "https://acme.com", ans.SelectedURL)
			require.NotNil(t, ans.Confidence)
			require.InDelta(t, 0.9, *ans.Confidence, 1e-9)
			require.Len(t, ans.Candidates, 1)
		})
	}

	_, ok := ParseModelAnswer("no json here")
	require.False(t, ok)
	_, ok = ParseModelAnswer("")
	require.False(t, ok)
}

func TestModelAnswerResultDedups(t *testing.T) {
	ans := ModelAnswer{
		SelectedURL: " https://acme.com ",
		Candidates:  candidates("https://acme.com", "", "https://acme.com", "https://b.com", "https://c.com"),
	}
	res := ans.Result("perplexity", 2)
	require.Equal(t, "perplexity", res.Provider)
	require.Equal(t, "https://acme.com", res.SelectedURL)
	require.Equal(t, candidates("https://acme.com", "https://b.com"), res.Candidates)
}
