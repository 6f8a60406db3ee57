package judge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankPromptDeterministic(t *testing.T) {
	query := Doc{ID: 1, Title: "Mediterranean travel", Body: "food and beaches"}
	candidates := []Doc{
		{ID: 10, Title: "Paella recipe"},
		{ID: 11, Title: "Kernel scheduling"},
	}

	a, err := renderRankPrompt(query, candidates)
	require.NoError(t, err)
	b, err := renderRankPrompt(query, candidates)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, promptHash(a), promptHash(b))

	// Candidate order is part of the prompt, so the hash changes with it.
	c, err := renderRankPrompt(query, []Doc{candidates[1], candidates[0]})
	require.NoError(t, err)
	assert.NotEqual(t, promptHash(a), promptHash(c))
}

func TestRankPromptContainsInputs(t *testing.T) {
	prompt, err := renderRankPrompt(
		Doc{ID: 1, Title: "hiking"},
		[]Doc{{ID: 42, Title: "Alpine trails", Summary: "a summary"}},
	)
	require.NoError(t, err)

	assert.Contains(t, prompt, "hiking")
	assert.Contains(t, prompt, "[42]")
	assert.Contains(t, prompt, "Alpine trails")
	assert.Contains(t, prompt, "a summary")
	assert.Contains(t, prompt, "JSON array")
}

func TestEvaluatePromptContainsInputs(t *testing.T) {
	prompt, err := renderEvaluatePrompt(
		[]Doc{{ID: 7, Title: "travel"}, {ID: 8, Title: "compilers"}},
		Doc{ID: 99, Title: "hiking in the Alps"},
	)
	require.NoError(t, err)

	assert.Contains(t, prompt, "hiking in the Alps")
	assert.Contains(t, prompt, "[7]")
	assert.Contains(t, prompt, "[8]")
}

func TestDocTextTruncation(t *testing.T) {
	long := strings.Repeat("word ", 5000)
	text := docText(Doc{ID: 1, Title: "t", Body: long})
	assert.Less(t, len(text), len(long))
	assert.True(t, strings.HasPrefix(text, "t\n"))
}

func TestPromptHashStable(t *testing.T) {
	h := promptHash("hello")
	assert.Len(t, h, 64)
	assert.Equal(t, h, promptHash("hello"))
	assert.NotEqual(t, h, promptHash("hello "))
}
