package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONArrayBare(t *testing.T) {
	got, err := extractJSONArray(`[{"id":1,"score":70}]`)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":1,"score":70}]`, got)
}

func TestExtractJSONArrayFencedAndProse(t *testing.T) {
	reply := "Here are the scores:\n```json\n[{\"id\": 1, \"score\": 70}, {\"id\": 2, \"score\": 5}]\n```\nLet me know if you need more."
	got, err := extractJSONArray(reply)
	require.NoError(t, err)
	assert.Equal(t, `[{"id": 1, "score": 70}, {"id": 2, "score": 5}]`, got)
}

func TestExtractJSONArrayNested(t *testing.T) {
	got, err := extractJSONArray(`result: [[1,2],[3,4]] trailing`)
	require.NoError(t, err)
	assert.Equal(t, `[[1,2],[3,4]]`, got)
}

func TestExtractJSONArrayBracketsInStrings(t *testing.T) {
	got, err := extractJSONArray(`[{"note":"a ] tricky [ string"}]`)
	require.NoError(t, err)
	assert.Equal(t, `[{"note":"a ] tricky [ string"}]`, got)
}

func TestExtractJSONArrayFailures(t *testing.T) {
	_, err := extractJSONArray("no array here")
	assert.Error(t, err)

	_, err = extractJSONArray(`[{"id":1`)
	assert.Error(t, err)
}
