package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParentRefRoundTrip(t *testing.T) {
	assert.Equal(t, ParentRef{Kind: ParentRoot}, ParentFromDB(nil))

	sentinel := int64(ProfileParentSentinel)
	assert.Equal(t, ParentRef{Kind: ParentProfile}, ParentFromDB(&sentinel))

	id := int64(42)
	ref := ParentFromDB(&id)
	assert.Equal(t, ParentRef{Kind: ParentPost, ID: 42}, ref)

	got := ref.DBValue()
	require.NotNil(t, got)
	assert.Equal(t, int64(42), *got)

	assert.Nil(t, ParentRef{Kind: ParentRoot}.DBValue())
	profileVal := ParentRef{Kind: ParentProfile}.DBValue()
	require.NotNil(t, profileVal)
	assert.Equal(t, int64(ProfileParentSentinel), *profileVal)
}

func TestWireResultNormalisesScore(t *testing.T) {
	row := MatchRow{QueryID: 1, PostID: 9, Score: 70}
	got := row.WireResult()
	assert.Equal(t, int64(9), got.ID)
	assert.InDelta(t, 0.70, got.RelevanceScore, 1e-9)
}

func TestJSONArraysScanValue(t *testing.T) {
	var ids JSONInt64Array
	require.NoError(t, ids.Scan("[3,1,2]"))
	assert.Equal(t, JSONInt64Array{3, 1, 2}, ids)

	v, err := ids.Value()
	require.NoError(t, err)
	assert.JSONEq(t, "[3,1,2]", v.(string))

	var empty JSONInt64Array
	v, err = empty.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var strs JSONStringArray
	require.NoError(t, strs.Scan([]byte(`["a","b"]`)))
	assert.Equal(t, JSONStringArray{"a", "b"}, strs)

	require.NoError(t, strs.Scan(nil))
	assert.Nil(t, strs)
}
