package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLoader is an in-memory embedding source keyed by post id.
type memLoader map[int64][][]float32

func (m memLoader) ListIDs() ([]int64, error) {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m memLoader) Load(postID int64) ([][]float32, error) {
	return m[postID], nil
}

// vec embeds a 2-D direction into a full-width vector.
func vec(x, y float32) []float32 {
	v := make([]float32, 8)
	v[0], v[1] = x, y
	return v
}

func TestNormalize(t *testing.T) {
	n := Normalize(vec(3, 4))
	assert.InDelta(t, 0.6, n[0], 1e-6)
	assert.InDelta(t, 0.8, n[1], 1e-6)

	var length float64
	for _, x := range n {
		length += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, length, 1e-6)

	zero := Normalize(make([]float32, 8))
	assert.Equal(t, make([]float32, 8), zero)
}

func TestMaxPerPostAggregation(t *testing.T) {
	store := memLoader{
		1: {vec(1, 0), vec(0, 1)},  // one aligned fragment, one orthogonal
		2: {vec(-1, 0)},            // opposite
		3: {vec(1, 0.2)},           // nearly aligned
	}
	snap, err := Take(store, nil)
	require.NoError(t, err)
	require.Len(t, snap.Matrix, 4)

	query := [][]float32{Normalize(vec(1, 0))}
	scores := snap.MaxPerPost(query)
	require.Len(t, scores, 3)

	// Post 1's best fragment is exact alignment, so it wins.
	assert.Equal(t, int64(1), scores[0].PostID)
	assert.InDelta(t, 1.0, scores[0].Score, 1e-6)
	assert.Equal(t, int64(3), scores[1].PostID)
	assert.Equal(t, int64(2), scores[2].PostID)
	assert.InDelta(t, -1.0, scores[2].Score, 1e-6)
}

func TestTakeExcludes(t *testing.T) {
	store := memLoader{
		1: {vec(1, 0)},
		2: {vec(0, 1)},
	}
	snap, err := Take(store, map[int64]bool{2: true})
	require.NoError(t, err)
	require.Len(t, snap.Index, 1)
	assert.Equal(t, int64(1), snap.Index[0].PostID)
}

func TestMaxScalar(t *testing.T) {
	a := NormalizeAll([][]float32{vec(1, 0), vec(0, 1)})
	b := NormalizeAll([][]float32{vec(1, 1)})

	got := MaxScalar(a, b)
	assert.InDelta(t, 1/math.Sqrt2, float64(got), 1e-6)

	assert.Equal(t, float32(0), MaxScalar(nil, b))
	assert.Equal(t, float32(0), MaxScalar(a, nil))
}
