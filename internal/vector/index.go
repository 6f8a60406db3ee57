// Package vector computes dense cosine similarity over fragment
// embeddings. The index is assembled on demand from the embedding
// store; at the current scale a fresh snapshot per matcher run is
// cheaper than keeping one coherent.
package vector

import (
	"fmt"
	"math"
	"sort"
)

// FragmentRef locates one row of the snapshot matrix.
type FragmentRef struct {
	PostID   int64
	Fragment int
}

// Snapshot is the row-concatenation of every fragment array on disk,
// rows L2-normalised so cosine similarity reduces to a dot product.
type Snapshot struct {
	Matrix [][]float32
	Index  []FragmentRef
}

// Loader is the slice of the embedding store the index needs.
type Loader interface {
	ListIDs() ([]int64, error)
	Load(postID int64) ([][]float32, error)
}

// Take builds a snapshot from every embedding file, skipping ids in the
// exclude set (queries exclude themselves when ranking posts).
func Take(store Loader, exclude map[int64]bool) (*Snapshot, error) {
	ids, err := store.ListIDs()
	if err != nil {
		return nil, fmt.Errorf("snapshot embeddings: %w", err)
	}

	snap := &Snapshot{}
	for _, id := range ids {
		if exclude[id] {
			continue
		}
		rows, err := store.Load(id)
		if err != nil {
			// A file may vanish between list and load; skip it.
			continue
		}
		for i, row := range rows {
			snap.Matrix = append(snap.Matrix, Normalize(row))
			snap.Index = append(snap.Index, FragmentRef{PostID: id, Fragment: i})
		}
	}
	return snap, nil
}

// Normalize returns the L2-normalised copy of v. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

// NormalizeAll normalises every row of a fragment matrix.
func NormalizeAll(rows [][]float32) [][]float32 {
	out := make([][]float32, len(rows))
	for i, r := range rows {
		out[i] = Normalize(r)
	}
	return out
}

// Dot is the inner product of two equal-length vectors.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// PostScore is a post id with its aggregated similarity.
type PostScore struct {
	PostID int64
	Score  float32
}

// MaxPerPost computes, for each post in the snapshot, the maximum
// cosine similarity between any query fragment and any of the post's
// fragments. Results are sorted descending by score. Query rows must be
// normalised.
func (s *Snapshot) MaxPerPost(queryRows [][]float32) []PostScore {
	best := make(map[int64]float32)
	for _, q := range queryRows {
		for j, base := range s.Matrix {
			sim := Dot(q, base)
			id := s.Index[j].PostID
			if cur, ok := best[id]; !ok || sim > cur {
				best[id] = sim
			}
		}
	}

	out := make([]PostScore, 0, len(best))
	for id, score := range best {
		out = append(out, PostScore{PostID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PostID < out[j].PostID
	})
	return out
}

// MaxScalar is the maximum cosine similarity between any pair of rows
// from two normalised fragment matrices.
func MaxScalar(a, b [][]float32) float32 {
	var best float32 = -1
	for _, x := range a {
		for _, y := range b {
			if sim := Dot(x, y); sim > best {
				best = sim
			}
		}
	}
	if best < 0 && (len(a) == 0 || len(b) == 0) {
		return 0
	}
	return best
}
