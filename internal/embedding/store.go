package embedding

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrAbsent is returned when a post has no embedding file.
var ErrAbsent = errors.New("embedding absent")

// Store keeps one .npy file of fragment vectors per post id. The store
// is rebuildable from the posts table alone, so losing a file only
// costs a re-encode.
type Store struct {
	dir   string
	model EmbeddingModel
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, model EmbeddingModel) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create embeddings dir: %w", err)
	}
	return &Store{dir: dir, model: model}, nil
}

func (s *Store) path(postID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("post_%d.npy", postID))
}

// Put fragments the post text, encodes every fragment and replaces the
// post's file atomically.
func (s *Store) Put(ctx context.Context, postID int64, title, summary, body string) error {
	fragments := Fragments(title, summary, body)
	if len(fragments) == 0 {
		// Nothing to encode; treat as absent.
		return s.Delete(postID)
	}

	vectors, err := s.model.EmbedBatch(ctx, fragments)
	if err != nil {
		return fmt.Errorf("encode post %d: %w", postID, err)
	}

	flat := make([]float32, 0, len(vectors)*Dim)
	for _, v := range vectors {
		flat = append(flat, v...)
	}

	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf(".post_%d_*.npy", postID))
	if err != nil {
		return fmt.Errorf("create temp embedding file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	if err := writeNPY(w, len(vectors), Dim, flat); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write embedding file for post %d: %w", postID, err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("flush embedding file for post %d: %w", postID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close embedding file for post %d: %w", postID, err)
	}
	if err := os.Rename(tmp.Name(), s.path(postID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace embedding file for post %d: %w", postID, err)
	}

	log.Debug().Int64("post_id", postID).Int("fragments", len(vectors)).
		Msg("Embeddings written")
	return nil
}

// Load returns the post's fragment matrix as rows of Dim floats, or
// ErrAbsent.
func (s *Store) Load(postID int64) ([][]float32, error) {
	f, err := os.Open(s.path(postID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("open embedding file for post %d: %w", postID, err)
	}
	defer f.Close()

	rows, cols, flat, err := readNPY(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read embedding file for post %d: %w", postID, err)
	}
	if cols != Dim {
		return nil, fmt.Errorf("embedding file for post %d has %d dims, want %d", postID, cols, Dim)
	}

	out := make([][]float32, rows)
	for i := 0; i < rows; i++ {
		out[i] = flat[i*cols : (i+1)*cols]
	}
	return out, nil
}

// Delete removes the post's file. Idempotent.
func (s *Store) Delete(postID int64) error {
	err := os.Remove(s.path(postID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete embedding file for post %d: %w", postID, err)
	}
	return nil
}

// Has reports whether an embedding file exists for the post.
func (s *Store) Has(postID int64) bool {
	_, err := os.Stat(s.path(postID))
	return err == nil
}

// ListIDs returns the post ids that have embedding files, ascending.
func (s *Store) ListIDs() ([]int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read embeddings dir: %w", err)
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "post_") || !strings.HasSuffix(name, ".npy") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "post_"), ".npy"), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
