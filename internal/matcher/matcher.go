// Package matcher keeps the match cache consistent with posts and
// queries. It combines dense cosine recall over fragment embeddings
// with an LLM relevance judge, falling back to the dense scores when
// the judge is unreachable.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	db "github.com/asnar00/firefly/internal/db/gorm"
	"github.com/asnar00/firefly/internal/embedding"
	"github.com/asnar00/firefly/internal/judge"
	"github.com/asnar00/firefly/internal/telemetry"
	"github.com/asnar00/firefly/internal/vector"
	"github.com/asnar00/firefly/pkg/models"
)

const (
	// MatchThreshold is the minimum 0-100 score that gets cached.
	MatchThreshold = 40
	// CandidateLimit caps the dense recall set handed to the judge.
	CandidateLimit = 20
)

// RelevanceJudge is the slice of the judge the matcher needs. Both
// calls return judge.ErrUnavailable on outage.
type RelevanceJudge interface {
	Rank(ctx context.Context, query judge.Doc, candidates []judge.Doc) ([]judge.Score, error)
	Evaluate(ctx context.Context, queries []judge.Doc, post judge.Doc) ([]judge.Score, error)
}

// Matcher orchestrates recall and judging for both mutation directions.
type Matcher struct {
	posts      *db.PostStore
	matches    *db.MatchStore
	embeddings *embedding.Store
	judge      RelevanceJudge
}

// New creates a matcher.
func New(posts *db.PostStore, matches *db.MatchStore, embeddings *embedding.Store, j RelevanceJudge) *Matcher {
	telemetry.Init()
	return &Matcher{posts: posts, matches: matches, embeddings: embeddings, judge: j}
}

// ensureEmbeddings loads the post's fragment matrix, generating it on
// demand if the file is missing.
func (m *Matcher) ensureEmbeddings(ctx context.Context, post *models.Post) ([][]float32, error) {
	rows, err := m.embeddings.Load(post.ID)
	if err == nil {
		return rows, nil
	}
	if !errors.Is(err, embedding.ErrAbsent) {
		return nil, err
	}
	if err := m.embeddings.Put(ctx, post.ID, post.Title, post.Summary, post.Body); err != nil {
		return nil, err
	}
	return m.embeddings.Load(post.ID)
}

// PopulateQuery ranks every content post against the query and rewrites
// its cache entries. Called when a query is created, edited, or read
// with an empty cache.
func (m *Matcher) PopulateQuery(ctx context.Context, queryID int64) error {
	telemetry.Instruments.MatcherRuns.Add(ctx, 1)

	query, err := m.posts.GetByID(ctx, queryID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil // deleted while queued
		}
		return fmt.Errorf("load query %d: %w", queryID, err)
	}
	revision := query.Revision

	queryRows, err := m.ensureEmbeddings(ctx, query)
	if err != nil {
		return fmt.Errorf("embeddings for query %d: %w", queryID, err)
	}
	queryRows = vector.NormalizeAll(queryRows)

	// Recall: dense MAX-per-post over every content post. A post whose
	// encode failed at create time gets its embeddings generated here,
	// so it is never permanently invisible to queries.
	content, err := m.posts.ListContentPosts(ctx)
	if err != nil {
		return fmt.Errorf("list content posts: %w", err)
	}
	contentIDs := make(map[int64]bool, len(content))
	for _, p := range content {
		contentIDs[p.ID] = true
		if m.embeddings.Has(p.ID) {
			continue
		}
		if _, err := m.ensureEmbeddings(ctx, p); err != nil {
			log.Warn().Err(err).Int64("post_id", p.ID).Msg("Skipping post without embeddings")
		}
	}
	snap, err := vector.Take(m.embeddings, nil)
	if err != nil {
		return fmt.Errorf("snapshot index: %w", err)
	}

	scored := snap.MaxPerPost(queryRows)
	candidates := make([]vector.PostScore, 0, CandidateLimit)
	for _, ps := range scored {
		if !contentIDs[ps.PostID] {
			continue
		}
		candidates = append(candidates, ps)
		if len(candidates) == CandidateLimit {
			break
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// Hydrate candidate text, dropping posts deleted since the snapshot.
	docs := make([]judge.Doc, 0, len(candidates))
	dense := make(map[int64]float32, len(candidates))
	for _, ps := range candidates {
		post, err := m.posts.GetByID(ctx, ps.PostID)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("hydrate post %d: %w", ps.PostID, err)
		}
		docs = append(docs, judge.Doc{ID: post.ID, Title: post.Title, Summary: post.Summary, Body: post.Body})
		dense[post.ID] = ps.Score
	}
	if len(docs) == 0 {
		return nil
	}

	scores, err := m.judge.Rank(ctx, judge.Doc{
		ID: query.ID, Title: query.Title, Summary: query.Summary, Body: query.Body,
	}, docs)
	if errors.Is(err, judge.ErrUnavailable) {
		log.Warn().Err(err).Int64("query_id", queryID).Msg("Judge unavailable, using dense fallback")
		scores = denseFallback(dense)
	} else if err != nil {
		return fmt.Errorf("rank query %d: %w", queryID, err)
	}

	matches := make([]models.MatchRow, 0, len(scores))
	for _, s := range scores {
		if s.Score >= MatchThreshold {
			matches = append(matches, models.MatchRow{PostID: s.ID, Score: s.Score})
		}
	}
	if len(matches) == 0 {
		return nil
	}

	// A later edit wins: if the query changed while we judged, its own
	// re-population is already queued and this result is stale.
	current, err := m.posts.Revision(ctx, queryID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current != revision {
		log.Debug().Int64("query_id", queryID).Msg("Query changed during ranking, discarding results")
		return nil
	}

	return m.matches.UpsertBatch(ctx, queryID, matches, time.Now().UTC())
}

// MatchPost evaluates the post against every standing query, processing
// queries in dense-similarity order in judge-sized batches. Called when
// a post is created or edited.
func (m *Matcher) MatchPost(ctx context.Context, postID int64) error {
	telemetry.Instruments.MatcherRuns.Add(ctx, 1)

	post, err := m.posts.GetByID(ctx, postID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load post %d: %w", postID, err)
	}
	if post.IsQuery() || post.IsProfile() {
		return nil
	}
	revision := post.Revision

	// Stale rows from a previous revision must never survive an edit.
	if err := m.matches.DeleteByPost(ctx, postID); err != nil {
		return err
	}

	postRows, err := m.ensureEmbeddings(ctx, post)
	if err != nil {
		return fmt.Errorf("embeddings for post %d: %w", postID, err)
	}
	postRows = vector.NormalizeAll(postRows)

	queries, err := m.posts.ListQueries(ctx)
	if err != nil {
		return fmt.Errorf("list queries: %w", err)
	}
	if len(queries) == 0 {
		return nil
	}

	type rankedQuery struct {
		query *models.Post
		dense float32
	}
	ranked := make([]rankedQuery, 0, len(queries))
	for _, q := range queries {
		qRows, err := m.ensureEmbeddings(ctx, q)
		if err != nil {
			log.Warn().Err(err).Int64("query_id", q.ID).Msg("Skipping query without embeddings")
			continue
		}
		sim := vector.MaxScalar(vector.NormalizeAll(qRows), postRows)
		ranked = append(ranked, rankedQuery{query: q, dense: sim})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dense > ranked[j].dense })

	postDoc := judge.Doc{ID: post.ID, Title: post.Title, Summary: post.Summary, Body: post.Body}
	now := time.Now().UTC()

	for start := 0; start < len(ranked); start += judge.BatchSize {
		end := start + judge.BatchSize
		if end > len(ranked) {
			end = len(ranked)
		}
		batch := ranked[start:end]

		docs := make([]judge.Doc, len(batch))
		dense := make(map[int64]float32, len(batch))
		for i, rq := range batch {
			docs[i] = judge.Doc{ID: rq.query.ID, Title: rq.query.Title, Summary: rq.query.Summary, Body: rq.query.Body}
			dense[rq.query.ID] = rq.dense
		}

		scores, err := m.judge.Evaluate(ctx, docs, postDoc)
		if errors.Is(err, judge.ErrUnavailable) {
			// Outage affects this batch only.
			log.Warn().Err(err).Int64("post_id", postID).Msg("Judge unavailable, using dense fallback for batch")
			scores = denseFallback(dense)
		} else if err != nil {
			return fmt.Errorf("evaluate post %d: %w", postID, err)
		}

		current, err := m.posts.Revision(ctx, postID)
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != revision {
			log.Debug().Int64("post_id", postID).Msg("Post changed during evaluation, discarding results")
			return nil
		}

		for _, s := range scores {
			if s.Score < MatchThreshold {
				continue
			}
			if err := m.matches.Upsert(ctx, s.ID, postID, s.Score, now); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeletePost removes the post and everything hanging off it: cached
// matches on both sides, the embedding file, then the row itself. Cache
// rows go first so a concurrent read never sees a dangling reference.
func (m *Matcher) DeletePost(ctx context.Context, postID int64) error {
	if err := m.matches.DeleteByPost(ctx, postID); err != nil {
		return err
	}
	if err := m.matches.DeleteByQuery(ctx, postID); err != nil {
		return err
	}
	if err := m.embeddings.Delete(postID); err != nil {
		return err
	}
	err := m.posts.Delete(ctx, postID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	return err
}

// RefreshQuery clears a query's cache and repopulates it. Called after
// a query edit.
func (m *Matcher) RefreshQuery(ctx context.Context, queryID int64) error {
	if err := m.matches.DeleteByQuery(ctx, queryID); err != nil {
		return err
	}
	return m.PopulateQuery(ctx, queryID)
}

// denseFallback converts dense similarities to 0-100 scores. Only pairs
// clearing the cache threshold survive, same as judged scores.
func denseFallback(dense map[int64]float32) []judge.Score {
	out := make([]judge.Score, 0, len(dense))
	for id, sim := range dense {
		score := int(math.Round(float64(sim) * 100))
		if score >= MatchThreshold {
			out = append(out, judge.Score{ID: id, Score: score})
		}
	}
	return out
}
