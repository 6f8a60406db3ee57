package gorm

import (
	"context"
	"fmt"
	"time"

	gormdb "gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/asnar00/firefly/pkg/models"
)

// MatchStore owns the durable match cache and the per-viewer view
// timestamps that drive the "new matches" badges.
type MatchStore struct {
	store *Store
}

// NewMatchStore creates a match store backed by the shared connection.
func NewMatchStore(store *Store) *MatchStore {
	return &MatchStore{store: store}
}

// Upsert writes one judged (query, post) score and bumps the query's
// last_match_added_at. Callers only pass scores at or above the match
// threshold, so every upsert means the query has something new.
func (s *MatchStore) Upsert(ctx context.Context, queryID, postID int64, score int, matchedAt time.Time) error {
	return s.store.Transaction(ctx, DefaultQueryTimeout, func(tx *gormdb.DB) error {
		row := QueryResult{QueryID: queryID, PostID: postID, Score: score, MatchedAt: matchedAt}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "query_id"}, {Name: "post_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "matched_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("upsert match (%d,%d): %w", queryID, postID, err)
		}

		return tx.Model(&Post{}).Where("id = ?", queryID).
			Update("last_match_added_at", matchedAt).Error
	})
}

// UpsertBatch writes a set of matches for one query in a single
// transaction, bumping last_match_added_at once.
func (s *MatchStore) UpsertBatch(ctx context.Context, queryID int64, matches []models.MatchRow, matchedAt time.Time) error {
	if len(matches) == 0 {
		return nil
	}
	return s.store.Transaction(ctx, SlowQueryTimeout, func(tx *gormdb.DB) error {
		rows := make([]QueryResult, len(matches))
		for i, m := range matches {
			rows[i] = QueryResult{
				QueryID:   queryID,
				PostID:    m.PostID,
				Score:     m.Score,
				MatchedAt: matchedAt,
			}
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "query_id"}, {Name: "post_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "matched_at"}),
		}).Create(&rows).Error
		if err != nil {
			return fmt.Errorf("upsert %d matches for query %d: %w", len(rows), queryID, err)
		}

		return tx.Model(&Post{}).Where("id = ?", queryID).
			Update("last_match_added_at", matchedAt).Error
	})
}

// ResultsForQuery reads the cached matches for a query, sorted by post
// creation time descending then score descending. The join supplies the
// creation time from the posts table so the ordering survives post
// edits.
func (s *MatchStore) ResultsForQuery(ctx context.Context, queryID int64) ([]models.MatchRow, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "match_read")
	defer cancel()

	var rows []models.MatchRow
	err := s.store.DB.WithContext(timeoutCtx).
		Table("query_results").
		Select("query_results.query_id, query_results.post_id, query_results.score, query_results.matched_at, posts.created_at AS post_created_at").
		Joins("JOIN posts ON posts.id = query_results.post_id").
		Where("query_results.query_id = ?", queryID).
		Order("posts.created_at DESC, query_results.score DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("read matches for query %d: %w", queryID, err)
	}
	return rows, nil
}

// HasResults reports whether the query has any cached matches, used to
// decide between the cache read path and synchronous population.
func (s *MatchStore) HasResults(ctx context.Context, queryID int64) (bool, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "match_has")
	defer cancel()

	var count int64
	err := s.store.DB.WithContext(timeoutCtx).Model(&QueryResult{}).
		Where("query_id = ?", queryID).Limit(1).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count matches for query %d: %w", queryID, err)
	}
	return count > 0, nil
}

// DeleteByQuery drops every cached match for a query. Used when a query
// is edited (stale judgements) or deleted.
func (s *MatchStore) DeleteByQuery(ctx context.Context, queryID int64) error {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "match_delete_query")
	defer cancel()

	err := s.store.DB.WithContext(timeoutCtx).
		Where("query_id = ?", queryID).Delete(&QueryResult{}).Error
	if err != nil {
		return fmt.Errorf("delete matches for query %d: %w", queryID, err)
	}
	return nil
}

// DeleteByPost drops the post from every query's cache. Used when a post
// is edited or deleted.
func (s *MatchStore) DeleteByPost(ctx context.Context, postID int64) error {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "match_delete_post")
	defer cancel()

	err := s.store.DB.WithContext(timeoutCtx).
		Where("post_id = ?", postID).Delete(&QueryResult{}).Error
	if err != nil {
		return fmt.Errorf("delete matches for post %d: %w", postID, err)
	}
	return nil
}

// RecordView marks the query as seen by the viewer now.
func (s *MatchStore) RecordView(ctx context.Context, queryID int64, viewerEmail string, at time.Time) error {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "view_record")
	defer cancel()

	row := QueryView{QueryID: queryID, ViewerEmail: foldEmail(viewerEmail), LastViewedAt: at}
	err := s.store.DB.WithContext(timeoutCtx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "query_id"}, {Name: "viewer_email"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_viewed_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("record view (%d,%s): %w", queryID, viewerEmail, err)
	}
	return nil
}

type dirtyRow struct {
	ID               int64
	LastMatchAddedAt *time.Time
	LastViewedAt     *time.Time
}

// DirtyFlags answers "has new matches since last view" for a set of
// query ids in one round trip. A query is dirty when a match arrived
// after the viewer's last visit, or when matches exist and the viewer
// has never visited.
func (s *MatchStore) DirtyFlags(ctx context.Context, viewerEmail string, queryIDs []int64) (map[int64]bool, error) {
	flags := make(map[int64]bool, len(queryIDs))
	if len(queryIDs) == 0 {
		return flags, nil
	}

	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "dirty_flags")
	defer cancel()

	var rows []dirtyRow
	err := s.store.DB.WithContext(timeoutCtx).
		Table("posts").
		Select("posts.id, posts.last_match_added_at, query_views.last_viewed_at").
		Joins("LEFT JOIN query_views ON query_views.query_id = posts.id AND query_views.viewer_email = ?", foldEmail(viewerEmail)).
		Where("posts.id IN ?", queryIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("read dirty flags: %w", err)
	}

	for _, id := range queryIDs {
		flags[id] = false
	}
	for _, r := range rows {
		switch {
		case r.LastMatchAddedAt == nil:
			flags[r.ID] = false
		case r.LastViewedAt == nil:
			flags[r.ID] = true
		default:
			flags[r.ID] = r.LastMatchAddedAt.After(*r.LastViewedAt)
		}
	}
	return flags, nil
}
