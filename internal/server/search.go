package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/hlog"

	db "github.com/asnar00/firefly/internal/db/gorm"
	"github.com/asnar00/firefly/internal/vector"
	"github.com/asnar00/firefly/pkg/models"
)

// handleQuerySearch serves cached matches for a query, populating the
// cache synchronously on first read, and records the caller's view.
// The reply is a bare array sorted by post creation time descending
// then score descending, scores normalised to [0,1].
func (s *Server) handleQuerySearch(w http.ResponseWriter, r *http.Request) {
	queryID, err := strconv.ParseInt(r.URL.Query().Get("query_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "query_id must be an integer")
		return
	}
	userEmail := r.URL.Query().Get("user_email")
	if userEmail == "" {
		writeError(w, http.StatusBadRequest, "user_email is required")
		return
	}

	query, err := s.posts.GetByID(r.Context(), queryID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "query not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err, "load query")
		return
	}
	if !query.IsQuery() {
		writeError(w, http.StatusBadRequest, "post is not a query")
		return
	}

	populated, err := s.matches.HasResults(r.Context(), queryID)
	if err != nil {
		s.internalError(w, r, err, "check cache")
		return
	}
	if !populated {
		// The populate outlives the request: a client disconnect must not
		// cancel the judge work, the cache should warm regardless.
		if err := s.pool.PopulateQuerySync(context.WithoutCancel(r.Context()), queryID); err != nil {
			s.internalError(w, r, err, "populate query")
			return
		}
	}

	rows, err := s.matches.ResultsForQuery(r.Context(), queryID)
	if err != nil {
		s.internalError(w, r, err, "read matches")
		return
	}

	if err := s.matches.RecordView(r.Context(), queryID, userEmail, time.Now().UTC()); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Int64("query_id", queryID).Msg("Record view failed")
	}

	results := make([]models.SearchResult, len(rows))
	for i, row := range rows {
		results[i] = row.WireResult()
	}
	writeJSON(w, http.StatusOK, results)
}

// handleQueryBadges answers "has new matches" for a batch of query ids
// in one database round trip.
func (s *Server) handleQueryBadges(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserEmail string  `json:"user_email"`
		QueryIDs  []int64 `json:"query_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.UserEmail == "" {
		writeError(w, http.StatusBadRequest, "user_email is required")
		return
	}

	flags, err := s.matches.DirtyFlags(r.Context(), req.UserEmail, req.QueryIDs)
	if err != nil {
		s.internalError(w, r, err, "read dirty flags")
		return
	}

	out := make(map[string]bool, len(flags))
	for id, dirty := range flags {
		out[strconv.FormatInt(id, 10)] = dirty
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDenseSearch is an ad-hoc semantic search: the query text is
// embedded on the fly and scored against every content post by dense
// similarity alone, no judge involved.
func (s *Server) handleDenseSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 50 {
			limit = v
		}
	}
	const minSimilarity = 0.25

	vectors, err := s.model.EmbedBatch(r.Context(), []string{q})
	if err != nil {
		s.internalError(w, r, err, "embed search text")
		return
	}
	queryRows := vector.NormalizeAll(vectors)

	snap, err := vector.Take(s.embeddings, nil)
	if err != nil {
		s.internalError(w, r, err, "snapshot index")
		return
	}

	type hit struct {
		ID             int64   `json:"id"`
		Title          string  `json:"title"`
		Summary        string  `json:"summary"`
		RelevanceScore float64 `json:"relevance_score"`
	}
	hits := make([]hit, 0, limit)
	for _, ps := range snap.MaxPerPost(queryRows) {
		if ps.Score < minSimilarity || len(hits) == limit {
			break
		}
		post, err := s.posts.GetByID(r.Context(), ps.PostID)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			s.internalError(w, r, err, "hydrate post")
			return
		}
		if post.IsQuery() || post.IsProfile() {
			continue
		}
		hits = append(hits, hit{
			ID:             post.ID,
			Title:          post.Title,
			Summary:        post.Summary,
			RelevanceScore: float64(ps.Score),
		})
	}
	writeJSON(w, http.StatusOK, hits)
}
