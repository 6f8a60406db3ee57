package server

import (
	"net/http"

	"github.com/rs/zerolog/hlog"
)

// handleRegenerateEmbeddings re-encodes every post from the database.
// Recovers from lost or corrupt embedding files; the store is
// rebuildable from posts alone.
func (s *Server) handleRegenerateEmbeddings(w http.ResponseWriter, r *http.Request) {
	posts, err := s.posts.ListAll(r.Context())
	if err != nil {
		s.internalError(w, r, err, "list posts")
		return
	}

	var regenerated, failed int
	for _, p := range posts {
		if err := s.embeddings.Put(r.Context(), p.ID, p.Title, p.Summary, p.Body); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Int64("post_id", p.ID).Msg("Regeneration failed")
			failed++
			continue
		}
		regenerated++
	}

	writeSuccess(w, map[string]interface{}{
		"regenerated": regenerated,
		"failed":      failed,
	})
}
