package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/hlog"

	db "github.com/asnar00/firefly/internal/db/gorm"
	"github.com/asnar00/firefly/pkg/models"
)

// handleGetProfile returns the user's profile post, creating an empty
// one on first fetch.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	user, err := s.users.GetByEmail(r.Context(), email)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}
	if err != nil {
		s.internalError(w, r, err, "load user")
		return
	}

	profile, err := s.posts.ProfileForUser(r.Context(), user.ID)
	if errors.Is(err, db.ErrNotFound) {
		profile = &models.Post{
			UserID:       user.ID,
			Title:        user.DisplayName,
			TemplateName: models.TemplateProfile,
			Parent:       models.ParentRef{Kind: models.ParentProfile},
		}
		if err := s.posts.Create(r.Context(), profile); err != nil {
			s.internalError(w, r, err, "create profile")
			return
		}
		hlog.FromRequest(r).Info().Int64("user_id", user.ID).Int64("post_id", profile.ID).
			Msg("Profile post auto-created")
	} else if err != nil {
		s.internalError(w, r, err, "load profile")
		return
	}

	writeSuccess(w, map[string]interface{}{
		"user":    user,
		"profile": profile,
	})
}

// handleLastActivity bumps the caller's last-seen timestamp.
func (s *Server) handleLastActivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	err := s.users.TouchActivity(r.Context(), req.Email, time.Now().UTC())
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}
	if err != nil {
		s.internalError(w, r, err, "touch activity")
		return
	}
	writeSuccess(w, nil)
}
