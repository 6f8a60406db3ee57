package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	db "github.com/asnar00/firefly/internal/db/gorm"
)

// handlePoll answers a client's periodic "anything new?" question in
// one request: badge state per query, plus whether users or posts have
// appeared since the supplied watermarks.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserEmail       string  `json:"user_email"`
		QueryIDs        []int64 `json:"query_ids"`
		LastViewedUsers string  `json:"last_viewed_users"`
		LastViewedPosts string  `json:"last_viewed_posts"`
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
	badges := make(map[string]bool, len(flags))
	for id, dirty := range flags {
		badges[strconv.FormatInt(id, 10)] = dirty
	}

	hasNewUsers, err := s.users.HasNewerThan(r.Context(), parseWatermark(req.LastViewedUsers))
	if err != nil {
		s.internalError(w, r, err, "count new users")
		return
	}
	hasNewPosts, err := s.posts.HasNewerThan(r.Context(), parseWatermark(req.LastViewedPosts))
	if err != nil {
		s.internalError(w, r, err, "count new posts")
		return
	}

	writeSuccess(w, map[string]interface{}{
		"query_badges":  badges,
		"has_new_users": hasNewUsers,
		"has_new_posts": hasNewPosts,
	})
}

// parseWatermark reads an RFC3339 timestamp; anything unparseable means
// "never viewed", so everything counts as new.
func parseWatermark(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// handleRegisterDevice attaches a device and its APNs token to a user.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		DeviceID  string `json:"device_id"`
		APNSToken string `json:"apns_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Email == "" || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "email and device_id are required")
		return
	}

	err := s.users.RegisterDevice(r.Context(), req.Email, req.DeviceID, req.APNSToken)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}
	if err != nil {
		s.internalError(w, r, err, "register device")
		return
	}
	writeSuccess(w, nil)
}
