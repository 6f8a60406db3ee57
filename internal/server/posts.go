package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	db "github.com/asnar00/firefly/internal/db/gorm"
	"github.com/asnar00/firefly/internal/matcher"
	"github.com/asnar00/firefly/pkg/models"
)

const maxUploadBytes = 16 << 20

// handleCreatePost persists a post, regenerates its embeddings and
// dispatches matching. Queries are populated synchronously on a shared
// worker so the first read already has results; plain posts fan out
// asynchronously and notify recipients.
func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart form")
		return
	}

	email := r.FormValue("email")
	title := r.FormValue("title")
	if email == "" || title == "" {
		writeError(w, http.StatusBadRequest, "email and title are required")
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

	post := &models.Post{
		UserID:       user.ID,
		Title:        title,
		Summary:      r.FormValue("summary"),
		Body:         r.FormValue("body"),
		Timezone:     r.FormValue("timezone"),
		LocationTag:  r.FormValue("location_tag"),
		TemplateName: r.FormValue("template_name"),
		AIGenerated:  r.FormValue("ai_generated") == "true",
	}
	if post.TemplateName == "" {
		post.TemplateName = models.TemplatePost
	}

	if raw := r.FormValue("parent_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "parent_id must be an integer")
			return
		}
		post.Parent = models.ParentFromDB(&id)
	} else if !post.IsQuery() && post.TemplateName != models.TemplateProfile {
		// Any content template defaults to the author's profile post.
		if profile, err := s.posts.ProfileForUser(r.Context(), user.ID); err == nil {
			post.Parent = models.ParentRef{Kind: models.ParentPost, ID: profile.ID}
		}
	}
	if post.TemplateName == models.TemplateProfile {
		post.Parent = models.ParentRef{Kind: models.ParentProfile}
	}

	if err := s.posts.Create(r.Context(), post); err != nil {
		s.internalError(w, r, err, "create post")
		return
	}

	if url, err := s.saveImage(r, post.ID); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Int64("post_id", post.ID).Msg("Image upload failed")
	} else if url != "" {
		post.ImageURL = url
		if _, err := s.posts.Update(r.Context(), post); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Int64("post_id", post.ID).Msg("Image URL update failed")
		}
	}

	// Embedding failure keeps the post; matching catches up later.
	if err := s.embeddings.Put(r.Context(), post.ID, post.Title, post.Summary, post.Body); err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("post_id", post.ID).Msg("Embedding generation failed")
	}

	switch post.TemplateName {
	case models.TemplateQuery:
		if err := s.pool.PopulateQuerySync(context.WithoutCancel(r.Context()), post.ID); err != nil {
			hlog.FromRequest(r).Error().Err(err).Int64("query_id", post.ID).Msg("Initial query population failed")
		}
	case models.TemplateProfile:
		if err := s.users.MarkProfileComplete(r.Context(), user.ID, time.Now().UTC()); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Int64("user_id", user.ID).Msg("Profile completion update failed")
		} else {
			go s.notifier.ProfileCompleted(context.WithoutCancel(r.Context()), user)
		}
	default:
		// Every non-query, non-profile template is content.
		s.pool.Submit(matcher.Job{Kind: matcher.JobMatchPost, ID: post.ID})
		go s.notifier.PostCreated(context.WithoutCancel(r.Context()), post, user)
	}

	writeSuccess(w, map[string]interface{}{"post": post})
}

// handleUpdatePost rewrites an owned post, refreshes embeddings and
// re-runs matching in the direction the template requires.
func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart form")
		return
	}

	postID, err := strconv.ParseInt(r.FormValue("post_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "post_id must be an integer")
		return
	}
	email := r.FormValue("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	_, post, ok := s.authorizeOwner(w, r, email, postID)
	if !ok {
		return
	}

	post.Title = r.FormValue("title")
	post.Summary = r.FormValue("summary")
	post.Body = r.FormValue("body")
	if raw := r.FormValue("clip_offset_x"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "clip_offset_x must be a number")
			return
		}
		// Drag overshoot past the edge is clamped, not rejected.
		post.ClipOffsetX = clamp(v, -1, 1)
	}
	if raw := r.FormValue("clip_offset_y"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "clip_offset_y must be a number")
			return
		}
		post.ClipOffsetY = clamp(v, -1, 1)
	}
	if url, err := s.saveImage(r, post.ID); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Int64("post_id", post.ID).Msg("Image upload failed")
	} else if url != "" {
		post.ImageURL = url
	}

	updated, err := s.posts.Update(r.Context(), post)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err, "update post")
		return
	}

	if err := s.embeddings.Put(r.Context(), updated.ID, updated.Title, updated.Summary, updated.Body); err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("post_id", updated.ID).Msg("Embedding regeneration failed")
	}

	if updated.IsQuery() {
		s.pool.Submit(matcher.Job{Kind: matcher.JobRefreshQuery, ID: updated.ID})
	} else {
		s.pool.Submit(matcher.Job{Kind: matcher.JobMatchPost, ID: updated.ID})
	}

	writeSuccess(w, map[string]interface{}{"post": updated})
}

// handleDeletePost cascades through cache rows and the embedding file
// before the row itself.
func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	postID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "post id must be an integer")
		return
	}
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if _, _, ok := s.authorizeOwner(w, r, email, postID); !ok {
		return
	}

	if err := s.matcher.DeletePost(r.Context(), postID); err != nil {
		s.internalError(w, r, err, "delete post")
		return
	}
	writeSuccess(w, nil)
}

// handleGetPost returns one post with its template placeholder and
// author.
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	postID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "post id must be an integer")
		return
	}

	post, err := s.posts.GetByID(r.Context(), postID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err, "get post")
		return
	}

	placeholder, err := s.posts.TemplatePlaceholder(r.Context(), post.TemplateName)
	if err != nil {
		s.internalError(w, r, err, "get template")
		return
	}

	author, err := s.users.GetByID(r.Context(), post.UserID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		s.internalError(w, r, err, "get author")
		return
	}

	writeSuccess(w, map[string]interface{}{
		"post":        post,
		"placeholder": placeholder,
		"author":      author,
	})
}

// authorizeOwner loads the user and post and rejects callers that do
// not own the post. The not-found and not-owner replies are identical
// so the endpoint never leaks whether a post exists.
func (s *Server) authorizeOwner(w http.ResponseWriter, r *http.Request, email string, postID int64) (*models.User, *models.Post, bool) {
	user, err := s.users.GetByEmail(r.Context(), email)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusForbidden, "not authorized")
		return nil, nil, false
	}
	if err != nil {
		s.internalError(w, r, err, "load user")
		return nil, nil, false
	}

	post, err := s.posts.GetByID(r.Context(), postID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusForbidden, "not authorized")
		return nil, nil, false
	}
	if err != nil {
		s.internalError(w, r, err, "load post")
		return nil, nil, false
	}

	if post.UserID != user.ID {
		writeError(w, http.StatusForbidden, "not authorized")
		return nil, nil, false
	}
	return user, post, true
}

// saveImage stores an uploaded image under the data dir and returns its
// serving path, or "" when the form has no image.
func (s *Server) saveImage(r *http.Request, postID int64) (string, error) {
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer file.Close()

	ext := imageExt(header)
	dir := filepath.Join(s.cfg.DataDir, "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("post_%d%s", postID, ext)

	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		return "", err
	}
	return "/images/" + name, nil
}

func imageExt(header *multipart.FileHeader) string {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return ext
	default:
		return ".jpg"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error, op string) {
	hlog.FromRequest(r).Error().Err(err).Str("op", op).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}
