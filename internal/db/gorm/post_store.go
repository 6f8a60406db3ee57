package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	gormdb "gorm.io/gorm"

	"github.com/asnar00/firefly/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// PostStore handles post operations. Queries and profiles live in the
// same table, distinguished by template tag.
type PostStore struct {
	store *Store
}

// NewPostStore creates a post store backed by the shared connection.
func NewPostStore(store *Store) *PostStore {
	return &PostStore{store: store}
}

// Create inserts a post and fills in its id and creation time.
func (s *PostStore) Create(ctx context.Context, post *models.Post) error {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "post_create")
	defer cancel()

	row := Post{
		UserID:       post.UserID,
		ParentID:     post.Parent.DBValue(),
		Title:        post.Title,
		Summary:      post.Summary,
		Body:         post.Body,
		TemplateName: post.TemplateName,
		Timezone:     post.Timezone,
		LocationTag:  post.LocationTag,
		ImageURL:     post.ImageURL,
		ClipOffsetX:  post.ClipOffsetX,
		ClipOffsetY:  post.ClipOffsetY,
		AIGenerated:  post.AIGenerated,
		CreatedAt:    post.CreatedAt, // zero value defers to autoCreateTime
	}
	if err := s.store.DB.WithContext(timeoutCtx).Create(&row).Error; err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	post.ID = row.ID
	post.ParentID = row.ParentID
	post.TemplateName = row.TemplateName
	post.CreatedAt = row.CreatedAt
	post.Revision = row.Revision
	return nil
}

// Update rewrites the post's editable fields and bumps its revision. The
// returned post carries the new revision.
func (s *PostStore) Update(ctx context.Context, post *models.Post) (*models.Post, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "post_update")
	defer cancel()

	res := s.store.DB.WithContext(timeoutCtx).Model(&Post{}).
		Where("id = ?", post.ID).
		Updates(map[string]interface{}{
			"title":         post.Title,
			"summary":       post.Summary,
			"body":          post.Body,
			"timezone":      post.Timezone,
			"location_tag":  post.LocationTag,
			"image_url":     post.ImageURL,
			"clip_offset_x": post.ClipOffsetX,
			"clip_offset_y": post.ClipOffsetY,
			"revision":      gormdb.Expr("revision + 1"),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update post %d: %w", post.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, post.ID)
}

// Delete removes the post row. Cached matches and embeddings are cleaned
// up by the caller.
func (s *PostStore) Delete(ctx context.Context, id int64) error {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "post_delete")
	defer cancel()

	res := s.store.DB.WithContext(timeoutCtx).Delete(&Post{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete post %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID fetches a single post.
func (s *PostStore) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "post_get")
	defer cancel()

	var row Post
	err := s.store.DB.WithContext(timeoutCtx).First(&row, id).Error
	if errors.Is(err, gormdb.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post %d: %w", id, err)
	}
	return row.ToModel(), nil
}

// Revision returns the post's current revision, or ErrNotFound if the
// post was deleted. The matcher compares this against its snapshot
// before committing matches.
func (s *PostStore) Revision(ctx context.Context, id int64) (int64, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "post_revision")
	defer cancel()

	var row Post
	err := s.store.DB.WithContext(timeoutCtx).Select("id", "revision").First(&row, id).Error
	if errors.Is(err, gormdb.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get post revision %d: %w", id, err)
	}
	return row.Revision, nil
}

// ListByTemplate returns all posts carrying the given template tag,
// newest first.
func (s *PostStore) ListByTemplate(ctx context.Context, template string) ([]*models.Post, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "post_list_template")
	defer cancel()

	var rows []Post
	err := s.store.DB.WithContext(timeoutCtx).
		Where("template_name = ?", template).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list posts by template %q: %w", template, err)
	}
	posts := make([]*models.Post, len(rows))
	for i := range rows {
		posts[i] = rows[i].ToModel()
	}
	return posts, nil
}

// ListContentPosts returns every matchable post, i.e. everything that is
// neither a query nor a profile.
func (s *PostStore) ListContentPosts(ctx context.Context) ([]*models.Post, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "post_list_content")
	defer cancel()

	var rows []Post
	err := s.store.DB.WithContext(timeoutCtx).
		Where("template_name NOT IN ?", []string{models.TemplateQuery, models.TemplateProfile}).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list content posts: %w", err)
	}
	posts := make([]*models.Post, len(rows))
	for i := range rows {
		posts[i] = rows[i].ToModel()
	}
	return posts, nil
}

// ListQueries returns every standing query.
func (s *PostStore) ListQueries(ctx context.Context) ([]*models.Post, error) {
	return s.ListByTemplate(ctx, models.TemplateQuery)
}

// ListAll returns every post regardless of template, for embedding
// regeneration.
func (s *PostStore) ListAll(ctx context.Context) ([]*models.Post, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "post_list_all")
	defer cancel()

	var rows []Post
	err := s.store.DB.WithContext(timeoutCtx).Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list all posts: %w", err)
	}
	posts := make([]*models.Post, len(rows))
	for i := range rows {
		posts[i] = rows[i].ToModel()
	}
	return posts, nil
}

// ProfileForUser returns the user's profile post, or ErrNotFound.
func (s *PostStore) ProfileForUser(ctx context.Context, userID int64) (*models.Post, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "post_profile")
	defer cancel()

	var row Post
	err := s.store.DB.WithContext(timeoutCtx).
		Where("user_id = ? AND template_name = ?", userID, models.TemplateProfile).
		First(&row).Error
	if errors.Is(err, gormdb.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile for user %d: %w", userID, err)
	}
	return row.ToModel(), nil
}

// HasNewerThan reports whether any content post was created after t.
func (s *PostStore) HasNewerThan(ctx context.Context, t time.Time) (bool, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "post_has_newer")
	defer cancel()

	var count int64
	err := s.store.DB.WithContext(timeoutCtx).Model(&Post{}).
		Where("template_name NOT IN ?", []string{models.TemplateQuery, models.TemplateProfile}).
		Where("created_at > ?", t).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count new posts: %w", err)
	}
	return count > 0, nil
}

// TemplatePlaceholder returns the placeholder text of a template, or ""
// if the template is unknown.
func (s *PostStore) TemplatePlaceholder(ctx context.Context, name string) (string, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "template_get")
	defer cancel()

	var row Template
	err := s.store.DB.WithContext(timeoutCtx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gormdb.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get template %q: %w", name, err)
	}
	return row.Placeholder, nil
}
