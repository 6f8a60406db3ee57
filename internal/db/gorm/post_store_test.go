package gorm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asnar00/firefly/pkg/models"
)

func TestPostUpdateBumpsRevision(t *testing.T) {
	store := testStore(t)
	posts := NewPostStore(store)
	ctx := context.Background()

	user := seedUser(t, store, "a@example.com")
	p := seedPost(t, store, user.ID, models.TemplatePost, "original", time.Time{})
	assert.Equal(t, int64(0), p.Revision)

	p.Title = "edited"
	updated, err := posts.Update(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Title)
	assert.Equal(t, int64(1), updated.Revision)

	rev, err := posts.Revision(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)
}

func TestPostTemplateDefaults(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	user := seedUser(t, store, "a@example.com")
	p := &models.Post{UserID: user.ID, Title: "untagged"}
	require.NoError(t, NewPostStore(store).Create(ctx, p))
	assert.Equal(t, models.TemplatePost, p.TemplateName)
	assert.Equal(t, models.ParentRoot, p.Parent.Kind)
}

func TestProfileSentinelRoundTrip(t *testing.T) {
	store := testStore(t)
	posts := NewPostStore(store)
	ctx := context.Background()

	user := seedUser(t, store, "a@example.com")
	p := &models.Post{
		UserID:       user.ID,
		Title:        "about me",
		TemplateName: models.TemplateProfile,
		Parent:       models.ParentRef{Kind: models.ParentProfile},
	}
	require.NoError(t, posts.Create(ctx, p))

	got, err := posts.ProfileForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParentProfile, got.Parent.Kind)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, int64(models.ProfileParentSentinel), *got.ParentID)

	_, err = posts.ProfileForUser(ctx, user.ID+999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListContentPostsExcludesQueriesAndProfiles(t *testing.T) {
	store := testStore(t)
	posts := NewPostStore(store)
	ctx := context.Background()

	user := seedUser(t, store, "a@example.com")
	content := seedPost(t, store, user.ID, models.TemplatePost, "content", time.Time{})
	seedPost(t, store, user.ID, models.TemplateQuery, "query", time.Time{})
	seedPost(t, store, user.ID, models.TemplateProfile, "profile", time.Time{})

	got, err := posts.ListContentPosts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, content.ID, got[0].ID)

	queries, err := posts.ListQueries(ctx)
	require.NoError(t, err)
	require.Len(t, queries, 1)
}

func TestReservedTemplatesSeeded(t *testing.T) {
	store := testStore(t)
	posts := NewPostStore(store)
	ctx := context.Background()

	for _, name := range []string{models.TemplatePost, models.TemplateProfile, models.TemplateQuery} {
		placeholder, err := posts.TemplatePlaceholder(ctx, name)
		require.NoError(t, err)
		assert.NotEmpty(t, placeholder, "template %q", name)
	}

	placeholder, err := posts.TemplatePlaceholder(ctx, "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, placeholder)
}

func TestHasNewerThan(t *testing.T) {
	store := testStore(t)
	posts := NewPostStore(store)
	ctx := context.Background()

	user := seedUser(t, store, "a@example.com")
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedPost(t, store, user.ID, models.TemplatePost, "p", base)
	// Queries never count as new content.
	seedPost(t, store, user.ID, models.TemplateQuery, "q", base.Add(2*time.Hour))

	newer, err := posts.HasNewerThan(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, newer)

	newer, err = posts.HasNewerThan(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, newer)
}
