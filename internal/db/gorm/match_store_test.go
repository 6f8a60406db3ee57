package gorm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/asnar00/firefly/pkg/models"
)

// testStore creates a Store backed by a temporary sqlite database.
func testStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(Config{
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		MaxConns:   4,
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUser(t *testing.T, store *Store, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, DisplayName: "Test User"}
	require.NoError(t, NewUserStore(store).Create(context.Background(), u))
	return u
}

func seedPost(t *testing.T, store *Store, userID int64, template, title string, createdAt time.Time) *models.Post {
	t.Helper()
	p := &models.Post{
		UserID:       userID,
		Title:        title,
		TemplateName: template,
		CreatedAt:    createdAt,
	}
	require.NoError(t, NewPostStore(store).Create(context.Background(), p))
	return p
}

func TestMatchStoreUpsertReplacesScore(t *testing.T) {
	store := testStore(t)
	matches := NewMatchStore(store)
	ctx := context.Background()

	user := seedUser(t, store, "a@example.com")
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	query := seedPost(t, store, user.ID, models.TemplateQuery, "travel", base)
	post := seedPost(t, store, user.ID, models.TemplatePost, "beach trip", base.Add(time.Minute))

	require.NoError(t, matches.Upsert(ctx, query.ID, post.ID, 55, base.Add(time.Hour)))
	require.NoError(t, matches.Upsert(ctx, query.ID, post.ID, 70, base.Add(2*time.Hour)))

	rows, err := matches.ResultsForQuery(ctx, query.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 70, rows[0].Score)
	assert.Equal(t, post.ID, rows[0].PostID)
}

func TestMatchStoreOrdering(t *testing.T) {
	store := testStore(t)
	matches := NewMatchStore(store)
	ctx := context.Background()

	user := seedUser(t, store, "a@example.com")
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	query := seedPost(t, store, user.ID, models.TemplateQuery, "q", base)

	older := seedPost(t, store, user.ID, models.TemplatePost, "older", base.Add(1*time.Minute))
	newerLow := seedPost(t, store, user.ID, models.TemplatePost, "newer low", base.Add(2*time.Minute))
	newerHigh := seedPost(t, store, user.ID, models.TemplatePost, "newer high", base.Add(2*time.Minute))

	now := time.Now().UTC()
	require.NoError(t, matches.Upsert(ctx, query.ID, older.ID, 95, now))
	require.NoError(t, matches.Upsert(ctx, query.ID, newerLow.ID, 45, now))
	require.NoError(t, matches.Upsert(ctx, query.ID, newerHigh.ID, 80, now))

	rows, err := matches.ResultsForQuery(ctx, query.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Newest creation time first; ties broken by score descending.
	assert.Equal(t, newerHigh.ID, rows[0].PostID)
	assert.Equal(t, newerLow.ID, rows[1].PostID)
	assert.Equal(t, older.ID, rows[2].PostID)
}

func TestMatchStoreUpsertBumpsLastMatchAdded(t *testing.T) {
	store := testStore(t)
	matches := NewMatchStore(store)
	posts := NewPostStore(store)
	ctx := context.Background()

	user := seedUser(t, store, "a@example.com")
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	query := seedPost(t, store, user.ID, models.TemplateQuery, "q", base)
	post := seedPost(t, store, user.ID, models.TemplatePost, "p", base)

	before, err := posts.GetByID(ctx, query.ID)
	require.NoError(t, err)
	assert.Nil(t, before.LastMatchAddedAt)

	matchedAt := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, matches.Upsert(ctx, query.ID, post.ID, 60, matchedAt))

	after, err := posts.GetByID(ctx, query.ID)
	require.NoError(t, err)
	require.NotNil(t, after.LastMatchAddedAt)
	assert.True(t, after.LastMatchAddedAt.Equal(matchedAt))
}

func TestDirtyFlags(t *testing.T) {
	store := testStore(t)
	matches := NewMatchStore(store)
	ctx := context.Background()

	user := seedUser(t, store, "a@example.com")
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	matched := seedPost(t, store, user.ID, models.TemplateQuery, "matched", base)
	viewed := seedPost(t, store, user.ID, models.TemplateQuery, "viewed", base)
	untouched := seedPost(t, store, user.ID, models.TemplateQuery, "untouched", base)
	post := seedPost(t, store, user.ID, models.TemplatePost, "p", base)

	matchedAt := base.Add(time.Hour)
	require.NoError(t, matches.Upsert(ctx, matched.ID, post.ID, 60, matchedAt))
	require.NoError(t, matches.Upsert(ctx, viewed.ID, post.ID, 60, matchedAt))
	require.NoError(t, matches.RecordView(ctx, viewed.ID, "viewer@example.com", matchedAt.Add(time.Minute)))

	flags, err := matches.DirtyFlags(ctx, "viewer@example.com",
		[]int64{matched.ID, viewed.ID, untouched.ID})
	require.NoError(t, err)

	assert.True(t, flags[matched.ID], "match with no view is dirty")
	assert.False(t, flags[viewed.ID], "viewed after match is clean")
	assert.False(t, flags[untouched.ID], "no matches means clean")
}

func TestDirtyFlagFlipsOnView(t *testing.T) {
	store := testStore(t)
	matches := NewMatchStore(store)
	ctx := context.Background()

	user := seedUser(t, store, "a@example.com")
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	query := seedPost(t, store, user.ID, models.TemplateQuery, "q", base)
	post := seedPost(t, store, user.ID, models.TemplatePost, "p", base)

	require.NoError(t, matches.Upsert(ctx, query.ID, post.ID, 65, base.Add(time.Hour)))

	flags, err := matches.DirtyFlags(ctx, "v@example.com", []int64{query.ID})
	require.NoError(t, err)
	assert.True(t, flags[query.ID])

	require.NoError(t, matches.RecordView(ctx, query.ID, "v@example.com", base.Add(2*time.Hour)))

	flags, err = matches.DirtyFlags(ctx, "v@example.com", []int64{query.ID})
	require.NoError(t, err)
	assert.False(t, flags[query.ID])
}

func TestMatchStoreBulkDeletes(t *testing.T) {
	store := testStore(t)
	matches := NewMatchStore(store)
	ctx := context.Background()

	user := seedUser(t, store, "a@example.com")
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	q1 := seedPost(t, store, user.ID, models.TemplateQuery, "q1", base)
	q2 := seedPost(t, store, user.ID, models.TemplateQuery, "q2", base)
	p1 := seedPost(t, store, user.ID, models.TemplatePost, "p1", base)
	p2 := seedPost(t, store, user.ID, models.TemplatePost, "p2", base)

	now := time.Now().UTC()
	require.NoError(t, matches.Upsert(ctx, q1.ID, p1.ID, 50, now))
	require.NoError(t, matches.Upsert(ctx, q1.ID, p2.ID, 50, now))
	require.NoError(t, matches.Upsert(ctx, q2.ID, p1.ID, 50, now))

	require.NoError(t, matches.DeleteByPost(ctx, p1.ID))
	rows, err := matches.ResultsForQuery(ctx, q2.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, matches.DeleteByQuery(ctx, q1.ID))
	rows, err = matches.ResultsForQuery(ctx, q1.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPromptCacheInsertIfAbsent(t *testing.T) {
	store := testStore(t)
	cache := NewPromptCache(store)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "abc", "model-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, "abc", "model-1", `[{"id":1,"score":70}]`))
	// Second put with different content keeps the first row.
	require.NoError(t, cache.Put(ctx, "abc", "model-1", `[{"id":1,"score":10}]`))

	got, ok, err := cache.Get(ctx, "abc", "model-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[{"id":1,"score":70}]`, got)

	// Same hash under a different model is a distinct entry.
	_, ok, err = cache.Get(ctx, "abc", "model-2")
	require.NoError(t, err)
	assert.False(t, ok)
}
