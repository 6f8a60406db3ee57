package notify

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	db "github.com/asnar00/firefly/internal/db/gorm"
	"github.com/asnar00/firefly/internal/embedding"
	"github.com/asnar00/firefly/pkg/models"
)

type recordingPusher struct {
	mu     sync.Mutex
	pushes []recordedPush
}

type recordedPush struct {
	token string
	title string
	body  string
}

func (p *recordingPusher) Push(_ context.Context, token, title, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, recordedPush{token: token, title: title, body: body})
	return nil
}

type stubModel struct {
	vectors map[string][]float32
}

func (m *stubModel) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := m.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = make([]float32, embedding.Dim)
		}
	}
	return out, nil
}

func (m *stubModel) Dimensions() int { return embedding.Dim }
func (m *stubModel) Close() error    { return nil }

func dirVec(x, y float64) []float32 {
	v := make([]float32, embedding.Dim)
	n := math.Sqrt(x*x + y*y)
	if n == 0 {
		return v
	}
	v[0], v[1] = float32(x/n), float32(y/n)
	return v
}

type fixture struct {
	users      *db.UserStore
	posts      *db.PostStore
	embeddings *embedding.Store
	pusher     *recordingPusher
	notifier   *Notifier
}

func newFixture(t *testing.T, vectors map[string][]float32) *fixture {
	t.Helper()

	store, err := db.NewStore(db.Config{
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		MaxConns:   4,
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	embeddings, err := embedding.NewStore(t.TempDir(), &stubModel{vectors: vectors})
	require.NoError(t, err)

	users := db.NewUserStore(store)
	posts := db.NewPostStore(store)
	pusher := &recordingPusher{}

	return &fixture{
		users:      users,
		posts:      posts,
		embeddings: embeddings,
		pusher:     pusher,
		notifier:   New(users, posts, embeddings, pusher),
	}
}

func (f *fixture) seedUser(t *testing.T, email, token string) *models.User {
	t.Helper()
	ctx := context.Background()
	u := &models.User{Email: email, DisplayName: email}
	require.NoError(t, f.users.Create(ctx, u))
	if token != "" {
		require.NoError(t, f.users.RegisterDevice(ctx, email, "dev-"+email, token))
		u.PushToken = token
	}
	return u
}

func TestPostCreatedOnePushPerRecipient(t *testing.T) {
	f := newFixture(t, map[string][]float32{
		"new post":   dirVec(1, 0),
		"interested": dirVec(1, 0.1), // dense sim well above 0.3
		"unrelated":  dirVec(0, 1),
	})
	ctx := context.Background()

	author := f.seedUser(t, "author@example.com", "tok-author")
	matched := f.seedUser(t, "matched@example.com", "tok-matched")
	f.seedUser(t, "generic@example.com", "tok-generic")
	f.seedUser(t, "silent@example.com", "")

	// The matched recipient owns a query close to the new post; give
	// them a second query too, to confirm only one push goes out.
	for _, title := range []string{"interested", "unrelated"} {
		q := &models.Post{UserID: matched.ID, Title: title, TemplateName: models.TemplateQuery}
		require.NoError(t, f.posts.Create(ctx, q))
		require.NoError(t, f.embeddings.Put(ctx, q.ID, q.Title, "", ""))
	}

	post := &models.Post{UserID: author.ID, Title: "new post", TemplateName: models.TemplatePost}
	require.NoError(t, f.posts.Create(ctx, post))
	require.NoError(t, f.embeddings.Put(ctx, post.ID, post.Title, "", ""))

	f.notifier.PostCreated(ctx, post, author)

	byToken := map[string][]recordedPush{}
	for _, p := range f.pusher.pushes {
		byToken[p.token] = append(byToken[p.token], p)
	}

	assert.NotContains(t, byToken, "tok-author", "author is never notified")
	require.Len(t, byToken["tok-matched"], 1)
	assert.Equal(t, "Matched your query", byToken["tok-matched"][0].title)
	require.Len(t, byToken["tok-generic"], 1)
	assert.Equal(t, "New post", byToken["tok-generic"][0].title)
}

func TestPostCreatedWithoutEmbeddingsFallsBackToGeneric(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	author := f.seedUser(t, "author@example.com", "tok-author")
	f.seedUser(t, "other@example.com", "tok-other")

	post := &models.Post{UserID: author.ID, Title: "no vectors", TemplateName: models.TemplatePost}
	require.NoError(t, f.posts.Create(ctx, post))

	f.notifier.PostCreated(ctx, post, author)

	require.Len(t, f.pusher.pushes, 1)
	assert.Equal(t, "New post", f.pusher.pushes[0].title)
}

func TestProfileCompletedBroadcast(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	member := f.seedUser(t, "member@example.com", "tok-member")
	f.seedUser(t, "a@example.com", "tok-a")
	f.seedUser(t, "b@example.com", "tok-b")

	f.notifier.ProfileCompleted(ctx, member)

	require.Len(t, f.pusher.pushes, 2)
	for _, p := range f.pusher.pushes {
		assert.NotEqual(t, "tok-member", p.token)
		assert.Equal(t, "New member", p.title)
	}
}
