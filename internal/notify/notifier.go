package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	db "github.com/asnar00/firefly/internal/db/gorm"
	"github.com/asnar00/firefly/internal/embedding"
	"github.com/asnar00/firefly/internal/telemetry"
	"github.com/asnar00/firefly/internal/vector"
	"github.com/asnar00/firefly/pkg/models"
)

// matchedPushThreshold is the dense similarity above which a recipient
// gets the "matched your query" variant instead of the generic one.
const matchedPushThreshold = 0.3

// Notifier decides who hears about a new post and what they hear.
// Delivery failures are logged, never propagated.
type Notifier struct {
	users      *db.UserStore
	posts      *db.PostStore
	embeddings *embedding.Store
	pusher     Pusher
}

// New creates a notifier.
func New(users *db.UserStore, posts *db.PostStore, embeddings *embedding.Store, pusher Pusher) *Notifier {
	telemetry.Init()
	return &Notifier{users: users, posts: posts, embeddings: embeddings, pusher: pusher}
}

// PostCreated notifies every token-holding user except the author.
// A recipient whose query densely matches the post gets a personalised
// message; everyone else gets the generic one. Exactly one notification
// per recipient.
func (n *Notifier) PostCreated(ctx context.Context, post *models.Post, author *models.User) {
	recipients, err := n.users.ListWithPushTokens(ctx)
	if err != nil {
		log.Error().Err(err).Msg("List push recipients failed")
		return
	}

	postRows, err := n.embeddings.Load(post.ID)
	if err != nil {
		// Without embeddings every recipient gets the generic message.
		postRows = nil
	}
	postRows = vector.NormalizeAll(postRows)

	// One query fetch serves the whole fan-out.
	var queries []*models.Post
	if len(postRows) > 0 {
		queries, err = n.posts.ListQueries(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("List queries for notification failed")
			queries = nil
		}
	}

	authorName := author.DisplayName
	if authorName == "" {
		authorName = author.Email
	}

	for _, r := range recipients {
		if r.ID == author.ID {
			continue
		}

		title, body := n.messageFor(r, queries, postRows, authorName, post.Title)
		if err := n.pusher.Push(ctx, r.PushToken, title, body); err != nil {
			log.Warn().Err(err).Int64("user_id", r.ID).Msg("Push delivery failed")
			continue
		}
		telemetry.Instruments.PushesSent.Add(ctx, 1)
	}
}

// messageFor picks the matched variant when one of the recipient's
// queries clears the dense threshold against the new post.
func (n *Notifier) messageFor(recipient *models.User, queries []*models.Post, postRows [][]float32, authorName, postTitle string) (title, body string) {
	generic := func() (string, string) {
		return "New post", fmt.Sprintf("%s posted: %s", authorName, postTitle)
	}
	if len(postRows) == 0 {
		return generic()
	}

	for _, q := range queries {
		if q.UserID != recipient.ID {
			continue
		}
		qRows, err := n.embeddings.Load(q.ID)
		if err != nil {
			continue
		}
		if vector.MaxScalar(vector.NormalizeAll(qRows), postRows) >= matchedPushThreshold {
			return "Matched your query",
				fmt.Sprintf("%s posted something matching %q", authorName, q.Title)
		}
	}
	return generic()
}

// ProfileCompleted broadcasts a new-member message to every other
// token holder.
func (n *Notifier) ProfileCompleted(ctx context.Context, member *models.User) {
	recipients, err := n.users.ListWithPushTokens(ctx)
	if err != nil {
		log.Error().Err(err).Msg("List push recipients failed")
		return
	}

	name := member.DisplayName
	if name == "" {
		name = member.Email
	}

	for _, r := range recipients {
		if r.ID == member.ID {
			continue
		}
		if err := n.pusher.Push(ctx, r.PushToken, "New member", fmt.Sprintf("%s just joined", name)); err != nil {
			log.Warn().Err(err).Int64("user_id", r.ID).Msg("Push delivery failed")
			continue
		}
		telemetry.Instruments.PushesSent.Add(ctx, 1)
	}
}
