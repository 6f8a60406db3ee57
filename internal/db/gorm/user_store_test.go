package gorm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asnar00/firefly/pkg/models"
)

func TestUserCreateSetsChainHead(t *testing.T) {
	store := testStore(t)
	users := NewUserStore(store)
	ctx := context.Background()

	inviter := &models.User{Email: "inviter@example.com"}
	require.NoError(t, users.Create(ctx, inviter))
	require.Equal(t, models.JSONInt64Array{inviter.ID}, inviter.AncestorChain)

	invitee := &models.User{
		Email:         "Invitee@Example.com",
		AncestorChain: inviter.AncestorChain,
	}
	require.NoError(t, users.Create(ctx, invitee))

	// chain[0] is the invitee itself, followed by the inviter's chain.
	require.Equal(t, models.JSONInt64Array{invitee.ID, inviter.ID}, invitee.AncestorChain)
	assert.Equal(t, "invitee@example.com", invitee.Email)

	got, err := users.GetByEmail(ctx, "INVITEE@example.com")
	require.NoError(t, err)
	assert.Equal(t, invitee.ID, got.ID)
}

func TestRegisterDevice(t *testing.T) {
	store := testStore(t)
	users := NewUserStore(store)
	ctx := context.Background()

	u := seedUser(t, store, "dev@example.com")

	require.NoError(t, users.RegisterDevice(ctx, "dev@example.com", "device-1", "token-a"))
	require.NoError(t, users.RegisterDevice(ctx, "dev@example.com", "device-1", "token-b"))
	require.NoError(t, users.RegisterDevice(ctx, "dev@example.com", "device-2", "token-b"))

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JSONStringArray{"device-1", "device-2"}, got.DeviceIDs)
	assert.Equal(t, "token-b", got.PushToken)

	err = users.RegisterDevice(ctx, "nobody@example.com", "d", "t")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListWithPushTokens(t *testing.T) {
	store := testStore(t)
	users := NewUserStore(store)
	ctx := context.Background()

	seedUser(t, store, "silent@example.com")
	noisy := seedUser(t, store, "noisy@example.com")
	require.NoError(t, users.RegisterDevice(ctx, noisy.Email, "d1", "tok"))

	got, err := users.ListWithPushTokens(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, noisy.ID, got[0].ID)
}

func TestTouchActivity(t *testing.T) {
	store := testStore(t)
	users := NewUserStore(store)
	ctx := context.Background()

	u := seedUser(t, store, "active@example.com")
	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	require.NoError(t, users.TouchActivity(ctx, u.Email, at))

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastActivity)
	assert.True(t, got.LastActivity.Equal(at))

	assert.ErrorIs(t, users.TouchActivity(ctx, "ghost@example.com", at), ErrNotFound)
}
