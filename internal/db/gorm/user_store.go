package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gormdb "gorm.io/gorm"

	"github.com/asnar00/firefly/pkg/models"
)

// UserStore handles user operations. Emails are case-folded before every
// lookup and write.
type UserStore struct {
	store *Store
}

// NewUserStore creates a user store backed by the shared connection.
func NewUserStore(store *Store) *UserStore {
	return &UserStore{store: store}
}

func foldEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a user and fills in its id. The ancestor chain is
// rewritten so chain[0] is the new user's own id.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "user_create")
	defer cancel()

	row := User{
		Email:            foldEmail(user.Email),
		DisplayName:      user.DisplayName,
		DeviceIDs:        user.DeviceIDs,
		PushToken:        user.PushToken,
		AncestorChain:    user.AncestorChain,
		InvitesRemaining: user.InvitesRemaining,
	}
	if err := s.store.DB.WithContext(timeoutCtx).Create(&row).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	// chain[0] must be the user's own id, known only after insert.
	chain := append(models.JSONInt64Array{row.ID}, user.AncestorChain...)
	if err := s.store.DB.WithContext(timeoutCtx).Model(&row).
		Update("ancestor_chain", chain).Error; err != nil {
		return fmt.Errorf("set ancestor chain for user %d: %w", row.ID, err)
	}

	user.ID = row.ID
	user.Email = row.Email
	user.AncestorChain = chain
	user.CreatedAt = row.CreatedAt
	return nil
}

// GetByEmail fetches a user by case-folded email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "user_get_email")
	defer cancel()

	var row User
	err := s.store.DB.WithContext(timeoutCtx).
		Where("email = ?", foldEmail(email)).First(&row).Error
	if errors.Is(err, gormdb.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", email, err)
	}
	return row.ToModel(), nil
}

// GetByID fetches a user by id.
func (s *UserStore) GetByID(ctx context.Context, id int64) (*models.User, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "user_get")
	defer cancel()

	var row User
	err := s.store.DB.WithContext(timeoutCtx).First(&row, id).Error
	if errors.Is(err, gormdb.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return row.ToModel(), nil
}

// RegisterDevice attaches a device id and push token to the user. The
// device id is appended once; the token overwrites any previous one.
func (s *UserStore) RegisterDevice(ctx context.Context, email, deviceID, pushToken string) error {
	return s.store.Transaction(ctx, DefaultQueryTimeout, func(tx *gormdb.DB) error {
		var row User
		err := tx.Where("email = ?", foldEmail(email)).First(&row).Error
		if errors.Is(err, gormdb.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get user %q: %w", email, err)
		}

		devices := row.DeviceIDs
		found := false
		for _, d := range devices {
			if d == deviceID {
				found = true
				break
			}
		}
		if !found {
			devices = append(devices, deviceID)
		}

		return tx.Model(&row).Updates(map[string]interface{}{
			"device_ids": devices,
			"push_token": pushToken,
		}).Error
	})
}

// TouchActivity records the user's last-seen time.
func (s *UserStore) TouchActivity(ctx context.Context, email string, at time.Time) error {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "user_touch")
	defer cancel()

	res := s.store.DB.WithContext(timeoutCtx).Model(&User{}).
		Where("email = ?", foldEmail(email)).
		Update("last_activity", at)
	if res.Error != nil {
		return fmt.Errorf("touch activity for %q: %w", email, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkProfileComplete sets the completion flag and timestamp once.
func (s *UserStore) MarkProfileComplete(ctx context.Context, userID int64, at time.Time) error {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "user_profile_complete")
	defer cancel()

	return s.store.DB.WithContext(timeoutCtx).Model(&User{}).
		Where("id = ? AND profile_complete = ?", userID, false).
		Updates(map[string]interface{}{
			"profile_complete":     true,
			"profile_completed_at": at,
		}).Error
}

// ListWithPushTokens returns every user that can receive pushes.
func (s *UserStore) ListWithPushTokens(ctx context.Context) ([]*models.User, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "user_list_push")
	defer cancel()

	var rows []User
	err := s.store.DB.WithContext(timeoutCtx).
		Where("push_token <> ''").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list users with push tokens: %w", err)
	}
	users := make([]*models.User, len(rows))
	for i := range rows {
		users[i] = rows[i].ToModel()
	}
	return users, nil
}

// HasNewerThan reports whether any user joined after t.
func (s *UserStore) HasNewerThan(ctx context.Context, t time.Time) (bool, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "user_has_newer")
	defer cancel()

	var count int64
	err := s.store.DB.WithContext(timeoutCtx).Model(&User{}).
		Where("created_at > ?", t).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count new users: %w", err)
	}
	return count > 0, nil
}
