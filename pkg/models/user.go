package models

import "time"

// User is an account holder. The ancestor chain is the ordered list of
// user ids from the user up to the root inviter; chain[0] is always the
// user's own id.
type User struct {
	ID                 int64           `json:"id"`
	Email              string          `json:"email"`
	DisplayName        string          `json:"display_name,omitempty"`
	DeviceIDs          JSONStringArray `json:"device_ids,omitempty"`
	PushToken          string          `json:"-"`
	AncestorChain      JSONInt64Array  `json:"ancestor_chain,omitempty"`
	ProfileComplete    bool            `json:"profile_complete"`
	ProfileCompletedAt *time.Time      `json:"profile_completed_at,omitempty"`
	LastActivity       *time.Time      `json:"last_activity,omitempty"`
	InvitesRemaining   int             `json:"invites_remaining"`
	CreatedAt          time.Time       `json:"created_at"`
}

// HasPushToken reports whether the user can receive push notifications.
func (u *User) HasPushToken() bool { return u.PushToken != "" }

// ChainDistance returns the social proximity between two users: the
// number of hops to the nearest common ancestor, or -1 when the chains
// never meet.
func ChainDistance(a, b JSONInt64Array) int {
	pos := make(map[int64]int, len(a))
	for i, id := range a {
		pos[id] = i
	}
	for j, id := range b {
		if i, ok := pos[id]; ok {
			return i + j
		}
	}
	return -1
}
