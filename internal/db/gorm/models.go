package gorm

import (
	"time"

	gormdb "gorm.io/gorm"

	"github.com/asnar00/firefly/pkg/models"
)

// Post is the posts table. Queries and profiles are posts whose template
// carries the reserved tag; parent_id keeps the -1 profile sentinel for
// compatibility with existing rows.
type Post struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	UserID           int64  `gorm:"index:idx_posts_user;not null"`
	ParentID         *int64 `gorm:"index:idx_posts_parent"`
	Title            string `gorm:"type:text;not null"`
	Summary          string `gorm:"type:text"`
	Body             string `gorm:"type:text"`
	TemplateName     string `gorm:"type:text;index:idx_posts_template;not null;default:'post'"`
	Timezone         string `gorm:"type:text"`
	LocationTag      string `gorm:"type:text"`
	ImageURL         string `gorm:"type:text"`
	ClipOffsetX      float64
	ClipOffsetY      float64
	AIGenerated      bool       `gorm:"default:false"`
	Revision         int64      `gorm:"default:0"`
	CreatedAt        time.Time  `gorm:"index:idx_posts_created,sort:desc;autoCreateTime"`
	LastMatchAddedAt *time.Time `gorm:"index:idx_posts_last_match"`
}

func (Post) TableName() string { return "posts" }

// BeforeCreate defaults the template tag.
func (p *Post) BeforeCreate(tx *gormdb.DB) error {
	if p.TemplateName == "" {
		p.TemplateName = models.TemplatePost
	}
	return nil
}

// ToModel converts the row to the domain type.
func (p *Post) ToModel() *models.Post {
	return &models.Post{
		ID:               p.ID,
		UserID:           p.UserID,
		Parent:           models.ParentFromDB(p.ParentID),
		ParentID:         p.ParentID,
		Title:            p.Title,
		Summary:          p.Summary,
		Body:             p.Body,
		TemplateName:     p.TemplateName,
		Timezone:         p.Timezone,
		LocationTag:      p.LocationTag,
		ImageURL:         p.ImageURL,
		ClipOffsetX:      p.ClipOffsetX,
		ClipOffsetY:      p.ClipOffsetY,
		AIGenerated:      p.AIGenerated,
		Revision:         p.Revision,
		CreatedAt:        p.CreatedAt,
		LastMatchAddedAt: p.LastMatchAddedAt,
	}
}

// User is the users table.
type User struct {
	ID                 int64                  `gorm:"primaryKey;autoIncrement"`
	Email              string                 `gorm:"type:text;uniqueIndex;not null"`
	DisplayName        string                 `gorm:"type:text"`
	DeviceIDs          models.JSONStringArray `gorm:"type:text"`
	PushToken          string                 `gorm:"type:text;index:idx_users_push_token"`
	AncestorChain      models.JSONInt64Array  `gorm:"type:text"`
	ProfileComplete    bool                   `gorm:"default:false"`
	ProfileCompletedAt *time.Time
	LastActivity       *time.Time
	InvitesRemaining   int       `gorm:"default:5"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
}

func (User) TableName() string { return "users" }

// ToModel converts the row to the domain type.
func (u *User) ToModel() *models.User {
	return &models.User{
		ID:                 u.ID,
		Email:              u.Email,
		DisplayName:        u.DisplayName,
		DeviceIDs:          u.DeviceIDs,
		PushToken:          u.PushToken,
		AncestorChain:      u.AncestorChain,
		ProfileComplete:    u.ProfileComplete,
		ProfileCompletedAt: u.ProfileCompletedAt,
		LastActivity:       u.LastActivity,
		InvitesRemaining:   u.InvitesRemaining,
		CreatedAt:          u.CreatedAt,
	}
}

// Template is the templates table of known post templates. The reserved
// tags post/profile/query are seeded by migration.
type Template struct {
	Name        string    `gorm:"primaryKey;type:text"`
	Placeholder string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (Template) TableName() string { return "templates" }

// QueryResult is the durable match cache: one judged (query, post) pair.
type QueryResult struct {
	QueryID   int64     `gorm:"primaryKey;autoIncrement:false;index:idx_query_results_query"`
	PostID    int64     `gorm:"primaryKey;autoIncrement:false;index:idx_query_results_post"`
	Score     int       `gorm:"not null"`
	MatchedAt time.Time `gorm:"not null"`
}

func (QueryResult) TableName() string { return "query_results" }

// QueryView records when a viewer last looked at a query's results.
type QueryView struct {
	QueryID      int64     `gorm:"primaryKey;autoIncrement:false"`
	ViewerEmail  string    `gorm:"primaryKey;type:text"`
	LastViewedAt time.Time `gorm:"not null"`
}

func (QueryView) TableName() string { return "query_views" }

// SearchCache stores judge replies keyed by prompt hash and model.
// Rows are insert-only.
type SearchCache struct {
	PromptHash string    `gorm:"primaryKey;type:text"`
	Model      string    `gorm:"primaryKey;type:text"`
	Results    string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (SearchCache) TableName() string { return "search_cache" }
