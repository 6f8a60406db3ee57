// Package models contains domain models for the firefly matching engine.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Template tags that drive engine behavior. Any other tag is treated as
// plain content.
const (
	TemplatePost    = "post"
	TemplateProfile = "profile"
	TemplateQuery   = "query"
)

// ProfileParentSentinel is the database representation of "this is a
// profile post". In-memory code should go through ParentRef instead.
const ProfileParentSentinel = -1

// ParentKind tags the three possible parent states of a post.
type ParentKind int

const (
	// ParentRoot means the post has no parent.
	ParentRoot ParentKind = iota
	// ParentProfile marks the user's single self-describing post.
	ParentProfile
	// ParentPost means the post hangs under another post.
	ParentPost
)

// ParentRef is the in-memory union for a post's parent: a concrete parent
// id, a root post, or the profile sentinel.
type ParentRef struct {
	Kind ParentKind
	ID   int64 // valid only when Kind == ParentPost
}

// ParentFromDB converts the stored parent_id (nullable, with -1 meaning
// profile) into the tagged union.
func ParentFromDB(id *int64) ParentRef {
	if id == nil {
		return ParentRef{Kind: ParentRoot}
	}
	if *id == ProfileParentSentinel {
		return ParentRef{Kind: ParentProfile}
	}
	return ParentRef{Kind: ParentPost, ID: *id}
}

// DBValue returns the database representation: nil, -1, or the parent id.
func (p ParentRef) DBValue() *int64 {
	switch p.Kind {
	case ParentProfile:
		v := int64(ProfileParentSentinel)
		return &v
	case ParentPost:
		v := p.ID
		return &v
	default:
		return nil
	}
}

// Post is a user-authored document. Posts with template "query" are
// standing interests matched against posts with template "post".
type Post struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	Parent           ParentRef  `json:"-"`
	ParentID         *int64     `json:"parent_id,omitempty"`
	Title            string     `json:"title"`
	Summary          string     `json:"summary"`
	Body             string     `json:"body"`
	TemplateName     string     `json:"template_name"`
	Timezone         string     `json:"timezone,omitempty"`
	LocationTag      string     `json:"location_tag,omitempty"`
	ImageURL         string     `json:"image_url,omitempty"`
	ClipOffsetX      float64    `json:"clip_offset_x,omitempty"`
	ClipOffsetY      float64    `json:"clip_offset_y,omitempty"`
	AIGenerated      bool       `json:"ai_generated,omitempty"`
	Revision         int64      `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	LastMatchAddedAt *time.Time `json:"last_match_added_at,omitempty"`
}

// IsQuery reports whether the post is a standing query.
func (p *Post) IsQuery() bool { return p.TemplateName == TemplateQuery }

// IsProfile reports whether the post is a profile post.
func (p *Post) IsProfile() bool { return p.TemplateName == TemplateProfile }

// Document returns the post's text in the fixed order the engine embeds
// and judges it: title, summary, body.
func (p *Post) Document() (title, summary, body string) {
	return p.Title, p.Summary, p.Body
}

// MatchRow is one cached relevance judgement for a (query, post) pair.
// Score is the stored 0-100 integer.
type MatchRow struct {
	QueryID       int64     `json:"query_id"`
	PostID        int64     `json:"post_id"`
	Score         int       `json:"score"`
	MatchedAt     time.Time `json:"matched_at"`
	PostCreatedAt time.Time `json:"post_created_at"`
}

// SearchResult is the wire form of a match: the 0-100 score normalized
// to [0,1].
type SearchResult struct {
	ID             int64   `json:"id"`
	RelevanceScore float64 `json:"relevance_score"`
}

// WireResult converts a cached row to its wire form.
func (m MatchRow) WireResult() SearchResult {
	return SearchResult{ID: m.PostID, RelevanceScore: float64(m.Score) / 100}
}

// JSONInt64Array stores an ordered list of ids as a JSON text column.
type JSONInt64Array []int64

// Scan implements sql.Scanner for JSONInt64Array.
func (j *JSONInt64Array) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("JSONInt64Array: unsupported type %T", src)
	}
	if len(data) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONInt64Array.
func (j JSONInt64Array) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// JSONStringArray stores a list of opaque strings as a JSON text column.
type JSONStringArray []string

// Scan implements sql.Scanner for JSONStringArray.
func (j *JSONStringArray) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("JSONStringArray: unsupported type %T", src)
	}
	if len(data) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONStringArray.
func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
