package domain

import "time"

// LinkStatus is the lifecycle state of a Link. Deleted is terminal.
type LinkStatus string

const (
	StatusActive  LinkStatus = "active"
	StatusDeleted LinkStatus = "deleted"
)

// Link represents a shortened URL
type Link struct {
	ID           int64      `json:"id,omitempty" yaml:"id,omitempty"`
	Code         string     `json:"code" yaml:"code"`
	Alias        string     `json:"alias" yaml:"alias"`
	LongURL      string     `json:"long_url" yaml:"long_url"`
	CreatedAt    time.Time  `json:"created_at" yaml:"created_at"`
	RequestLimit *int64     `json:"request_limit,omitempty" yaml:"request_limit,omitempty"`
	Status       LinkStatus `json:"status" yaml:"status"`
	Stats        LinkStats  `json:"stats" yaml:"stats"`
}

// LinkStats holds the per-link usage counters updated by redirects.
type LinkStats struct {
	AccessCount    int64      `json:"access_count" yaml:"access_count"`
	UniqueUsers    int64      `json:"unique_users" yaml:"unique_users"`
	AccessedFrom   []string   `json:"accessed_from" yaml:"accessed_from"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty" yaml:"last_accessed_at,omitempty"`
}

// StatSummary is the listStats projection of an active link.
type StatSummary struct {
	Code           string     `json:"code"`
	Alias          string     `json:"alias"`
	AccessCount    int64      `json:"access_count"`
	UniqueUsers    int64      `json:"unique_users"`
	AccessedFrom   []string   `json:"accessed_from"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// NewLink returns an active link with zeroed stats.
func NewLink(code, alias, longURL string, limit *int64, now time.Time) *Link {
	if alias == "" {
		alias = code
	}
	return &Link{
		Code:         code,
		Alias:        alias,
		LongURL:      longURL,
		CreatedAt:    now,
		RequestLimit: limit,
		Status:       StatusActive,
		Stats:        LinkStats{AccessedFrom: []string{}},
	}
}

func (l *Link) IsActive() bool {
	return l.Status == StatusActive
}

// LimitReached reports whether the link has consumed its request limit.
func (l *Link) LimitReached() bool {
	return l.RequestLimit != nil && l.Stats.AccessCount >= *l.RequestLimit
}

// HasVisitor reports whether clientID has already been recorded.
func (l *Link) HasVisitor(clientID string) bool {
	for _, ip := range l.Stats.AccessedFrom {
		if ip == clientID {
			return true
		}
	}
	return false
}

// Matches reports whether identifier addresses this link.
func (l *Link) Matches(identifier string) bool {
	return l.Code == identifier || l.Alias == identifier
}

func (l *Link) Summary() StatSummary {
	from := l.Stats.AccessedFrom
	if from == nil {
		from = []string{}
	}
	return StatSummary{
		Code:           l.Code,
		Alias:          l.Alias,
		AccessCount:    l.Stats.AccessCount,
		UniqueUsers:    l.Stats.UniqueUsers,
		AccessedFrom:   from,
		LastAccessedAt: l.Stats.LastAccessedAt,
	}
}

// Clone returns a deep copy so stores can hand out records without sharing state.
func (l *Link) Clone() *Link {
	c := *l
	if l.RequestLimit != nil {
		v := *l.RequestLimit
		c.RequestLimit = &v
	}
	if l.Stats.LastAccessedAt != nil {
		t := *l.Stats.LastAccessedAt
		c.Stats.LastAccessedAt = &t
	}
	c.Stats.AccessedFrom = append([]string{}, l.Stats.AccessedFrom...)
	return &c
}

// Int64 is a helper for optional request limits.
func Int64(v int64) *int64 { return &v }

// CreateLinkInput is the payload for creating a link.
type CreateLinkInput struct {
	LongURL      string `json:"longUrl"`
	Alias        string `json:"alias,omitempty"`
	RequestLimit *int64 `json:"requestLimit,omitempty"`
}
