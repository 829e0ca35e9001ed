package search

import (
	"context"
	"errors"
	"time"
)

// ErrSourceUnavailable indicates the upstream search source could not be
// reached or answered with a server error. Distinguished so callers can
// report "source down" instead of a generic failure.
var ErrSourceUnavailable = errors.New("search: source unavailable")

// Post is one search result. Absent numeric fields are zero and absent
// text fields are empty strings; there is no optional probing.
type Post struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Subreddit   string    `json:"subreddit"`
	Author      string    `json:"author"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
	CreatedAt   time.Time `json:"created_at"`
	URL         string    `json:"url"`
	Text        string    `json:"text"`
}

// EngagementRate is the comment-to-score ratio used to rank posts in
// notification summaries.
func (p *Post) EngagementRate() float64 {
	if p.Score <= 0 {
		return 0
	}
	return float64(p.NumComments) / float64(p.Score) * 100
}

// Request describes one search against the provider
type Request struct {
	Keywords   []string
	Subreddit  string
	Sort       string
	MaxResults int
}

// Query returns the keywords joined into a single query string
func (r *Request) Query() string {
	q := ""
	for i, k := range r.Keywords {
		if i > 0 {
			q += " "
		}
		q += k
	}
	return q
}

// Provider returns ranked posts for a search request. Implementations must
// honor the context deadline.
type Provider interface {
	Search(ctx context.Context, req Request) ([]Post, error)
}
