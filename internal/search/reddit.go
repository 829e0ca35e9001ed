package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"redscout/pkg/config"
)

// Sort methods accepted by the search endpoint
var SortOptions = map[string]bool{
	"relevance": true,
	"hot":       true,
	"top":       true,
	"new":       true,
}

// RedditProvider searches Reddit through its public JSON API.
type RedditProvider struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewRedditProvider builds a provider from search configuration
func NewRedditProvider(cfg *config.SearchConfig) *RedditProvider {
	return &RedditProvider{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID          string  `json:"id"`
				Title       string  `json:"title"`
				Subreddit   string  `json:"subreddit"`
				Author      string  `json:"author"`
				Score       int     `json:"score"`
				NumComments int     `json:"num_comments"`
				CreatedUTC  float64 `json:"created_utc"`
				Permalink   string  `json:"permalink"`
				SelfText    string  `json:"selftext"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Search queries the subreddit search endpoint and maps the listing into
// typed posts.
func (p *RedditProvider) Search(ctx context.Context, req Request) ([]Post, error) {
	subreddit := req.Subreddit
	if subreddit == "" {
		subreddit = "all"
	}

	endpoint := fmt.Sprintf("%s/r/%s/search.json", p.baseURL, url.PathEscape(subreddit))
	q := url.Values{}
	q.Set("q", req.Query())
	q.Set("restrict_sr", "on")
	q.Set("sort", req.Sort)
	q.Set("limit", fmt.Sprintf("%d", req.MaxResults))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: unexpected status %d", resp.StatusCode)
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}

	posts := make([]Post, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		d := child.Data
		posts = append(posts, Post{
			ID:          d.ID,
			Title:       d.Title,
			Subreddit:   d.Subreddit,
			Author:      d.Author,
			Score:       d.Score,
			NumComments: d.NumComments,
			CreatedAt:   time.Unix(int64(d.CreatedUTC), 0).UTC(),
			URL:         p.baseURL + d.Permalink,
			Text:        d.SelfText,
		})
	}
	return posts, nil
}
