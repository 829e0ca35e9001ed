package command

import (
	"strconv"
	"strings"

	"redscout/internal/search"
	"redscout/pkg/config"
)

// DefaultKeyword is used when the command carries no keyword tokens at
// all; an empty search is served rather than rejected.
const DefaultKeyword = "trending"

// ParseCommand tokenizes free command text into a search request. Tokens
// are consumed left to right: "in" takes the following token as the
// subreddit, a known sort method sets the sort, a purely numeric token
// sets the result count (capped), and everything else accumulates as a
// keyword.
func ParseCommand(text string, cfg *config.SearchConfig) search.Request {
	req := search.Request{
		Subreddit:  cfg.DefaultSubreddit,
		Sort:       cfg.DefaultSort,
		MaxResults: cfg.DefaultMaxResults,
	}

	tokens := strings.Fields(text)
	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		lower := strings.ToLower(token)

		if lower == "in" && i+1 < len(tokens) {
			req.Subreddit = strings.TrimPrefix(tokens[i+1], "r/")
			i++
			continue
		}
		if search.SortOptions[lower] {
			req.Sort = lower
			continue
		}
		if n, err := strconv.Atoi(token); err == nil && n > 0 {
			if n > cfg.MaxResultsCap {
				n = cfg.MaxResultsCap
			}
			req.MaxResults = n
			continue
		}
		req.Keywords = append(req.Keywords, token)
	}

	if len(req.Keywords) == 0 {
		req.Keywords = []string{DefaultKeyword}
	}
	return req
}
