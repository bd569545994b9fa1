package gitlab

import (
	"context"
	"net/url"
	"strings"
)

// getAll drives get across the server's pagination links, concatenating
// pages until no rel="next" link remains. After the first request the
// next-link URL is followed verbatim and the original query parameters are
// dropped: the link already encodes them, and re-appending would
// double-encode.
func getAll[T any](ctx context.Context, c *Client, path string, params url.Values) ([]T, error) {
	var all []T
	pageURL := c.baseURL + apiPrefix + path
	for pageURL != "" {
		var page []T
		next, err := c.get(ctx, pageURL, params, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		// An empty page with a next link is still followed: the server may
		// return a transient empty page mid-sequence.
		pageURL = next
		params = nil
	}
	return all, nil
}

// nextLink extracts the rel="next" URL from an HTTP Link header.
// Returns "" when the header is absent or carries no next relation.
func nextLink(header string) string {
	for _, link := range strings.Split(header, ",") {
		if !strings.Contains(link, `rel="next"`) {
			continue
		}
		start := strings.Index(link, "<")
		end := strings.Index(link, ">")
		if start >= 0 && end > start {
			return link[start+1 : end]
		}
	}
	return ""
}
