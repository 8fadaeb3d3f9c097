// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package routefile

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"net/url"
	"path"

	"github.com/wneessen/locsim/internal/http"
)

// Fetcher loads route documents from remote URLs.
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a Fetcher using the given HTTP client.
func NewFetcher(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch downloads and parses the route document at the given URL. The format is derived
// from the URL path and falls back to the content type of the response.
func (f *Fetcher) Fetch(ctx context.Context, endpoint string) (*Route, error) {
	reqURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse route URL: %w", err)
	}

	data, contentType, status, err := f.client.GetBytes(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch route: %w", err)
	}
	if status != stdhttp.StatusOK {
		return nil, fmt.Errorf("failed to fetch route: unexpected status code %d", status)
	}

	format, err := FormatFromPath(reqURL.Path)
	if err != nil {
		if format, err = FormatFromContentType(contentType); err != nil {
			return nil, err
		}
	}
	route, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse route from %s: %w", reqURL.Redacted(), err)
	}
	if route.Name == "" {
		route.Name = path.Base(reqURL.Path)
	}
	return route, nil
}
