// Package finder queries the EO Data Finder (resto) catalog and follows its result pages.
package finder

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"creofinder/internal/errors"
)

const (
	DefaultSearchURL = "http://finder.creodias.eu/resto/api"
	DefaultTimeout   = 60 * time.Second

	maxRecords      = 1000
	statusBodyLimit = 4 << 10
)

// Feature is one catalog entry. Properties are kept as the catalog returns them.
type Feature struct {
	ID         string         `json:"id" yaml:"id"`
	Type       string         `json:"type,omitempty" yaml:"type,omitempty"`
	Geometry   map[string]any `json:"geometry,omitempty" yaml:"geometry,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Title returns properties.title when present.
func (f Feature) Title() string {
	s, _ := f.Properties["title"].(string)
	return s
}

type link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type searchPage struct {
	Features   []Feature `json:"features"`
	Properties struct {
		Links []link `json:"links"`
	} `json:"properties"`
}

type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.client = c
		}
	}
}

// WithTimeout bounds each page request.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.client = &http.Client{Timeout: d, Transport: cl.client.Transport}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultSearchURL
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchURL returns the first page URL for collection and q.
func (c *Client) SearchURL(collection string, q Query) (string, error) {
	if collection == "" {
		return "", errors.NewValidationError("build query", "collection must not be empty")
	}

	params, err := q.Values()
	if err != nil {
		return "", err
	}
	params.Set("maxRecords", strconv.Itoa(maxRecords))

	return c.baseURL + "/collections/" + url.PathEscape(collection) + "/search.json?" + params.Encode(), nil
}

// Query returns every feature matching q in collection, keyed by id. Result pages are followed
// through their next links; an id seen on several pages keeps the last page's feature.
func (c *Client) Query(ctx context.Context, collection string, q Query) (map[string]Feature, error) {
	next, err := c.SearchURL(collection, q)
	if err != nil {
		return nil, err
	}

	features := make(map[string]Feature)
	visited := make(map[string]struct{})
	pages := 0

	for next != "" {
		if _, ok := visited[next]; ok {
			c.logger.Warn("Catalog returned a next link that was already visited, stopping", "url", next)
			break
		}
		visited[next] = struct{}{}

		page, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		pages++

		for _, f := range page.Features {
			if f.ID == "" {
				c.logger.Debug("Skipping feature without id", "page", pages)
				continue
			}
			features[f.ID] = f
		}

		next = nextLink(page.Properties.Links)
	}

	c.logger.Debug("Catalog query finished", "collection", collection, "pages", pages, "features", len(features))

	return features, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (*searchPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, errors.NewValidationError("query", "invalid search URL %q: %w", pageURL, err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Fetching catalog page", "url", pageURL)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.ClassifyNetwork(err, "query", pageURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, statusBodyLimit))
		return nil, errors.NewStatusError("query", pageURL, resp.StatusCode, string(body))
	}

	var page searchPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, errors.ClassifyNetwork(err, "decode search response", pageURL)
	}
	return &page, nil
}

func nextLink(links []link) string {
	for _, l := range links {
		if l.Rel == "next" {
			return l.Href
		}
	}
	return ""
}
