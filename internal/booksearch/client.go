// Package booksearch looks up book candidates in the Google Books volumes API.
package booksearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/candicemama-blip/thirdshelf/internal/metrics"
)

// DefaultBaseURL is the public Google Books endpoint.
const DefaultBaseURL = "https://www.googleapis.com/books/v1"

// MaxResults is the number of candidates requested per lookup.
const MaxResults = 8

// ErrNoResults is returned when upstream finds no volumes for the query.
var ErrNoResults = errors.New("booksearch: no results")

// Candidate is one lookup result used to pre-fill a new book.
type Candidate struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	CoverURL    string `json:"coverUrl"`
	TotalPages  int    `json:"totalPages"`
	Description string `json:"description"`
}

// Client defines the contract for querying the book lookup service.
type Client interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
	group   singleflight.Group
}

// NewHTTPClient constructs a new HTTP-backed lookup client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse book search url: %w", err)
	}
	return &HTTPClient{
		baseURL: parsed,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		logger: logger.Named("booksearch"),
	}, nil
}

// Search returns up to MaxResults candidates for query. Identical concurrent
// queries share one upstream request.
func (c *HTTPClient) Search(ctx context.Context, query string) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoResults
	}
	v, err, _ := c.group.Do(query, func() (interface{}, error) {
		return c.fetch(ctx, query)
	})
	switch {
	case errors.Is(err, ErrNoResults):
		metrics.SearchCalls.WithLabelValues("empty").Inc()
	default:
		metrics.SearchCalls.WithLabelValues(metrics.Outcome(err)).Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.([]Candidate), nil
}

func (c *HTTPClient) fetch(ctx context.Context, query string) ([]Candidate, error) {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + "/volumes"
	q := endpoint.Query()
	q.Set("q", query)
	q.Set("maxResults", fmt.Sprint(MaxResults))
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload volumesResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode book search response: %w", err)
		}
		candidates := convertToCandidates(payload)
		if len(candidates) == 0 {
			return nil, ErrNoResults
		}
		return candidates, nil
	case http.StatusNotFound:
		return nil, ErrNoResults
	default:
		c.logger.Warn("unexpected upstream status", zap.Int("status", resp.StatusCode), zap.String("query", query))
		return nil, fmt.Errorf("booksearch: upstream returned %d", resp.StatusCode)
	}
}

type volumesResponse struct {
	TotalItems int          `json:"totalItems"`
	Items      []volumeItem `json:"items"`
}

type volumeItem struct {
	ID         string     `json:"id"`
	VolumeInfo volumeInfo `json:"volumeInfo"`
}

type volumeInfo struct {
	Title       string      `json:"title"`
	Authors     []string    `json:"authors"`
	PageCount   *int        `json:"pageCount"`
	Description string      `json:"description"`
	ImageLinks  *imageLinks `json:"imageLinks"`
}

type imageLinks struct {
	SmallThumbnail string `json:"smallThumbnail"`
	Thumbnail      string `json:"thumbnail"`
}

func convertToCandidates(payload volumesResponse) []Candidate {
	out := make([]Candidate, 0, len(payload.Items))
	for _, item := range payload.Items {
		info := item.VolumeInfo
		c := Candidate{
			Title:       strings.TrimSpace(info.Title),
			Description: info.Description,
		}
		if len(info.Authors) > 0 {
			c.Author = info.Authors[0]
		}
		if info.PageCount != nil && *info.PageCount > 0 {
			c.TotalPages = *info.PageCount
		}
		if info.ImageLinks != nil {
			cover := info.ImageLinks.Thumbnail
			if cover == "" {
				cover = info.ImageLinks.SmallThumbnail
			}
			c.CoverURL = secureURL(cover)
		}
		out = append(out, c)
	}
	if len(out) > MaxResults {
		out = out[:MaxResults]
	}
	return out
}

func secureURL(raw string) string {
	if strings.HasPrefix(raw, "http://") {
		return "https://" + strings.TrimPrefix(raw, "http://")
	}
	return raw
}
