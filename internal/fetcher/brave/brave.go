// Package brave implements the web search fetcher on the Brave Search API.
package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/quantlab/quantagent/internal/fetcher"
	"github.com/quantlab/quantagent/internal/secrets"
)

const (
	defaultBaseURL = "https://api.search.brave.com"
	searchPath     = "/res/v1/web/search"

	// Count bounds for one search request.
	minCount     = 1
	maxCount     = 20
	defaultCount = 10

	defaultFreshness = "pw"
)

// validFreshness are the recency windows Brave accepts: past day, past
// week, past month.
var validFreshness = map[string]bool{"pd": true, "pw": true, "pm": true}

// Client fetches web search results from Brave. It implements
// fetcher.Client.
type Client struct {
	credentialRef string
	secretsp      secrets.Provider
	baseURL       string
	httpClient    *http.Client
	logger        *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Brave search fetcher. credentialRef is resolved via
// sp on every invocation, so key rotation needs no restart.
func NewClient(credentialRef string, sp secrets.Provider, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		credentialRef: credentialRef,
		secretsp:      sp,
		baseURL:       defaultBaseURL,
		httpClient:    &http.Client{Timeout: fetcher.DefaultTimeout},
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "web_search" }

// Empty is the empty result list served when a search degrades fail-soft.
func (c *Client) Empty() []byte { return []byte("[]") }

// Validate checks query, count, and freshness without touching the network.
func (c *Client) Validate(params map[string]any) error {
	query, _ := params["query"].(string)
	if query == "" {
		return fmt.Errorf("%w: query must be a non-empty string", fetcher.ErrInvalidParameters)
	}
	if count, ok, err := intParam(params, "count"); err != nil {
		return err
	} else if ok && (count < minCount || count > maxCount) {
		return fmt.Errorf("%w: count must be between %d and %d", fetcher.ErrInvalidParameters, minCount, maxCount)
	}
	if raw, ok := params["freshness"]; ok {
		freshness, isStr := raw.(string)
		if !isStr || !validFreshness[freshness] {
			return fmt.Errorf("%w: freshness must be one of pd, pw, pm", fetcher.ErrInvalidParameters)
		}
	}
	return nil
}

// Invoke performs one search round trip and normalizes the response.
func (c *Client) Invoke(ctx context.Context, params map[string]any) fetcher.Result {
	secret, err := c.secretsp.Resolve(ctx, c.credentialRef)
	if err != nil {
		return fetcher.Failure(fmt.Errorf("%w: brave search key: %v", fetcher.ErrMissingCredential, err))
	}

	query, _ := params["query"].(string)
	count := defaultCount
	if n, ok, _ := intParam(params, "count"); ok {
		count = n
	}
	freshness := defaultFreshness
	if f, ok := params["freshness"].(string); ok && f != "" {
		freshness = f
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	q.Set("freshness", freshness)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+searchPath+"?"+q.Encode(), nil)
	if err != nil {
		return fetcher.Failure(fmt.Errorf("%w: creating request: %v", fetcher.ErrProviderError, err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", secret.Value)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fetcher.Failure(fmt.Errorf("%w: %v", fetcher.ErrProviderError, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fetcher.Failure(fmt.Errorf("%w: reading response: %v", fetcher.ErrProviderError, err))
	}
	if resp.StatusCode != http.StatusOK {
		return fetcher.Failure(fmt.Errorf("%w: status %d: %s", fetcher.ErrProviderError, resp.StatusCode, body))
	}

	var apiResp searchResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fetcher.Failure(fmt.Errorf("%w: parsing response: %v", fetcher.ErrProviderError, err))
	}

	results := make([]SearchResult, 0, len(apiResp.Web.Results))
	for _, r := range apiResp.Web.Results {
		results = append(results, SearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Description: r.Description,
			Age:         r.Age,
		})
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return fetcher.Failure(fmt.Errorf("%w: encoding results: %v", fetcher.ErrProviderError, err))
	}

	c.logger.DebugContext(ctx, "web search completed",
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.String("freshness", freshness),
	)

	return fetcher.Success(payload)
}

// SearchResult is one normalized web search hit.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Age         string `json:"age,omitempty"`
}

// intParam reads an optional integer parameter; JSON decoding delivers
// numbers as float64.
func intParam(params map[string]any, key string) (int, bool, error) {
	raw, ok := params[key]
	if !ok {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		return int(v), true, nil
	case int:
		return v, true, nil
	default:
		return 0, false, fmt.Errorf("%w: %s must be a number", fetcher.ErrInvalidParameters, key)
	}
}

// Brave API wire types.

type searchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
		} `json:"results"`
	} `json:"web"`
}
