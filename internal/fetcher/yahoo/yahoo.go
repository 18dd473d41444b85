// Package yahoo implements the market news and stock quote fetchers on the
// public Yahoo Finance endpoints. Neither endpoint needs a credential.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/quantlab/quantagent/internal/fetcher"
)

const (
	defaultBaseURL = "https://query1.finance.yahoo.com"
	searchPath     = "/v1/finance/search"
	chartPath      = "/v8/finance/chart/"

	defaultNewsCount = 8
	maxNewsCount     = 20

	// Yahoo rejects requests without a browser-ish user agent.
	userAgent = "Mozilla/5.0 (compatible; quantagent/1.0)"
)

// Option configures a Yahoo fetcher.
type Option func(*base)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(b *base) { b.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(b *base) { b.httpClient = hc }
}

type base struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func newBase(logger *slog.Logger, opts []Option) base {
	b := base{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: fetcher.DefaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// get performs one GET round trip and returns the raw body.
func (b *base) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", fetcher.ErrProviderError, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetcher.ErrProviderError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", fetcher.ErrProviderError, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", fetcher.ErrProviderError, resp.StatusCode, body)
	}
	return body, nil
}

// NewsClient fetches recent market news headlines. It implements
// fetcher.Client.
type NewsClient struct {
	base
}

// NewNewsClient creates a market news fetcher.
func NewNewsClient(logger *slog.Logger, opts ...Option) *NewsClient {
	return &NewsClient{base: newBase(logger, opts)}
}

func (c *NewsClient) Name() string { return "market_news" }

func (c *NewsClient) Empty() []byte { return []byte("[]") }

func (c *NewsClient) Validate(params map[string]any) error {
	query, _ := params["query"].(string)
	if query == "" {
		return fmt.Errorf("%w: query must be a non-empty string", fetcher.ErrInvalidParameters)
	}
	if raw, ok := params["count"]; ok {
		n, isNum := raw.(float64)
		if !isNum {
			if i, isInt := raw.(int); isInt {
				n, isNum = float64(i), true
			}
		}
		if !isNum || n < 1 || n > maxNewsCount {
			return fmt.Errorf("%w: count must be between 1 and %d", fetcher.ErrInvalidParameters, maxNewsCount)
		}
	}
	return nil
}

// NewsItem is one normalized headline. Missing provider fields keep their
// zero value rather than failing the whole response.
type NewsItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Publisher   string `json:"publisher"`
	Link        string `json:"link"`
	PublishedAt int64  `json:"published_at"`
}

func (c *NewsClient) Invoke(ctx context.Context, params map[string]any) fetcher.Result {
	query, _ := params["query"].(string)
	count := defaultNewsCount
	switch v := params["count"].(type) {
	case float64:
		count = int(v)
	case int:
		count = v
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("newsCount", strconv.Itoa(count))
	q.Set("quotesCount", "0")

	body, err := c.get(ctx, c.baseURL+searchPath+"?"+q.Encode())
	if err != nil {
		return fetcher.Failure(err)
	}

	var apiResp newsResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fetcher.Failure(fmt.Errorf("%w: parsing response: %v", fetcher.ErrProviderError, err))
	}

	items := make([]NewsItem, 0, len(apiResp.News))
	for _, n := range apiResp.News {
		items = append(items, NewsItem{
			ID:          n.UUID,
			Title:       n.Title,
			Publisher:   n.Publisher,
			Link:        n.Link,
			PublishedAt: n.ProviderPublishTime,
		})
	}

	payload, err := json.Marshal(items)
	if err != nil {
		return fetcher.Failure(fmt.Errorf("%w: encoding results: %v", fetcher.ErrProviderError, err))
	}

	c.logger.DebugContext(ctx, "market news fetched",
		slog.String("query", query),
		slog.Int("items", len(items)),
	)

	return fetcher.Success(payload)
}

// QuoteClient fetches the latest price snapshot for one symbol. It
// implements fetcher.Client.
type QuoteClient struct {
	base
}

// NewQuoteClient creates a stock quote fetcher.
func NewQuoteClient(logger *slog.Logger, opts ...Option) *QuoteClient {
	return &QuoteClient{base: newBase(logger, opts)}
}

func (c *QuoteClient) Name() string { return "stock_quote" }

func (c *QuoteClient) Empty() []byte { return []byte("{}") }

func (c *QuoteClient) Validate(params map[string]any) error {
	symbol, _ := params["symbol"].(string)
	if symbol == "" {
		return fmt.Errorf("%w: symbol must be a non-empty string", fetcher.ErrInvalidParameters)
	}
	return nil
}

// Quote is the normalized price snapshot.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	MarketTime    int64   `json:"market_time"`
}

func (c *QuoteClient) Invoke(ctx context.Context, params map[string]any) fetcher.Result {
	symbol, _ := params["symbol"].(string)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	body, err := c.get(ctx, c.baseURL+chartPath+url.PathEscape(symbol))
	if err != nil {
		return fetcher.Failure(err)
	}

	var apiResp chartResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fetcher.Failure(fmt.Errorf("%w: parsing response: %v", fetcher.ErrProviderError, err))
	}
	if len(apiResp.Chart.Result) == 0 {
		return fetcher.Failure(fmt.Errorf("%w: no chart data for %q", fetcher.ErrProviderError, symbol))
	}

	meta := apiResp.Chart.Result[0].Meta
	quote := Quote{
		Symbol:     meta.Symbol,
		Price:      meta.RegularMarketPrice,
		Currency:   meta.Currency,
		MarketTime: meta.RegularMarketTime,
	}
	if meta.ChartPreviousClose > 0 {
		quote.Change = meta.RegularMarketPrice - meta.ChartPreviousClose
		quote.ChangePercent = quote.Change / meta.ChartPreviousClose * 100
	}

	payload, err := json.Marshal(quote)
	if err != nil {
		return fetcher.Failure(fmt.Errorf("%w: encoding quote: %v", fetcher.ErrProviderError, err))
	}

	c.logger.DebugContext(ctx, "quote fetched",
		slog.String("symbol", quote.Symbol),
		slog.Float64("price", quote.Price),
	)

	return fetcher.Success(payload)
}

// Yahoo Finance wire types, reduced to the fields we read.

type newsResponse struct {
	News []struct {
		UUID                string `json:"uuid"`
		Title               string `json:"title"`
		Publisher           string `json:"publisher"`
		Link                string `json:"link"`
		ProviderPublishTime int64  `json:"providerPublishTime"`
	} `json:"news"`
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
			} `json:"meta"`
		} `json:"result"`
	} `json:"chart"`
}
