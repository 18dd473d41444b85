package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quantlab/quantagent/internal/fetcher"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewsValidate(t *testing.T) {
	c := NewNewsClient(discardLogger())

	if err := c.Validate(map[string]any{"query": "AAPL"}); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
	if err := c.Validate(map[string]any{}); !errors.Is(err, fetcher.ErrInvalidParameters) {
		t.Errorf("missing query: error = %v", err)
	}
	if err := c.Validate(map[string]any{"query": "AAPL", "count": float64(0)}); !errors.Is(err, fetcher.ErrInvalidParameters) {
		t.Errorf("zero count: error = %v", err)
	}
	if err := c.Validate(map[string]any{"query": "AAPL", "count": float64(21)}); !errors.Is(err, fetcher.ErrInvalidParameters) {
		t.Errorf("oversized count: error = %v", err)
	}
}

func TestNewsInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "AAPL" {
			t.Errorf("q = %q", q.Get("q"))
		}
		if q.Get("newsCount") != "8" {
			t.Errorf("newsCount = %q, want default 8", q.Get("newsCount"))
		}
		io.WriteString(w, `{"news":[
			{"uuid":"u1","title":"Apple beats estimates","publisher":"Reuters","link":"https://example.com/1","providerPublishTime":1756600000},
			{"title":"Untitled wire item"}
		]}`)
	}))
	defer srv.Close()

	c := NewNewsClient(discardLogger(), WithBaseURL(srv.URL))
	res := c.Invoke(context.Background(), map[string]any{"query": "AAPL"})
	if !res.Ok() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}

	var items []NewsItem
	if err := json.Unmarshal(res.Payload, &items); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Publisher != "Reuters" || items[0].PublishedAt != 1756600000 {
		t.Errorf("unexpected item: %+v", items[0])
	}
	// Missing provider fields default to zero values.
	if items[1].ID != "" || items[1].Publisher != "" || items[1].PublishedAt != 0 {
		t.Errorf("partial item not zero-defaulted: %+v", items[1])
	}
}

func TestNewsInvoke_EmptyFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"news":[]}`)
	}))
	defer srv.Close()

	c := NewNewsClient(discardLogger(), WithBaseURL(srv.URL))
	res := c.Invoke(context.Background(), map[string]any{"query": "obscure ticker"})
	if !res.Ok() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if string(res.Payload) != "[]" {
		t.Errorf("payload = %s, want []", res.Payload)
	}
}

func TestQuoteValidate(t *testing.T) {
	c := NewQuoteClient(discardLogger())
	if err := c.Validate(map[string]any{"symbol": "NVDA"}); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
	if err := c.Validate(map[string]any{"symbol": ""}); !errors.Is(err, fetcher.ErrInvalidParameters) {
		t.Errorf("empty symbol: error = %v", err)
	}
}

func TestQuoteInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/NVDA" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `{"chart":{"result":[{"meta":{
			"symbol":"NVDA","currency":"USD",
			"regularMarketPrice":130.0,"regularMarketTime":1756600000,
			"chartPreviousClose":125.0
		}}]}}`)
	}))
	defer srv.Close()

	c := NewQuoteClient(discardLogger(), WithBaseURL(srv.URL))
	res := c.Invoke(context.Background(), map[string]any{"symbol": "nvda"})
	if !res.Ok() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}

	var q Quote
	if err := json.Unmarshal(res.Payload, &q); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if q.Symbol != "NVDA" || q.Currency != "USD" {
		t.Errorf("unexpected quote: %+v", q)
	}
	if math.Abs(q.Change-5.0) > 1e-9 {
		t.Errorf("change = %v, want 5.0", q.Change)
	}
	if math.Abs(q.ChangePercent-4.0) > 1e-9 {
		t.Errorf("change percent = %v, want 4.0", q.ChangePercent)
	}
}

func TestQuoteInvoke_UnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"chart":{"result":[]}}`)
	}))
	defer srv.Close()

	c := NewQuoteClient(discardLogger(), WithBaseURL(srv.URL))
	res := c.Invoke(context.Background(), map[string]any{"symbol": "ZZZZZ"})
	if res.Ok() {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Err, fetcher.ErrProviderError) {
		t.Errorf("error = %v, want ErrProviderError", res.Err)
	}
}

func TestEmptyValues(t *testing.T) {
	if got := string(NewNewsClient(discardLogger()).Empty()); got != "[]" {
		t.Errorf("news Empty() = %q", got)
	}
	if got := string(NewQuoteClient(discardLogger()).Empty()); got != "{}" {
		t.Errorf("quote Empty() = %q", got)
	}
}
