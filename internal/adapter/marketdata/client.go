// Package marketdata implements the quote client used by the quant and
// whale specialists. Quotes are cached in-process for the configured TTL
// and the upstream feed sits behind a circuit breaker.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/port/cache"
	"github.com/finsight-ai/finsight/internal/resilience"
)

// ErrQuoteUnavailable is returned when the feed cannot serve a symbol.
var ErrQuoteUnavailable = errors.New("market data unavailable")

// Quote is one symbol snapshot from the feed.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	ChangePct     float64   `json:"change_pct"`
	Volume        int64     `json:"volume"`
	AvgVolume     int64     `json:"avg_volume"`
	High52W       float64   `json:"high_52w"`
	Low52W        float64   `json:"low_52w"`
	LargeHolderTx int       `json:"large_holder_tx"` // block trades in the last session
	AsOf          time.Time `json:"as_of"`
}

// Client fetches quotes over HTTP with a read-through cache.
type Client struct {
	baseURL    string
	apiKey     string
	quoteTTL   time.Duration
	httpClient *http.Client
	cache      cache.Cache
	breaker    *resilience.Breaker
}

// NewClient creates a market data client. cache may be nil to disable
// the read-through layer.
func NewClient(cfg config.MarketData, c cache.Cache, breaker *resilience.Breaker) *Client {
	return &Client{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		quoteTTL:   cfg.QuoteTTL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      c,
		breaker:    breaker,
	}
}

// GetQuote returns the quote for a symbol, preferring the cache.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	key := "quote:" + symbol
	if c.cache != nil {
		if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			var q Quote
			if err := json.Unmarshal(data, &q); err == nil {
				return &q, nil
			}
		}
	}

	var q *Quote
	fetch := func() error {
		var err error
		q, err = c.fetchQuote(ctx, symbol)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(fetch)
	} else {
		err = fetch()
	}
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if data, merr := json.Marshal(q); merr == nil {
			if cerr := c.cache.Set(ctx, key, data, c.quoteTTL); cerr != nil {
				slog.Debug("quote cache set failed", "symbol", symbol, "error", cerr)
			}
		}
	}
	return q, nil
}

func (c *Client) fetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/v1/quotes/%s", c.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%w: feed returned %d: %s", ErrQuoteUnavailable, resp.StatusCode, body)
	}

	var q Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	return &q, nil
}

// Health checks feed reachability.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", ErrQuoteUnavailable, resp.StatusCode)
	}
	return nil
}
