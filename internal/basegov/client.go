// Package basegov talks to the BASE.gov public procurement API. The
// upstream service is slow and rate limited, so the client throttles
// itself and retries transient failures with capped exponential backoff.
package basegov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/contrap/basegov-etl/internal/etl"
)

// ErrRetriesExhausted wraps the last transport error once every retry
// attempt has failed, so callers can tell persistent upstream outages
// apart from their own bugs.
var ErrRetriesExhausted = errors.New("basegov: retries exhausted")

// endpoints maps data types to API method names.
var endpoints = map[etl.DataType]string{
	etl.DataTypeAnnouncements: "GetInfoAnuncio",
	etl.DataTypeContracts:     "GetInfoContrato",
	etl.DataTypeEntities:      "GetInfoEntidades",
	etl.DataTypeModifications: "GetInfoModContrat",
}

// Config holds client tuning. Zero values are filled from
// DefaultConfig.
type Config struct {
	BaseURL     string
	AccessToken string

	// RequestsPerSecond throttles outgoing calls; the public API bans
	// aggressive clients.
	RequestsPerSecond float64
	Timeout           time.Duration

	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	BackoffFactor float64
}

func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://www.base.gov.pt/APIBase2",
		RequestsPerSecond: 0.5,
		Timeout:           120 * time.Second,
		MaxRetries:        5,
		RetryDelay:        2 * time.Second,
		MaxRetryDelay:     60 * time.Second,
		BackoffFactor:     2,
	}
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// FetchByYear retrieves every record of one type published in a year.
func (c *Client) FetchByYear(ctx context.Context, dataType etl.DataType, year int) ([]etl.Record, error) {
	endpoint, ok := endpoints[dataType]
	if !ok {
		return nil, fmt.Errorf("basegov: no endpoint for data type %q", dataType)
	}

	params := url.Values{}
	params.Set("Ano", strconv.Itoa(year))

	body, err := c.get(ctx, endpoint, params)
	if err != nil {
		return nil, fmt.Errorf("fetch %s for %d: %w", dataType, year, err)
	}
	records, err := decodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s for %d: %w", dataType, year, err)
	}
	log.Printf("fetched %d %s records for %d", len(records), dataType, year)
	return records, nil
}

// FetchEntity retrieves the detail record for one entity by NIF.
func (c *Client) FetchEntity(ctx context.Context, nif string) (etl.Record, error) {
	params := url.Values{}
	params.Set("Nif", nif)

	body, err := c.get(ctx, endpoints[etl.DataTypeEntities], params)
	if err != nil {
		return nil, fmt.Errorf("fetch entity %s: %w", nif, err)
	}
	records, err := decodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("decode entity %s: %w", nif, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("entity %s not found", nif)
	}
	return records[0], nil
}

// get performs one throttled, retried GET against an API method.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	target := c.cfg.BaseURL + "/" + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var lastErr error
	delay := c.cfg.RetryDelay
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Full jitter keeps retry storms from synchronizing.
			sleep := time.Duration(rand.Int63n(int64(delay))) + delay/2
			log.Printf("basegov: retrying %s in %s (attempt %d/%d): %v",
				endpoint, sleep.Round(time.Millisecond), attempt, c.cfg.MaxRetries, lastErr)
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay = time.Duration(float64(delay) * c.cfg.BackoffFactor)
			if delay > c.cfg.MaxRetryDelay {
				delay = c.cfg.MaxRetryDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, retryable, err := c.doRequest(ctx, target)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrRetriesExhausted, endpoint, lastErr)
}

func (c *Client) doRequest(ctx context.Context, target string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.AccessToken != "" {
		// The API expects this exact misspelled header name.
		req.Header.Set("_AcessToken", c.cfg.AccessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("status %d from %s", resp.StatusCode, target)
	default:
		return nil, false, fmt.Errorf("status %d from %s", resp.StatusCode, target)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}

// decodeRecords accepts both shapes the API returns: a bare JSON array
// and an object wrapping the array in an "items" field.
func decodeRecords(body []byte) ([]etl.Record, error) {
	var list []etl.Record
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}

	var envelope struct {
		Items []etl.Record `json:"items"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected response shape: %w", err)
	}
	return envelope.Items, nil
}
