// Package identity reads bidder rating snapshots from the user-identity
// service.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = 30 * time.Second
	defaultTimeout   = 5 * time.Second
)

// Config configures the identity client.
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// Client fetches BidderProfiles over HTTP through a small read-through
// cache. Profiles are eventually consistent, so a snapshot up to CacheTTL
// old is acceptable.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      *lru.Cache
	ttl        time.Duration
	now        func() time.Time

	// inflight collapses concurrent misses for the same bidder.
	mu       sync.Mutex
	inflight map[string]*call
}

type cachedProfile struct {
	profile   domain.BidderProfile
	fetchedAt time.Time
}

type call struct {
	done    chan struct{}
	profile domain.BidderProfile
	err     error
}

// NewClient creates an identity client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("identity: base url is required")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("identity: create cache: %w", err)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		ttl:        cfg.CacheTTL,
		now:        time.Now,
		inflight:   make(map[string]*call),
	}, nil
}

// Profile returns the rating snapshot of bidderID.
func (c *Client) Profile(ctx context.Context, bidderID string) (domain.BidderProfile, error) {
	if v, ok := c.cache.Get(bidderID); ok {
		if cp, ok := v.(cachedProfile); ok && c.now().Sub(cp.fetchedAt) < c.ttl {
			return cp.profile, nil
		}
	}

	c.mu.Lock()
	if inflight, ok := c.inflight[bidderID]; ok {
		c.mu.Unlock()
		select {
		case <-inflight.done:
			return inflight.profile, inflight.err
		case <-ctx.Done():
			return domain.BidderProfile{}, ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[bidderID] = cl
	c.mu.Unlock()

	cl.profile, cl.err = c.fetch(ctx, bidderID)
	if cl.err == nil {
		c.cache.Add(bidderID, cachedProfile{profile: cl.profile, fetchedAt: c.now()})
	}

	c.mu.Lock()
	delete(c.inflight, bidderID)
	c.mu.Unlock()
	close(cl.done)

	return cl.profile, cl.err
}

// Forget drops the cached profile of bidderID.
func (c *Client) Forget(bidderID string) {
	c.cache.Remove(bidderID)
}

func (c *Client) fetch(ctx context.Context, bidderID string) (domain.BidderProfile, error) {
	path := fmt.Sprintf("/profiles/%s", url.PathEscape(bidderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return domain.BidderProfile{}, fmt.Errorf("identity: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.BidderProfile{}, fmt.Errorf("identity: get profile %s: %w", bidderID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.BidderProfile{}, fmt.Errorf("identity: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return domain.BidderProfile{}, fmt.Errorf("identity: get profile %s: %w", bidderID, err)
	}

	var p domain.BidderProfile
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.BidderProfile{}, fmt.Errorf("identity: decode profile: %w", err)
	}
	if p.BidderID == "" {
		p.BidderID = bidderID
	}
	if p.RatingPositive < 0 || p.RatingNegative < 0 {
		return domain.BidderProfile{}, fmt.Errorf("identity: negative rating for %s: %w", bidderID, domain.ErrInvalidInput)
	}
	return p, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
