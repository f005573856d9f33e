package lichess

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nti-schack/leaderboard/internal/game"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://lichess.org"
	userAgent      = "nti-schack-leaderboard"
	ndjsonType     = "application/x-ndjson"
)

// RateLimitBackoff is how long the client waits after a 429 before its
// single retry. Lichess asks clients to wait a full minute.
var RateLimitBackoff = time.Minute

// Client handles Lichess API requests.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

// NewClient creates a new Lichess API client. An empty baseURL selects
// lichess.org; token is optional.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		minInterval: time.Second,
	}
}

// ExportOptions controls the game export query.
type ExportOptions struct {
	Max     int
	Opening bool
	Moves   bool
}

func (o ExportOptions) query() string {
	q := url.Values{}
	if o.Max > 0 {
		q.Set("max", strconv.Itoa(o.Max))
	}
	q.Set("opening", strconv.FormatBool(o.Opening))
	q.Set("moves", strconv.FormatBool(o.Moves))
	return q.Encode()
}

// ExportUserGames fetches the most recent games of username.
func (c *Client) ExportUserGames(ctx context.Context, username string, opts ExportOptions) ([]game.Raw, error) {
	resp, err := c.get(ctx, username, opts.query(), "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raws []game.Raw
	err = game.DecodeNDJSON(resp.Body, func(r game.Raw) error {
		raws = append(raws, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode games for %s: %w", username, err)
	}
	return raws, nil
}

// Proxy fetches the game export of username with a caller supplied query
// string and returns the response as is. authorization overrides the
// client token when set; a bare token gets a Bearer prefix.
func (c *Client) Proxy(ctx context.Context, username, rawQuery, authorization string) (*http.Response, error) {
	return c.get(ctx, username, rawQuery, authorization)
}

func (c *Client) get(ctx context.Context, username, rawQuery, authorization string) (*http.Response, error) {
	u := fmt.Sprintf("%s/api/games/user/%s", c.baseURL, url.PathEscape(username))
	if rawQuery != "" {
		u += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", ndjsonType)
	req.Header.Set("User-Agent", userAgent)
	if auth := bearer(authorization, c.token); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	return c.doRequest(ctx, req)
}

// doRequest performs an HTTP request with rate limiting.
func (c *Client) doRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		logrus.WithField("backoff", RateLimitBackoff).Warn("Lichess rate limit hit, retrying once")
		if err := sleep(ctx, RateLimitBackoff); err != nil {
			return nil, err
		}
		resp, err = c.httpClient.Do(req.Clone(ctx))
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
	}
	return resp, nil
}

func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elapsed := time.Since(c.lastRequest); elapsed < c.minInterval {
		if err := sleep(ctx, c.minInterval-elapsed); err != nil {
			return err
		}
	}
	c.lastRequest = time.Now()
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func bearer(authorization, fallback string) string {
	auth := strings.TrimSpace(authorization)
	if auth == "" {
		auth = strings.TrimSpace(fallback)
	}
	if auth == "" {
		return ""
	}
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return auth
	}
	return "Bearer " + auth
}
