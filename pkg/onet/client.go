// Package onet is a client for an O*NET-style occupational data service
// that returns attribute records per occupation code and category.
package onet

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dubedad/jobforge/internal/resilience"
)

const (
	defaultBaseURL = "https://services.onetcenter.org/ws/online/occupations"
	defaultRPS     = 5
)

// Record is one raw attribute record for an occupation code.
type Record struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

// Client fetches attribute records from the external classification service.
type Client interface {
	// Records returns the records for code in category. A code or category
	// the service has no data for yields an empty slice, not an error.
	Records(ctx context.Context, code, category string) ([]Record, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the service base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit sets requests per second and burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = newBackoffLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	username string
	password string
	baseURL  string
	http     *http.Client
	limiter  *backoffLimiter
}

// NewClient creates a client authenticating with HTTP basic auth.
func NewClient(username, password string, opts ...Option) Client {
	c := &httpClient{
		username: username,
		password: password,
		baseURL:  defaultBaseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		limiter:  newBackoffLimiter(defaultRPS, defaultRPS),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// summary is the response envelope. Categories report either "element"
// or "task" lists.
type summary struct {
	Code    string      `json:"code"`
	Element []rawRecord `json:"element"`
	Task    []rawRecord `json:"task"`
}

type rawRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Statement   string `json:"statement"`
	Description string `json:"description"`
	Score       struct {
		Value float64 `json:"value"`
	} `json:"score"`
	Importance float64 `json:"importance"`
}

func (c *httpClient) Records(ctx context.Context, code, category string) ([]Record, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "onet: rate limit wait")
	}

	endpoint := c.baseURL + "/" + url.PathEscape(code) + "/summary/" + url.PathEscape(category)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "onet: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "onet: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "onet: read response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.limiter.OnSuccess()
	case resp.StatusCode == http.StatusNotFound:
		return []Record{}, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		if resp.StatusCode == http.StatusTooManyRequests {
			c.limiter.OnRateLimit()
		}
		return nil, resilience.NewTransientError(
			eris.Errorf("onet: unexpected status %d for %s/%s", resp.StatusCode, code, category),
			resp.StatusCode)
	default:
		return nil, eris.Errorf("onet: unexpected status %d for %s/%s: %s", resp.StatusCode, code, category, truncate(body, 200))
	}

	var s summary
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, eris.Wrap(err, "onet: unmarshal response")
	}

	raw := s.Element
	if len(raw) == 0 {
		raw = s.Task
	}
	out := make([]Record, 0, len(raw))
	for _, r := range raw {
		name := r.Name
		if name == "" {
			name = r.Statement
		}
		if name == "" {
			continue
		}
		score := r.Score.Value
		if score == 0 {
			score = r.Importance
		}
		out = append(out, Record{ID: r.ID, Name: name, Description: r.Description, Score: score})
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// backoffLimiter halves its rate on 429 and recovers gradually on success.
// The rate stays between a quarter of the configured rate and the configured
// rate itself.
type backoffLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	initial rate.Limit
	current rate.Limit
}

func newBackoffLimiter(r rate.Limit, burst int) *backoffLimiter {
	return &backoffLimiter{limiter: rate.NewLimiter(r, burst), initial: r, current: r}
}

func (b *backoffLimiter) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

func (b *backoffLimiter) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = min(b.current*1.2, b.initial)
	b.limiter.SetLimit(b.current)
}

func (b *backoffLimiter) OnRateLimit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = max(b.current*0.5, b.initial/4)
	b.limiter.SetLimit(b.current)
	zap.L().Warn("onet: rate limited, slowing down", zap.Float64("rate", float64(b.current)))
}

func (b *backoffLimiter) Limit() rate.Limit {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
