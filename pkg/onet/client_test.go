package onet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dubedad/jobforge/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRecords(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantErr       string
		wantTransient bool
		wantNames     []string
	}{
		{
			name:   "elements",
			status: http.StatusOK,
			body: `{"code":"15-1252.00","element":[
				{"id":"2.A.1.a","name":"Reading Comprehension","score":{"value":72}},
				{"id":"2.B.3.e","name":"Programming","score":{"value":88}}]}`,
			wantNames: []string{"Reading Comprehension", "Programming"},
		},
		{
			name:      "tasks",
			status:    http.StatusOK,
			body:      `{"task":[{"id":"1","statement":"Modify existing software","importance":90},{"id":"2"}]}`,
			wantNames: []string{"Modify existing software"},
		},
		{
			name:      "not found is empty",
			status:    http.StatusNotFound,
			body:      `{"error":"no such occupation"}`,
			wantNames: []string{},
		},
		{
			name:          "rate limited",
			status:        http.StatusTooManyRequests,
			wantErr:       "unexpected status 429",
			wantTransient: true,
		},
		{
			name:          "server error",
			status:        http.StatusBadGateway,
			wantErr:       "unexpected status 502",
			wantTransient: true,
		},
		{
			name:    "unauthorized",
			status:  http.StatusUnauthorized,
			body:    `denied`,
			wantErr: "unexpected status 401",
		},
		{
			name:    "malformed",
			status:  http.StatusOK,
			body:    `{nope`,
			wantErr: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/15-1252.00/summary/skills", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Accept"))
				user, pass, ok := r.BasicAuth()
				assert.True(t, ok)
				assert.Equal(t, "jobforge", user)
				assert.Equal(t, "secret", pass)

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient("jobforge", "secret", WithBaseURL(srv.URL+"/"), WithRateLimit(1000, 10))
			recs, err := c.Records(context.Background(), "15-1252.00", "skills")

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, tt.wantTransient, resilience.IsTransient(err))
				return
			}
			require.NoError(t, err)
			names := make([]string, 0, len(recs))
			for _, r := range recs {
				names = append(names, r.Name)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestRecords_Scores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"element":[{"id":"a","name":"Active Listening","description":"Giving full attention","score":{"value":75.5}}]}`))
	}))
	defer srv.Close()

	recs, err := NewClient("", "", WithBaseURL(srv.URL)).Records(context.Background(), "29-1141.00", "skills")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, Record{ID: "a", Name: "Active Listening", Description: "Giving full attention", Score: 75.5}, recs[0])
}

func TestRecords_RateLimitSlowsClient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("u", "p", WithBaseURL(srv.URL), WithRateLimit(100, 5)).(*httpClient)
	_, err := c.Records(context.Background(), "x", "skills")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.InDelta(t, 50, float64(c.limiter.Limit()), 0.001)
}

func TestRecords_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient("u", "p", WithBaseURL(srv.URL)).Records(ctx, "x", "skills")
	assert.Error(t, err)
}

func TestBackoffLimiter_Bounds(t *testing.T) {
	b := newBackoffLimiter(10, 1)
	for i := 0; i < 10; i++ {
		b.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(b.Limit()), 0.001)
	for i := 0; i < 50; i++ {
		b.OnSuccess()
	}
	assert.InDelta(t, 10, float64(b.Limit()), 0.001)
}

func TestBackoffLimiter_NeverExceedsConfiguredRate(t *testing.T) {
	b := newBackoffLimiter(5, 1)
	for i := 0; i < 100; i++ {
		b.OnSuccess()
		assert.LessOrEqual(t, float64(b.Limit()), 5.0)
	}
	assert.InDelta(t, 5, float64(b.limiter.Limit()), 0.001)
}
