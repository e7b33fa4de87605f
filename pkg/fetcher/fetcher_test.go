package fetcher

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dtnitsch/sku-date-checker/models"
)

func TestParseHeaders(t *testing.T) {
	h := ParseHeaders([]string{
		"Content-Type: application/json",
		"X-Trace:  abc:def ",
		"no colon here",
		": empty name",
	})

	if got := h.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if got := h.Get("X-Trace"); got != "abc:def" {
		t.Errorf("X-Trace = %q, want abc:def", got)
	}
	if len(h) != 2 {
		t.Errorf("len(headers) = %d, want 2", len(h))
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name   string
		value  string
		want   time.Duration
		wantOK bool
	}{
		{"empty", "", 0, false},
		{"seconds", "3", 3 * time.Second, true},
		{"decimal", "1.5", 1500 * time.Millisecond, true},
		{"negative", "-2", 0, true},
		{"http date", now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second, true},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
		{"garbage", "soon", 0, false},
		{"infinite", "inf", 0, false},
		{"not a number", "NaN", 0, false},
		{"overflow", "1e20", time.Duration(math.MaxInt64), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRetryAfter(tt.value, now)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseRetryAfter(%q) = %v, %v, want %v, %v", tt.value, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestFetchBuildsRequest(t *testing.T) {
	tests := []struct {
		name  string
		auth  models.AuthConfig
		check func(t *testing.T, r *http.Request)
	}{
		{
			name: "basic",
			auth: models.AuthConfig{Type: models.AuthBasic, Username: "u", Password: "p"},
			check: func(t *testing.T, r *http.Request) {
				user, pass, ok := r.BasicAuth()
				if !ok || user != "u" || pass != "p" {
					t.Errorf("BasicAuth() = %q, %q, %v", user, pass, ok)
				}
			},
		},
		{
			name: "bearer",
			auth: models.AuthConfig{Type: models.AuthBearer, Token: "tok"},
			check: func(t *testing.T, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != "Bearer tok" {
					t.Errorf("Authorization = %q, want Bearer tok", got)
				}
			},
		},
		{
			name: "api key",
			auth: models.AuthConfig{Type: models.AuthAPIKey, APIKey: "k"},
			check: func(t *testing.T, r *http.Request) {
				if got := r.Header.Get("X-API-Key"); got != "k" {
					t.Errorf("X-API-Key = %q, want k", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := make(chan *http.Request, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen <- r.Clone(context.Background())
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(http.StatusTooManyRequests)
			}))
			defer srv.Close()

			cfg := models.DefaultConfig().Lookup
			cfg.Endpoint = srv.URL + "/orders/"
			cfg.Timeout = time.Second

			f, err := NewFetcher(cfg, tt.auth)
			if err != nil {
				t.Fatalf("NewFetcher() error = %v", err)
			}

			resp, err := f.Fetch(context.Background(), "SKU-1")
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if resp.StatusCode != http.StatusTooManyRequests {
				t.Errorf("StatusCode = %d, want 429", resp.StatusCode)
			}
			if !resp.HasRetryAfter || resp.RetryAfter != 2*time.Second {
				t.Errorf("RetryAfter = %v (%v), want 2s", resp.RetryAfter, resp.HasRetryAfter)
			}
			if resp.Status != "Too Many Requests" {
				t.Errorf("Status = %q, want Too Many Requests", resp.Status)
			}

			got := <-seen
			q := got.URL.Query()
			wantParams := map[string]string{
				"part_number": "SKU-1",
				"limit":       "1",
				"offset":      "0",
				"sort":        "desc",
				"status":      "ORDER_ACK",
			}
			for k, want := range wantParams {
				if q.Get(k) != want {
					t.Errorf("query %s = %q, want %q", k, q.Get(k), want)
				}
			}
			if ct := got.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			tt.check(t, got)
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := models.DefaultConfig().Lookup
	cfg.Endpoint = srv.URL
	cfg.Timeout = 50 * time.Millisecond

	f, err := NewFetcher(cfg, models.AuthConfig{Type: models.AuthNone})
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}
	if _, err := f.Fetch(context.Background(), "A"); err == nil {
		t.Fatal("Fetch() error = nil, want timeout")
	}
}
