package fetcher

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dtnitsch/sku-date-checker/models"
)

const (
	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 4 << 20

	// Largest Retry-After, in seconds, that fits in a time.Duration.
	maxRetryAfterSecs = float64(math.MaxInt64 / int64(time.Second))
)

// Response is the raw outcome of one request.
type Response struct {
	StatusCode    int
	Status        string // reason phrase, e.g. "Not Found"
	Body          []byte
	RetryAfter    time.Duration
	HasRetryAfter bool
}

// Fetcher issues single order-lookup requests. It is safe for concurrent use;
// the underlying http.Client pools connections.
type Fetcher struct {
	client   *http.Client
	endpoint *url.URL
	method   string
	headers  http.Header
	params   url.Values
	auth     models.AuthConfig
	timeout  time.Duration
}

// NewFetcher builds a Fetcher from the lookup and auth configuration.
func NewFetcher(cfg models.LookupConfig, auth models.AuthConfig) (*Fetcher, error) {
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint: %w", err)
	}

	params := url.Values{}
	if cfg.Limit != "" {
		params.Set("limit", cfg.Limit)
	}
	if cfg.Offset != "" {
		params.Set("offset", cfg.Offset)
	}
	if cfg.Sort != "" {
		params.Set("sort", cfg.Sort)
	}
	if cfg.Status != "" {
		params.Set("status", cfg.Status)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 64
	transport.MaxIdleConnsPerHost = 64

	return &Fetcher{
		client:   &http.Client{Transport: transport},
		endpoint: endpoint,
		method:   cfg.Method,
		headers:  ParseHeaders(cfg.Headers),
		params:   params,
		auth:     auth,
		timeout:  cfg.Timeout,
	}, nil
}

// Fetch looks up one part number. A non-nil error means no response was
// received; any HTTP status, including 4xx and 5xx, is returned as a Response.
func (f *Fetcher) Fetch(ctx context.Context, key string) (*Response, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, f.method, f.requestURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for name, values := range f.headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	f.applyAuth(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Status:     reasonPhrase(resp),
		Body:       body,
	}
	out.RetryAfter, out.HasRetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	return out, nil
}

func (f *Fetcher) requestURL(key string) string {
	u := *f.endpoint
	q := u.Query()
	for k, vs := range f.params {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("part_number", key)
	u.RawQuery = q.Encode()
	return u.String()
}

func (f *Fetcher) applyAuth(req *http.Request) {
	switch f.auth.Type {
	case models.AuthBasic:
		if f.auth.Username != "" {
			req.SetBasicAuth(f.auth.Username, f.auth.Password)
		}
	case models.AuthBearer:
		if f.auth.Token != "" {
			req.Header.Set("Authorization", "Bearer "+f.auth.Token)
		}
	case models.AuthAPIKey:
		if f.auth.APIKey != "" {
			req.Header.Set("X-API-Key", f.auth.APIKey)
		}
	}
}

// ParseHeaders turns "Name: value" lines into a header set. Lines without a
// colon are ignored.
func ParseHeaders(lines []string) http.Header {
	h := http.Header{}
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h
}

// ParseRetryAfter reads a Retry-After value given either as seconds
// (integer or decimal) or as an HTTP date.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		switch {
		case math.IsNaN(secs) || math.IsInf(secs, 0):
			return 0, false
		case secs < 0:
			secs = 0
		case secs > maxRetryAfterSecs:
			return time.Duration(math.MaxInt64), true
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func reasonPhrase(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
}
