package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxBodyBytes = 8 << 20

// HTTPOptions parameterise the shared REST client of an exchange adapter.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// RateLimit is the sustained request rate per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

type httpClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

func newHTTPClient(opts HTTPOptions, defaultBase string) *httpClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBase
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "arbsignals/1.0"
	}
	return &httpClient{
		baseURL:   baseURL,
		userAgent: ua,
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
	}
}

// getJSON issues a rate-limited GET and decodes the JSON body into out.
func (c *httpClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func parseHTTPError(status int, payload []byte) error {
	body := strings.TrimSpace(string(payload))
	if len(body) > 256 {
		body = body[:256]
	}
	if body != "" {
		return fmt.Errorf("exchange api error (%d): %s", status, body)
	}
	return fmt.Errorf("exchange api error (%d)", status)
}
