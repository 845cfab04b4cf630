package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Cookie names the e-Bridge backend uses for session transport. The client
// never reads the values for authentication purposes; the jar replays them
// automatically on every request (credentials mode).
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// Client issues JSON requests against the e-Bridge backend with session
// cookies attached. All session-coordination layers sit on top of it.
type Client struct {
	base      *url.URL
	http      *http.Client
	jar       *cookiejar.Jar
	timeout   time.Duration
	limiter   *rate.Limiter
	log       zerolog.Logger
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger used for request logging.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithRateLimit caps outgoing requests at rps requests per second with a
// burst of one. Zero or negative rps disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithHTTPTransport swaps the underlying transport (tests, proxies).
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = rt }
}

// New creates a Client for the given base URL. The base should include any
// path prefix the backend mounts its routes under (e.g. "https://host/api").
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http(s), got %q", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := &Client{
		base:      base,
		jar:       jar,
		http:      &http.Client{Jar: jar},
		timeout:   15 * time.Second,
		log:       zerolog.Nop(),
		userAgent: "ebridge-go",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Do issues a request and decodes the innermost payload into out (when out
// is non-nil). The body, if non-nil, is JSON-serialized. Non-2xx responses
// are returned as *Error carrying the HTTP status.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error().Err(err).
			Str("request_id", requestID).
			Str("method", method).
			Str("path", path).
			Msg("request failed")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("request")

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode, RequestID: requestID}
		var env Envelope
		if json.Unmarshal(raw, &env) == nil && env.Data.Message != "" {
			apiErr.Message = env.Data.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response envelope: %w", err)
	}
	payload := env.Payload()
	if payload == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response payload: %w", err)
	}
	return nil
}

// AccessTokenExpiry returns the expiry of the access-token cookie currently
// in the jar, when the cookie is a JWT whose exp claim can be read. The
// signature is NOT verified; the value is used only to time the proactive
// refresh, never to grant access. Returns the zero time when unavailable.
func (c *Client) AccessTokenExpiry() time.Time {
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name != AccessTokenCookie {
			continue
		}
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(ck.Value, claims); err != nil {
			return time.Time{}
		}
		exp, err := claims.GetExpirationTime()
		if err != nil || exp == nil {
			return time.Time{}
		}
		return exp.Time
	}
	return time.Time{}
}

// HasSessionCookies reports whether the jar currently holds either session
// cookie for the backend host.
func (c *Client) HasSessionCookies() bool {
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name == AccessTokenCookie || ck.Name == RefreshTokenCookie {
			return true
		}
	}
	return false
}
