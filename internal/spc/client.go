package spc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"spc2mqtt/internal/logger"
)

const (
	requestTimeout = 8 * time.Second
	userAgent      = "spc42-client/1.0"

	// CookieFileName is the Netscape jar under the session cache dir.
	CookieFileName = "spc_cookies.jar"
)

// StatusError reports a panel response with HTTP status 400 or above.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("panel returned HTTP %d", e.Code)
}

// Response is the outcome of one panel request. Body is decoded as UTF-8
// regardless of the declared charset; FinalURL is the URL after redirects
// (the session id shows up there after login).
type Response struct {
	Body     string
	FinalURL string
}

// Client is the single shared HTTP client for the panel.
//
// Two levels of serialization: mu makes individual requests sequential, and
// flight is the coarse single-flight lock held across multi-request sequences
// (login, command execution) so they never interleave and invalidate each
// other's session.
type Client struct {
	host string
	http *http.Client
	jar  *Jar
	log  *logger.Logger

	mu     sync.Mutex
	flight sync.Mutex
}

// NewClient builds the shared client. cacheDir is created if missing; the
// cookie jar inside it is loaded, a corrupt jar is discarded.
func NewClient(host, cacheDir string, log *logger.Logger) (*Client, error) {
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session cache dir: %w", err)
	}
	jar, err := OpenJar(filepath.Join(cacheDir, CookieFileName))
	if err != nil {
		return nil, err
	}
	c := &Client{
		host: strings.TrimRight(host, "/"),
		jar:  jar,
		log:  log,
	}
	c.http = &http.Client{
		Timeout: requestTimeout,
		Jar:     jar,
	}
	return c, nil
}

// Host returns the panel base URL without a trailing slash.
func (c *Client) Host() string { return c.host }

// WithFlight runs fn under the coarse single-flight lock.
func (c *Client) WithFlight(fn func() error) error {
	c.flight.Lock()
	defer c.flight.Unlock()
	return fn()
}

// Get fetches host+path. Requests are serialized; the jar is saved after
// every successful request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return c.do(req)
}

// PostForm posts a form-encoded body to host+path, following redirects.
func (c *Client) PostForm(ctx context.Context, path string, data url.Values) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	c.SaveCookies()
	return &Response{
		Body:     string(body),
		FinalURL: resp.Request.URL.String(),
	}, nil
}

// SaveCookies persists the jar, best effort.
func (c *Client) SaveCookies() {
	if err := c.jar.Save(); err != nil {
		c.log.Warnw("cookie jar save failed", "err", err)
	}
}
