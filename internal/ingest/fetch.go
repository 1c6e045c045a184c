package ingest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "minyancal/internal/log"
)

// ErrBodyTooLarge is returned when a response exceeds FetcherConfig.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("ingest: response body too large")

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
}

// FetcherConfig tunes outbound requests.
type FetcherConfig struct {
	UserAgent string
	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration
	// ReadTimeout bounds waiting for response headers.
	ReadTimeout time.Duration
	// Timeout bounds the whole exchange; zero means ConnectTimeout+ReadTimeout.
	Timeout time.Duration
	// InsecureTLS skips certificate verification.
	InsecureTLS  bool
	MaxBodyBytes int64
}

// Response is a fully read HTTP response.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher performs bounded GET requests against organization calendars.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
}

// NewFetcher builds a Fetcher; zero fields take conservative defaults.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.ConnectTimeout + cfg.ReadTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "minyancal/1.0"
	}
	if cfg.InsecureTLS {
		appLog.Warn("TLS certificate verification disabled for calendar fetches")
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureTLS,
		},
	}

	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBodyBytes,
	}
}

// Get fetches rawURL. Non-2xx statuses return *StatusError.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/csv, text/calendar, text/html;q=0.9, */*;q=0.5")

	appLog.Debug("fetch start", "url", redactURL(rawURL))
	started := time.Now()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", redactURL(rawURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: redactURL(rawURL), StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", redactURL(rawURL), err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, redactURL(rawURL), f.maxBody)
	}

	appLog.Debug("fetch done", "url", redactURL(rawURL), "status", resp.StatusCode, "bytes", len(body), "elapsed", time.Since(started))
	return &Response{
		URL:         rawURL,
		StatusCode:  resp.StatusCode,
		ContentType: strings.ToLower(resp.Header.Get("Content-Type")),
		Body:        body,
	}, nil
}

// redactURL keeps scheme, host and path; credentials and query strings are
// dropped from logs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(unparsable url)"
	}
	out := u.Scheme + "://" + u.Host + u.EscapedPath()
	if u.RawQuery != "" {
		out += "?...(redacted)"
	}
	return out
}
