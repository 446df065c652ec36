package remotecache

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/forgebuild/forge/internal/blobstore"
	"github.com/forgebuild/forge/internal/hashing"
)

// ClientConfig configures a Client's retry, rate limiting, and transport
// behavior. The connection-pooling fields mirror the teacher's
// RetryConfig in internal/llm/retry_client.go.
type ClientConfig struct {
	BaseURL string

	MaxElapsedTime      time.Duration
	InitialInterval     time.Duration
	MaxInterval         time.Duration

	RateLimitPerSecond float64
	RateLimitBurst     int

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration

	// CircuitBreakerThreshold is the number of consecutive failures that
	// trips the breaker; CircuitBreakerCooldown is how long it stays open
	// before allowing a trial request through.
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
}

// DefaultClientConfig returns sensible defaults for a same-datacenter
// remote cache deployment.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:                 baseURL,
		MaxElapsedTime:          30 * time.Second,
		InitialInterval:         100 * time.Millisecond,
		MaxInterval:             5 * time.Second,
		RateLimitPerSecond:      200,
		RateLimitBurst:          50,
		MaxIdleConns:            100,
		MaxIdleConnsPerHost:     20,
		IdleConnTimeout:         90 * time.Second,
		TLSHandshakeTimeout:     10 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerCooldown:  10 * time.Second,
	}
}

// Client is a remote cache client: rate-limited, retried with
// exponential backoff, and fused by a circuit breaker so a cache outage
// degrades to "treat every lookup as a miss" rather than stalling every
// build action behind a dead remote.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitBreaker
}

// NewClient constructs a Client from cfg.
func NewClient(cfg ClientConfig) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: transport, Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst),
		breaker: newCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown),
	}
}

func (c *Client) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = c.cfg.MaxInterval
	b.MaxElapsedTime = c.cfg.MaxElapsedTime
	b.RandomizationFactor = 0.25
	// Two retries after the first try: at most three attempts in all.
	return backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)
}

func (c *Client) url(h hashing.Hash) string {
	return fmt.Sprintf("%s/cas/%s", c.cfg.BaseURL, h.String())
}

// Has performs a HEAD request to check for remote presence of h.
func (c *Client) Has(ctx context.Context, h hashing.Hash) (bool, error) {
	if !c.breaker.Allow() {
		return false, errCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	var exists bool
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url(h), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusOK:
			exists = true
			return nil
		case resp.StatusCode == http.StatusNotFound:
			exists = false
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("remotecache: transient status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("remotecache: unexpected status %d", resp.StatusCode))
		}
	}

	err := backoff.Retry(op, c.newBackoff(ctx))
	c.breaker.Record(err == nil)
	return exists, err
}

// Get fetches a blob by hash from the remote cache.
func (c *Client) Get(ctx context.Context, h hashing.Hash) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, errCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var data []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(h), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			data = body
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(blobstoreMissError(h))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("remotecache: transient status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("remotecache: unexpected status %d", resp.StatusCode))
		}
	}

	err := backoff.Retry(op, c.newBackoff(ctx))
	if err != nil && !blobstore.IsMiss(err) {
		c.breaker.Record(false)
		return nil, err
	}
	c.breaker.Record(true)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func blobstoreMissError(h hashing.Hash) error {
	return fmt.Errorf("remotecache: blob %s not found: %w", h, errRemoteMiss)
}

var errRemoteMiss = fmt.Errorf("remote blob missing")

// IsMiss reports whether err indicates the remote does not have the blob.
func IsMiss(err error) bool {
	return err != nil && (err == errRemoteMiss || errorsIs(err, errRemoteMiss))
}

func errorsIs(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Put uploads a blob to the remote cache, compressing the body with zstd
// when it exceeds compressionThreshold bytes.
func (c *Client) Put(ctx context.Context, data []byte) (hashing.Hash, error) {
	h := hashing.HashBytes(data)
	if !c.breaker.Allow() {
		return hashing.Hash{}, errCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return hashing.Hash{}, err
	}

	body, encoding, err := maybeCompress(data)
	if err != nil {
		return hashing.Hash{}, err
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(h), bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		if encoding != "" {
			req.Header.Set("Content-Encoding", encoding)
		}
		req.ContentLength = int64(len(body))

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("remotecache: transient status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("remotecache: unexpected status %d", resp.StatusCode))
		}
	}

	err = backoff.Retry(op, c.newBackoff(ctx))
	c.breaker.Record(err == nil)
	return h, err
}

func maybeCompress(data []byte) (body []byte, encoding string, err error) {
	if len(data) < compressionThreshold {
		return data, "", nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, "", err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), "zstd", nil
}

// circuitBreaker is a minimal three-state (closed/open/half-open)
// breaker: no pack library implements this exact mechanism, so it is
// hand-rolled on sync.Mutex + wall-clock cooldown per SPEC_FULL.md's
// ambient-stack notes.
type circuitBreaker struct {
	mu              sync.Mutex
	threshold       int
	cooldown        time.Duration
	consecutiveFail int
	openedAt        time.Time
	open            bool
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &circuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a request may proceed: always true when closed,
// true exactly once per cooldown window when open (a half-open trial).
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if time.Since(b.openedAt) >= b.cooldown {
		b.openedAt = time.Now()
		return true // half-open trial
	}
	return false
}

// Record reports the outcome of a request permitted by Allow.
func (b *circuitBreaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.consecutiveFail = 0
		b.open = false
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.threshold {
		b.open = true
		b.openedAt = time.Now()
	}
}

var errCircuitOpen = fmt.Errorf("remotecache: circuit breaker open")
