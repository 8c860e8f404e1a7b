package resilience

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when a circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies this client in the registry and in logs.
	Name string

	// Timeout bounds each attempt. Default: 10s.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt. Default: 3.
	MaxRetries uint64

	// InitialInterval and MaxInterval shape the exponential backoff. MaxInterval
	// also caps a server's Retry-After hint. Defaults: 100ms and 5s.
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// CircuitBreaker defaults to DefaultCircuitBreakerConfig(Name).
	CircuitBreaker *CircuitBreakerConfig

	// Registry receives health updates. The client registers itself under Name
	// when set.
	Registry *Registry

	// UserAgent is sent with every request when set.
	UserAgent string

	Logger zerolog.Logger
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CircuitBreaker:  &cbConfig,
		Logger:          zerolog.Nop(),
	}
}

// Client is an HTTP client for upstream APIs with circuit breaker and retry
// logic. Server errors and throttling are retried; other statuses are returned
// to the caller as-is.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	config         ClientConfig
}

// NewClient creates a new resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	isSuccessful := cbConfig.IsSuccessful
	if isSuccessful == nil {
		isSuccessful = DefaultIsSuccessful
	}
	// An upstream that throttles is alive; back off without opening the circuit.
	cbConfig.IsSuccessful = func(err error) bool {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Throttled() {
			return true
		}
		return isSuccessful(err)
	}

	client := &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreaker[*http.Response](cbConfig), //nolint:bodyclose // type param, not response
		config:         cfg,
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, client)
	}
	return client
}

// Name returns the client name.
func (c *Client) Name() string {
	return c.config.Name
}

// Do executes req through the circuit breaker, retrying transient failures
// with exponential backoff. Returns ErrCircuitOpen without sending when the
// circuit is open. When retries run out on a bad status, the last response is
// returned with a nil error so the caller can read it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0
	hinted := &hintedBackOff{BackOff: bo, max: c.config.MaxInterval}
	policy := backoff.WithContext(backoff.WithMaxRetries(hinted, c.config.MaxRetries), ctx)

	var lastResp *http.Response
	keep := func(resp *http.Response) {
		if lastResp != nil && lastResp != resp {
			drain(lastResp)
		}
		lastResp = resp
	}

	operation := func() error {
		resp, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // kept in lastResp
			attempt := req.Clone(ctx)
			if c.config.UserAgent != "" {
				attempt.Header.Set("User-Agent", c.config.UserAgent)
			}
			r, err := c.httpClient.Do(attempt)
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, &StatusError{StatusCode: r.StatusCode}
			}
			return r, nil
		})

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		if resp != nil {
			keep(resp)
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Throttled() {
			hinted.hint = retryAfter(resp)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.config.Logger.Debug().
			Err(err).
			Str("client", c.config.Name).
			Str("url", req.URL.Redacted()).
			Dur("wait", wait).
			Msg("retrying upstream request")
	}

	err := backoff.RetryNotify(operation, policy, notify)
	c.record(err)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && lastResp != nil {
			return lastResp, nil
		}
		if lastResp != nil {
			drain(lastResp)
		}
		return nil, err
	}
	return lastResp, nil
}

func (c *Client) record(err error) {
	if c.config.Registry == nil {
		return
	}
	if err != nil {
		c.config.Registry.RecordFailure(c.config.Name, err)
		return
	}
	c.config.Registry.RecordSuccess(c.config.Name)
}

// StatusError is an upstream response worth retrying: a 5xx or a 429.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "upstream status " + strconv.Itoa(e.StatusCode) + ": " + http.StatusText(e.StatusCode)
}

// Throttled reports whether the upstream asked the client to slow down.
func (e *StatusError) Throttled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}

// hintedBackOff replaces the next interval with a server-supplied hint once.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
	max  time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop || b.hint <= 0 {
		return next
	}
	hint := min(b.hint, b.max)
	b.hint = 0
	return hint
}

// retryAfter parses a Retry-After header in seconds. HTTP-date values are
// ignored.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
