// Package stopfinder implements the client for the Transfinder Stopfinder
// parent API: login, client-key lookup and the multi-day student schedule.
// Everything upstream-specific (paths, headers, field names) stays in this
// package.
package stopfinder

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/blake2b"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
)

// Values the mobile app sends; the API rejects clients that differ.
const (
	APIVersion = "1.1"
	AppVersion = "3.1.0"
	UserAgent  = "Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36"

	headerToken      = "Token"
	headerClientKeys = "X-Client-Keys"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Credentials identify the account. They are immutable once the client is built.
type Credentials struct {
	BaseURL  string `validate:"required,url"`
	Email    string `validate:"required"`
	Password string `validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks non-emptiness and URL shape. Whether the credentials work
// is only known after a login.
func (c Credentials) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: invalid credentials: %s", shared.ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	return nil
}

// AccountID is the stable account key: the lowercased email.
func (c Credentials) AccountID() string {
	return strings.ToLower(strings.TrimSpace(c.Email))
}

// Fingerprint is a short blake2b digest of the account and server, safe to
// use in logs and storage keys.
func (c Credentials) Fingerprint() string {
	sum := blake2b.Sum256([]byte(c.AccountID() + "|" + strings.TrimRight(c.BaseURL, "/")))
	return hex.EncodeToString(sum[:8])
}

// RequestObserver receives one call per upstream HTTP exchange.
// Status is 0 when no response arrived.
type RequestObserver interface {
	ObserveRequest(endpoint string, status int, duration time.Duration)
}

// ClientConfig contains configuration for the Stopfinder client.
type ClientConfig struct {
	// Credentials for the account
	Credentials Credentials

	// Timeout bounds every HTTP exchange
	Timeout time.Duration

	// Location is the school district's zone for times without an offset
	Location *time.Location

	// Window is how far ahead the schedule is requested
	Window time.Duration

	// SessionMaxAge forces a new login after this long; zero disables it
	SessionMaxAge time.Duration

	// RateLimiterConfig for API pacing
	RateLimiterConfig RateLimiterConfig

	// BreakerThreshold is the consecutive connectivity failures that open the circuit
	BreakerThreshold int

	// BreakerCooldown is how long the circuit stays open
	BreakerCooldown time.Duration

	// Observer receives request metrics (optional)
	Observer RequestObserver

	// HTTPClient overrides the default client (optional)
	HTTPClient *http.Client

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(creds Credentials) ClientConfig {
	return ClientConfig{
		Credentials:       creds,
		Timeout:           20 * time.Second,
		Location:          time.Local,
		Window:            7 * 24 * time.Hour,
		RateLimiterConfig: DefaultRateLimiterConfig(),
		BreakerThreshold:  3,
		BreakerCooldown:   2 * time.Minute,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the HTTP transport shared by the session manager and the fetcher.
type Client struct {
	config         ClientConfig
	baseURL        string
	httpClient     *http.Client
	logger         *slog.Logger
	pacer          *pacer
	circuitBreaker *gobreaker.CircuitBreaker
	mapper         *Mapper
}

// NewClient validates the credentials and creates a client.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Credentials.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Window <= 0 {
		config.Window = 7 * 24 * time.Hour
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	// The per-request timeout is applied through the context in doSingleRequest.

	logger := config.Logger.With("component", "stopfinder", "account", config.Credentials.Fingerprint())

	c := &Client{
		config:     config,
		baseURL:    strings.TrimRight(config.Credentials.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		pacer:      newPacer(config.RateLimiterConfig),
		mapper:     NewMapper(config.Location),
	}
	c.circuitBreaker = newBreaker(config.BreakerThreshold, config.BreakerCooldown, logger)

	return c, nil
}

// Credentials returns the account credentials.
func (c *Client) Credentials() Credentials {
	return c.config.Credentials
}

// Location returns the zone used for offset-less times.
func (c *Client) Location() *time.Location {
	return c.config.Location
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// response is a fully read upstream reply.
type response struct {
	status int
	header http.Header
	body   []byte
}

// ok reports a 2xx status.
func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// rejected reports an authorization rejection.
func (r *response) rejected() bool {
	return r.status == http.StatusUnauthorized || r.status == http.StatusForbidden
}

// message extracts an upstream error message for logs and errors.
func (r *response) message() string {
	var apiErr APIErrorDTO
	if err := json.Unmarshal(r.body, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message
	}
	text := strings.TrimSpace(string(r.body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return http.StatusText(r.status)
	}
	return text
}

// newBreaker opens after threshold consecutive connectivity failures. Auth
// and parse outcomes prove the upstream answered, so they count as successes.
func newBreaker(threshold int, cooldown time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "stopfinder",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			return !shared.IsConnectivity(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// doRequest runs one exchange through the circuit breaker. Transport
// failures, timeouts, 429 and 5xx come back as connectivity errors; any
// other status is returned to the caller to classify.
func (c *Client) doRequest(ctx context.Context, op, method, path string, body interface{}, session *Session) (*response, error) {
	out, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.doSingleRequest(ctx, op, method, path, body, session)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, shared.WrapError("stopfinder", op, shared.ErrConnectivity, "upstream circuit open", err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*response), nil
}

// doSingleRequest performs a single HTTP request without the breaker.
func (c *Client) doSingleRequest(ctx context.Context, op, method, path string, body interface{}, session *Session) (*response, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, shared.WrapError("stopfinder", op, shared.ErrConnectivity, "local rate limit", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, session)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("stopfinder api request", "op", op, "method", method, "path", req.URL.Path)

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, 0, time.Since(start))
		return nil, shared.WrapError("stopfinder", op, shared.ErrConnectivity, "request failed", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	c.observe(op, httpResp.StatusCode, time.Since(start))
	if err != nil {
		return nil, shared.WrapError("stopfinder", op, shared.ErrConnectivity, "read response", err)
	}

	resp := &response{status: httpResp.StatusCode, header: httpResp.Header, body: respBody}

	// Handle rate limiting
	if resp.status == http.StatusTooManyRequests {
		var retryAfter time.Duration
		if seconds, err := strconv.Atoi(httpResp.Header.Get("Retry-After")); err == nil {
			retryAfter = time.Duration(seconds) * time.Second
		}
		retryAfter = c.pacer.Pause(retryAfter)
		return nil, shared.WrapError("stopfinder", op, shared.ErrConnectivity, "rate limited by upstream",
			&RateLimitError{RetryAfter: retryAfter, Message: "retry after " + retryAfter.String()})
	}

	if resp.status >= 500 {
		return nil, shared.NewDomainError("stopfinder", op, shared.ErrConnectivity,
			fmt.Sprintf("upstream status %d: %s", resp.status, resp.message()))
	}

	return resp, nil
}

// setHeaders applies the mobile app headers and, when given, the session.
func (c *Client) setHeaders(req *http.Request, session *Session) {
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Origin", "file://")
	req.Header.Set("X-Requested-With", "com.transfinder.stopfinder")
	req.Header.Set("X-StopfinderApp-Version", AppVersion)

	if session != nil {
		req.Header.Set(headerToken, session.token)
		if session.clientKey != "" {
			req.Header.Set(headerClientKeys, session.clientKey)
		}
	}
}

func (c *Client) observe(op string, status int, d time.Duration) {
	if c.config.Observer != nil {
		c.config.Observer.ObserveRequest(op, status, d)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus is a point-in-time view of the transport.
type ClientStatus struct {
	RateLimiter         RateLimiterStatus `json:"rate_limiter"`
	CircuitState        string            `json:"circuit_state"`
	ConsecutiveFailures uint32            `json:"consecutive_failures"`
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter:         c.pacer.Status(),
		CircuitState:        c.circuitBreaker.State().String(),
		ConsecutiveFailures: c.circuitBreaker.Counts().ConsecutiveFailures,
	}
}
