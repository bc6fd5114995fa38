// Package source holds the producers for the three remote endpoints.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const maxBodyBytes = 1 << 20

var (
	// ErrUnexpectedStatus is wrapped by every *StatusError.
	ErrUnexpectedStatus = errors.New("unexpected http status")
	// ErrMalformedPayload is returned when a body cannot be decoded or fails validation.
	ErrMalformedPayload = errors.New("malformed payload")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// Default public endpoints.
const (
	DefaultDogURL  = "https://dog.ceo/api/breeds/image/random"
	DefaultJokeURL = "https://official-joke-api.appspot.com/random_joke"
	DefaultUserURL = "https://randomuser.me/api/"
)

// BreakerConfig holds the circuit breaker settings applied to each endpoint.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	MinRequests      uint32
	FailureThreshold float64
}

// DefaultBreakerConfig returns breaker settings suited to interactive use.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		MinRequests:      5,
		FailureThreshold: 0.8,
	}
}

// Config holds the endpoint URLs and transport settings.
type Config struct {
	DogURL  string
	JokeURL string
	UserURL string
	Timeout time.Duration
	Breaker BreakerConfig
}

// Client fetches and validates the three payloads. Each endpoint has its own
// circuit breaker so one failing service does not affect the others.
type Client struct {
	cfg      Config
	http     *http.Client
	validate *validator.Validate
	logger   zerolog.Logger

	dog  *gobreaker.CircuitBreaker
	joke *gobreaker.CircuitBreaker
	user *gobreaker.CircuitBreaker
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient creates a Client. Empty URLs fall back to the public endpoints.
func NewClient(cfg Config, logger zerolog.Logger, opts ...ClientOption) *Client {
	if cfg.DogURL == "" {
		cfg.DogURL = DefaultDogURL
	}
	if cfg.JokeURL == "" {
		cfg.JokeURL = DefaultJokeURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = DefaultUserURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = DefaultBreakerConfig()
	}

	c := &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "SourceClient").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dog = c.newBreaker("dog")
	c.joke = c.newBreaker("joke")
	c.user = c.newBreaker("user")
	return c
}

func (c *Client) newBreaker(name string) *gobreaker.CircuitBreaker {
	bc := c.cfg.Breaker
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= bc.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed.")
		},
		// Bad payloads and 4xx are the caller's problem, not the service's health.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, ErrMalformedPayload) {
				return true
			}
			var se *StatusError
			return errors.As(err, &se) && se.Code < http.StatusInternalServerError
		},
	})
}

// Dog fetches a random dog image.
func (c *Client) Dog(ctx context.Context) (DogImage, error) {
	return getJSON[DogImage](ctx, c, c.dog, c.cfg.DogURL)
}

// Joke fetches a random joke.
func (c *Client) Joke(ctx context.Context) (Joke, error) {
	return getJSON[Joke](ctx, c, c.joke, c.cfg.JokeURL)
}

// User fetches a random user profile.
func (c *Client) User(ctx context.Context) (UserProfile, error) {
	return getJSON[UserProfile](ctx, c, c.user, c.cfg.UserURL)
}

func getJSON[T any](ctx context.Context, c *Client, cb *gobreaker.CircuitBreaker, url string) (T, error) {
	var zero T
	result, err := cb.Execute(func() (interface{}, error) {
		return fetch[T](ctx, c, url)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn().Str("url", url).Err(err).Msg("Request rejected by circuit breaker.")
			return zero, fmt.Errorf("%s: %w", cb.Name(), err)
		}
		return zero, err
	}
	return result.(T), nil
}

func fetch[T any](ctx context.Context, c *Client, url string) (T, error) {
	var zero T
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return zero, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", url).Msg("Request failed.")
		return zero, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return zero, &StatusError{URL: url, Code: resp.StatusCode}
	}

	var payload T
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return zero, fmt.Errorf("%w: decode %s: %v", ErrMalformedPayload, url, err)
	}
	if err := c.validate.StructCtx(ctx, payload); err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, url, err)
	}

	c.logger.Debug().Str("url", url).Dur("elapsed", time.Since(start)).Msg("Payload fetched.")
	return payload, nil
}
