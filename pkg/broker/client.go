// Package broker talks to the control plane that reserves and releases
// per-server console pipes.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/clusterlabs/striker-console/pkg/config"
	"github.com/clusterlabs/striker-console/pkg/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/go-playground/validator.v9"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultReleaseRetries  = 3
	defaultReleaseInterval = 500 * time.Millisecond
	maxErrorMessageLength  = 200
)

// Client requests and releases console pipes. A pipe open is not idempotent:
// each successful OpenPipe is a separate backend reservation that needs its
// own ClosePipe.
type Client struct {
	serverURL       string
	consoleHost     string
	httpClient      *http.Client
	timeout         time.Duration
	releaseRetries  int
	releaseInterval time.Duration
	validator       *validator.Validate
}

type Option func(*Client)

// WithHTTPClient replaces the TLS-configured default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds every control-plane request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithReleaseRetries sets how many times a failed release is retried and
// the first backoff interval between attempts.
func WithReleaseRetries(retries int, interval time.Duration) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.releaseRetries = retries
		}
		if interval > 0 {
			c.releaseInterval = interval
		}
	}
}

// NewClient creates a broker client for the control plane at serverURL.
// consoleHost is the host the returned endpoints point at; the control plane
// only answers with a port.
func NewClient(serverURL, consoleHost string, opts ...Option) *Client {
	c := &Client{
		serverURL:       strings.TrimSuffix(serverURL, "/"),
		consoleHost:     consoleHost,
		timeout:         defaultTimeout,
		releaseRetries:  defaultReleaseRetries,
		releaseInterval: defaultReleaseInterval,
		validator:       validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = utils.NewHTTPClient()
	}
	return c
}

// NewClientFromSettings builds a client from loaded configuration.
func NewClientFromSettings(settings config.Settings) *Client {
	return NewClient(settings.ServerURL, settings.ConsoleHost,
		WithTimeout(settings.BrokerTimeout),
		WithReleaseRetries(settings.ReleaseRetries, 0),
	)
}

// OpenPipe asks the control plane to open a console pipe for serverUUID and
// returns the endpoint to connect to. It is never retried here.
func (c *Client) OpenPipe(ctx context.Context, serverUUID string) (Endpoint, error) {
	if err := validateServerUUID(serverUUID); err != nil {
		return Endpoint{}, err
	}

	log.Debug().Msgf("Requesting console pipe for server %s.", serverUUID)

	body, err := c.put(ctx, serverUUID, true)
	if err != nil {
		return Endpoint{}, err
	}

	var resp pipeResponse
	if err = json.Unmarshal(body, &resp); err != nil {
		return Endpoint{}, fmt.Errorf("%w: malformed pipe response: %w", ErrBrokerUnavailable, err)
	}
	if err = c.validator.Struct(resp); err != nil {
		return Endpoint{}, fmt.Errorf("%w: invalid pipe response: %w", ErrBrokerUnavailable, err)
	}

	endpoint := Endpoint{
		Protocol: resp.Protocol,
		Host:     c.consoleHost,
		Port:     resp.ForwardPort,
	}
	log.Info().Msgf("Console pipe opened for server %s at %s.", serverUUID, endpoint)
	return endpoint, nil
}

// ClosePipe releases the pipe for serverUUID. It is safe to call for a pipe
// that never got connected. Transient failures are retried with backoff; an
// explicit rejection is not. All attempts together are bounded by the
// client timeout and by ctx.
func (c *Client) ClosePipe(ctx context.Context, serverUUID string) error {
	if err := validateServerUUID(serverUUID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.releaseInterval
	b.MaxInterval = 8 * c.releaseInterval
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0

	var stopErr error
	attempt := 0
	operation := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			stopErr = fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
			return nil
		}
		_, err := c.put(ctx, serverUUID, false)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPipeRejected) {
			stopErr = err
			return nil
		}
		log.Debug().Err(err).Msgf("Failed to release console pipe for server %s (attempt %d).", serverUUID, attempt)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.releaseRetries)), ctx)
	err := backoff.Retry(operation, policy)
	if err == nil {
		err = stopErr
	}
	if err != nil {
		log.Warn().Err(err).Msgf("Console pipe for server %s was not released.", serverUUID)
		return err
	}

	log.Info().Msgf("Console pipe released for server %s.", serverUUID)
	return nil
}

func (c *Client) put(ctx context.Context, serverUUID string, isOpen bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(pipeRequest{ServerUUID: serverUUID, IsOpen: isOpen})
	if err != nil {
		return nil, err
	}

	body, status, err := utils.Put(ctx, c.httpClient, c.serverURL+manageConsolePipesURL, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}

	switch {
	case status >= 200 && status < 300:
		return body, nil
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: control plane returned %d", ErrBrokerUnavailable, status)
	default:
		return nil, fmt.Errorf("%w: control plane returned %d: %s", ErrPipeRejected, status, errorMessage(body))
	}
}

func validateServerUUID(serverUUID string) error {
	if _, err := uuid.Parse(serverUUID); err != nil {
		return fmt.Errorf("%w: invalid server uuid %q", ErrPipeRejected, serverUUID)
	}
	return nil
}

// errorMessage extracts a readable reason from an error response body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorMessageLength {
		msg = msg[:maxErrorMessageLength] + "..."
	}
	return msg
}
