package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/oshokin/fleet-updater/internal/domain/update"
	"github.com/oshokin/fleet-updater/internal/logger"
)

var (
	errBadHTTPStatus     = errors.New("unexpected http status")
	errPowerTimeout      = errors.New("instance did not reach the requested power state in time")
	errStatusUnavailable = errors.New("instance status could not be determined")
)

// API is the narrow control-plane surface the orchestrator depends on.
// Stop and Start are idempotent: an instance already in the target state
// returns success without a remote command being issued.
type API interface {
	// Stop requests a stop and polls until the instance is not running or
	// the timeout elapses.
	Stop(ctx context.Context, instance update.Instance, timeout time.Duration) error
	// Start requests a start and polls until the instance is running or
	// the timeout elapses.
	Start(ctx context.Context, instance update.Instance, timeout time.Duration) error
	// IsRunning performs a single status query. Transport and parse
	// errors are returned, and callers must treat them as "not confirmed
	// running".
	IsRunning(ctx context.Context, instance update.Instance) (bool, error)
	// Version returns the panel-reported server version for the
	// instance, or an empty string when the panel does not expose one.
	Version(ctx context.Context, instance update.Instance) (string, error)
	// TestConnectivity performs a lightweight reachability probe.
	TestConnectivity(ctx context.Context) error
}

// Client is the HTTP implementation of API.
type Client struct {
	baseURL      string
	token        string
	pollInterval time.Duration
	httpClient   *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithPollInterval overrides the status poll cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// defaultPollInterval is the status poll cadence between power-state checks.
const defaultPollInterval = 2 * time.Second

// NewClient creates a control-plane client for the panel at baseURL.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		token:        token,
		pollInterval: defaultPollInterval,
		httpClient:   http.DefaultClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// statusResponse is the slice of the panel's status payload this tool reads.
type statusResponse struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
}

// Stop implements API.
func (c *Client) Stop(ctx context.Context, instance update.Instance, timeout time.Duration) error {
	return c.transition(ctx, instance, "stop", false, timeout)
}

// Start implements API.
func (c *Client) Start(ctx context.Context, instance update.Instance, timeout time.Duration) error {
	return c.transition(ctx, instance, "start", true, timeout)
}

// transition drives the instance toward the target running state: return
// early if already there, issue the power action, then poll at a fixed
// interval until the state is reached or the timeout elapses.
func (c *Client) transition(
	ctx context.Context,
	instance update.Instance,
	action string,
	targetRunning bool,
	timeout time.Duration,
) error {
	running, err := c.IsRunning(ctx, instance)
	if err == nil && running == targetRunning {
		logger.DebugKV(ctx, "Instance already in target state",
			"instance", instance.Name, "running", running)

		return nil
	}

	if err := c.power(ctx, instance, action); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)

	for {
		running, err := c.IsRunning(ctx, instance)
		if err == nil && running == targetRunning {
			return nil
		}

		if err != nil {
			logger.WarnKV(ctx, "Status poll failed",
				"instance", instance.Name, "error", err)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%s %s after %s: %w",
				action, instance.Name, timeout, errPowerTimeout)
		}

		if err := sleepContext(ctx, c.pollInterval); err != nil {
			return err
		}
	}
}

// IsRunning implements API.
func (c *Client) IsRunning(ctx context.Context, instance update.Instance) (bool, error) {
	status, err := c.status(ctx, instance)
	if err != nil {
		return false, err
	}

	return status.Running, nil
}

// Version implements API.
func (c *Client) Version(ctx context.Context, instance update.Instance) (string, error) {
	status, err := c.status(ctx, instance)
	if err != nil {
		return "", err
	}

	return status.Version, nil
}

// TestConnectivity implements API.
func (c *Client) TestConnectivity(ctx context.Context) error {
	if _, err := c.get(ctx, c.endpoint("api", "servers")); err != nil {
		return fmt.Errorf("%w: %w", update.ErrTransientRemote, err)
	}

	return nil
}

// status fetches and decodes the instance status document.
func (c *Client) status(ctx context.Context, instance update.Instance) (*statusResponse, error) {
	body, err := c.get(ctx, c.endpoint("api", "servers", instance.RemoteID, "status"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errStatusUnavailable, err)
	}

	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("%w: %w", errStatusUnavailable, err)
	}

	return &status, nil
}

// power issues a POST power action for the instance.
func (c *Client) power(ctx context.Context, instance update.Instance, action string) error {
	endpoint := c.endpoint("api", "servers", instance.RemoteID, action)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		return err
	}

	return c.do(req, nil)
}

// get issues an authenticated GET and returns the response body.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}

	var body []byte
	if err := c.do(req, &body); err != nil {
		return nil, err
	}

	return body, nil
}

// do sends the request with the bearer token and treats any non-2xx
// response as a failure.
func (c *Client) do(req *http.Request, body *[]byte) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s %s: %s: %w",
			req.Method, req.URL, response.Status, errBadHTTPStatus)
	}

	if body == nil {
		return nil
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	*body = data

	return nil
}

// endpoint joins path segments onto the panel base URL, normalising
// duplicate slashes.
func (c *Client) endpoint(segments ...string) string {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		// Base URL validity is checked at configuration load.
		return c.baseURL
	}

	base.Path = path.Join(append([]string{base.Path}, segments...)...)

	return base.String()
}

// sleepContext waits for the duration or returns early when the context is
// cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
