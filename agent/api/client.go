// Package api is the device side client of the fleet server HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/monorkin/device-fleet-manager/internal/commands"
	"github.com/monorkin/device-fleet-manager/internal/discovery"
	"github.com/monorkin/device-fleet-manager/internal/models"
	"github.com/monorkin/device-fleet-manager/internal/provisioning"
	"github.com/monorkin/device-fleet-manager/internal/registry"
)

const (
	USER_AGENT       = "Device Fleet Agent/1.0.0"
	REQUEST_TIMEOUT  = 10 * time.Second
	MAX_RETRY_PERIOD = time.Minute
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
	Kind    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fleet server answered %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

type Client struct {
	httpClient http.Client
	baseURL    string
	token      string
	logger     *slog.Logger

	// MaxElapsedTime bounds the retries of one request.
	MaxElapsedTime time.Duration
}

func NewClient(baseURL, token string) *Client {
	return NewClientWithLogger(baseURL, token, nil)
}

func NewClientWithLogger(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: http.Client{
			Timeout: REQUEST_TIMEOUT,
		},
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		logger:         logger,
		MaxElapsedTime: MAX_RETRY_PERIOD,
	}
}

func (client *Client) log(level slog.Level, msg string, args ...any) {
	if client.logger != nil {
		client.logger.Log(context.Background(), level, msg, args...)
	}
}

func (client *Client) BaseURL() string {
	return client.baseURL
}

// DiscoverServer points the client at the first fleet server advertised on
// the local network.
func (client *Client) DiscoverServer(ctx context.Context) (*discovery.Endpoint, error) {
	client.log(slog.LevelInfo, "Looking for a fleet server")

	endpoints, err := discovery.Browse(ctx, discovery.BrowseTimeout)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, errors.New("no fleet server found on the local network")
	}

	endpoint := endpoints[0]
	client.baseURL = endpoint.BaseURL()
	client.log(slog.LevelInfo, "Fleet server discovered", "url", client.baseURL, "version", endpoint.Version)

	return &endpoint, nil
}

type enrollRequest struct {
	Token string `json:"token"`
	registry.Report
}

// Enroll redeems a provisioning token for the reporting device.
func (client *Client) Enroll(ctx context.Context, token string, report registry.Report) (*provisioning.Enrollment, error) {
	var enrollment provisioning.Enrollment
	err := client.do(ctx, http.MethodPost, "/api/provisioning/enroll", enrollRequest{Token: token, Report: report}, &enrollment)
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (client *Client) CompleteEnrollment(ctx context.Context, serial string, success bool, message string) error {
	body := map[string]any{"serial_number": serial, "success": success, "error_message": message}
	return client.do(ctx, http.MethodPost, "/api/provisioning/complete", body, nil)
}

func (client *Client) Report(ctx context.Context, report registry.Report) error {
	return client.do(ctx, http.MethodPost, "/api/devices/data", report, nil)
}

func (client *Client) Heartbeat(ctx context.Context, serial string) error {
	return client.do(ctx, http.MethodPost, "/api/devices/heartbeat", map[string]string{"serial_number": serial}, nil)
}

// PollCommands claims the device's pending commands. Each command is
// returned by exactly one poll.
func (client *Client) PollCommands(ctx context.Context, serial string) ([]models.Command, error) {
	var cmds []models.Command
	path := "/api/devices/commands?serial_number=" + url.QueryEscape(serial)
	if err := client.do(ctx, http.MethodGet, path, nil, &cmds); err != nil {
		return nil, err
	}
	return cmds, nil
}

func (client *Client) ReportResult(ctx context.Context, report commands.ResultReport) error {
	return client.do(ctx, http.MethodPost, "/api/devices/command-result", report, nil)
}

// do sends one request, retrying transport failures and temporary server
// errors with exponential backoff.
func (client *Client) do(ctx context.Context, method, path string, body, out any) error {
	if client.baseURL == "" {
		return errors.New("fleet server address is unknown")
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = client.MaxElapsedTime

	operation := func() error {
		err := client.send(ctx, method, path, payload, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		client.log(slog.LevelWarn, "Request failed, retrying", "method", method, "path", path, "error", err, "wait", wait)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
}

func (client *Client) send(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, reader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	request.Header.Set("User-Agent", USER_AGENT)
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if client.token != "" {
		request.Header.Set("Authorization", "Bearer "+client.token)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("failed to reach fleet server: %w", err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		apiErr := &APIError{Status: response.StatusCode, Message: response.Status}
		var errBody struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			apiErr.Message = errBody.Error
			apiErr.Kind = errBody.Kind
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return nil
}
