// Package functions calls the backend's administrative HTTP functions and
// records each successful action in the system_events collection.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tourapp-admin/internal/docstore"
	apperrors "tourapp-admin/internal/errors"
	"tourapp-admin/internal/logging"
)

// EventsCollection receives one document per successful admin action
const EventsCollection = "system_events"

// Function names as deployed
const (
	FnForceLogoutDevice      = "forceLogoutDevice"
	FnForceSyncAllDevices    = "forceSyncAllDevices"
	FnForceSyncDevice        = "forceSyncDevice"
	FnDeleteUser             = "deleteUserHttp"
	FnSendSystemNotification = "sendSystemNotification"
)

// Config holds the function endpoint settings
type Config struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Actor is recorded as initiatedBy and as the event user
	Actor string `mapstructure:"actor" yaml:"actor"`
}

// Validate checks the endpoint settings
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("functions base_url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("functions base_url must be an http(s) URL: %q", c.BaseURL)
	}
	if c.Token == "" {
		return errors.New("functions token is required")
	}
	return nil
}

// FunctionError is a non-2xx reply, or a 2xx reply whose success flag is false
type FunctionError struct {
	Function string
	Status   int
	Message  string
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("function %s failed (status %d): %s", e.Function, e.Status, e.Message)
}

// Response is the decoded reply body
type Response map[string]interface{}

// Notification is the body of sendSystemNotification
type Notification struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	TargetUserRole string `json:"targetUserRole,omitempty"`
	TargetDeviceID string `json:"targetDeviceId,omitempty"`
	Priority       string `json:"priority,omitempty"`
}

// Client posts to <BaseURL>/<function> with a bearer token
type Client struct {
	baseURL    string
	token      string
	actor      string
	httpClient *http.Client
	events     docstore.Store
	retry      *apperrors.RetryHandler
	logger     *logging.Logger
	now        func() time.Time
}

// NewClient creates a client. events may be nil, in which case no
// system_events are written.
func NewClient(config Config, events docstore.Store, logger *logging.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Actor == "" {
		config.Actor = "Admin"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		token:      config.Token,
		actor:      config.Actor,
		httpClient: &http.Client{Timeout: config.Timeout},
		events:     events,
		retry:      apperrors.NewDefaultRetryHandler(),
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Call posts payload to the named function. Network failures are retried
// only when idempotent is set.
func (c *Client) Call(ctx context.Context, function string, payload interface{}, idempotent bool) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", function, err)
	}

	start := time.Now()
	var resp Response
	status := 0

	call := func() error {
		var callErr error
		resp, status, callErr = c.post(ctx, function, body)
		return callErr
	}
	if idempotent {
		err = c.retry.Retry(ctx, func() error {
			callErr := call()
			var fnErr *FunctionError
			if errors.As(callErr, &fnErr) && (fnErr.Status >= 500 || fnErr.Status == http.StatusTooManyRequests) {
				return apperrors.NewRecoverableError(apperrors.ErrorTypeConnection, "function temporarily unavailable", fnErr)
			}
			return callErr
		})
	} else {
		err = call()
	}

	c.logger.LogFunctionCall(function, status, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, function string, body []byte) (Response, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+function, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, res.StatusCode, err
	}

	var decoded Response
	if len(bytes.TrimSpace(raw)) > 0 {
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil && res.StatusCode < 300 {
			return nil, res.StatusCode, &FunctionError{Function: function, Status: res.StatusCode, Message: "invalid JSON response"}
		}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		message := http.StatusText(res.StatusCode)
		if msg, ok := decoded["error"].(string); ok && msg != "" {
			message = msg
		}
		return nil, res.StatusCode, &FunctionError{Function: function, Status: res.StatusCode, Message: message}
	}

	// callable functions wrap their reply in {"result": ...}
	if inner, ok := decoded["result"].(map[string]interface{}); ok && len(decoded) == 1 {
		decoded = inner
	}
	if decoded == nil {
		decoded = Response{}
	}
	if success, ok := decoded["success"].(bool); ok && !success {
		message := "function returned success=false"
		if msg, ok := decoded["error"].(string); ok && msg != "" {
			message = msg
		}
		return nil, res.StatusCode, &FunctionError{Function: function, Status: res.StatusCode, Message: message}
	}
	return decoded, res.StatusCode, nil
}

// ForceLogoutDevice signs a device out
func (c *Client) ForceLogoutDevice(ctx context.Context, deviceID string) (Response, error) {
	if deviceID == "" {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "device id is required", nil)
	}
	resp, err := c.Call(ctx, FnForceLogoutDevice, map[string]interface{}{
		"deviceId":    deviceID,
		"initiatedBy": c.actor,
	}, true)
	if err != nil {
		return nil, err
	}
	c.recordEvent(ctx, "force_logout", fmt.Sprintf("Admin forced logout for device: %s", deviceID), map[string]interface{}{"deviceId": deviceID})
	return resp, nil
}

// ForceSyncAllDevices asks every active device to refresh its data
func (c *Client) ForceSyncAllDevices(ctx context.Context) (Response, error) {
	resp, err := c.Call(ctx, FnForceSyncAllDevices, map[string]interface{}{
		"initiatedBy": c.actor,
		"timestamp":   c.now().UTC().Format(time.RFC3339Nano),
	}, true)
	if err != nil {
		return nil, err
	}
	c.recordEvent(ctx, "force_sync", "Admin triggered force sync for all devices", nil)
	return resp, nil
}

// ForceSyncDevice asks one device to refresh its data
func (c *Client) ForceSyncDevice(ctx context.Context, deviceID string) (Response, error) {
	if deviceID == "" {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "device id is required", nil)
	}
	resp, err := c.Call(ctx, FnForceSyncDevice, map[string]interface{}{
		"deviceId":    deviceID,
		"initiatedBy": c.actor,
		"timestamp":   c.now().UTC().Format(time.RFC3339Nano),
	}, true)
	if err != nil {
		return nil, err
	}
	c.recordEvent(ctx, "force_sync", fmt.Sprintf("Admin triggered force sync for device: %s", deviceID), map[string]interface{}{"deviceId": deviceID})
	return resp, nil
}

// DeleteUser removes a user account together with its profile document. The
// reply must carry success=true.
func (c *Client) DeleteUser(ctx context.Context, userID string) (Response, error) {
	if userID == "" {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "user id is required", nil)
	}
	resp, err := c.Call(ctx, FnDeleteUser, map[string]interface{}{"userId": userID}, false)
	if err != nil {
		return nil, err
	}
	if success, _ := resp["success"].(bool); !success {
		return nil, &FunctionError{Function: FnDeleteUser, Status: http.StatusOK, Message: "user deletion failed"}
	}
	c.recordEvent(ctx, "user_deleted", fmt.Sprintf("Admin deleted user: %s", userID), map[string]interface{}{"userId": userID})
	return resp, nil
}

// SendSystemNotification pushes a notification to a role, a device or everyone
func (c *Client) SendSystemNotification(ctx context.Context, n Notification) (Response, error) {
	if strings.TrimSpace(n.Title) == "" {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "notification title is required", nil)
	}
	resp, err := c.Call(ctx, FnSendSystemNotification, n, false)
	if err != nil {
		return nil, err
	}

	target := n.TargetUserRole
	if target == "" {
		target = "all"
	}
	c.recordEvent(ctx, "system_notification", fmt.Sprintf("Admin sent %q notification to %s users", n.Title, target), nil)
	return resp, nil
}

// recordEvent appends to system_events. The action already succeeded, so a
// failed write is only logged.
func (c *Client) recordEvent(ctx context.Context, eventType, message string, data map[string]interface{}) {
	if c.events == nil {
		return
	}

	event := map[string]interface{}{
		"type":      eventType,
		"message":   message,
		"timestamp": c.now().UTC(),
		"user":      c.actor,
	}
	if len(data) > 0 {
		event["data"] = data
	}

	if _, err := c.events.Add(ctx, EventsCollection, event); err != nil {
		c.logger.WithFields(map[string]interface{}{
			"event_type": eventType,
			"error":      err.Error(),
		}).Warn("Failed to record system event")
	}
}
