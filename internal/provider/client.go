package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/x69x/webmail/internal/model"
)

// Client is a thin HTTP client for the mailbox provisioning API. All five
// operations go through a single multiplexed endpoint whose `action` query
// parameter selects the operation; request and response bodies are JSON.
// Transport failures and provider-reported business failures are both
// normalized into a single error path so callers only branch on
// success/failure.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
	maxRetries int
}

// NewClient creates a new provider client. The baseURL is the multiplexed
// endpoint root (e.g. https://demo.x69x.fun/functions/v1/mailcow-api); the
// apiKey authenticates against it.
func NewClient(baseURL, apiKey string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:     logger,
		maxRetries: 3,
	}
}

// CreateMailbox provisions a new mailbox and returns its normalized
// address, localPart@domain.
func (c *Client) CreateMailbox(ctx context.Context, localPart, domain, password string) (string, error) {
	var resp envelope
	err := c.do(ctx, "create_account", createRequest{
		LocalPart: localPart,
		Domain:    domain,
		Password:  password,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.failed() {
		return "", &Error{Action: "create_account", Message: resp.message()}
	}

	return localPart + "@" + domain, nil
}

// Login verifies that the mailbox exists and is active, returning its
// account descriptor. The provider does not verify the submitted password;
// the descriptor's Active flag is checked here so an inactive mailbox
// fails the same way a missing one does.
func (c *Client) Login(ctx context.Context, email, password string) (*AccountInfo, error) {
	var resp loginResponse
	err := c.do(ctx, "login", loginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.failed() {
		return nil, &Error{Action: "login", Message: resp.message()}
	}
	if !resp.Account.Active {
		return nil, &Error{Action: "login", Message: "mailbox is inactive"}
	}

	return &resp.Account, nil
}

// GetMessages fetches the mailbox's current messages. On any failure the
// returned slice is empty but non-nil and the error has already been
// logged, so callers that render the inbox may ignore the error entirely.
func (c *Client) GetMessages(ctx context.Context, email, password string) ([]model.Message, error) {
	var resp messagesResponse
	err := c.do(ctx, "get_emails", messagesRequest{Email: email, Password: password}, &resp)
	if err == nil && resp.failed() {
		err = &Error{Action: "get_emails", Message: resp.message()}
	}
	if err != nil {
		c.logger.WithError(err).WithField("email", email).Warn("fetching messages failed")
		return []model.Message{}, err
	}

	messages := make([]model.Message, 0, len(resp.Emails))
	for _, w := range resp.Emails {
		messages = append(messages, w.toModel())
	}

	return messages, nil
}

// DeleteMailbox removes the mailbox on the provider side.
func (c *Client) DeleteMailbox(ctx context.Context, email string) error {
	var resp envelope
	err := c.do(ctx, "delete_account", deleteRequest{Email: email}, &resp)
	if err != nil {
		return err
	}
	if resp.failed() {
		return &Error{Action: "delete_account", Message: resp.message()}
	}
	return nil
}

// ChangePassword sets a new password for the mailbox on the provider side.
func (c *Client) ChangePassword(ctx context.Context, email, newPassword string) error {
	var resp envelope
	err := c.do(ctx, "change_password", passwordRequest{Email: email, NewPassword: newPassword}, &resp)
	if err != nil {
		return err
	}
	if resp.failed() {
		return &Error{Action: "change_password", Message: resp.message()}
	}
	return nil
}

// do is the core HTTP method that builds the multiplexed request, handles
// auth, rate limiting with exponential backoff, and JSON (de)serialization.
func (c *Client) do(
	ctx context.Context,
	action string,
	body interface{},
	result interface{},
) error {
	url := c.baseURL + "?action=" + action

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", action, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, url, bytes.NewReader(data),
		)
		if err != nil {
			return fmt.Errorf("creating %s request: %w", action, err)
		}

		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("calling provider %s: %w", action, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading %s response: %w", action, readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := retryAfterDuration(resp, attempt)
			lastErr = fmt.Errorf("rate limited (429) on %s", action)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// Business failures come back with non-2xx status and a
			// JSON envelope; surface the provider's own text if present.
			var env envelope
			if json.Unmarshal(respBody, &env) == nil && (env.ErrText != "" || env.Msg != "") {
				return &Error{Action: action, Message: env.message()}
			}
			return fmt.Errorf(
				"unexpected status %d on %s: %s",
				resp.StatusCode, action, string(respBody),
			)
		}

		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling %s response: %w", action, err)
		}

		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
