package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 15 * time.Second

// HTTPClient implements Client against the platform's REST API.
// It owns fault classification: every non-2xx response and transport
// error leaves as a sentinel error or a *Fault, never a raw status code.
type HTTPClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewHTTPClient returns a client for the platform API at baseURL,
// authenticating with the given bot token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// OpenThread creates a thread in the channel. ttl is sent as the
// platform's auto-archive hint in minutes.
func (c *HTTPClient) OpenThread(ctx context.Context, channelID, title string, ttl time.Duration) (string, error) {
	body := map[string]any{
		"title":                title,
		"auto_archive_minutes": int(ttl.Minutes()),
	}
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/threads", body, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &Fault{Class: FaultTransient, Err: fmt.Errorf("open thread: empty id in response")}
	}
	return out.ID, nil
}

// CloseThread closes the thread.
func (c *HTTPClient) CloseThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/close", nil, nil)
}

// LockThread prevents further replies in the thread.
func (c *HTTPClient) LockThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/lock", nil, nil)
}

// ArchiveThread archives the thread.
func (c *HTTPClient) ArchiveThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/archive", nil, nil)
}

// FetchThread returns the thread's state, or ErrNotFound when the
// platform no longer has it.
func (c *HTTPClient) FetchThread(ctx context.Context, threadID string) (*ThreadInfo, error) {
	var out ThreadInfo
	err := c.do(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveMember removes the user from the community.
func (c *HTTPClient) RemoveMember(ctx context.Context, userID, reason string) error {
	body := map[string]any{"reason": reason}
	return c.do(ctx, http.MethodPost, "/members/"+url.PathEscape(userID)+"/remove", body, nil)
}

// SendDirect sends a direct message to the user.
func (c *HTTPClient) SendDirect(ctx context.Context, userID, text string) error {
	body := map[string]any{"text": text}
	err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/messages", body, nil)
	if isReason(err, ReasonMissingAccess) || isReason(err, ReasonMissingCapability) {
		// The platform refuses DMs for users who disabled them.
		return fmt.Errorf("send direct to %s: %w", userID, ErrDirectMessagesDisabled)
	}
	return err
}

// DeleteMessage removes a message from its channel.
func (c *HTTPClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	err := c.do(ctx, http.MethodDelete,
		"/channels/"+url.PathEscape(channelID)+"/messages/"+url.PathEscape(messageID), nil, nil)
	if isReason(err, ReasonMissingAccess) || isReason(err, ReasonMissingCapability) {
		return fmt.Errorf("delete message %s: %w", messageID, ErrForbidden)
	}
	return err
}

// CanRemoveMembers checks the acting agent's capabilities.
func (c *HTTPClient) CanRemoveMembers(ctx context.Context) (bool, error) {
	var out struct {
		Capabilities []string `json:"capabilities"`
	}
	if err := c.do(ctx, http.MethodGet, "/self", nil, &out); err != nil {
		return false, err
	}
	for _, capability := range out.Capabilities {
		if capability == "remove_members" {
			return true, nil
		}
	}
	return false, nil
}

// do performs one API request. reqBody and respBody may be nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, reqBody any, respBody any) error {
	var reader io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &Fault{Class: FaultTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if respBody == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(respBody)
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return classifyStatus(resp.StatusCode, method, path, raw)
}

// classifyStatus maps an HTTP error status to a sentinel or classified fault.
func classifyStatus(status int, method, path string, body []byte) error {
	base := fmt.Errorf("%s %s: status=%d body=%s", method, path, status, string(body))
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return &Fault{Class: FaultPermanent, Reason: ReasonUnknownResource, Err: fmt.Errorf("%w: %v", ErrNotFound, base)}
	case status == http.StatusUnauthorized:
		return &Fault{Class: FaultPermanent, Reason: ReasonMissingAccess, Err: base}
	case status == http.StatusForbidden:
		return &Fault{Class: FaultPermanent, Reason: ReasonMissingCapability, Err: base}
	case status == http.StatusUnprocessableEntity:
		return &Fault{Class: FaultPermanent, Reason: ReasonUnknownChannel, Err: base}
	default:
		// 408, 429, 5xx, and anything unrecognized: retryable.
		return &Fault{Class: FaultTransient, Err: base}
	}
}

func isReason(err error, reason PermanentReason) bool {
	var f *Fault
	if !errors.As(err, &f) {
		return false
	}
	return f.Class == FaultPermanent && f.Reason == reason
}
