// Package slack publishes the weekly DND schedule and the out-of-office
// status through Slack's web API (users.prefs.set / users.profile.set).
//
// Requests authenticate the way the Slack web client does: an xoxc token in
// the multipart form and the "d" session cookie.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	appLog "caldnd/internal/log"
	"caldnd/internal/model"
)

const (
	DefaultWorkspaceURL = "https://slack.com"
	DefaultStatusText   = "Out of office"
	DefaultStatusEmoji  = ":no_entry:"

	methodPrefsSet   = "users.prefs.set"
	methodProfileSet = "users.profile.set"
)

// Config holds the publisher's own destination and credentials.
type Config struct {
	// WorkspaceURL is the workspace base, e.g. "https://acme.slack.com".
	WorkspaceURL string
	Token        string
	Cookie       string

	// StatusText / StatusEmoji are used while out of office.
	StatusText  string
	StatusEmoji string
}

// APIError is a well-formed Slack reply with "ok": false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// Response is the common part of every Slack web API reply.
type Response struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// Client talks to one Slack workspace.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.WorkspaceURL == "" {
		cfg.WorkspaceURL = DefaultWorkspaceURL
	}
	cfg.WorkspaceURL = strings.TrimRight(cfg.WorkspaceURL, "/")
	if cfg.StatusText == "" {
		cfg.StatusText = DefaultStatusText
	}
	if cfg.StatusEmoji == "" {
		cfg.StatusEmoji = DefaultStatusEmoji
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// Publish pushes the notification schedule and, when there is one to set,
// the status. The schedule always goes first; a failure stops the run
// before the status is touched.
func (c *Client) Publish(ctx context.Context, profile model.WeeklyProfile, state model.PresenceState) error {
	if _, err := c.SetNotificationSchedule(ctx, NewPrefs(profile)); err != nil {
		return err
	}

	p, ok := ProfileFor(state, c.cfg.StatusText, c.cfg.StatusEmoji)
	if !ok {
		appLog.Info("slack: no status change", "busy", state.Busy)
		return nil
	}
	_, err := c.SetStatus(ctx, p)
	return err
}

func (c *Client) SetNotificationSchedule(ctx context.Context, prefs Prefs) (Response, error) {
	return c.request(ctx, methodPrefsSet, "prefs", prefs)
}

func (c *Client) SetStatus(ctx context.Context, profile Profile) (Response, error) {
	return c.request(ctx, methodProfileSet, "profile", profile)
}

func (c *Client) request(ctx context.Context, method, field string, payload any) (Response, error) {
	var res Response

	body, err := json.Marshal(payload)
	if err != nil {
		return res, fmt.Errorf("encode %s: %w", field, err)
	}

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	if err := mw.WriteField("token", c.cfg.Token); err != nil {
		return res, err
	}
	if err := mw.WriteField(field, string(body)); err != nil {
		return res, err
	}
	if err := mw.Close(); err != nil {
		return res, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WorkspaceURL+"/api/"+method, &form)
	if err != nil {
		return res, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.cfg.Cookie != "" {
		req.Header.Set("Cookie", "d="+c.cfg.Cookie+";")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return res, fmt.Errorf("slack %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return res, fmt.Errorf("slack %s: read response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, fmt.Errorf("slack %s: unexpected status %s", method, resp.Status)
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, fmt.Errorf("slack %s: decode response: %w", method, err)
	}
	if !res.OK {
		code := res.Error
		if code == "" {
			code = "unknown_error"
		}
		return res, &APIError{Method: method, Code: code}
	}

	appLog.Info("slack request ok", "method", method, "warning", res.Warning)
	return res, nil
}

// IsAPIError reports whether err is a Slack "ok": false reply.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
