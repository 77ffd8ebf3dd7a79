// Package youpin talks to the pin API that stores submitted reports.
//
// The client logs in with the bot's API account on first use and keeps the
// bearer token until the API rejects it, at which point it logs in again once
// and retries the call.
package youpin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/youpin-city/mafueng-bot/core/conversation"
	"github.com/youpin-city/mafueng-bot/core/logger"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 512

	pathAuth   = "/auth/local"
	pathPins   = "/pins"
	pathUpload = "/photos/upload_from_url"
)

var (
	// ErrUnauthorized is returned when the API rejects the account credentials.
	ErrUnauthorized = errors.New("youpin: unauthorized")
	// ErrNoID is returned when a created pin comes back without an id.
	ErrNoID = errors.New("youpin: response has no id")
)

// StatusError is a non-2xx API response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("youpin: %s %s: http %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Options configure a Client.
type Options struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	http     *http.Client
	baseURL  string
	username string
	password string

	mu    sync.Mutex
	token string
}

var (
	_ conversation.Backend       = (*Client)(nil)
	_ conversation.MediaUploader = (*Client)(nil)
)

// New builds a client. It does not contact the API.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("youpin: base url is required")
	}
	if opts.Username == "" || opts.Password == "" {
		return nil, errors.New("youpin: username and password are required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		http:     hc,
		baseURL:  base,
		username: opts.Username,
		password: opts.Password,
	}, nil
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

type uploadRequest struct {
	URL string `json:"url"`
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Login exchanges the account credentials for a bearer token.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	var out authResponse
	err := c.do(ctx, http.MethodPost, pathAuth, "", authRequest{Email: c.username, Password: c.password}, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return err
	}
	if out.Token == "" {
		return fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	c.token = out.Token
	return nil
}

func (c *Client) currentToken(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || c.token == stale {
		if err := c.loginLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.token, nil
}

// authed performs an authenticated call, logging in again once when the token
// has been revoked.
func (c *Client) authed(ctx context.Context, method, path string, in, out any) error {
	token, err := c.currentToken(ctx, "")
	if err != nil {
		return err
	}
	err = c.do(ctx, method, path, token, in, out)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusUnauthorized {
		return err
	}
	token, err = c.currentToken(ctx, token)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, token, in, out)
}

// CreateIssue posts a finished report as a new pin.
func (c *Client) CreateIssue(ctx context.Context, issue conversation.Issue) (conversation.IssueRef, error) {
	var ref conversation.IssueRef
	if err := c.authed(ctx, http.MethodPost, pathPins, issue, &ref); err != nil {
		return conversation.IssueRef{}, fmt.Errorf("create pin: %w", err)
	}
	if ref.ID == "" {
		return conversation.IssueRef{}, ErrNoID
	}
	return ref, nil
}

// UploadMediaFromURL asks the API to fetch and store a photo or video.
func (c *Client) UploadMediaFromURL(ctx context.Context, url string) (string, error) {
	var out uploadResponse
	if err := c.authed(ctx, http.MethodPost, pathUpload, uploadRequest{URL: url}, &out); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	if out.URL == "" {
		return "", errors.New("youpin: upload response has no url")
	}
	return out.URL, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("youpin: marshal %s body: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("youpin: build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	took := logger.RoundMS(time.Since(start))
	if err != nil {
		logger.Warn(ctx, "youpin", "api.call",
			slog.String("status", "fail"),
			slog.String("method", method),
			slog.String("path", path),
			slog.String("request_id", reqID),
			slog.Duration("duration", took),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("youpin: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("youpin: read %s response: %w", path, err)
	}
	status := "ok"
	if resp.StatusCode >= 300 {
		status = "fail"
	}
	logger.Debug(ctx, "youpin", "api.call",
		slog.String("status", status),
		slog.String("method", method),
		slog.String("path", path),
		slog.String("request_id", reqID),
		slog.Int("http_status", resp.StatusCode),
		slog.Duration("duration", took),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   logger.SanitizeLimit(string(raw), maxErrorBody),
		}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("youpin: decode %s response: %w", path, err)
	}
	return nil
}
