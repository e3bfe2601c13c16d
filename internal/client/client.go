// Package client talks to a running wall server: pull the latest messages,
// submit, moderate and subscribe to realtime events.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
)

var (
	ErrRejected    = errors.New("submission rejected")
	ErrRateLimited = errors.New("rate limited")
)

// StatusError is a non-success response from the server.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Is maps 400 and 429 onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return e.StatusCode == http.StatusBadRequest
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// Options tune the client.
type Options struct {
	Timeout      time.Duration
	MaxRetries   int
	PingInterval time.Duration
	ReadTimeout  time.Duration
	Log          *slog.Logger

	// ReconnectDelay is the first pause before redialling a dropped stream.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// DefaultOptions returns the client defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		MaxRetries:   5,
		PingInterval: 30 * time.Second,
		ReadTimeout:  70 * time.Second,

		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}
}

// Client is a wall API client.
type Client struct {
	base *url.URL
	http *http.Client
	opts Options
	log  *slog.Logger
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", baseURL)
	}

	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaults.ReconnectDelay
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = max(defaults.MaxReconnectDelay, opts.ReconnectDelay)
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		base: base,
		http: &http.Client{
			Timeout: opts.Timeout,
			// Redirects after form posts mean success; the target page is not needed.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		opts: opts,
		log:  log,
	}, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

// Latest returns the newest messages; limit <= 0 returns all of them.
func (c *Client) Latest(ctx context.Context, limit int) ([]message.Message, error) {
	target := c.endpoint("/messages/latest")
	if limit > 0 {
		target += "?limit=" + strconv.Itoa(limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch latest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var messages []message.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode latest: %w", err)
	}
	return messages, nil
}

// Submission is what Submit sends.
type Submission struct {
	Text        string
	SenderName  string
	Picture     []byte
	Filename    string
	ContentType string
}

// Submit posts a message as a multipart form and returns the stored message.
func (c *Client) Submit(ctx context.Context, sub Submission) (message.Message, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("message", sub.Text); err != nil {
		return message.Message{}, err
	}
	if err := mw.WriteField("sender_name", sub.SenderName); err != nil {
		return message.Message{}, err
	}
	if len(sub.Picture) > 0 {
		filename := sub.Filename
		if filename == "" {
			filename = "picture"
		}
		contentType := sub.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(sub.Picture)
		}
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="picture"; filename=%q`, filename))
		header.Set("Content-Type", contentType)
		part, err := mw.CreatePart(header)
		if err != nil {
			return message.Message{}, err
		}
		if _, err := part.Write(sub.Picture); err != nil {
			return message.Message{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return message.Message{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/submit"), &body)
	if err != nil {
		return message.Message{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return message.Message{}, fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return message.Message{}, statusError(resp)
	}

	var created message.Message
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return message.Message{}, fmt.Errorf("decode submission: %w", err)
	}
	return created, nil
}

// Delete removes one message through the admin endpoint.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.adminPost(ctx, "/admin/delete/"+url.PathEscape(id))
}

// DeleteAll empties the wall through the admin endpoint.
func (c *Client) DeleteAll(ctx context.Context) error {
	return c.adminPost(ctx, "/admin/delete-all")
}

func (c *Client) adminPost(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusSeeOther && resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	err := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil {
		err.RetryAfter = time.Duration(secs) * time.Second
	}
	return err
}
