// Package admission gates submissions before any work is done for them:
// payload validation followed by a per-client rate limit.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrInvalidImage   = errors.New("invalid image")
	ErrRateLimited    = errors.New("rate limited")
)

// RateLimitError reports how long the client has to wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Image is an attached photo as received from the form.
type Image struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Submission is a single incoming message request.
type Submission struct {
	Text       string
	SenderName string
	Image      *Image
	// ClientID identifies the submitter for rate limiting (usually the remote IP).
	ClientID string
}

// Limits configures the controller.
type Limits struct {
	MaxTextLength   int
	MaxSenderLength int
	MaxImageBytes   int64
	Window          time.Duration
}

// DefaultLimits mirrors the public wall: 300 characters, 5 MiB photos, one
// accepted message per client per minute.
func DefaultLimits() Limits {
	return Limits{
		MaxTextLength:   300,
		MaxSenderLength: 60,
		MaxImageBytes:   5 << 20,
		Window:          time.Minute,
	}
}

// payload rules are registered per controller so the limits stay configurable.
// Text is the raw input and carries the length rule; Content is the trimmed
// text that must not be empty.
type payload struct {
	Text       string
	Content    string
	SenderName string
}

// Controller validates submissions and enforces the per-client window.
// Admit is safe for concurrent use.
type Controller struct {
	limits   Limits
	validate *validator.Validate
	clock    func() time.Time
	log      *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// New builds a controller. Zero fields in limits fall back to DefaultLimits.
func New(limits Limits, opts ...Option) *Controller {
	defaults := DefaultLimits()
	if limits.MaxTextLength <= 0 {
		limits.MaxTextLength = defaults.MaxTextLength
	}
	if limits.MaxSenderLength <= 0 {
		limits.MaxSenderLength = defaults.MaxSenderLength
	}
	if limits.MaxImageBytes <= 0 {
		limits.MaxImageBytes = defaults.MaxImageBytes
	}
	if limits.Window <= 0 {
		limits.Window = defaults.Window
	}

	validate := validator.New()
	validate.RegisterStructValidationMapRules(map[string]string{
		"Text":       fmt.Sprintf("max=%d", limits.MaxTextLength),
		"Content":    "required",
		"SenderName": fmt.Sprintf("required,max=%d", limits.MaxSenderLength),
	}, payload{})

	c := &Controller{
		limits:   limits,
		validate: validate,
		clock:    time.Now,
		log:      slog.Default(),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limits returns the effective limits.
func (c *Controller) Limits() Limits {
	return c.limits
}

// Admit validates the submission and, if valid, consumes the client's slot
// for the current window. Validation runs first so a rejected payload never
// costs the client its slot.
func (c *Controller) Admit(_ context.Context, sub Submission) error {
	if err := c.Validate(sub); err != nil {
		return err
	}
	return c.take(sub.ClientID)
}

// Validate checks text, sender name and the optional image.
func (c *Controller) Validate(sub Submission) error {
	p := payload{
		Text:       sub.Text,
		Content:    strings.TrimSpace(sub.Text),
		SenderName: strings.TrimSpace(sub.SenderName),
	}
	if err := c.validate.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidPayload, fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if sub.Image != nil {
		return c.validateImage(sub.Image)
	}
	return nil
}

func (c *Controller) validateImage(img *Image) error {
	if int64(len(img.Data)) > c.limits.MaxImageBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidImage, len(img.Data), c.limits.MaxImageBytes)
	}
	if !strings.HasPrefix(strings.ToLower(img.ContentType), "image/") {
		return fmt.Errorf("%w: declared type %q", ErrInvalidImage, img.ContentType)
	}
	detected := mimetype.Detect(img.Data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return fmt.Errorf("%w: content is %s", ErrInvalidImage, detected.String())
	}
	return nil
}

// take is the atomic check-and-record for one client key.
func (c *Controller) take(clientID string) error {
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, ok := c.limiters[clientID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(c.limits.Window), 1)
		c.limiters[clientID] = limiter
	}
	if limiter.AllowN(now, 1) {
		return nil
	}

	missing := 1 - limiter.TokensAt(now)
	retryAfter := time.Duration(missing * float64(c.limits.Window))
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return &RateLimitError{RetryAfter: retryAfter}
}

// Sweep drops limiters whose window has fully elapsed. It returns the number
// of evicted clients.
func (c *Controller) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for clientID, limiter := range c.limiters {
		if limiter.TokensAt(now) >= 1 {
			delete(c.limiters, clientID)
			evicted++
		}
	}
	return evicted
}

// Tracked returns the number of clients currently holding a limiter.
func (c *Controller) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.limiters)
}

// Run sweeps idle limiters once per window until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.limits.Window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(c.clock()); n > 0 {
				c.log.Debug("[admission] evicted idle limiters", "count", n)
			}
		}
	}
}
