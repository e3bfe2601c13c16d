// Package rotation drives a viewer's carousel: a buffer of recent messages
// revealed one at a time on a fixed cadence, refreshed by periodic pulls and
// by realtime pushes.
package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
	"github.com/zhouzirui/message-wall/backend/internal/service/broadcast"
)

// State is the viewer's rotation state. Buffer is newest first and
// Buffer[Position] is the next message to reveal.
type State struct {
	Buffer   []message.Message
	Position int
	LastSync time.Time
}

// Display renders what the engine decides to show.
type Display interface {
	// Show reveals the current rotation slot.
	Show(msg message.Message)
	// Blank is called when there is nothing to show.
	Blank()
	// Live shows a freshly pushed message immediately.
	Live(msg message.Message)
}

// Fetcher pulls the newest messages from the server.
type Fetcher interface {
	Latest(ctx context.Context, limit int) ([]message.Message, error)
}

// Config holds the engine cadence.
type Config struct {
	RotationInterval time.Duration
	ResyncInterval   time.Duration
	FetchTimeout     time.Duration
	// Limit is passed to Fetcher.Latest; 0 asks for everything.
	Limit int
}

// DefaultConfig rotates and resyncs every 15 seconds.
func DefaultConfig() Config {
	return Config{
		RotationInterval: 15 * time.Second,
		ResyncInterval:   15 * time.Second,
		FetchTimeout:     10 * time.Second,
	}
}

// Engine owns one viewer's State. All methods are safe for concurrent use;
// display callbacks run outside the lock.
type Engine struct {
	mu      sync.Mutex
	state   State
	display Display
	cfg     Config
	clock   func() time.Time
	log     *slog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for LastSync bookkeeping.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New seeds the buffer with the initially rendered messages.
func New(initial []message.Message, display Display, cfg Config, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = defaults.RotationInterval
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = defaults.ResyncInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}

	buffer := append([]message.Message(nil), initial...)
	message.SortNewestFirst(buffer)

	e := &Engine{
		state:   State{Buffer: buffer},
		display: display,
		cfg:     cfg,
		clock:   time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Buffer:   append([]message.Message(nil), e.state.Buffer...),
		Position: e.state.Position,
		LastSync: e.state.LastSync,
	}
}

// Advance reveals Buffer[Position] and moves to the next slot, wrapping to
// the start. It reports false when the buffer is empty.
func (e *Engine) Advance() (message.Message, bool) {
	e.mu.Lock()
	if len(e.state.Buffer) == 0 {
		e.state.Position = 0
		e.mu.Unlock()
		e.display.Blank()
		return message.Message{}, false
	}
	current := e.state.Buffer[e.state.Position]
	e.state.Position++
	if e.state.Position >= len(e.state.Buffer) {
		e.state.Position = 0
	}
	e.mu.Unlock()

	e.display.Show(current)
	return current, true
}

// Resync merges a freshly pulled newest-first list into the buffer.
//
// The pulled list is authoritative for everything it covers, so deleted
// messages disappear. Local messages newer than the newest pulled one were
// pushed after the pull was served and are kept. The position stays on the
// message that was up next; if that message is gone the position is clamped.
func (e *Engine) Resync(latest []message.Message) {
	fetched := append([]message.Message(nil), latest...)
	message.SortNewestFirst(fetched)

	e.mu.Lock()
	defer e.mu.Unlock()

	var anchorID string
	if len(e.state.Buffer) > 0 {
		anchorID = e.state.Buffer[e.state.Position].ID
	}

	merged := fetched
	if len(fetched) > 0 {
		known := lo.SliceToMap(fetched, func(m message.Message) (string, struct{}) { return m.ID, struct{}{} })
		pushed := lo.Filter(e.state.Buffer, func(m message.Message, _ int) bool {
			_, seen := known[m.ID]
			return !seen && m.Newer(fetched[0])
		})
		if len(pushed) > 0 {
			merged = append(pushed, fetched...)
			message.SortNewestFirst(merged)
		}
	}

	position := e.state.Position
	if _, idx, ok := lo.FindIndexOf(merged, func(m message.Message) bool { return m.ID == anchorID }); ok && anchorID != "" {
		position = idx
	} else if position >= len(merged) {
		position = 0
	}

	e.state.Buffer = merged
	e.state.Position = position
	e.state.LastSync = e.clock()
}

// Push inserts a realtime message and shows it immediately. Duplicates are
// ignored.
func (e *Engine) Push(msg message.Message) {
	e.mu.Lock()
	if lo.ContainsBy(e.state.Buffer, func(m message.Message) bool { return m.ID == msg.ID }) {
		e.mu.Unlock()
		return
	}

	idx := len(e.state.Buffer)
	for i, existing := range e.state.Buffer {
		if msg.Newer(existing) {
			idx = i
			break
		}
	}
	e.state.Buffer = append(e.state.Buffer, message.Message{})
	copy(e.state.Buffer[idx+1:], e.state.Buffer[idx:])
	e.state.Buffer[idx] = msg
	if len(e.state.Buffer) > 1 && idx <= e.state.Position {
		e.state.Position++
	}
	e.mu.Unlock()

	e.display.Live(msg)
}

// Remove drops a deleted message from the buffer.
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, idx, ok := lo.FindIndexOf(e.state.Buffer, func(m message.Message) bool { return m.ID == id })
	if !ok {
		return
	}
	e.state.Buffer = append(e.state.Buffer[:idx], e.state.Buffer[idx+1:]...)
	if idx < e.state.Position {
		e.state.Position--
	}
	if e.state.Position >= len(e.state.Buffer) {
		e.state.Position = 0
	}
}

// Clear empties the buffer and blanks the display.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.state.Buffer = nil
	e.state.Position = 0
	e.mu.Unlock()

	e.display.Blank()
}

// Apply handles one realtime event.
func (e *Engine) Apply(evt broadcast.Event) error {
	switch evt.Type {
	case broadcast.EventNewMessage:
		msg, err := evt.Message()
		if err != nil {
			return err
		}
		e.Push(msg)
	case broadcast.EventMessageDeleted:
		id, err := evt.DeletedID()
		if err != nil {
			return err
		}
		e.Remove(id)
	case broadcast.EventMessagesCleared:
		e.Clear()
	default:
		return fmt.Errorf("unknown event type %q", evt.Type)
	}
	return nil
}

// Sync pulls the latest messages once and merges them.
func (e *Engine) Sync(ctx context.Context, fetcher Fetcher) error {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	latest, err := fetcher.Latest(fetchCtx, e.cfg.Limit)
	if err != nil {
		return err
	}
	e.Resync(latest)
	return nil
}

// Run shows the first slot, then runs the rotation ticker, the resync ticker
// and the event consumer side by side until ctx is done. A nil events channel
// disables pushes.
func (e *Engine) Run(ctx context.Context, fetcher Fetcher, events <-chan broadcast.Event) {
	e.Advance()

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.cfg.RotationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Advance()
			}
		}
	}()

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.cfg.ResyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.Sync(ctx, fetcher); err != nil && ctx.Err() == nil {
					e.log.Warn("[rotation] resync failed, keeping buffer", "error", err)
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				if err := e.Apply(evt); err != nil {
					e.log.Warn("[rotation] ignoring event", "type", evt.Type, "error", err)
				}
			}
		}
	}()

	wg.Wait()
}
