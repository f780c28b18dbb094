// Package watch observes one room from the client side. It prefers the
// server's event stream and falls back to polling when the stream cannot be
// opened or drops. Both channels feed the same output, ordered by room
// version, so consumers never see which one delivered a snapshot.
package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"senryu/internal/room"
)

const (
	// DefaultPollInterval matches the server's advertised poll cadence.
	DefaultPollInterval = 2 * time.Second
	// DefaultStreamRetry is how long polling runs before the stream is tried again.
	DefaultStreamRetry = 30 * time.Second

	maxEventBytes = 1 << 20
)

// Watcher delivers snapshots of a single room.
type Watcher struct {
	baseURL      string
	roomID       string
	client       *http.Client
	logger       *slog.Logger
	pollInterval time.Duration
	streamRetry  time.Duration
}

// Option customises a Watcher.
type Option func(*Watcher)

// WithHTTPClient replaces http.DefaultClient. The client must not set a
// total timeout or streams will be cut off.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Watcher) {
		if c != nil {
			w.client = c
		}
	}
}

// WithLogger sets the logger used for channel switches.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithPollInterval overrides the initial poll cadence. The server may
// adjust it through X-Poll-Interval-Ms or the stream's retry field.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithStreamRetry sets how long to poll before reopening the stream.
func WithStreamRetry(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.streamRetry = d
		}
	}
}

// New returns a watcher for roomID on the server at baseURL.
func New(baseURL, roomID string, opts ...Option) *Watcher {
	w := &Watcher{
		baseURL:      strings.TrimRight(baseURL, "/"),
		roomID:       roomID,
		client:       http.DefaultClient,
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		streamRetry:  DefaultStreamRetry,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts observing and returns the snapshot channel. Snapshots arrive
// in strictly increasing version order. The channel is closed once ctx ends.
func (w *Watcher) Watch(ctx context.Context) <-chan room.Room {
	out := make(chan room.Room)
	go w.run(ctx, out)
	return out
}

func (w *Watcher) run(ctx context.Context, out chan<- room.Room) {
	defer close(out)

	last := int64(-1)
	deliver := func(snap room.Room) bool {
		if snap.Version <= last {
			return true
		}
		select {
		case out <- snap:
			last = snap.Version
			return true
		case <-ctx.Done():
			return false
		}
	}

	for ctx.Err() == nil {
		err := w.stream(ctx, deliver)
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("room stream unavailable, polling",
			slog.String("room", w.roomID), slog.String("error", errString(err)))
		w.poll(ctx, deliver)
	}
}

// stream consumes the event stream until it ends. It always returns a
// non-nil error describing why.
func (w *Watcher) stream(ctx context.Context, deliver func(room.Room) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.roomURL("/events"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open stream: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return fmt.Errorf("open stream: content type %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventBytes)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var snap room.Room
			if err := json.Unmarshal([]byte(data.String()), &snap); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if !deliver(snap) {
				return ctx.Err()
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "retry:"):
			if ms, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "retry:"))); err == nil && ms > 0 {
				w.pollInterval = time.Duration(ms) * time.Millisecond
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

// poll fetches the room every pollInterval until streamRetry has passed.
func (w *Watcher) poll(ctx context.Context, deliver func(room.Room) bool) {
	deadline := time.NewTimer(w.streamRetry)
	defer deadline.Stop()

	for {
		snap, err := w.fetch(ctx)
		switch {
		case err == nil:
			if !deliver(snap) {
				return
			}
		case ctx.Err() != nil:
			return
		default:
			w.logger.Debug("room poll failed", slog.String("room", w.roomID), slog.String("error", err.Error()))
		}

		wait := time.NewTimer(w.pollInterval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return
		case <-deadline.C:
			wait.Stop()
			return
		case <-wait.C:
		}
	}
}

func (w *Watcher) fetch(ctx context.Context) (room.Room, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.roomURL(""), nil)
	if err != nil {
		return room.Room{}, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return room.Room{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return room.Room{}, fmt.Errorf("poll: status %d", resp.StatusCode)
	}
	if ms, err := strconv.Atoi(resp.Header.Get("X-Poll-Interval-Ms")); err == nil && ms > 0 {
		w.pollInterval = time.Duration(ms) * time.Millisecond
	}
	var body struct {
		Room room.Room `json:"room"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return room.Room{}, fmt.Errorf("decode poll: %w", err)
	}
	return body.Room, nil
}

func (w *Watcher) roomURL(suffix string) string {
	return w.baseURL + "/room/" + url.PathEscape(w.roomID) + suffix
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return "stream closed"
	}
	return err.Error()
}
