package watch_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senryu/internal/room"
	"senryu/internal/watch"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeEvent(t *testing.T, w http.ResponseWriter, version int64) {
	t.Helper()
	payload, err := json.Marshal(room.Room{ID: "r1", Version: version})
	require.NoError(t, err)
	fmt.Fprintf(w, "event: room\nid: %d\ndata: %s\n\n", version, payload)
	w.(http.Flusher).Flush()
}

func writePoll(w http.ResponseWriter, version int64) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"room": room.Room{ID: "r1", Version: version}})
}

func collect(t *testing.T, ch <-chan room.Room, n int) []int64 {
	t.Helper()
	var got []int64
	for len(got) < n {
		select {
		case snap, ok := <-ch:
			require.True(t, ok, "channel closed after %v", got)
			got = append(got, snap.Version)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %v", got)
		}
	}
	return got
}

func TestStreamDeliversInVersionOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /room/r1/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "retry: 2000\n\n")
		for _, v := range []int64{1, 2, 2, 1, 3} {
			writeEvent(t, w, v)
		}
		fmt.Fprint(w, ": keepalive\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := watch.New(srv.URL, "r1", watch.WithLogger(quietLogger())).Watch(ctx)

	assert.Equal(t, []int64{1, 2, 3}, collect(t, ch, 3))
}

func TestFallsBackToPollingWhenStreamUnavailable(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /room/r1/events", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /room/r1", func(w http.ResponseWriter, r *http.Request) {
		version := int64(1)
		if polls.Add(1) > 3 {
			version = 2
		}
		writePoll(w, version)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := watch.New(srv.URL, "r1",
		watch.WithLogger(quietLogger()),
		watch.WithPollInterval(5*time.Millisecond),
	).Watch(ctx)

	assert.Equal(t, []int64{1, 2}, collect(t, ch, 2))
	assert.GreaterOrEqual(t, polls.Load(), int32(4))
}

func TestStreamDropNeverRegressesVersion(t *testing.T) {
	var streams atomic.Int32
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /room/r1/events", func(w http.ResponseWriter, r *http.Request) {
		if streams.Add(1) > 1 {
			http.Error(w, "gone", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(t, w, 3)
	})
	mux.HandleFunc("GET /room/r1", func(w http.ResponseWriter, r *http.Request) {
		// A lagging replica still serves version 2 for a while.
		version := int64(2)
		if polls.Add(1) > 3 {
			version = 4
		}
		w.Header().Set("X-Poll-Interval-Ms", "5")
		writePoll(w, version)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := watch.New(srv.URL, "r1",
		watch.WithLogger(quietLogger()),
		watch.WithPollInterval(5*time.Millisecond),
		watch.WithStreamRetry(20*time.Millisecond),
	).Watch(ctx)

	assert.Equal(t, []int64{3, 4}, collect(t, ch, 2))
}

func TestWatchClosesOnCancel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /room/r1/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(t, w, 1)
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := watch.New(srv.URL, "r1", watch.WithLogger(quietLogger())).Watch(ctx)
	require.Equal(t, []int64{1}, collect(t, ch, 1))

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
