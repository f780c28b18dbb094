package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHostNameValidation(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	tests := []struct {
		name       string
		hostName   string
		wantStatus int
	}{
		{
			name:       "valid host name",
			hostName:   "Alice",
			wantStatus: http.StatusCreated,
		},
		{
			name:       "name at limit",
			hostName:   strings.Repeat("川", 20),
			wantStatus: http.StatusCreated,
		},
		{
			name:       "reject name too long",
			hostName:   strings.Repeat("川", 21),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "reject empty name",
			hostName:   "",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "reject whitespace name",
			hostName:   "   ",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/room", createRoomRequest{HostName: tt.hostName})
			if w.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d for host name %q", w.Code, tt.wantStatus, tt.hostName)
			}
		})
	}
}

func TestScoreValidation(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()
	tb := presenting(t, router)
	expectStatus(t, do(t, router, http.MethodPost, "/room/"+tb.roomID+"/next-presenter", nextPresenterRequest{PlayerID: tb.hostID}), http.StatusOK)

	tests := []struct {
		name       string
		playerID   string
		scores     map[string]int
		wantStatus int
	}{
		{
			name:       "reject zero",
			playerID:   tb.guestID,
			scores:     map[string]int{"wordplay": 0, "cloudNative": 3, "humor": 3},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "reject above five",
			playerID:   tb.guestID,
			scores:     map[string]int{"wordplay": 6, "cloudNative": 3, "humor": 3},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "reject missing criterion",
			playerID:   tb.guestID,
			scores:     map[string]int{"wordplay": 3, "cloudNative": 3},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "reject unknown criterion",
			playerID:   tb.guestID,
			scores:     map[string]int{"wordplay": 3, "cloudNative": 3, "humor": 3, "rhythm": 3},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "presenter cannot score themselves",
			playerID:   tb.hostID,
			scores:     map[string]int{"wordplay": 5, "cloudNative": 5, "humor": 5},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "stranger cannot score",
			playerID:   "stranger",
			scores:     map[string]int{"wordplay": 5, "cloudNative": 5, "humor": 5},
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/room/"+tb.roomID+"/submit-score", scoreRequest{PlayerID: tt.playerID, Scores: tt.scores})
			if w.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestRequestBodyValidation(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()
	tb := openTable(t, router)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"empty body", "/room", ""},
		{"not json", "/room", "{hostName"},
		{"oversized body", "/room", `{"hostName":"` + strings.Repeat("a", maxBodyBytes) + `"}`},
		{"unknown expected state", "/room/" + tb.roomID + "/next-presenter", `{"playerId":"` + tb.hostID + `","expectedState":"lobby"}`},
		{"unknown slot", "/room/" + tb.roomID + "/redraw-card", `{"playerId":"` + tb.hostID + `","slot":"top"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewReader([]byte(tt.body)))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			expectStatus(t, w, http.StatusBadRequest)
			if got := decodeError(t, w).Code; got != "INVALID_ARGUMENT" {
				t.Fatalf("expected INVALID_ARGUMENT, got %s", got)
			}
		})
	}
}

func TestCORSOrigins(t *testing.T) {
	cfg := testConfig(t)
	cfg.AllowedOrigins = []string{"https://senryu.example"}
	srv := newTestServerWithConfig(t, cfg)
	router := srv.Router()

	tests := []struct {
		name       string
		origin     string
		wantHeader string
	}{
		{"allowed origin echoed", "https://senryu.example", "https://senryu.example"},
		{"case insensitive", "HTTPS://SENRYU.EXAMPLE", "https://senryu.example"},
		{"foreign origin ignored", "https://evil.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/room", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			expectStatus(t, w, http.StatusNoContent)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Fatalf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
			if tt.wantHeader != "" && w.Header().Get("Access-Control-Allow-Methods") != "GET,POST,OPTIONS" {
				t.Fatalf("unexpected methods header %q", w.Header().Get("Access-Control-Allow-Methods"))
			}
		})
	}
}

func TestRateLimitMutations(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 2
	srv := newTestServerWithConfig(t, cfg)
	router := srv.Router()

	for i := 0; i < 2; i++ {
		expectStatus(t, do(t, router, http.MethodPost, "/room", createRoomRequest{HostName: "Host"}), http.StatusCreated)
	}

	w := do(t, router, http.MethodPost, "/room", createRoomRequest{HostName: "Host"})
	expectStatus(t, w, http.StatusTooManyRequests)
	if got := decodeError(t, w).Code; got != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %s", got)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// Polling is never throttled.
	expectStatus(t, do(t, router, http.MethodGet, "/healthz", nil), http.StatusOK)

	// Another client keeps its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/room", strings.NewReader(`{"hostName":"Other"}`))
	req.RemoteAddr = "198.51.100.7:4242"
	other := httptest.NewRecorder()
	router.ServeHTTP(other, req)
	expectStatus(t, other, http.StatusCreated)
}

func TestIPLimiterPrune(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newIPLimiter(1, 1, func() time.Time { return now })
	limiter.allow("203.0.113.1")
	limiter.allow("203.0.113.2")

	now = now.Add(time.Hour)
	limiter.allow("203.0.113.2")

	if n := limiter.prune(time.Minute); n != 1 {
		t.Fatalf("expected one pruned bucket, got %d", n)
	}
	if _, ok := limiter.buckets["203.0.113.2"]; !ok {
		t.Fatal("active bucket was pruned")
	}
}
