package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCSPHeaders(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	tests := []struct {
		name        string
		path        string
		wantCSP     bool
		description string
	}{
		{
			name:        "room lookup gets CSP",
			path:        "/room?code=ABCDEF",
			wantCSP:     true,
			description: "API endpoints should have restrictive CSP",
		},
		{
			name:        "room poll gets CSP",
			path:        "/room/abc123",
			wantCSP:     true,
			description: "API endpoints should have restrictive CSP",
		},
		{
			name:        "event stream gets CSP",
			path:        "/room/abc123/events",
			wantCSP:     true,
			description: "stream endpoints should have restrictive CSP",
		},
		{
			name:        "WebSocket endpoint gets CSP",
			path:        "/ws/room/abc123",
			wantCSP:     true,
			description: "WebSocket endpoints should have restrictive CSP",
		},
		{
			name:        "Health check gets CSP",
			path:        "/healthz",
			wantCSP:     true,
			description: "Health endpoint should have restrictive CSP",
		},
		{
			name:        "Root path no CSP",
			path:        "/",
			wantCSP:     false,
			description: "SPA root should not have CSP to allow JS/CSS loading",
		},
		{
			name:        "Client-side route no CSP",
			path:        "/play/ABCDEF",
			wantCSP:     false,
			description: "SPA routes should not have CSP to allow JS/CSS loading",
		},
		{
			name:        "Rooms listing is not an API path",
			path:        "/rooms",
			wantCSP:     false,
			description: "only the singular /room prefix is API",
		},
		{
			name:        "Assets directory no CSP",
			path:        "/assets/style.css",
			wantCSP:     false,
			description: "Asset serving should not have CSP",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			csp := w.Header().Get("Content-Security-Policy")
			hasCSP := csp != ""

			if hasCSP != tt.wantCSP {
				t.Errorf("%s: got CSP=%v, want CSP=%v. CSP value: %q",
					tt.description, hasCSP, tt.wantCSP, csp)
			}

			if w.Header().Get("X-Content-Type-Options") != "nosniff" {
				t.Error("X-Content-Type-Options header missing or incorrect")
			}
			if w.Header().Get("X-Frame-Options") != "DENY" {
				t.Error("X-Frame-Options header missing or incorrect")
			}
			if w.Header().Get("X-XSS-Protection") != "1; mode=block" {
				t.Error("X-XSS-Protection header missing or incorrect")
			}
			if w.Header().Get("Referrer-Policy") != "strict-origin-when-cross-origin" {
				t.Error("Referrer-Policy header missing or incorrect")
			}

			if hasCSP && csp != "default-src 'none'; frame-ancestors 'none'" {
				t.Errorf("CSP header has wrong value: %q", csp)
			}
		})
	}
}

func TestIsAPIEndpoint(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/room", true},
		{"/room/", true},
		{"/room/join", true},
		{"/room/abc123", true},
		{"/room/abc123/next-presenter", true},
		{"/room/abc123/events", true},
		{"/ws/room/abc", true},
		{"/healthz", true},
		{"/", false},
		{"/rooms", false},
		{"/roomy", false},
		{"/ws", false},
		{"/play/ABCDEF", false},
		{"/assets/style.css", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := isAPIEndpoint(tt.path)
			if got != tt.want {
				t.Errorf("isAPIEndpoint(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
