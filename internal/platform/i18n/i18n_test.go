package i18n

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/text/language"

	apperrors "senryu/internal/platform/errors"
)

func TestResolveTag(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		cookie string
		accept string
		want   language.Tag
	}{
		{name: "default", want: language.English},
		{name: "accept language", accept: "ja-JP,ja;q=0.9,en;q=0.5", want: language.Japanese},
		{name: "unsupported accept", accept: "fr-FR", want: language.English},
		{name: "cookie beats header", cookie: "ja", accept: "en", want: language.Japanese},
		{name: "query beats cookie", query: "lang=en", cookie: "ja", want: language.English},
		{name: "bad query falls through", query: "lang=%%%", accept: "ja", want: language.Japanese},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.URL.RawQuery = tt.query
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: LangCookieName, Value: tt.cookie})
			}
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			if got := ResolveTag(req); got != tt.want {
				t.Fatalf("ResolveTag = %s, want %s", got, tt.want)
			}
		})
	}
	if got := ResolveTag(nil); got != Default() {
		t.Fatalf("ResolveTag(nil) = %s", got)
	}
}

func TestMessage(t *testing.T) {
	if got := Message(language.Japanese, apperrors.CodeNotFound); got != "ルームが見つかりません。" {
		t.Fatalf("ja NOT_FOUND = %q", got)
	}
	if got := Message(language.English, apperrors.CodeLockConflict); got == "" || got == string(apperrors.CodeLockConflict) {
		t.Fatalf("en LOCK_CONFLICT not translated: %q", got)
	}
	if got, want := Message(language.English, "SOMETHING_ELSE"), Message(language.English, apperrors.CodeUnknown); got != want {
		t.Fatalf("unknown code = %q, want %q", got, want)
	}
	for tag, byCode := range messages {
		for code := range messages[language.English] {
			if _, ok := byCode[code]; !ok {
				t.Errorf("%s is missing %s", tag, code)
			}
		}
	}
}
