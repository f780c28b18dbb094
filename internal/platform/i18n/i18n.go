// Package i18n resolves the caller's language and prints user-facing error
// messages. Internal error text never goes through here.
package i18n

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	apperrors "senryu/internal/platform/errors"
)

const (
	// LangParam is the query parameter used to select a language.
	LangParam = "lang"
	// LangCookieName stores the user's language preference.
	LangCookieName = "senryu_lang"
)

var (
	supported = []language.Tag{language.English, language.Japanese}
	matcher   = language.NewMatcher(supported)
)

// Supported returns the list of supported language tags.
func Supported() []language.Tag {
	return append([]language.Tag(nil), supported...)
}

// Default returns the default language tag.
func Default() language.Tag {
	return language.English
}

// MatchTags picks the supported tag closest to the preference list.
func MatchTags(tags ...language.Tag) language.Tag {
	if len(tags) == 0 {
		return Default()
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return Default()
	}
	return supported[idx]
}

// ParseTag parses value and reports whether it maps to a supported language.
func ParseTag(value string) (language.Tag, bool) {
	tag, err := language.Parse(strings.TrimSpace(value))
	if err != nil {
		return Default(), false
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return Default(), false
	}
	return supported[idx], true
}

// ResolveTag determines the best language tag for the request: the lang
// query parameter, then the cookie, then Accept-Language.
func ResolveTag(r *http.Request) language.Tag {
	if r == nil {
		return Default()
	}
	if v := strings.TrimSpace(r.URL.Query().Get(LangParam)); v != "" {
		if tag, ok := ParseTag(v); ok {
			return tag
		}
	}
	if cookie, err := r.Cookie(LangCookieName); err == nil {
		if tag, ok := ParseTag(cookie.Value); ok {
			return tag
		}
	}
	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil {
			return MatchTags(tags...)
		}
	}
	return Default()
}

// Printer returns a message printer for the supplied tag.
func Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// Message returns the localized, non-leaking text for code.
func Message(tag language.Tag, code apperrors.Code) string {
	key := string(code)
	if _, ok := messages[language.English][code]; !ok {
		key = string(apperrors.CodeUnknown)
	}
	return Printer(tag).Sprintf(key)
}
