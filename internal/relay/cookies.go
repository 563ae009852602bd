package relay

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/handoff/relay/internal/session"
)

// ParseCookies turns "name=value" strings into cookies. Anything after the
// first ';' is an attribute and is dropped. Entries without '=', with an
// empty name, or with bytes a Set-Cookie header cannot carry are skipped.
func ParseCookies(raw []string) []session.Cookie {
	var out []session.Cookie
	for _, entry := range raw {
		pair, _, _ := strings.Cut(entry, ";")
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if name == "" {
			continue
		}
		if (&http.Cookie{Name: name, Value: value}).Valid() != nil {
			continue
		}
		out = append(out, session.Cookie{Name: name, Value: value})
	}
	return out
}

// Forward is the redirect payload handed to the HTTP layer.
type Forward struct {
	SessionID string           `json:"session_id"`
	TargetURL string           `json:"target_url"`
	Cookies   []session.Cookie `json:"cookies"`
}

// Domain returns the target host without port, or "" when the target URL
// cannot be parsed.
func (f Forward) Domain() string {
	u, err := url.Parse(f.TargetURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// HTTPCookies returns the forwarded cookies scoped to the target domain and
// path "/".
func (f Forward) HTTPCookies() []*http.Cookie {
	domain := f.Domain()
	out := make([]*http.Cookie, 0, len(f.Cookies))
	for _, c := range f.Cookies {
		out = append(out, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: domain,
			Path:   "/",
		})
	}
	return out
}

// Redirect writes the forwarded cookies and a 302 to the target URL.
func (f Forward) Redirect(w http.ResponseWriter, r *http.Request) {
	for _, c := range f.HTTPCookies() {
		http.SetCookie(w, c)
	}
	http.Redirect(w, r, f.TargetURL, http.StatusFound)
}
