package authapi

import (
	"net/http"
	"strings"
	"time"

	"gatekeeper/cmd/internal/auth/account"
)

func (h *Handler) setAuthCookies(w http.ResponseWriter, t account.Tokens) {
	h.setCookie(w, h.cfg.AccessCookieName, t.Access.Value, h.cfg.AccessCookieMaxAge)
	h.setCookie(w, h.cfg.RefreshCookieName, t.Refresh.Value, h.cfg.RefreshCookieMaxAge)
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	h.expireCookie(w, h.cfg.AccessCookieName)
	h.expireCookie(w, h.cfg.RefreshCookieName)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.sameSite,
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.sameSite,
	})
}

func (h *Handler) cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// accessToken prefers the Authorization header and falls back to the access cookie.
func (h *Handler) accessToken(r *http.Request) string {
	if tok := bearerToken(r); tok != "" {
		return tok
	}
	return h.cookieValue(r, h.cfg.AccessCookieName)
}
