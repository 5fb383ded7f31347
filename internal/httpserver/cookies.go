package httpserver

import (
	"net/http"
	"net/url"
	"time"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/store"
)

// setRefreshCookie attaches the refresh cookie: HttpOnly, Secure outside
// dev-on-localhost, SameSite=Lax, Path=/, expiring with the refresh token's
// own TTL.
func (s *Server) setRefreshCookie(w http.ResponseWriter, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    value,
		Path:     "/",
		Domain:   cookieDomain(s.AuthDomain),
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.isProduction() || !isDevLoopbackDomain(s.AuthDomain),
		SameSite: http.SameSiteLaxMode,
	})
}

// clearRefreshCookie expires the cookie immediately, used on logout and on
// any refresh rejection.
func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		Domain:   cookieDomain(s.AuthDomain),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.isProduction() || !isDevLoopbackDomain(s.AuthDomain),
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieDomain(authDomain string) string {
	u, err := url.Parse(authDomain)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func isDevLoopbackDomain(authDomain string) bool {
	host := cookieDomain(authDomain)
	return host == "localhost" || host == "127.0.0.1"
}

// callbackRedirect builds the tenant callback URL:
// <origin>/auth/callback?code=<code>&returnTo=<original path+query>.
func callbackRedirect(origin, originalRedirect, code string) string {
	returnTo := "/"
	if u, err := url.Parse(originalRedirect); err == nil {
		returnTo = u.RequestURI()
	}
	v := url.Values{}
	v.Set("code", code)
	v.Set("returnTo", returnTo)
	return origin + "/auth/callback?" + v.Encode()
}

func audienceFromForm(v string) store.Audience {
	if v == "admin" {
		return store.AudienceAdmin
	}
	return store.AudienceStorefront
}
