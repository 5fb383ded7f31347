package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/auditlog"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/session"
)

type tokenRequestBody struct {
	Code           string `json:"code"`
	TenantID       string `json:"tenant_id"`
	RedirectOrigin string `json:"redirect_origin"`
	CodeVerifier   string `json:"code_verifier"`
}

// handleToken implements POST /api/token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body tokenRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	result, err := s.Session.Exchange(r.Context(), session.ExchangeParams{
		Code: body.Code, TenantID: body.TenantID, RedirectOrigin: body.RedirectOrigin, PKCEVerifier: body.CodeVerifier,
	})
	if err != nil {
		if s.Audit != nil {
			s.Audit.Emit(r.Context(), auditlog.Event{
				CorrelationID: CorrelationID(r.Context()), Kind: auditlog.KindTokenRejected,
				IP: clientIP(r), Route: r.URL.Path, UserAgent: r.UserAgent(), StatusCode: http.StatusBadRequest,
			})
		}
		writeJSONError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	if s.Audit != nil {
		s.Audit.Emit(r.Context(), auditlog.Event{
			CorrelationID: CorrelationID(r.Context()), Kind: auditlog.KindTokenExchanged,
			IP: clientIP(r), Route: r.URL.Path, UserAgent: r.UserAgent(), StatusCode: http.StatusOK,
		})
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}{result.AccessToken, result.TokenType, result.ExpiresIn})
}

// handleRefresh implements GET /api/refresh: a top-level navigation, never
// XHR, so every outcome is a redirect.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		s.clearRefreshCookie(w)
		http.Redirect(w, r, "/login?error=session_expired", http.StatusFound)
		return
	}

	redirectURL := r.URL.Query().Get("redirect")
	result, err := s.Session.Refresh(r.Context(), session.RefreshParams{
		RefreshToken: cookie.Value, TenantID: r.URL.Query().Get("tenant"), RedirectOrigin: redirectURL,
		Audience: audienceFromForm(r.URL.Query().Get("audience")), IP: clientIP(r), UserAgent: r.UserAgent(),
	})
	if err != nil {
		s.clearRefreshCookie(w)
		if s.Audit != nil {
			s.Audit.Emit(r.Context(), auditlog.Event{
				CorrelationID: CorrelationID(r.Context()), Kind: auditlog.KindRefreshRejected,
				IP: clientIP(r), Route: r.URL.Path, UserAgent: r.UserAgent(),
			})
		}
		http.Redirect(w, r, "/login?error=session_expired", http.StatusFound)
		return
	}

	s.setRefreshCookie(w, result.Refresh.Plaintext, s.refreshTokenMaxAge())
	if s.Audit != nil {
		s.Audit.Emit(r.Context(), auditlog.Event{
			CorrelationID: CorrelationID(r.Context()), Kind: auditlog.KindRefreshSucceeded,
			IP: clientIP(r), Route: r.URL.Path, UserAgent: r.UserAgent(),
		})
	}
	http.Redirect(w, r, callbackRedirect(originFromRedirectOrigin(redirectURL), redirectURL, result.Code), http.StatusFound)
}

// originFromRedirectOrigin re-derives the scheme://host origin from the
// redirect query parameter the caller supplied, mirroring what the
// credentials flows get back from the redirect validator directly.
func originFromRedirectOrigin(rawRedirect string) string {
	origin, _, ok := strings.Cut(strings.TrimPrefix(rawRedirect, "//"), "/")
	if !ok {
		return rawRedirect
	}
	scheme := "https://"
	if strings.HasPrefix(rawRedirect, "http://") {
		scheme = "http://"
	}
	return scheme + origin
}

// handleLogout implements POST /api/logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.finishLogout(w, r, false)
}

// handleLogoutAll implements POST /api/logout-all.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	s.finishLogout(w, r, true)
}

func (s *Server) finishLogout(w http.ResponseWriter, r *http.Request, all bool) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err == nil && cookie.Value != "" {
		if all {
			_ = s.Session.LogoutAll(r.Context(), cookie.Value)
		} else {
			_ = s.Session.Logout(r.Context(), cookie.Value)
		}
	}
	s.clearRefreshCookie(w)

	if s.Audit != nil {
		kind := auditlog.KindLogout
		if all {
			kind = auditlog.KindLogoutAll
		}
		s.Audit.Emit(r.Context(), auditlog.Event{
			CorrelationID: CorrelationID(r.Context()), Kind: kind, IP: clientIP(r), Route: r.URL.Path, UserAgent: r.UserAgent(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Success bool `json:"success"`
	}{true})
}

// handleMemberships implements GET /api/memberships.
func (s *Server) handleMemberships(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSONError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	memberships, err := s.Session.Memberships(r.Context(), token)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Memberships []session.MembershipView `json:"memberships"`
	}{memberships})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{code})
}
