package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/auditlog"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/oauthfed"
)

// handleOAuthInit implements GET /oauth/{provider}.
func (s *Server) handleOAuthInit(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	authURL, err := s.OAuth.Init(r.Context(), provider, r.URL.Query().Get("redirect"))
	if err != nil {
		code := oauthErrorCode(err)
		if s.Audit != nil {
			s.Audit.Emit(r.Context(), auditlog.Event{
				CorrelationID: CorrelationID(r.Context()), Kind: auditlog.KindFederationRejected,
				IP: clientIP(r), Route: r.URL.Path, UserAgent: r.UserAgent(), Details: map[string]any{"error": code, "provider": provider},
			})
		}
		http.Redirect(w, r, "/login?error="+code, http.StatusFound)
		return
	}

	if s.Audit != nil {
		s.Audit.Emit(r.Context(), auditlog.Event{
			CorrelationID: CorrelationID(r.Context()), Kind: auditlog.KindFederationStarted,
			IP: clientIP(r), Route: r.URL.Path, UserAgent: r.UserAgent(), Details: map[string]any{"provider": provider},
		})
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleOAuthCallback implements GET/POST /oauth/{provider}/callback. Apple
// posts a form-encoded body with an optional first-login "user" JSON blob;
// every other provider arrives as a GET.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	in := oauthfed.CallbackInput{
		State:         r.URL.Query().Get("state"),
		Code:          r.URL.Query().Get("code"),
		ProviderError: r.URL.Query().Get("error"),
	}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			if in.State == "" {
				in.State = r.FormValue("state")
			}
			if in.Code == "" {
				in.Code = r.FormValue("code")
			}
			if in.ProviderError == "" {
				in.ProviderError = r.FormValue("error")
			}
			in.AppleUserBlob = r.FormValue("user")
		}
	}

	refresh, code, redirectOrigin, err := s.OAuth.Callback(r.Context(), provider, in)
	if err != nil {
		if s.Audit != nil {
			s.Audit.Emit(r.Context(), auditlog.Event{
				CorrelationID: CorrelationID(r.Context()), Kind: auditlog.KindFederationRejected,
				IP: clientIP(r), Route: r.URL.Path, UserAgent: r.UserAgent(),
				Details: map[string]any{"error": oauthErrorCode(err), "provider": provider},
			})
		}
		http.Redirect(w, r, "/login?error=oauth_failed", http.StatusFound)
		return
	}

	s.setRefreshCookie(w, refresh.Plaintext, s.refreshTokenMaxAge())
	if s.Audit != nil {
		s.Audit.Emit(r.Context(), auditlog.Event{
			CorrelationID: CorrelationID(r.Context()), Kind: auditlog.KindFederationLinked,
			IP: clientIP(r), Route: r.URL.Path, UserAgent: r.UserAgent(), Details: map[string]any{"provider": provider},
		})
	}
	http.Redirect(w, r, callbackRedirect(redirectOrigin, redirectOrigin, code), http.StatusFound)
}

func oauthErrorCode(err error) string {
	if fe, ok := err.(*oauthfed.FlowError); ok {
		return string(fe.Code)
	}
	return "oauth_failed"
}
