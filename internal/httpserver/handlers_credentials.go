package httpserver

import (
	"net/http"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/auditlog"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/credentials"
)

// handleRegister implements POST /api/register.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/register?error=invalid_request", http.StatusFound)
		return
	}

	result, err := s.Credentials.Register(r.Context(), credentials.RegisterParams{
		Email:           r.FormValue("email"),
		Password:        r.FormValue("password"),
		ConfirmPassword: r.FormValue("confirmPassword"),
		Name:            r.FormValue("name"),
		RedirectURL:     r.FormValue("redirect"),
		Audience:        audienceFromForm(r.FormValue("audience")),
		PKCEChallenge:   r.FormValue("code_challenge"),
		PKCEMethod:      pkceMethodFor(r.FormValue("code_challenge")),
		IP:              clientIP(r),
		UserAgent:       r.UserAgent(),
	})
	s.finishCredentialRedirect(w, r, "/register", auditlog.KindRegisterSucceeded, auditlog.KindRegisterRejected, result, err)
}

// handleLogin implements POST /api/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login?error=invalid_request", http.StatusFound)
		return
	}

	result, err := s.Credentials.Login(r.Context(), credentials.LoginParams{
		Email:         r.FormValue("email"),
		Password:      r.FormValue("password"),
		RedirectURL:   r.FormValue("redirect"),
		Audience:      audienceFromForm(r.FormValue("audience")),
		PKCEChallenge: r.FormValue("code_challenge"),
		PKCEMethod:    pkceMethodFor(r.FormValue("code_challenge")),
		IP:            clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	s.finishCredentialRedirect(w, r, "/login", auditlog.KindLoginSucceeded, auditlog.KindLoginRejected, result, err)
}

func pkceMethodFor(challenge string) string {
	if challenge == "" {
		return ""
	}
	return "S256"
}

// finishCredentialRedirect is the shared tail of handleRegister and
// handleLogin: set the refresh cookie and 302 to the tenant callback on
// success, or back to the originating page with an echoed error code.
func (s *Server) finishCredentialRedirect(w http.ResponseWriter, r *http.Request, onErrorPath string, successKind, rejectedKind auditlog.Kind, result credentials.AuthResult, err error) {
	ctx := r.Context()
	correlationID := CorrelationID(ctx)

	if err != nil {
		code := "internal_error"
		if fe, ok := err.(*credentials.FlowError); ok {
			code = string(fe.Code)
		}
		if s.Audit != nil {
			s.Audit.Emit(ctx, auditlog.Event{
				CorrelationID: correlationID, Kind: rejectedKind, IP: clientIP(r), Route: r.URL.Path,
				UserAgent: r.UserAgent(), Details: map[string]any{"error": code},
			})
		}
		http.Redirect(w, r, onErrorPath+"?error="+code, http.StatusFound)
		return
	}

	s.setRefreshCookie(w, result.RefreshToken, s.refreshTokenMaxAge())
	if s.Audit != nil {
		s.Audit.Emit(ctx, auditlog.Event{
			CorrelationID: correlationID, Kind: successKind, IP: clientIP(r), Route: r.URL.Path, UserAgent: r.UserAgent(),
		})
	}
	http.Redirect(w, r, callbackRedirect(result.RedirectOrigin, r.FormValue("redirect"), result.AuthCode), http.StatusFound)
}

// handleForgotPassword implements POST /api/forgot-password. The redirect
// target and status code are identical regardless of whether the email
// belongs to a real account, to resist account enumeration.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login?message=reset_sent", http.StatusFound)
		return
	}
	_ = s.Credentials.ForgotPassword(r.Context(), r.FormValue("email"))
	if s.Audit != nil {
		s.Audit.Emit(r.Context(), auditlog.Event{
			CorrelationID: CorrelationID(r.Context()), Kind: auditlog.KindPasswordResetSent,
			IP: clientIP(r), Route: r.URL.Path, UserAgent: r.UserAgent(),
		})
	}
	http.Redirect(w, r, "/login?message=reset_sent", http.StatusFound)
}

// handleResetPassword implements POST /api/reset-password.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/reset-password?error=invalid_request", http.StatusFound)
		return
	}

	err := s.Credentials.ResetPassword(r.Context(), credentials.ResetPasswordParams{
		Token:           r.FormValue("token"),
		NewPassword:     r.FormValue("newPassword"),
		ConfirmPassword: r.FormValue("confirmPassword"),
	})
	if err != nil {
		code := "internal_error"
		if fe, ok := err.(*credentials.FlowError); ok {
			code = string(fe.Code)
		}
		http.Redirect(w, r, "/reset-password?error="+code, http.StatusFound)
		return
	}
	if s.Audit != nil {
		s.Audit.Emit(r.Context(), auditlog.Event{
			CorrelationID: CorrelationID(r.Context()), Kind: auditlog.KindPasswordChanged,
			IP: clientIP(r), Route: r.URL.Path, UserAgent: r.UserAgent(),
		})
	}
	http.Redirect(w, r, "/login?message=password_changed", http.StatusFound)
}

