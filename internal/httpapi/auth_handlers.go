package httpapi

import (
	"errors"
	"net/http"
	"time"

	"officeadmin.org/internal/audit"
	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/obs"
)

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type loginResponse struct {
	Token     string           `json:"token"`
	TokenType string           `json:"token_type"`
	ExpiresAt time.Time        `json:"expires_at"`
	User      auth.UserSummary `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !bind(w, r, &req) {
		return
	}

	res, err := a.sessions.Login(r.Context(), req.Username, req.Password, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			obs.RecordLogin(obs.LoginRejected)
			_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{
				"username":  req.Username,
				"remote_ip": clientIP(r),
			})
		case errors.Is(err, auth.ErrUnavailable):
			obs.RecordLogin(obs.LoginUnavailable)
		}
		handleError(w, r, err)
		return
	}

	obs.RecordLogin(obs.LoginSuccess)
	_ = audit.LogEvent(r.Context(), audit.EventLogin, map[string]any{
		"user_id":    res.User.ID,
		"username":   res.User.Username,
		"remote_ip":  clientIP(r),
		"expires_at": res.ExpiresAt.UTC().Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		TokenType: "Bearer",
		ExpiresAt: res.ExpiresAt,
		User:      res.User,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if err := a.sessions.Logout(r.Context(), identity.UserID); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventLogout, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           identity.UserID,
		"username":     identity.Username,
		"display_name": identity.DisplayName,
		"roles":        identity.RoleNames(),
		"permissions":  identity.PermissionCodes(),
	})
}

func (a *API) handleLoginInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.LoginInfo(r.Context(), identityFrom(r).UserID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if err := a.sessions.ForceLogout(r.Context(), userID); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventForceLogout, map[string]any{
		"target_user_id": userID,
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"status":  "logged_out",
	})
}
