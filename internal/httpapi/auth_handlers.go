package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"accord.org/internal/audit"
	"accord.org/internal/auth"
	"accord.org/internal/policy"
)

type tokenRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Org       string    `json:"org"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type registerMemberRequest struct {
	User     string `json:"user"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

// handleAuthToken exchanges member credentials for a bearer token carrying
// the member's registered org and role.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}

	member, err := a.members.Authenticate(r.Context(), user, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := auth.GenerateToken(member.User, member.Org, member.Role, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user":       member.User,
		"org":        member.Org,
		"role":       member.Role,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		Org:       member.Org,
		Role:      member.Role,
		ExpiresAt: expiresAt,
	})
}

// handleRegisterMember lets an Authorizing Official enroll members of its
// own organization.
func (a *API) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if principal.Role != string(policy.AuthorizingOfficial) {
		writeError(w, r, http.StatusForbidden, "only an Authorizing Official can register members")
		return
	}

	var req registerMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !policy.ValidRole(strings.TrimSpace(req.Role)) {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return
	}

	member, err := a.members.Register(r.Context(), req.User, principal.Org, req.Role, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrMemberExists) {
			writeError(w, r, http.StatusConflict, err.Error())
			return
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.member.registered", map[string]any{
		"user": member.User,
		"org":  member.Org,
		"role": member.Role,
	})

	writeJSON(w, http.StatusCreated, member)
}
