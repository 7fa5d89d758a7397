package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"accord.org/internal/auth"
	"accord.org/internal/gateway"
	"accord.org/internal/governance"
	"accord.org/internal/licensing"
	"accord.org/internal/policy"
)

type invokeRequest struct {
	Name      string                     `json:"name"`
	Args      []string                   `json:"args"`
	Transient map[string]json.RawMessage `json:"transient"`
	Endorsers []string                   `json:"endorsers"`
}

type invokeResponse struct {
	Operation string `json:"operation"`
	Result    any    `json:"result"`
}

func (a *API) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var req invokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	var transient map[string][]byte
	if len(req.Transient) > 0 {
		transient = make(map[string][]byte, len(req.Transient))
		for k, v := range req.Transient {
			transient[k] = []byte(v)
		}
	}

	op, err := gateway.Decode(name, req.Args, transient)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	caller := policy.Caller{
		Org:  principal.Org,
		User: principal.UserID,
		Role: policy.Role(principal.Role),
	}
	result, err := a.gateway.Invoke(r.Context(), gateway.Call{
		Caller:    caller,
		Op:        op,
		Endorsers: req.Endorsers,
	})
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, invokeResponse{
		Operation: op.Name(),
		Result:    result,
	})
}

func handleGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, policy.ErrUnauthorized),
		errors.Is(err, gateway.ErrMissingEndorsement):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, governance.ErrNotFound),
		errors.Is(err, licensing.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, governance.ErrAlreadyBootstrapped),
		errors.Is(err, governance.ErrAlreadySigned),
		errors.Is(err, governance.ErrAlreadyJoined),
		errors.Is(err, governance.ErrOngoingVoteExists),
		errors.Is(err, governance.ErrAlreadyVoted),
		errors.Is(err, governance.ErrATOExists),
		errors.Is(err, licensing.ErrLicenseExists),
		errors.Is(err, licensing.ErrAllocationConflict),
		errors.Is(err, licensing.ErrReturnActive):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, governance.ErrVersionMismatch),
		errors.Is(err, governance.ErrATOVersion),
		errors.Is(err, governance.ErrNotEligible),
		errors.Is(err, governance.ErrMOUNotSigned),
		errors.Is(err, licensing.ErrInvalidDate),
		errors.Is(err, licensing.ErrDuplicateLicense),
		errors.Is(err, licensing.ErrInvalidTransition),
		errors.Is(err, licensing.ErrInsufficientLicenses),
		errors.Is(err, licensing.ErrNoAllocateRequest),
		errors.Is(err, licensing.ErrNoReturnRequest),
		errors.Is(err, licensing.ErrNotLeased),
		errors.Is(err, licensing.ErrSendMismatch),
		errors.Is(err, licensing.ErrReturnMismatch),
		errors.Is(err, licensing.ErrLicenseNotFound):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
