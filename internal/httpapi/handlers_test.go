package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"accord.org/internal/auth"
	"accord.org/internal/gateway"
	"accord.org/internal/governance"
	"accord.org/internal/licensing"
	"accord.org/internal/policy"
	"accord.org/internal/statelog"
	"accord.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	members *auth.MemberStore
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("ACCORD_AUTH_SECRET", "test-secret")
	auth.ResetSecretCache()

	log := statelog.NewInMemory()
	gw := gateway.New(
		policy.NewEvaluator("Org1"),
		governance.NewService(log),
		licensing.NewService(log),
		stream.New(),
	)
	members := auth.NewMemberStore(log)
	api := New(ReadyProbe{}, "test", gw, stream.New(), members, nil)
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		members: members,
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(user, org, role string) string {
	c.t.Helper()
	_, err := c.members.Register(context.Background(), user, org, role, user+"-pw")
	if err != nil && !errors.Is(err, auth.ErrMemberExists) {
		c.t.Fatalf("register member: %v", err)
	}
	resp := c.post("/v1/auth/token", map[string]any{
		"user":     user,
		"password": user + "-pw",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func (c *apiClient) invoke(token, name string, args []string, transient map[string]any, endorsers ...string) *http.Response {
	c.t.Helper()
	body := map[string]any{"name": name}
	if args != nil {
		body["args"] = args
	}
	if transient != nil {
		body["transient"] = transient
	}
	if len(endorsers) > 0 {
		body["endorsers"] = endorsers
	}
	return c.post("/v1/invoke", body, map[string]string{"Authorization": "Bearer " + token})
}

func (c *apiClient) mustInvoke(token, name string, args []string, transient map[string]any, endorsers ...string) invokeResponse {
	c.t.Helper()
	resp := c.invoke(token, name, args, transient, endorsers...)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		c.t.Fatalf("%s returned %d: %v", name, resp.StatusCode, errBody["error"])
	}
	var payload invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode invoke response: %v", err)
	}
	return payload
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPIGovernanceAndAssetFlow(t *testing.T) {
	api := newTestAPI(t)

	adminAO := api.obtainToken("admin", "Org1", string(policy.AuthorizingOfficial))
	org2AO := api.obtainToken("alice", "Org2", string(policy.AuthorizingOfficial))

	api.mustInvoke(adminAO, "Bootstrap", nil, nil)
	api.mustInvoke(adminAO, "UpdateMOU", []string{"the agreement"}, nil)
	api.mustInvoke(org2AO, "SignMOU", []string{"1"}, nil)
	api.mustInvoke(adminAO, "InitiateVote", []string{"Org2", "AUTHORIZED", "onboarding"}, nil)
	api.mustInvoke(adminAO, "Vote", []string{"true"}, nil)
	api.mustInvoke(adminAO, "CertifyOngoingVote", nil, nil)
	api.mustInvoke(org2AO, "Join", nil, nil)

	status := api.mustInvoke(org2AO, "GetAccountStatus", nil, nil)
	if status.Result != "AUTHORIZED" {
		t.Fatalf("unexpected status result: %v", status.Result)
	}

	adminLO := api.obtainToken("owner", "Org1", string(policy.LicenseOwner))
	api.mustInvoke(adminLO, "AddAsset", []string{"asset1", "2030-01-01 00:00:00"},
		map[string]any{"licenses": map[string]any{
			"licenses": []map[string]string{{"id": "1", "salt": "s1"}, {"id": "2", "salt": "s2"}},
		}},
		"Org1")

	org2TPOC := api.obtainToken("bob", "Org2", string(policy.TechnicalPOC))
	assets := api.mustInvoke(org2TPOC, "GetAssets", nil, nil)
	list, ok := assets.Result.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("unexpected assets result: %#v", assets.Result)
	}
}

func TestAPIInvokeErrorMapping(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("admin", "Org1", string(policy.AuthorizingOfficial))

	resp := api.invoke(token, "Teleport", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown op: expected 400, got %d", resp.StatusCode)
	}

	api.mustInvoke(token, "Bootstrap", nil, nil)
	resp = api.invoke(token, "Bootstrap", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double bootstrap: expected 409, got %d", resp.StatusCode)
	}

	outsider := api.obtainToken("eve", "Org9", string(policy.TechnicalPOC))
	resp = api.invoke(outsider, "GetAssets", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unauthorized read: expected 403, got %d", resp.StatusCode)
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/invoke", map[string]any{"name": "GetAssets"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	errBody := decode[map[string]any](t, resp)
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"user": "admin"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing password: expected 400, got %d", resp.StatusCode)
	}

	// The caller cannot pick an org or role; those come from the member
	// record.
	resp = api.post("/v1/auth/token", map[string]any{
		"user": "admin", "password": "pw", "org": "Org1", "role": "Authorizing Official",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("org/role in request: expected 400, got %d", resp.StatusCode)
	}
}

func TestTokenEndpointRejectsBadCredentials(t *testing.T) {
	api := newTestAPI(t)

	if _, err := api.members.Register(context.Background(), "alice", "Org2", string(policy.AuthorizingOfficial), "s3cret"); err != nil {
		t.Fatalf("register member: %v", err)
	}

	resp := api.post("/v1/auth/token", map[string]any{"user": "alice", "password": "wrong"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/token", map[string]any{"user": "nobody", "password": "s3cret"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown user: expected 401, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/token", map[string]any{"user": "alice", "password": "s3cret"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("good credentials: expected 200, got %d", resp.StatusCode)
	}
	payload := decode[tokenResponse](t, resp)
	if payload.Org != "Org2" || payload.Role != string(policy.AuthorizingOfficial) {
		t.Fatalf("token carries %s/%s", payload.Org, payload.Role)
	}
}

func TestMemberRegistrationEndpoint(t *testing.T) {
	api := newTestAPI(t)

	aoToken := api.obtainToken("admin", "Org1", string(policy.AuthorizingOfficial))

	resp := api.post("/v1/auth/members", map[string]any{
		"user": "carol", "role": string(policy.TechnicalPOC), "password": "s3cret",
	}, map[string]string{"Authorization": "Bearer " + aoToken})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	member := decode[auth.Member](t, resp)
	if member.Org != "Org1" || member.Role != string(policy.TechnicalPOC) {
		t.Fatalf("member = %+v", member)
	}
	if member.PasswordHash != "" {
		t.Fatal("response leaked password hash")
	}

	// The new member can authenticate.
	resp = api.post("/v1/auth/token", map[string]any{"user": "carol", "password": "s3cret"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("new member token: expected 200, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/members", map[string]any{
		"user": "carol", "role": string(policy.TechnicalPOC), "password": "other",
	}, map[string]string{"Authorization": "Bearer " + aoToken})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/members", map[string]any{
		"user": "dave", "role": "Janitor", "password": "s3cret",
	}, map[string]string{"Authorization": "Bearer " + aoToken})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown role: expected 400, got %d", resp.StatusCode)
	}

	tpocToken := api.obtainToken("carol2", "Org1", string(policy.TechnicalPOC))
	resp = api.post("/v1/auth/members", map[string]any{
		"user": "erin", "role": string(policy.TechnicalPOC), "password": "s3cret",
	}, map[string]string{"Authorization": "Bearer " + tpocToken})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-AO registration: expected 403, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/members", map[string]any{
		"user": "frank", "role": string(policy.TechnicalPOC), "password": "s3cret",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated registration: expected 401, got %d", resp.StatusCode)
	}
}
