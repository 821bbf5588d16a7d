package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragguard-ai/ragguard/internal/agent"
	"github.com/ragguard-ai/ragguard/internal/auth"
	"github.com/ragguard-ai/ragguard/internal/config"
	"github.com/ragguard-ai/ragguard/internal/inference"
	"github.com/ragguard-ai/ragguard/internal/judge"
	"github.com/ragguard-ai/ragguard/internal/pipeline"
	"github.com/ragguard-ai/ragguard/internal/provider"
	"github.com/ragguard-ai/ragguard/internal/retrieval"
	"github.com/ragguard-ai/ragguard/internal/vendorstore"
)

// echoAccountProvider approves whatever account the prompt context carries.
type echoAccountProvider struct{}

func (echoAccountProvider) ChatCompletion(_ context.Context, req *inference.Request) (*inference.Response, error) {
	user := req.Messages[len(req.Messages)-1].Content
	content := "DECISION: DENY REASON=nothing retrieved"
	if i := strings.Index(user, "account_id: "); i >= 0 {
		rest := user[i+len("account_id: "):]
		account := strings.Fields(rest)[0]
		content = "DECISION: APPROVE ACCOUNT=" + account
	}
	return &inference.Response{Message: inference.Message{Role: "assistant", Content: content}}, nil
}

func newTestServer(t *testing.T, cfg *config.Config, judgeReply string) *Server {
	t.Helper()
	if cfg == nil {
		var err error
		cfg, err = config.Load("testdata/does-not-exist.yaml")
		require.NoError(t, err)
	}

	p := pipeline.New(pipeline.Deps{
		Store:     vendorstore.New(),
		Retriever: retrieval.New(retrieval.DefaultWeights()),
		Judge:     judge.New(provider.NewFake(judgeReply), "judge-model", time.Second),
		Agent:     agent.New(echoAccountProvider{}, "agent-model", time.Second),
	})
	return New(cfg, auth.NewFromConfig(cfg), p, nil)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil, "SAFE")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestInsertAndQueryRoundTrip(t *testing.T) {
	srv := newTestServer(t, nil, "SAFE")

	insert := `{"name":"ABC Corp","account_id":"LEGIT-001","notes":"Standard vendor"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/vendors", strings.NewReader(insert))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, int64(1), created.ID)

	query := `{"query":"Please pay ABC Corp","guardrail":true}`
	req = httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(query))
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, agent.OutcomeApproved, res.Decision.Outcome)
	assert.Equal(t, "LEGIT-001", res.Decision.AccountID)
	require.NotNil(t, res.Transaction)

	// The transaction shows up on the ledger endpoint.
	req = httptest.NewRequest(http.MethodGet, "/v1/transactions", nil)
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "LEGIT-001")
}

func TestQueryValidation(t *testing.T) {
	srv := newTestServer(t, nil, "SAFE")

	cases := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{oops", http.StatusBadRequest},
		{"missing query", `{"guardrail":true}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, req)
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestVendorsRejectsIncompleteRecord(t *testing.T) {
	srv := newTestServer(t, nil, "SAFE")

	req := httptest.NewRequest(http.MethodPost, "/v1/vendors", strings.NewReader(`{"name":"ABC Corp"}`))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPIKeyRequiredWhenConfigured(t *testing.T) {
	cfg, err := config.Load("testdata/does-not-exist.yaml")
	require.NoError(t, err)
	cfg.Server.APIKeys = []string{"secret-key"}

	srv := newTestServer(t, cfg, "SAFE")

	req := httptest.NewRequest(http.MethodGet, "/v1/vendors", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/vendors", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Health stays open for probes.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPoisonEndpoint(t *testing.T) {
	cfg, err := config.Load("testdata/does-not-exist.yaml")
	require.NoError(t, err)
	cfg.Store.PoisonPath = filepath.Join("testdata", "vendors_poisoned.json")

	srv := newTestServer(t, cfg, "UNSAFE")

	req := httptest.NewRequest(http.MethodPost, "/v1/poison", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res struct {
		InsertedIDs []int64 `json:"inserted_ids"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Len(t, res.InsertedIDs, 1)

	// With the guardrail on and only the poisoned record present, the
	// query is denied with the canonical reason.
	query := `{"query":"Please pay ABC Corp","guardrail":true}`
	req = httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(query))
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var qres pipeline.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &qres))
	assert.Equal(t, agent.OutcomeDenied, qres.Decision.Outcome)
	assert.Equal(t, agent.ReasonNoSafeVendor, qres.Decision.Reason)
}

func TestPoisonEndpointUnconfigured(t *testing.T) {
	srv := newTestServer(t, nil, "SAFE")

	req := httptest.NewRequest(http.MethodPost, "/v1/poison", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRequestBodyLimit(t *testing.T) {
	cfg, err := config.Load("testdata/does-not-exist.yaml")
	require.NoError(t, err)
	cfg.Server.MaxRequestBodyBytes = 32

	srv := newTestServer(t, cfg, "SAFE")

	body := `{"query":"` + strings.Repeat("a", 128) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
