package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/qingyh6/ai/helper/llm"
	"github.com/qingyh6/ai/model"
	"github.com/qingyh6/ai/store"
)

func newAdminServer(t *testing.T) (*echo.Echo, *store.Store, *model.Config) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	st := store.NewWithClient(rdb)

	cfg := &model.Config{AdminAPIKey: "admin-key", UseQianwen: false}
	cfg.OpenAI = model.ProviderConfig{BaseURL: "https://api.openai.com/v1", APIKey: "sk-test", Model: "gpt-4o"}

	e := echo.New()
	ca := ConfigAdminHandler{Store: st, Factory: llm.NewFactory(cfg), Cfg: cfg}
	ca.Register(e)
	return e, st, cfg
}

func adminRequest(e *echo.Echo, method, path, key string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("X-Admin-API-Key", key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAdminAPIRequiresKey(t *testing.T) {
	e, _, _ := newAdminServer(t)

	if rec := adminRequest(e, http.MethodGet, "/api/admin/reviews", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key should answer 401, got %d", rec.Code)
	}
	if rec := adminRequest(e, http.MethodGet, "/api/admin/reviews", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key should answer 401, got %d", rec.Code)
	}
	if rec := adminRequest(e, http.MethodGet, "/api/admin/reviews", "admin-key", ""); rec.Code != http.StatusOK {
		t.Errorf("valid key should answer 200, got %d", rec.Code)
	}
}

func TestAdminAPIUnconfiguredKey(t *testing.T) {
	e, _, cfg := newAdminServer(t)
	cfg.AdminAPIKey = ""

	if rec := adminRequest(e, http.MethodGet, "/api/admin/reviews", "anything", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured admin key should answer 503, got %d", rec.Code)
	}
}

func TestAdminGithubRepoCRUD(t *testing.T) {
	e, st, _ := newAdminServer(t)

	body := `{"repo_full_name": "octo/repo", "secret": "whsec", "token": "ghp_tok"}`
	if rec := adminRequest(e, http.MethodPost, "/api/admin/config/github/repo", "admin-key", body); rec.Code != http.StatusOK {
		t.Fatalf("saving config should answer 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := st.GetGithubRepoConfig("octo/repo"); !ok {
		t.Fatal("saved config not visible through the store")
	}

	rec := adminRequest(e, http.MethodGet, "/api/admin/config/github/repos", "admin-key", "")
	var listResp struct {
		Repositories []string `json:"repositories"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decoding list response: %v", err)
	}
	if len(listResp.Repositories) != 1 || listResp.Repositories[0] != "octo/repo" {
		t.Errorf("unexpected repo list: %v", listResp.Repositories)
	}

	if rec := adminRequest(e, http.MethodDelete, "/api/admin/config/github/repo/octo/repo", "admin-key", ""); rec.Code != http.StatusOK {
		t.Errorf("deleting config should answer 200, got %d", rec.Code)
	}
	if rec := adminRequest(e, http.MethodDelete, "/api/admin/config/github/repo/octo/repo", "admin-key", ""); rec.Code != http.StatusNotFound {
		t.Errorf("deleting a missing config should answer 404, got %d", rec.Code)
	}
}

func TestAdminReviewResults(t *testing.T) {
	e, st, _ := newAdminServer(t)
	ctx := context.Background()

	key := model.ReviewThreadKey{VCSType: model.VCSGithub, Identifier: "octo/repo", ThreadID: "7"}
	items := []model.ReviewItem{{File: "a.go", Category: "Logic", Severity: model.SeverityHigh, Analysis: "x"}}
	if err := st.SaveResults(ctx, key, "abc123", items, ""); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	path := "/api/admin/review_results?vcs_type=github&identifier=octo/repo&thread_id=7&commit_sha=abc123"
	rec := adminRequest(e, http.MethodGet, path, "admin-key", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stored results should answer 200, got %d: %s", rec.Code, rec.Body.String())
	}

	missing := "/api/admin/review_results?vcs_type=github&identifier=octo/repo&thread_id=7&commit_sha=nosuch"
	if rec := adminRequest(e, http.MethodGet, missing, "admin-key", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing commit should answer 404, got %d", rec.Code)
	}

	incomplete := "/api/admin/review_results?vcs_type=github"
	if rec := adminRequest(e, http.MethodGet, incomplete, "admin-key", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("incomplete thread key should answer 400, got %d", rec.Code)
	}

	clear := "/api/admin/review_results?vcs_type=github&identifier=octo/repo&thread_id=7"
	if rec := adminRequest(e, http.MethodDelete, clear, "admin-key", ""); rec.Code != http.StatusOK {
		t.Fatalf("clearing results should answer 200, got %d", rec.Code)
	}
	if _, err := st.GetResults(ctx, key, "abc123"); err != store.ErrNotFound {
		t.Error("results should be gone after clearing")
	}
}

func TestAdminUpdateLLMConfig(t *testing.T) {
	e, _, cfg := newAdminServer(t)

	body := `{"use_qianwen": true, "qianwen_api_key": "sk-qw", "qianwen_model": "qwen-max"}`
	rec := adminRequest(e, http.MethodPost, "/api/admin/config/llm", "admin-key", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("updating LLM config should answer 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ActiveProvider string `json:"active_provider"`
		Model          string `json:"model"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ActiveProvider != "qianwen" || resp.Model != "qwen-max" {
		t.Errorf("expected qianwen/qwen-max to be active, got %+v", resp)
	}
	if !cfg.UseQianwen || cfg.Qianwen.APIKey != "sk-qw" {
		t.Errorf("config not mutated: %+v", cfg)
	}
}
