package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/qingyh6/ai/helper"
	"github.com/qingyh6/ai/helper/llm"
	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
	"github.com/qingyh6/ai/store"
)

// ConfigAdminHandler exposes the runtime admin API: repo/project
// credentials, AI provider settings and stored review results. Every
// route requires the X-Admin-API-Key header.
type ConfigAdminHandler struct {
	Store    *store.Store
	Factory  *llm.Factory
	Cfg      *model.Config
	Notifier *helper.Notifier
}

func (ca *ConfigAdminHandler) Register(e *echo.Echo) {
	g := e.Group("/api/admin", ca.requireAdminKey)

	g.GET("/config/github/repos", ca.ListGithubRepos)
	g.POST("/config/github/repo", ca.SetGithubRepo)
	g.DELETE("/config/github/repo/:owner/:repo", ca.DeleteGithubRepo)

	g.GET("/config/gitlab/projects", ca.ListGitlabProjects)
	g.POST("/config/gitlab/project", ca.SetGitlabProject)
	g.DELETE("/config/gitlab/project/:id", ca.DeleteGitlabProject)

	g.POST("/config/llm", ca.UpdateLLMConfig)

	g.GET("/reviews", ca.ListReviewedThreads)
	g.GET("/review_results", ca.GetReviewResults)
	g.DELETE("/review_results", ca.DeleteReviewResults)
	log.Info("Init Config Admin Handler")
}

func (ca *ConfigAdminHandler) requireAdminKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if ca.Cfg.AdminAPIKey == "" {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "admin API key is not configured"})
		}
		if !helper.VerifyAdminKey(ca.Cfg.AdminAPIKey, c.Request().Header.Get("X-Admin-API-Key")) {
			log.Warnf("Rejected admin API call to %s: bad key", c.Request().URL.Path)
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid admin API key"})
		}
		return next(c)
	}
}

func (ca *ConfigAdminHandler) ListGithubRepos(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"repositories": ca.Store.ListGithubRepos()})
}

func (ca *ConfigAdminHandler) SetGithubRepo(c echo.Context) error {
	var req struct {
		FullName string `json:"repo_full_name"`
		Secret   string `json:"secret"`
		Token    string `json:"token"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid JSON payload"})
	}
	if req.FullName == "" || req.Secret == "" || req.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "repo_full_name, secret and token are required"})
	}
	cred := model.RepoCredential{Secret: req.Secret, Token: req.Token}
	if err := ca.Store.SetGithubRepoConfig(c.Request().Context(), req.FullName, cred); err != nil {
		log.Errorf("Failed to save github config for %s: %v", req.FullName, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to save configuration"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "configuration saved", "repo_full_name": req.FullName})
}

func (ca *ConfigAdminHandler) DeleteGithubRepo(c echo.Context) error {
	fullName := c.Param("owner") + "/" + c.Param("repo")
	removed, err := ca.Store.DeleteGithubRepoConfig(c.Request().Context(), fullName)
	if err != nil {
		log.Errorf("Failed to delete github config for %s: %v", fullName, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete configuration"})
	}
	if !removed {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "repository is not configured"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "configuration deleted", "repo_full_name": fullName})
}

func (ca *ConfigAdminHandler) ListGitlabProjects(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"projects": ca.Store.ListGitlabProjects()})
}

func (ca *ConfigAdminHandler) SetGitlabProject(c echo.Context) error {
	var req struct {
		ProjectID   string `json:"project_id"`
		Secret      string `json:"secret"`
		Token       string `json:"token"`
		InstanceURL string `json:"instance_url"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid JSON payload"})
	}
	if req.ProjectID == "" || req.Secret == "" || req.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "project_id, secret and token are required"})
	}
	cred := model.RepoCredential{Secret: req.Secret, Token: req.Token, InstanceURL: req.InstanceURL}
	if err := ca.Store.SetGitlabProjectConfig(c.Request().Context(), req.ProjectID, cred); err != nil {
		log.Errorf("Failed to save gitlab config for %s: %v", req.ProjectID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to save configuration"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "configuration saved", "project_id": req.ProjectID})
}

func (ca *ConfigAdminHandler) DeleteGitlabProject(c echo.Context) error {
	projectID := c.Param("id")
	removed, err := ca.Store.DeleteGitlabProjectConfig(c.Request().Context(), projectID)
	if err != nil {
		log.Errorf("Failed to delete gitlab config for %s: %v", projectID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete configuration"})
	}
	if !removed {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "project is not configured"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "configuration deleted", "project_id": projectID})
}

// UpdateLLMConfig applies provider settings at runtime. Only the
// fields present in the request change; the factory is rebuilt so the
// next review run picks up the new provider.
func (ca *ConfigAdminHandler) UpdateLLMConfig(c echo.Context) error {
	var req struct {
		UseQianwen     *bool   `json:"use_qianwen"`
		OpenAIBaseURL  *string `json:"openai_base_url"`
		OpenAIAPIKey   *string `json:"openai_api_key"`
		OpenAIModel    *string `json:"openai_model"`
		QianwenBaseURL *string `json:"qianwen_base_url"`
		QianwenAPIKey  *string `json:"qianwen_api_key"`
		QianwenModel   *string `json:"qianwen_model"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid JSON payload"})
	}

	if req.UseQianwen != nil {
		ca.Cfg.UseQianwen = *req.UseQianwen
	}
	applyString := func(dst *string, src *string) {
		if src != nil && *src != "" {
			*dst = *src
		}
	}
	applyString(&ca.Cfg.OpenAI.BaseURL, req.OpenAIBaseURL)
	applyString(&ca.Cfg.OpenAI.APIKey, req.OpenAIAPIKey)
	applyString(&ca.Cfg.OpenAI.Model, req.OpenAIModel)
	applyString(&ca.Cfg.Qianwen.BaseURL, req.QianwenBaseURL)
	applyString(&ca.Cfg.Qianwen.APIKey, req.QianwenAPIKey)
	applyString(&ca.Cfg.Qianwen.Model, req.QianwenModel)

	ca.Factory.Reconfigure(ca.Cfg)
	provider, err := ca.Factory.Provider()
	if err != nil {
		return c.JSON(http.StatusOK, echo.Map{"message": "configuration applied but no provider is usable", "active_provider": nil})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "configuration applied", "active_provider": provider.Name(), "model": provider.Model()})
}

func (ca *ConfigAdminHandler) ListReviewedThreads(c echo.Context) error {
	threads, err := ca.Store.ListThreads(c.Request().Context())
	if err != nil {
		log.Errorf("Failed to list reviewed threads: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list reviewed threads"})
	}
	if threads == nil {
		threads = []model.ReviewedThread{}
	}
	return c.JSON(http.StatusOK, echo.Map{"threads": threads})
}

func threadKeyFromQuery(c echo.Context) (model.ReviewThreadKey, bool) {
	key := model.ReviewThreadKey{
		VCSType:    c.QueryParam("vcs_type"),
		Identifier: c.QueryParam("identifier"),
		ThreadID:   c.QueryParam("thread_id"),
	}
	return key, key.VCSType != "" && key.Identifier != "" && key.ThreadID != ""
}

func (ca *ConfigAdminHandler) GetReviewResults(c echo.Context) error {
	key, ok := threadKeyFromQuery(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "vcs_type, identifier and thread_id are required"})
	}

	if sha := c.QueryParam("commit_sha"); sha != "" {
		items, err := ca.Store.GetResults(c.Request().Context(), key, sha)
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no review results for this commit"})
		}
		if err != nil {
			log.Errorf("Failed to read review results for %s@%s: %v", key, sha, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read review results"})
		}
		return c.JSON(http.StatusOK, echo.Map{"commit_sha": sha, "results": items})
	}

	results, projectName, err := ca.Store.GetAllResults(c.Request().Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no review results for this thread"})
	}
	if err != nil {
		log.Errorf("Failed to read review results for %s: %v", key, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read review results"})
	}
	resp := echo.Map{"results": results}
	if projectName != "" {
		resp["project_name"] = projectName
	}
	return c.JSON(http.StatusOK, resp)
}

func (ca *ConfigAdminHandler) DeleteReviewResults(c echo.Context) error {
	key, ok := threadKeyFromQuery(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "vcs_type, identifier and thread_id are required"})
	}
	ca.Store.ClearThread(c.Request().Context(), key)
	return c.JSON(http.StatusOK, echo.Map{"message": "review records cleared"})
}
