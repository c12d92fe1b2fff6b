package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/qingyh6/ai/helper"
	"github.com/qingyh6/ai/helper/vcs/github_impl"
	"github.com/qingyh6/ai/helper/vcs/gitlab_impl"
	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
	"github.com/qingyh6/ai/store"
)

// WebhookReviewHandler receives GitHub and GitLab webhook events and
// turns pull/merge request updates into queued review runs. Each VCS
// has a detailed route (line-targeted findings) and a general route
// (coarse per-file critique); the two keep separate idempotency and
// result records through their vcsType.
type WebhookReviewHandler struct {
	Store        *store.Store
	Orchestrator *ReviewOrchestrator
	Cfg          *model.Config
}

func (wh *WebhookReviewHandler) Register(e *echo.Echo) {
	e.POST("/github_webhook", wh.HandleGithubWebhook)
	e.POST("/github_webhook_general", wh.HandleGithubWebhookGeneral)
	e.POST("/gitlab_webhook", wh.HandleGitlabWebhook)
	e.POST("/gitlab_webhook_general", wh.HandleGitlabWebhookGeneral)
	log.Info("Init Webhook Review Handler")
}

func (wh *WebhookReviewHandler) HandleGithubWebhook(c echo.Context) error {
	return wh.handleGithub(c, model.VCSGithub)
}

func (wh *WebhookReviewHandler) HandleGithubWebhookGeneral(c echo.Context) error {
	return wh.handleGithub(c, model.VCSGithubGeneral)
}

func (wh *WebhookReviewHandler) HandleGitlabWebhook(c echo.Context) error {
	return wh.handleGitlab(c, model.VCSGitlab)
}

func (wh *WebhookReviewHandler) HandleGitlabWebhookGeneral(c echo.Context) error {
	return wh.handleGitlab(c, model.VCSGitlabGeneral)
}

func (wh *WebhookReviewHandler) handleGithub(c echo.Context, vcsType string) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "cannot read request body"})
	}

	var payload model.GithubWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Errorf("Undecodable github webhook payload: %v", err)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid JSON payload"})
	}
	fullName := payload.Repository.FullName
	if fullName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "payload has no repository full_name"})
	}

	cred, ok := wh.Store.GetGithubRepoConfig(fullName)
	if !ok {
		log.Warnf("Received github webhook for unconfigured repo %s", fullName)
		return c.JSON(http.StatusNotFound, echo.Map{"error": fmt.Sprintf("repository %s is not configured", fullName)})
	}
	if !helper.VerifyGithubSignature(cred.Secret, body, c.Request().Header.Get("X-Hub-Signature-256")) {
		log.Warnf("Rejected github webhook for %s: bad signature", fullName)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature"})
	}

	if event := c.Request().Header.Get("X-GitHub-Event"); event != "pull_request" {
		log.Debugf("Ignoring github event type %s for %s", event, fullName)
		return c.JSON(http.StatusOK, echo.Map{"message": "event type ignored"})
	}

	key := model.ReviewThreadKey{
		VCSType:    vcsType,
		Identifier: fullName,
		ThreadID:   strconv.Itoa(payload.PullRequest.Number),
	}

	if payload.Action == "closed" {
		log.Infof("PR #%d in %s closed (merged=%v), clearing %s review records", payload.PullRequest.Number, fullName, payload.PullRequest.Merged, vcsType)
		wh.Store.ClearThread(c.Request().Context(), key)
		return c.JSON(http.StatusOK, echo.Map{"message": "review records cleared"})
	}
	if payload.Action != "opened" && payload.Action != "synchronize" && payload.Action != "reopened" {
		log.Debugf("Ignoring github action %s for PR #%d in %s", payload.Action, payload.PullRequest.Number, fullName)
		return c.JSON(http.StatusOK, echo.Map{"message": "action ignored"})
	}

	headSHA := payload.PullRequest.Head.SHA
	if wh.Store.IsProcessed(c.Request().Context(), key, headSHA) {
		log.Infof("Commit %s of %s already reviewed, skipping", headSHA, key)
		return c.JSON(http.StatusOK, echo.Map{"message": "commit already reviewed"})
	}

	client := github_impl.New(wh.Cfg.VCS.GithubAPIURL, payload.Repository.Owner.Login, payload.Repository.Name,
		payload.PullRequest.Number, cred.Token, headSHA, nil)
	task := ReviewTask{
		Key:          key,
		CommitSha:    headSHA,
		Title:        payload.PullRequest.Title,
		URL:          payload.PullRequest.HTMLURL,
		RepoWebURL:   payload.Repository.HTMLURL,
		SourceBranch: payload.PullRequest.Head.Ref,
		TargetBranch: payload.PullRequest.Base.Ref,
		VCS:          client,
	}
	var taskID string
	if vcsType == model.VCSGithubGeneral {
		taskID = wh.Orchestrator.EnqueueGeneral(task)
	} else {
		taskID = wh.Orchestrator.Enqueue(task)
	}
	log.Infof("Queued %s review task %s for PR #%d in %s", vcsType, taskID, payload.PullRequest.Number, fullName)
	return c.JSON(http.StatusAccepted, echo.Map{"message": "review queued", "task_id": taskID})
}

func (wh *WebhookReviewHandler) handleGitlab(c echo.Context, vcsType string) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "cannot read request body"})
	}

	var payload model.GitlabWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Errorf("Undecodable gitlab webhook payload: %v", err)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid JSON payload"})
	}
	if payload.Project.ID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "payload has no project id"})
	}
	projectID := strconv.Itoa(payload.Project.ID)

	cred, ok := wh.Store.GetGitlabProjectConfig(projectID)
	if !ok {
		log.Warnf("Received gitlab webhook for unconfigured project %s", projectID)
		return c.JSON(http.StatusNotFound, echo.Map{"error": fmt.Sprintf("project %s is not configured", projectID)})
	}
	if !helper.VerifyGitlabToken(cred.Secret, c.Request().Header.Get("X-Gitlab-Token")) {
		log.Warnf("Rejected gitlab webhook for project %s: bad token", projectID)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	}

	if event := c.Request().Header.Get("X-Gitlab-Event"); event != "Merge Request Hook" {
		log.Debugf("Ignoring gitlab event type %s for project %s", event, projectID)
		return c.JSON(http.StatusOK, echo.Map{"message": "event type ignored"})
	}

	attrs := payload.ObjectAttributes
	key := model.ReviewThreadKey{
		VCSType:    vcsType,
		Identifier: projectID,
		ThreadID:   strconv.Itoa(attrs.IID),
	}

	if attrs.Action == "close" || attrs.Action == "merge" {
		log.Infof("MR !%d in project %s %sd, clearing %s review records", attrs.IID, projectID, attrs.Action, vcsType)
		wh.Store.ClearThread(c.Request().Context(), key)
		return c.JSON(http.StatusOK, echo.Map{"message": "review records cleared"})
	}
	if attrs.Action != "open" && attrs.Action != "update" && attrs.Action != "reopen" {
		log.Debugf("Ignoring gitlab action %s for MR !%d in project %s", attrs.Action, attrs.IID, projectID)
		return c.JSON(http.StatusOK, echo.Map{"message": "action ignored"})
	}

	headSHA := attrs.LastCommit.ID
	if wh.Store.IsProcessed(c.Request().Context(), key, headSHA) {
		log.Infof("Commit %s of %s already reviewed, skipping", headSHA, key)
		return c.JSON(http.StatusOK, echo.Map{"message": "commit already reviewed"})
	}

	instanceURL := cred.InstanceURL
	if instanceURL == "" {
		instanceURL = wh.Cfg.VCS.GitlabInstanceURL
	}
	client := gitlab_impl.New(instanceURL, projectID, attrs.IID, cred.Token, headSHA, nil)
	task := ReviewTask{
		Key:          key,
		CommitSha:    headSHA,
		ProjectName:  payload.Project.Name,
		Title:        attrs.Title,
		URL:          attrs.URL,
		RepoWebURL:   payload.Project.WebURL,
		SourceBranch: attrs.SourceBranch,
		TargetBranch: attrs.TargetBranch,
		VCS:          client,
	}
	var taskID string
	if vcsType == model.VCSGitlabGeneral {
		taskID = wh.Orchestrator.EnqueueGeneral(task)
	} else {
		taskID = wh.Orchestrator.Enqueue(task)
	}
	log.Infof("Queued %s review task %s for MR !%d in project %s", vcsType, taskID, attrs.IID, projectID)
	return c.JSON(http.StatusAccepted, echo.Map{"message": "review queued", "task_id": taskID})
}
