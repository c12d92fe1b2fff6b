package helper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

// Notifier pushes markdown run summaries to the configured chat
// webhooks. Delivery is best effort: failures are logged, never
// propagated into the review run.
type Notifier struct {
	wecomURL  string
	customURL string
	http      *http.Client
}

func NewNotifier(cfg model.NotifyConfig, httpClient *http.Client) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Notifier{
		wecomURL:  cfg.WecomBotWebhookURL,
		customURL: cfg.CustomWebhookURL,
		http:      httpClient,
	}
}

// Enabled reports whether at least one channel is configured.
func (n *Notifier) Enabled() bool {
	return n.wecomURL != "" || n.customURL != ""
}

// SendSummary delivers the summary to every configured channel.
func (n *Notifier) SendSummary(content string) {
	if n.wecomURL != "" {
		payload := map[string]interface{}{
			"msgtype":  "markdown",
			"markdown": map[string]string{"content": content},
		}
		n.post(n.wecomURL, payload, "WeCom bot")
	} else {
		log.Debug("WeCom bot webhook not configured, skipping")
	}
	if n.customURL != "" {
		n.post(n.customURL, map[string]string{"content": content}, "custom webhook")
	} else {
		log.Debug("Custom webhook not configured, skipping")
	}
}

func (n *Notifier) post(url string, payload interface{}, serviceName string) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("Failed to serialize %s payload: %v", serviceName, err)
		return
	}
	resp, err := n.http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Errorf("Failed to send summary to %s: %v", serviceName, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Errorf("%s rejected summary. Status: %d", serviceName, resp.StatusCode)
		return
	}
	log.Infof("Sent summary to %s", serviceName)
}

// BuildGeneralRunSummary formats the markdown summary for one finished
// coarse-grained run.
func BuildGeneralRunSummary(key model.ReviewThreadKey, title, threadURL, repoName, repoURL, sourceBranch, targetBranch string, filesChecked, filesWithIssues int) string {
	entity := "Pull Request"
	platform := "GitHub"
	if key.IsGitlab() {
		entity = "Merge Request"
		platform = "GitLab"
	}
	statusLine := fmt.Sprintf("AI General Code Review finished: %d of %d checked files may have issues.", filesWithIssues, filesChecked)
	if filesWithIssues == 0 {
		statusLine = fmt.Sprintf("AI General Code Review finished: no major issues found in any of the %d checked files.", filesChecked)
	}
	return fmt.Sprintf(`**AI general code review completed (%s)**

> Repository: [%s](%s)
> %s: [%s](%s) (#%s)
> Branches: `+"`%s` → `%s`"+`

%s
`, platform, repoName, repoURL, entity, title, threadURL, key.ThreadID, sourceBranch, targetBranch, statusLine)
}

// BuildRunSummary formats the markdown summary for one finished run.
func BuildRunSummary(key model.ReviewThreadKey, title, threadURL, repoName, repoURL, sourceBranch, targetBranch string, itemCount int) string {
	entity := "Pull Request"
	platform := "GitHub"
	if key.IsGitlab() {
		entity = "Merge Request"
		platform = "GitLab"
	}
	statusLine := fmt.Sprintf("AI Code Review finished with %d suggestions. See the %s for details.", itemCount, entity)
	if itemCount == 0 {
		statusLine = "AI Code Review finished: all checks passed, no suggestions."
	}
	return fmt.Sprintf(`**AI code review completed (%s)**

> Repository: [%s](%s)
> %s: [%s](%s) (#%s)
> Branches: `+"`%s` → `%s`"+`

%s
`, platform, repoName, repoURL, entity, title, threadURL, key.ThreadID, sourceBranch, targetBranch, statusLine)
}
