package gitlab_impl

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/qingyh6/ai/helper/vcs"
	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

// HttpClient reviews one GitLab merge request.
type HttpClient struct {
	instanceURL string
	projectID   string
	mrIID       int
	token       string
	http        *http.Client

	// position SHAs for line-targeted discussions, filled by
	// FetchChanges from the MR versions endpoint.
	baseSHA  string
	startSHA string
	headSHA  string
}

// New returns a production client for the given MR. headSHA from the
// webhook payload seeds the discussion position until the versions
// endpoint supplies the full triple.
func New(instanceURL, projectID string, mrIID int, token, headSHA string, httpClient *http.Client) vcs.Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &HttpClient{
		instanceURL: strings.TrimRight(instanceURL, "/"),
		projectID:   projectID,
		mrIID:       mrIID,
		token:       token,
		headSHA:     headSHA,
		http:        httpClient,
	}
}

func (hc *HttpClient) FetchChanges(ctx context.Context) ([]model.RawFileDiff, error) {
	versionsURL := fmt.Sprintf("%s/api/v4/projects/%s/merge_requests/%d/versions", hc.instanceURL, hc.projectID, hc.mrIID)
	log.Debugf("Fetching MR versions from URL: %s", versionsURL)

	rawBody, err := hc.do(ctx, http.MethodGet, versionsURL, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var versions []struct {
		BaseCommitSHA  string `json:"base_commit_sha"`
		StartCommitSHA string `json:"start_commit_sha"`
		HeadCommitSHA  string `json:"head_commit_sha"`
	}
	if err := json.Unmarshal(rawBody, &versions); err != nil {
		return nil, fmt.Errorf("decoding MR versions response: %w", err)
	}
	if len(versions) > 0 {
		hc.baseSHA = versions[0].BaseCommitSHA
		hc.startSHA = versions[0].StartCommitSHA
		if versions[0].HeadCommitSHA != "" {
			hc.headSHA = versions[0].HeadCommitSHA
		}
	}
	if hc.baseSHA == "" || hc.startSHA == "" || hc.headSHA == "" {
		log.Warn("Missing commit SHAs for precise comment positioning on this MR")
	}

	changesURL := fmt.Sprintf("%s/api/v4/projects/%s/merge_requests/%d/changes", hc.instanceURL, hc.projectID, hc.mrIID)
	rawBody, err = hc.do(ctx, http.MethodGet, changesURL, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Changes []struct {
			Diff        string `json:"diff"`
			NewPath     string `json:"new_path"`
			OldPath     string `json:"old_path"`
			RenamedFile bool   `json:"renamed_file"`
		} `json:"changes"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding MR changes response: %w", err)
	}
	log.Infof("Received %d change entries for MR !%d", len(parsed.Changes), hc.mrIID)

	diffs := make([]model.RawFileDiff, 0, len(parsed.Changes))
	for _, ch := range parsed.Changes {
		var oldPath *string
		if ch.RenamedFile && ch.OldPath != "" && ch.OldPath != ch.NewPath {
			p := ch.OldPath
			oldPath = &p
		}
		diffs = append(diffs, model.RawFileDiff{Path: ch.NewPath, OldPath: oldPath, DiffText: ch.Diff})
	}
	return diffs, nil
}

// maxContentBytes caps how much pre-change file content is fetched
// per file for coarse-grained review.
const maxContentBytes = 1024 * 1024

func (hc *HttpClient) FetchGeneralData(ctx context.Context) ([]model.GeneralFileData, error) {
	versionsURL := fmt.Sprintf("%s/api/v4/projects/%s/merge_requests/%d/versions", hc.instanceURL, hc.projectID, hc.mrIID)
	rawBody, err := hc.do(ctx, http.MethodGet, versionsURL, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var versions []struct {
		ID             int    `json:"id"`
		BaseCommitSHA  string `json:"base_commit_sha"`
		StartCommitSHA string `json:"start_commit_sha"`
		HeadCommitSHA  string `json:"head_commit_sha"`
	}
	if err := json.Unmarshal(rawBody, &versions); err != nil {
		return nil, fmt.Errorf("decoding MR versions response: %w", err)
	}
	if len(versions) == 0 {
		log.Warnf("No versions found for MR !%d, nothing to review", hc.mrIID)
		return []model.GeneralFileData{}, nil
	}
	hc.baseSHA = versions[0].BaseCommitSHA
	hc.startSHA = versions[0].StartCommitSHA
	if versions[0].HeadCommitSHA != "" {
		hc.headSHA = versions[0].HeadCommitSHA
	}

	detailURL := fmt.Sprintf("%s/api/v4/projects/%s/merge_requests/%d/versions/%d", hc.instanceURL, hc.projectID, hc.mrIID, versions[0].ID)
	rawBody, err = hc.do(ctx, http.MethodGet, detailURL, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var detail struct {
		Diffs []struct {
			Diff        string `json:"diff"`
			NewPath     string `json:"new_path"`
			OldPath     string `json:"old_path"`
			NewFile     bool   `json:"new_file"`
			DeletedFile bool   `json:"deleted_file"`
			RenamedFile bool   `json:"renamed_file"`
		} `json:"diffs"`
	}
	if err := json.Unmarshal(rawBody, &detail); err != nil {
		return nil, fmt.Errorf("decoding MR version detail response: %w", err)
	}
	log.Infof("Received %d diff entries for coarse review of MR !%d", len(detail.Diffs), hc.mrIID)

	data := make([]model.GeneralFileData, 0, len(detail.Diffs))
	for _, d := range detail.Diffs {
		status := "modified"
		switch {
		case d.NewFile:
			status = "added"
		case d.DeletedFile:
			status = "deleted"
		case d.RenamedFile:
			status = "renamed"
		}
		entry := model.GeneralFileData{
			FilePath: d.NewPath,
			Status:   status,
			DiffText: d.Diff,
		}
		if !d.NewFile && hc.baseSHA != "" {
			oldPath := d.OldPath
			if oldPath == "" {
				oldPath = d.NewPath
			}
			entry.OldContent = hc.fetchFileContent(ctx, oldPath)
		}
		data = append(data, entry)
	}
	return data, nil
}

// fetchFileContent reads one file's base64 content from the repository
// files API at the MR's base commit. Failures and oversized or binary
// files degrade to nil, the review proceeds on the diff alone.
func (hc *HttpClient) fetchFileContent(ctx context.Context, path string) *string {
	// the files API wants the path fully escaped, slashes included
	encoded := strings.ReplaceAll(url.QueryEscape(path), "+", "%20")
	contentURL := fmt.Sprintf("%s/api/v4/projects/%s/repository/files/%s?ref=%s", hc.instanceURL, hc.projectID, encoded, hc.baseSHA)
	rawBody, err := hc.do(ctx, http.MethodGet, contentURL, nil, http.StatusOK)
	if err != nil {
		log.Warnf("Cannot fetch pre-change content of %s: %v", path, err)
		return nil
	}
	var parsed struct {
		Size     int    `json:"size"`
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		log.Warnf("Cannot decode files response for %s: %v", path, err)
		return nil
	}
	if parsed.Size > maxContentBytes {
		log.Warnf("Skipping pre-change content of %s: %d bytes exceeds the %d byte limit", path, parsed.Size, maxContentBytes)
		return nil
	}
	if parsed.Encoding != "base64" || parsed.Content == "" {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(parsed.Content, "\n", ""))
	if err != nil {
		log.Warnf("Cannot decode base64 content of %s: %v", path, err)
		return nil
	}
	content := string(decoded)
	return &content
}

func (hc *HttpClient) PostInlineComment(ctx context.Context, item model.ReviewItem) error {
	body := vcs.FormatItemComment(item)
	if item.Lines.New == nil && item.Lines.Old == nil {
		return hc.PostGeneralComment(ctx, body)
	}
	if hc.baseSHA == "" || hc.startSHA == "" || hc.headSHA == "" {
		log.Warnf("No position SHAs available, posting %s finding as a general comment", item.File)
		return hc.PostGeneralComment(ctx, vcs.FallbackPrefix(item)+body)
	}

	oldPath := item.File
	if item.OldPath != nil {
		oldPath = *item.OldPath
	}
	position := map[string]interface{}{
		"position_type": "text",
		"base_sha":      hc.baseSHA,
		"start_sha":     hc.startSHA,
		"head_sha":      hc.headSHA,
		"new_path":      item.File,
		"old_path":      oldPath,
	}
	if item.Lines.New != nil {
		position["new_line"] = *item.Lines.New
	} else {
		position["old_line"] = *item.Lines.Old
	}

	discussionsURL := fmt.Sprintf("%s/api/v4/projects/%s/merge_requests/%d/discussions", hc.instanceURL, hc.projectID, hc.mrIID)
	payload := map[string]interface{}{"body": body, "position": position}
	if _, err := hc.doJSON(ctx, discussionsURL, payload, http.StatusCreated); err != nil {
		log.Errorf("Failed to post positioned comment on %s: %v. Falling back to a general comment.", item.File, err)
		return hc.PostGeneralComment(ctx, vcs.FallbackPrefix(item)+body)
	}
	log.Debugf("Posted positioned comment on %s", item.File)
	return nil
}

func (hc *HttpClient) PostGeneralComment(ctx context.Context, text string) error {
	notesURL := fmt.Sprintf("%s/api/v4/projects/%s/merge_requests/%d/notes", hc.instanceURL, hc.projectID, hc.mrIID)
	_, err := hc.doJSON(ctx, notesURL, map[string]string{"body": text}, http.StatusCreated)
	if err != nil {
		log.Errorf("Failed to post general MR note: %v", err)
	}
	return err
}

func (hc *HttpClient) doJSON(ctx context.Context, url string, payload interface{}, wantStatus int) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return hc.do(ctx, http.MethodPost, url, body, wantStatus)
}

func (hc *HttpClient) do(ctx context.Context, method, url string, body []byte, wantStatus int) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("PRIVATE-TOKEN", hc.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != wantStatus {
		return nil, fmt.Errorf("expected status %d but got %d: %s", wantStatus, resp.StatusCode, truncate(string(rawBody), 500))
	}
	return rawBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
