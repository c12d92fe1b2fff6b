package github_impl

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qingyh6/ai/helper/vcs"
	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

// HttpClient reviews one GitHub pull request.
type HttpClient struct {
	apiURL     string
	owner      string
	repo       string
	pullNumber int
	token      string
	headSHA    string
	http       *http.Client
}

// New returns a production client for the given PR.
// You can swap httpClient for a mock in tests.
func New(apiURL, owner, repo string, pullNumber int, token, headSHA string, httpClient *http.Client) vcs.Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &HttpClient{
		apiURL:     strings.TrimRight(apiURL, "/"),
		owner:      owner,
		repo:       repo,
		pullNumber: pullNumber,
		token:      token,
		headSHA:    headSHA,
		http:       httpClient,
	}
}

type prFile struct {
	Filename         string `json:"filename"`
	PreviousFilename string `json:"previous_filename"`
	Status           string `json:"status"`
	Patch            string `json:"patch"`
}

func (hc *HttpClient) FetchChanges(ctx context.Context) ([]model.RawFileDiff, error) {
	filesURL := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/files?per_page=100", hc.apiURL, hc.owner, hc.repo, hc.pullNumber)
	log.Debugf("Fetching PR files from URL: %s", filesURL)

	rawBody, err := hc.do(ctx, http.MethodGet, filesURL, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var files []prFile
	if err := json.Unmarshal(rawBody, &files); err != nil {
		return nil, fmt.Errorf("decoding PR files response: %w", err)
	}
	log.Infof("Received %d file entries for PR #%d", len(files), hc.pullNumber)

	diffs := make([]model.RawFileDiff, 0, len(files))
	for _, f := range files {
		if f.Patch == "" {
			// binary files and some removals carry no patch text
			log.Warnf("Skipping file without patch text: %s (status: %s)", f.Filename, f.Status)
			continue
		}
		var oldPath *string
		if f.PreviousFilename != "" {
			p := f.PreviousFilename
			oldPath = &p
		}
		diffs = append(diffs, model.RawFileDiff{Path: f.Filename, OldPath: oldPath, DiffText: f.Patch})
	}
	return diffs, nil
}

// maxContentBytes caps how much pre-change file content is fetched
// per file for coarse-grained review.
const maxContentBytes = 1024 * 1024

func (hc *HttpClient) FetchGeneralData(ctx context.Context) ([]model.GeneralFileData, error) {
	prURL := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", hc.apiURL, hc.owner, hc.repo, hc.pullNumber)
	rawBody, err := hc.do(ctx, http.MethodGet, prURL, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var pr struct {
		Base struct {
			SHA string `json:"sha"`
		} `json:"base"`
	}
	if err := json.Unmarshal(rawBody, &pr); err != nil {
		return nil, fmt.Errorf("decoding PR response: %w", err)
	}

	filesURL := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/files?per_page=100", hc.apiURL, hc.owner, hc.repo, hc.pullNumber)
	rawBody, err = hc.do(ctx, http.MethodGet, filesURL, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var files []prFile
	if err := json.Unmarshal(rawBody, &files); err != nil {
		return nil, fmt.Errorf("decoding PR files response: %w", err)
	}
	log.Infof("Received %d file entries for coarse review of PR #%d", len(files), hc.pullNumber)

	data := make([]model.GeneralFileData, 0, len(files))
	for _, f := range files {
		entry := model.GeneralFileData{
			FilePath: f.Filename,
			Status:   f.Status,
			DiffText: f.Patch,
		}
		// pre-change content exists for everything but newly added files
		oldPath := f.Filename
		if f.Status == "renamed" && f.PreviousFilename != "" {
			oldPath = f.PreviousFilename
		}
		if (f.Status == "modified" || f.Status == "removed" || f.Status == "renamed") && pr.Base.SHA != "" {
			contentURL := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", hc.apiURL, hc.owner, hc.repo, oldPath, pr.Base.SHA)
			entry.OldContent = hc.fetchFileContent(ctx, contentURL, oldPath)
		}
		data = append(data, entry)
	}
	return data, nil
}

// fetchFileContent reads one file's base64 content from the contents
// API. Failures and oversized or binary files degrade to nil, the
// review proceeds on the diff alone.
func (hc *HttpClient) fetchFileContent(ctx context.Context, url, path string) *string {
	rawBody, err := hc.do(ctx, http.MethodGet, url, nil, http.StatusOK)
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
		log.Warnf("Cannot decode contents response for %s: %v", path, err)
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

	var payload map[string]interface{}
	switch {
	case item.Lines.New != nil:
		payload = map[string]interface{}{
			"body":      body,
			"commit_id": hc.headSHA,
			"path":      item.File,
			"side":      "RIGHT",
			"line":      *item.Lines.New,
		}
	case item.Lines.Old != nil:
		path := item.File
		if item.OldPath != nil {
			path = *item.OldPath
		}
		payload = map[string]interface{}{
			"body":      body,
			"commit_id": hc.headSHA,
			"path":      path,
			"side":      "LEFT",
			"line":      *item.Lines.Old,
		}
	default:
		// file-scoped finding, no line to anchor to
		return hc.PostGeneralComment(ctx, body)
	}

	commentURL := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/comments", hc.apiURL, hc.owner, hc.repo, hc.pullNumber)
	if _, err := hc.doJSON(ctx, commentURL, payload, http.StatusCreated); err != nil {
		log.Errorf("Failed to post inline comment on %s: %v. Falling back to a general comment.", item.File, err)
		return hc.PostGeneralComment(ctx, vcs.FallbackPrefix(item)+body)
	}
	log.Debugf("Posted inline comment on %s", item.File)
	return nil
}

func (hc *HttpClient) PostGeneralComment(ctx context.Context, text string) error {
	commentURL := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", hc.apiURL, hc.owner, hc.repo, hc.pullNumber)
	_, err := hc.doJSON(ctx, commentURL, map[string]string{"body": text}, http.StatusCreated)
	if err != nil {
		log.Errorf("Failed to post general PR comment: %v", err)
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
	req.Header.Set("Authorization", "token "+hc.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
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
