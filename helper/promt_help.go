package helper

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

// DetailedReviewSystemPrompt instructs the model to critique one file's
// structured changes and answer with a strict JSON array of findings.
const DetailedReviewSystemPrompt = `You are an expert code reviewer. You will receive a JSON object describing a single file's changes:
{
  "file_meta": {
    "path": "current file path",
    "old_path": "previous path when renamed, otherwise null",
    "lines_changed": "number of added plus deleted lines",
    "context": {"old": "annotated context from the old file", "new": "annotated context from the new file"}
  },
  "changes": [
    {"type": "add|delete", "old_line": <int or null>, "new_line": <int or null>, "content": "line text"}
  ]
}

Review the changes for correctness, security, performance, design and best practices. Only report findings of medium severity or above.

Respond with ONLY a JSON array, no prose, no markdown fences:
[
  {
    "file": "string, full path of the file",
    "lines": {"old": <int or null>, "new": <int or null>},
    "category": "string, one of [correctness, security, performance, design, best-practice]",
    "severity": "string, one of [critical, high, medium, low, info]",
    "analysis": "short analysis of the problem",
    "suggestion": "corrected code or a concrete textual suggestion"
  }
]

Line number rules:
- A finding on an added line: "old" null, "new" set to that change's new_line.
- A finding on a deleted line: "new" null, "old" set to that change's old_line.
- A file-scoped finding may use {"old": null, "new": null}.
- Every line number you emit must match a change entry from the input.

If there is nothing to report, return an empty JSON array: [].`

// CreateFileReviewPrompt serializes one FileChangeSet into the user
// prompt sent alongside DetailedReviewSystemPrompt.
func CreateFileReviewPrompt(fc *model.FileChangeSet) (string, error) {
	log.Debugf("Building review prompt for %s (%d changed lines)", fc.Path, fc.LinesChanged)
	input := map[string]interface{}{
		"file_meta": map[string]interface{}{
			"path":          fc.Path,
			"old_path":      fc.OldPath,
			"lines_changed": fc.LinesChanged,
			"context":       fc.Context,
		},
		"changes": fc.Changes,
	}
	b, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing changes for %s: %w", fc.Path, err)
	}
	return "\n\n```json\n" + string(b) + "\n```\n", nil
}

// NoIssuesMarker is the exact phrase the coarse-grained prompt asks
// the model to answer with when a file is clean; runs filter per-file
// output against it.
const NoIssuesMarker = "No significant issues found"

// GeneralReviewSystemPrompt instructs the model to critique one file's
// raw diff (plus pre-change content) and answer in plain markdown.
const GeneralReviewSystemPrompt = `You are an expert code reviewer performing a coarse-grained review of one changed file. You will receive a JSON object:
{
  "file_path": "path of the file",
  "status": "added|modified|deleted|renamed",
  "diff_text": "the file's unified diff",
  "old_content": "the file's content before the change, or null"
}

Review the change for correctness, security, performance and design. Respond in concise markdown: a short bullet list of the problems you see, each with a concrete suggestion. Only raise issues of medium severity or above.

If the change has no such issues, respond with exactly: ` + NoIssuesMarker + `.`

// CreateGeneralReviewPrompt serializes one file's coarse-review input
// into the user prompt sent alongside GeneralReviewSystemPrompt.
func CreateGeneralReviewPrompt(fd *model.GeneralFileData) (string, error) {
	b, err := json.MarshalIndent(fd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing coarse review input for %s: %w", fd.FilePath, err)
	}
	return string(b), nil
}

// GeneralFileComment wraps one file's coarse-review text for posting
// as a thread-level comment.
func GeneralFileComment(filePath, review string) string {
	return fmt.Sprintf("**AI review (file: `%s`)**\n\n%s", filePath, review)
}

// GeneralNoIssuesComment is posted when a coarse-grained run found no
// issues in any checked file.
func GeneralNoIssuesComment(filesChecked int) string {
	return fmt.Sprintf("AI General Code Review finished: no major issues found in any of the %d checked files.", filesChecked)
}

// NoIssuesComment is posted as a single general comment when a run
// produced zero findings.
func NoIssuesComment(vcsType string) string {
	entity := "PR"
	if strings.HasPrefix(vcsType, "gitlab") {
		entity = "MR"
	}
	return fmt.Sprintf("AI Code Review finished for this %s: all checks passed, no suggestions.", entity)
}

// FinalSummaryComment closes out a run, naming the model that reviewed.
func FinalSummaryComment(modelName string) string {
	return fmt.Sprintf("AI code review completed (model: %s). Suggestions are advisory; adjust to your actual context.", modelName)
}
