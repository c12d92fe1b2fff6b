package model

import "strings"

// Change types emitted by the diff parser.
const (
	ChangeAdd    = "add"
	ChangeDelete = "delete"
)

// VCS types a review thread can originate from.
const (
	VCSGithub        = "github"
	VCSGitlab        = "gitlab"
	VCSGithubGeneral = "github_general"
	VCSGitlabGeneral = "gitlab_general"
)

// Severities a review item may carry.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// ChangeLine is one added or deleted line from a unified diff.
// Exactly one of OldLine/NewLine is set, matching Type.
type ChangeLine struct {
	Type    string `json:"type"`
	OldLine *int   `json:"old_line"`
	NewLine *int   `json:"new_line"`
	Content string `json:"content"`
}

// DiffContext holds the trailing window of annotated context lines
// ("old -> new: text") surrounding the changes of a file.
type DiffContext struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// FileChangeSet is the structured form of one file's diff.
type FileChangeSet struct {
	Path         string       `json:"path"`
	OldPath      *string      `json:"old_path"`
	Changes      []ChangeLine `json:"changes"`
	Context      DiffContext  `json:"context"`
	LinesChanged int          `json:"lines_changed"`
}

// RawFileDiff is one file's raw patch text as listed by the VCS API.
// Files keep the API's listing order, which decides comment order.
type RawFileDiff struct {
	Path     string
	OldPath  *string
	DiffText string
}

// GeneralFileData is one file's input to a coarse-grained review: the
// raw diff plus the file's pre-change content when it exists. New
// content is not carried, the diff against the old content is enough.
type GeneralFileData struct {
	FilePath   string  `json:"file_path"`
	Status     string  `json:"status"`
	DiffText   string  `json:"diff_text"`
	OldContent *string `json:"old_content"`
}

// ReviewThreadKey identifies one PR/MR review lifecycle.
type ReviewThreadKey struct {
	VCSType    string
	Identifier string
	ThreadID   string
}

func (k ReviewThreadKey) String() string {
	return k.VCSType + ":" + k.Identifier + ":" + k.ThreadID
}

// IsGitlab reports whether the key denotes a GitLab-style source
// (covers both "gitlab" and "gitlab_general").
func (k ReviewThreadKey) IsGitlab() bool {
	return strings.HasPrefix(k.VCSType, "gitlab")
}

// LineRef points a review item at an old and/or new file line.
// Both nil means the item is file-scoped.
type LineRef struct {
	Old *int `json:"old"`
	New *int `json:"new"`
}

// ReviewItem is one finding produced by the model for a file.
type ReviewItem struct {
	File       string  `json:"file"`
	OldPath    *string `json:"old_path,omitempty"`
	Lines      LineRef `json:"lines"`
	Category   string  `json:"category"`
	Severity   string  `json:"severity"`
	Analysis   string  `json:"analysis"`
	Suggestion string  `json:"suggestion"`
}

// ReviewedThread is one persisted thread record, as listed for admins.
type ReviewedThread struct {
	Key         string `json:"key"`
	VCSType     string `json:"vcs_type"`
	Identifier  string `json:"identifier"`
	ThreadID    string `json:"thread_id"`
	DisplayName string `json:"display_name"`
}
