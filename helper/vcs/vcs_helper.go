package vcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/qingyh6/ai/model"
)

// Client exposes the VCS operations one review run needs. A client is
// constructed per webhook event with that repo/project's credentials.
type Client interface {
	// FetchChanges lists the thread's changed files with their raw
	// unified diffs, in the order the VCS API returned them. A nil
	// error with an empty slice means "nothing changed"; an error
	// means the fetch failed and the run must abort.
	FetchChanges(ctx context.Context) ([]model.RawFileDiff, error)
	// FetchGeneralData lists the changed files with raw diffs and each
	// file's pre-change content, as input for coarse-grained review.
	FetchGeneralData(ctx context.Context) ([]model.GeneralFileData, error)
	// PostInlineComment places one finding on its file/line, falling
	// back to a general comment when the item is file-scoped or the
	// line-targeted request is rejected.
	PostInlineComment(ctx context.Context, item model.ReviewItem) error
	// PostGeneralComment posts a thread-level comment.
	PostGeneralComment(ctx context.Context, text string) error
}

// FormatItemComment renders one finding as a markdown comment body.
func FormatItemComment(item model.ReviewItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**[%s] [%s]**\n\n", strings.ToUpper(item.Severity), item.Category)
	b.WriteString(item.Analysis)
	if item.Suggestion != "" {
		fmt.Fprintf(&b, "\n\nSuggestion:\n```\n%s\n```", item.Suggestion)
	}
	return b.String()
}

// FallbackPrefix marks a general comment that could not be placed on
// its intended line.
func FallbackPrefix(item model.ReviewItem) string {
	target := item.File
	if item.Lines.New != nil {
		target = fmt.Sprintf("%s:%d", item.File, *item.Lines.New)
	} else if item.Lines.Old != nil {
		target = fmt.Sprintf("%s:%d (old)", item.File, *item.Lines.Old)
	}
	return fmt.Sprintf("**(comment originally for %s)**\n\n", target)
}
