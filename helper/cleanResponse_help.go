package helper

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

// The slash in the closing tag is optional on purpose: some models
// emit a malformed closing tag and the block must still be dropped.
var thinkBlockRegex = regexp.MustCompile(`(?s)<think>.*?</?think>`)

// Opening fence with an optional language tag, captured content, then a
// closing fence. Shortest match so trailing text stays untouched.
var fencedBlockRegex = regexp.MustCompile("(?s)```(?:\\w*\\s*)?([\\s\\S]*?)\\s*```")

// CleanModelOutput normalizes a raw model completion: think-blocks are
// stripped first, then a single fenced block (if any) is unwrapped.
// The order matters so a fence inside a think-block is ignored.
func CleanModelOutput(raw string) string {
	cleaned := thinkBlockRegex.ReplaceAllString(raw, "")
	if m := fencedBlockRegex.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}
	return strings.TrimSpace(cleaned)
}

var requiredItemFields = []string{"file", "lines", "category", "severity", "analysis", "suggestion"}

// ParseReviewItems extracts review items from cleaned model output.
// Accepted shapes: a bare JSON list, a single object (treated as a
// one-element list), or an object whose first list-typed value, in
// sorted key order, holds the items. Items missing a required field
// are dropped, and the file path is corrected to filePath when the
// model got it wrong.
func ParseReviewItems(cleaned, filePath string) ([]model.ReviewItem, error) {
	var rawItems []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &rawItems); err != nil {
		var obj map[string]json.RawMessage
		if err2 := json.Unmarshal([]byte(cleaned), &obj); err2 != nil {
			return nil, fmt.Errorf("model output is neither a JSON list nor an object: %w", err)
		}
		keys := make([]string, 0, len(obj))
		for key := range obj {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		found := false
		for _, key := range keys {
			// only an actual list counts, a null value would also
			// unmarshal without error
			if !strings.HasPrefix(strings.TrimSpace(string(obj[key])), "[") {
				continue
			}
			var nested []json.RawMessage
			if json.Unmarshal(obj[key], &nested) == nil {
				log.Infof("Found review list under key %q in model output for %s", key, filePath)
				rawItems = nested
				found = true
				break
			}
		}
		if !found {
			// maybe the object is itself a single review item
			raw, _ := json.Marshal(obj)
			rawItems = []json.RawMessage{raw}
		}
	}

	items := make([]model.ReviewItem, 0, len(rawItems))
	for _, raw := range rawItems {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			log.Warnf("Skipping non-object review entry for %s: %v", filePath, err)
			continue
		}
		if !hasAllFields(fields, requiredItemFields) {
			log.Warnf("Skipping review entry with missing fields for %s: %s", filePath, string(raw))
			continue
		}
		var item model.ReviewItem
		if err := json.Unmarshal(raw, &item); err != nil {
			log.Warnf("Skipping malformed review entry for %s: %v", filePath, err)
			continue
		}
		if item.File != filePath {
			log.Warnf("Correcting review file path from %q to %q", item.File, filePath)
			item.File = filePath
		}
		items = append(items, item)
	}
	return items, nil
}

func hasAllFields(fields map[string]json.RawMessage, names []string) bool {
	for _, name := range names {
		if _, ok := fields[name]; !ok {
			return false
		}
	}
	return true
}
