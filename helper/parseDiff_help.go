package helper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// contextWindow caps how many trailing annotated context lines are kept
// per side when the parsed diff is handed to the reviewer.
const contextWindow = 20

// ParseSingleFileDiff turns one file's unified diff text into a
// FileChangeSet. It never fails: an unparsable hunk header is logged,
// the line counters reset to 0 and parsing continues with later hunks.
func ParseSingleFileDiff(diffText, filePath string, oldPath *string) model.FileChangeSet {
	fc := model.FileChangeSet{
		Path:    filePath,
		OldPath: oldPath,
		Changes: []model.ChangeLine{},
	}

	oldLine := 0
	newLine := 0
	var hunkContext []string
	var contextOld, contextNew []string

	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ "):
			// file header lines carry no change information
		case strings.HasPrefix(line, "@@ "):
			m := hunkHeaderRegex.FindStringSubmatch(line)
			if m == nil {
				log.Warnf("Cannot parse hunk header in %s: %q", filePath, line)
				oldLine, newLine = 0, 0
				continue
			}
			oldLine, _ = strconv.Atoi(m[1])
			newLine, _ = strconv.Atoi(m[3])
			if len(hunkContext) > 0 {
				contextOld = append(contextOld, hunkContext...)
				contextNew = append(contextNew, hunkContext...)
				hunkContext = nil
			}
		case strings.HasPrefix(line, "+"):
			n := newLine
			fc.Changes = append(fc.Changes, model.ChangeLine{
				Type:    model.ChangeAdd,
				NewLine: &n,
				Content: line[1:],
			})
			newLine++
		case strings.HasPrefix(line, "-"):
			o := oldLine
			fc.Changes = append(fc.Changes, model.ChangeLine{
				Type:    model.ChangeDelete,
				OldLine: &o,
				Content: line[1:],
			})
			oldLine++
		case strings.HasPrefix(line, " "):
			hunkContext = append(hunkContext, fmt.Sprintf("%d -> %d: %s", oldLine, newLine, line[1:]))
			oldLine++
			newLine++
		}
	}

	if len(hunkContext) > 0 {
		contextOld = append(contextOld, hunkContext...)
		contextNew = append(contextNew, hunkContext...)
	}

	fc.Context.Old = joinTail(contextOld, contextWindow)
	fc.Context.New = joinTail(contextNew, contextWindow)
	fc.LinesChanged = len(fc.Changes)
	return fc
}

func joinTail(lines []string, limit int) string {
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return strings.Join(lines, "\n")
}
