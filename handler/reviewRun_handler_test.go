package handler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/qingyh6/ai/helper"
	"github.com/qingyh6/ai/helper/llm"
	"github.com/qingyh6/ai/model"
	"github.com/qingyh6/ai/store"
)

type fakeVCS struct {
	diffs      []model.RawFileDiff
	files      []model.GeneralFileData
	fetchErr   error
	generalErr error

	inline  []model.ReviewItem
	general []string
}

func (f *fakeVCS) FetchChanges(ctx context.Context) ([]model.RawFileDiff, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.diffs, nil
}

func (f *fakeVCS) FetchGeneralData(ctx context.Context) ([]model.GeneralFileData, error) {
	if f.generalErr != nil {
		return nil, f.generalErr
	}
	return f.files, nil
}

func (f *fakeVCS) PostInlineComment(ctx context.Context, item model.ReviewItem) error {
	f.inline = append(f.inline, item)
	return nil
}

func (f *fakeVCS) PostGeneralComment(ctx context.Context, text string) error {
	f.general = append(f.general, text)
	return nil
}

type stubProvider struct {
	// canned completions per file path, for line-targeted and
	// coarse-grained reviews respectively
	outputs map[string]string
	chat    map[string]string
}

func (p *stubProvider) ReviewFile(ctx context.Context, fc *model.FileChangeSet) (string, error) {
	out, ok := p.outputs[fc.Path]
	if !ok {
		return "[]", nil
	}
	return out, nil
}

func (p *stubProvider) ChatComplete(ctx context.Context, system, user string) (string, error) {
	for path, out := range p.chat {
		if strings.Contains(user, `"file_path": "`+path+`"`) {
			return out, nil
		}
	}
	return "", nil
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "stub-model" }

type stubSource struct {
	provider llm.ReviewProvider
	err      error
}

func (s *stubSource) Provider() (llm.ReviewProvider, error) {
	return s.provider, s.err
}

func newTestOrchestrator(t *testing.T, source llm.Source) (*ReviewOrchestrator, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	st := store.NewWithClient(rdb)
	return &ReviewOrchestrator{
		Store:     st,
		Providers: source,
		Notifier:  helper.NewNotifier(model.NotifyConfig{}, nil),
	}, st
}

const sampleDiff = "@@ -1,2 +1,3 @@\n-old line\n context\n+new line one\n+new line two"

func testTask(client *fakeVCS) ReviewTask {
	return ReviewTask{
		Key:       model.ReviewThreadKey{VCSType: model.VCSGithub, Identifier: "octo/repo", ThreadID: "7"},
		CommitSha: "abc123",
		Title:     "Add feature",
		VCS:       client,
	}
}

func TestRunPostsFindingsInFileOrder(t *testing.T) {
	source := &stubSource{provider: &stubProvider{outputs: map[string]string{
		"a.go": `[{"file":"a.go","lines":{"old":null,"new":2},"category":"Logic","severity":"high","analysis":"first","suggestion":""}]`,
		"b.go": `[{"file":"b.go","lines":{"old":null,"new":3},"category":"Style","severity":"low","analysis":"second","suggestion":"rename"}]`,
	}}}
	ro, st := newTestOrchestrator(t, source)
	client := &fakeVCS{diffs: []model.RawFileDiff{
		{Path: "a.go", DiffText: sampleDiff},
		{Path: "b.go", DiffText: sampleDiff},
	}}
	task := testTask(client)
	ctx := context.Background()

	ro.Run(ctx, task)

	if len(client.inline) != 2 {
		t.Fatalf("expected 2 inline comments, got %d", len(client.inline))
	}
	if client.inline[0].File != "a.go" || client.inline[1].File != "b.go" {
		t.Errorf("comments out of file order: %s then %s", client.inline[0].File, client.inline[1].File)
	}

	items, err := st.GetResults(ctx, task.Key, task.CommitSha)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(items) != 2 || items[0].Analysis != "first" || items[1].Analysis != "second" {
		t.Errorf("persisted results wrong: %+v", items)
	}

	if !st.IsProcessed(ctx, task.Key, task.CommitSha) {
		t.Error("commit should be claimed after a completed run")
	}
	if len(client.general) != 1 || !strings.Contains(client.general[0], "stub-model") {
		t.Errorf("expected only the completion comment, got %v", client.general)
	}
}

func TestRunReleasesClaimOnFetchFailure(t *testing.T) {
	source := &stubSource{provider: &stubProvider{}}
	ro, st := newTestOrchestrator(t, source)
	client := &fakeVCS{fetchErr: errors.New("api down")}
	task := testTask(client)
	ctx := context.Background()

	ro.Run(ctx, task)

	if st.IsProcessed(ctx, task.Key, task.CommitSha) {
		t.Error("failed fetch must release the claim so a retry can review")
	}
	if _, err := st.GetResults(ctx, task.Key, task.CommitSha); !errors.Is(err, store.ErrNotFound) {
		t.Error("nothing should be persisted after a failed fetch")
	}
	if len(client.general) != 0 || len(client.inline) != 0 {
		t.Error("no comments should be posted after a failed fetch")
	}
}

func TestRunReleasesClaimWhenProviderUnavailable(t *testing.T) {
	source := &stubSource{err: llm.ErrUnavailable}
	ro, st := newTestOrchestrator(t, source)
	client := &fakeVCS{diffs: []model.RawFileDiff{{Path: "a.go", DiffText: sampleDiff}}}
	task := testTask(client)
	ctx := context.Background()

	ro.Run(ctx, task)

	if st.IsProcessed(ctx, task.Key, task.CommitSha) {
		t.Error("missing provider must release the claim")
	}
}

func TestRunPostsNoIssuesComment(t *testing.T) {
	source := &stubSource{provider: &stubProvider{outputs: map[string]string{"a.go": "[]"}}}
	ro, st := newTestOrchestrator(t, source)
	client := &fakeVCS{diffs: []model.RawFileDiff{{Path: "a.go", DiffText: sampleDiff}}}
	task := testTask(client)
	ctx := context.Background()

	ro.Run(ctx, task)

	if len(client.inline) != 0 {
		t.Errorf("expected no inline comments, got %d", len(client.inline))
	}
	if len(client.general) != 2 {
		t.Fatalf("expected a no-issues comment plus the completion comment, got %v", client.general)
	}
	items, err := st.GetResults(ctx, task.Key, task.CommitSha)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected an empty persisted result, got %+v", items)
	}
}

func TestRunSkipsFileWithUnparseableOutput(t *testing.T) {
	source := &stubSource{provider: &stubProvider{outputs: map[string]string{
		"a.go": "this is not json at all",
		"b.go": `[{"file":"b.go","lines":{"old":1,"new":null},"category":"Logic","severity":"medium","analysis":"kept","suggestion":""}]`,
	}}}
	ro, st := newTestOrchestrator(t, source)
	client := &fakeVCS{diffs: []model.RawFileDiff{
		{Path: "a.go", DiffText: sampleDiff},
		{Path: "b.go", DiffText: sampleDiff},
	}}
	task := testTask(client)
	ctx := context.Background()

	ro.Run(ctx, task)

	if len(client.inline) != 1 || client.inline[0].File != "b.go" {
		t.Fatalf("expected only the parseable file's finding, got %+v", client.inline)
	}
	items, err := st.GetResults(ctx, task.Key, task.CommitSha)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(items) != 1 || items[0].Analysis != "kept" {
		t.Errorf("persisted results wrong: %+v", items)
	}
}

func TestRunSkipsDuplicateDelivery(t *testing.T) {
	source := &stubSource{provider: &stubProvider{outputs: map[string]string{
		"a.go": `[{"file":"a.go","lines":{"old":null,"new":2},"category":"Logic","severity":"high","analysis":"x","suggestion":""}]`,
	}}}
	ro, _ := newTestOrchestrator(t, source)
	client := &fakeVCS{diffs: []model.RawFileDiff{{Path: "a.go", DiffText: sampleDiff}}}
	task := testTask(client)
	ctx := context.Background()

	ro.Run(ctx, task)
	firstInline := len(client.inline)
	ro.Run(ctx, task)

	if len(client.inline) != firstInline {
		t.Error("duplicate delivery must not post comments again")
	}
}

func generalTestTask(client *fakeVCS) ReviewTask {
	return ReviewTask{
		Key:       model.ReviewThreadKey{VCSType: model.VCSGithubGeneral, Identifier: "octo/repo", ThreadID: "7"},
		CommitSha: "abc123",
		Title:     "Add feature",
		VCS:       client,
	}
}

func TestRunGeneralPostsCommentsForFlaggedFiles(t *testing.T) {
	source := &stubSource{provider: &stubProvider{chat: map[string]string{
		"a.go": "- possible nil dereference in handler",
		"b.go": helper.NoIssuesMarker + ".",
	}}}
	ro, st := newTestOrchestrator(t, source)
	client := &fakeVCS{files: []model.GeneralFileData{
		{FilePath: "a.go", Status: "modified", DiffText: sampleDiff},
		{FilePath: "b.go", Status: "added", DiffText: sampleDiff},
	}}
	task := generalTestTask(client)
	ctx := context.Background()

	ro.RunGeneral(ctx, task)

	// one per-file comment for the flagged file plus the completion comment
	if len(client.general) != 2 {
		t.Fatalf("expected 2 general comments, got %v", client.general)
	}
	if !strings.Contains(client.general[0], "a.go") || !strings.Contains(client.general[0], "nil dereference") {
		t.Errorf("flagged file comment wrong: %q", client.general[0])
	}

	items, err := st.GetResults(ctx, task.Key, task.CommitSha)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 stored item, got %+v", items)
	}
	if items[0].File != "a.go" || items[0].Category != "General Review" || items[0].Severity != model.SeverityInfo {
		t.Errorf("stored item wrong: %+v", items[0])
	}
	if !st.IsProcessed(ctx, task.Key, task.CommitSha) {
		t.Error("commit should stay claimed after a completed run")
	}
}

func TestRunGeneralPostsNoIssuesComment(t *testing.T) {
	source := &stubSource{provider: &stubProvider{chat: map[string]string{
		"a.go": helper.NoIssuesMarker + ".",
		"b.go": helper.NoIssuesMarker + ".",
	}}}
	ro, st := newTestOrchestrator(t, source)
	client := &fakeVCS{files: []model.GeneralFileData{
		{FilePath: "a.go", Status: "modified", DiffText: sampleDiff},
		{FilePath: "b.go", Status: "modified", DiffText: sampleDiff},
	}}
	task := generalTestTask(client)
	ctx := context.Background()

	ro.RunGeneral(ctx, task)

	if len(client.general) != 2 {
		t.Fatalf("expected a no-issues comment plus the completion comment, got %v", client.general)
	}
	if !strings.Contains(client.general[0], "no major issues") {
		t.Errorf("no-issues comment wrong: %q", client.general[0])
	}
	items, err := st.GetResults(ctx, task.Key, task.CommitSha)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected an empty persisted result, got %+v", items)
	}
}

func TestRunGeneralReleasesClaimOnFetchFailure(t *testing.T) {
	source := &stubSource{provider: &stubProvider{}}
	ro, st := newTestOrchestrator(t, source)
	client := &fakeVCS{generalErr: errors.New("api down")}
	task := generalTestTask(client)
	ctx := context.Background()

	ro.RunGeneral(ctx, task)

	if st.IsProcessed(ctx, task.Key, task.CommitSha) {
		t.Error("failed fetch must release the claim so a retry can review")
	}
	if len(client.general) != 0 {
		t.Errorf("no comments expected after a failed fetch, got %v", client.general)
	}
}

func TestRunGeneralSavesEmptyResultWithoutFiles(t *testing.T) {
	source := &stubSource{provider: &stubProvider{}}
	ro, st := newTestOrchestrator(t, source)
	client := &fakeVCS{}
	task := generalTestTask(client)
	ctx := context.Background()

	ro.RunGeneral(ctx, task)

	items, err := st.GetResults(ctx, task.Key, task.CommitSha)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected an empty persisted result, got %+v", items)
	}
	if len(client.general) != 0 {
		t.Errorf("no comments expected without reviewable files, got %v", client.general)
	}
}

func TestRunSavesEmptyResultWhenNothingChanged(t *testing.T) {
	source := &stubSource{provider: &stubProvider{}}
	ro, st := newTestOrchestrator(t, source)
	// context-only diff parses to zero changes
	client := &fakeVCS{diffs: []model.RawFileDiff{{Path: "a.go", DiffText: "@@ -1,1 +1,1 @@\n unchanged"}}}
	task := testTask(client)
	ctx := context.Background()

	ro.Run(ctx, task)

	items, err := st.GetResults(ctx, task.Key, task.CommitSha)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected an empty persisted result, got %+v", items)
	}
	if len(client.general) != 0 {
		t.Errorf("no comments expected when nothing changed, got %v", client.general)
	}
}
