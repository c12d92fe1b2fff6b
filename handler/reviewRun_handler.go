package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qingyh6/ai/helper"
	"github.com/qingyh6/ai/helper/llm"
	"github.com/qingyh6/ai/helper/vcs"
	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
	"github.com/qingyh6/ai/store"
)

// ReviewTask carries everything one review run needs, assembled by the
// webhook handler from the event payload and the stored credentials.
type ReviewTask struct {
	Key          model.ReviewThreadKey
	CommitSha    string
	ProjectName  string
	Title        string
	URL          string
	RepoWebURL   string
	SourceBranch string
	TargetBranch string
	VCS          vcs.Client
}

// ReviewOrchestrator composes the pipeline: claim the commit, fetch
// and parse the diffs, review each file, post the findings, persist
// the results and notify.
type ReviewOrchestrator struct {
	Store     *store.Store
	Providers llm.Source
	Notifier  *helper.Notifier
	Pool      *WorkerPool
}

// Enqueue hands the task to the worker pool so the webhook response
// returns immediately.
func (ro *ReviewOrchestrator) Enqueue(task ReviewTask) string {
	name := fmt.Sprintf("review %s@%s", task.Key, task.CommitSha)
	return ro.Pool.Submit(name, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		ro.Run(ctx, task)
	})
}

// EnqueueGeneral hands a coarse-grained review task to the worker pool.
func (ro *ReviewOrchestrator) EnqueueGeneral(task ReviewTask) string {
	name := fmt.Sprintf("general review %s@%s", task.Key, task.CommitSha)
	return ro.Pool.Submit(name, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		ro.RunGeneral(ctx, task)
	})
}

// RunGeneral executes one coarse-grained review: each changed file's
// raw diff plus pre-change content goes through a plain-text critique,
// findings are posted as thread-level comments and stored as
// file-scoped items under the task's general vcsType. Claim handling
// matches Run.
func (ro *ReviewOrchestrator) RunGeneral(ctx context.Context, task ReviewTask) {
	if !ro.Store.TryClaim(ctx, task.Key, task.CommitSha) {
		log.Infof("Commit %s already reviewed for %s, skipping", task.CommitSha, task.Key)
		return
	}
	startTime := time.Now()
	log.Infof("Start general review of %s@%s (%s)", task.Key, task.CommitSha, task.Title)

	provider, err := ro.Providers.Provider()
	if err != nil {
		log.Errorf("No usable AI provider for %s: %v", task.Key, err)
		ro.Store.Release(ctx, task.Key, task.CommitSha)
		return
	}

	files, err := task.VCS.FetchGeneralData(ctx)
	if err != nil {
		log.Errorf("Failed to fetch general review data for %s: %v", task.Key, err)
		ro.Store.Release(ctx, task.Key, task.CommitSha)
		return
	}
	if len(files) == 0 {
		log.Infof("No reviewable files in %s@%s", task.Key, task.CommitSha)
		if err := ro.Store.SaveResults(ctx, task.Key, task.CommitSha, nil, task.ProjectName); err != nil {
			log.Errorf("Failed to save empty review results for %s: %v", task.Key, err)
		}
		return
	}
	log.Infof("General review of %d files in %s@%s with %s", len(files), task.Key, task.CommitSha, provider.Name())

	var items []model.ReviewItem
	for i := range files {
		fd := &files[i]
		prompt, err := helper.CreateGeneralReviewPrompt(fd)
		if err != nil {
			log.Errorf("Cannot build general review prompt for %s: %v", fd.FilePath, err)
			continue
		}
		review, err := provider.ChatComplete(ctx, helper.GeneralReviewSystemPrompt, prompt)
		if err != nil {
			log.Errorf("General review of %s failed: %v", fd.FilePath, err)
			continue
		}
		review = strings.TrimSpace(review)
		if review == "" || strings.Contains(review, helper.NoIssuesMarker) {
			log.Debugf("No issues reported for %s", fd.FilePath)
			continue
		}

		if err := task.VCS.PostGeneralComment(ctx, helper.GeneralFileComment(fd.FilePath, review)); err != nil {
			log.Errorf("Failed to post general review comment for %s: %v", fd.FilePath, err)
		}
		items = append(items, model.ReviewItem{
			File:       fd.FilePath,
			Category:   "General Review",
			Severity:   model.SeverityInfo,
			Analysis:   review,
			Suggestion: "See the analysis above.",
		})
	}

	if err := ro.Store.SaveResults(ctx, task.Key, task.CommitSha, items, task.ProjectName); err != nil {
		log.Errorf("Failed to save review results for %s@%s: %v", task.Key, task.CommitSha, err)
	}

	if len(items) == 0 {
		if err := task.VCS.PostGeneralComment(ctx, helper.GeneralNoIssuesComment(len(files))); err != nil {
			log.Errorf("Failed to post no-issues comment for %s: %v", task.Key, err)
		}
	}

	if ro.Notifier.Enabled() {
		repoName := task.ProjectName
		if repoName == "" {
			repoName = task.Key.Identifier
		}
		summary := helper.BuildGeneralRunSummary(task.Key, task.Title, task.URL, repoName, task.RepoWebURL, task.SourceBranch, task.TargetBranch, len(files), len(items))
		ro.Notifier.SendSummary(summary)
	}

	if err := task.VCS.PostGeneralComment(ctx, helper.FinalSummaryComment(provider.Model())); err != nil {
		log.Errorf("Failed to post completion comment for %s: %v", task.Key, err)
	}
	log.Infof("Finished general review of %s@%s with %d flagged files in %s", task.Key, task.CommitSha, len(items), time.Since(startTime).Round(time.Millisecond))
}

// Run executes one review end to end. The commit is claimed before
// any expensive work so concurrent deliveries of the same event
// cannot produce duplicate reviews; the claim is released again when
// the run aborts before producing a result, keeping retries possible.
func (ro *ReviewOrchestrator) Run(ctx context.Context, task ReviewTask) {
	if !ro.Store.TryClaim(ctx, task.Key, task.CommitSha) {
		log.Infof("Commit %s already reviewed for %s, skipping", task.CommitSha, task.Key)
		return
	}
	startTime := time.Now()
	log.Infof("Start review of %s@%s (%s)", task.Key, task.CommitSha, task.Title)

	provider, err := ro.Providers.Provider()
	if err != nil {
		log.Errorf("No usable AI provider for %s: %v", task.Key, err)
		ro.Store.Release(ctx, task.Key, task.CommitSha)
		return
	}

	rawDiffs, err := task.VCS.FetchChanges(ctx)
	if err != nil {
		log.Errorf("Failed to fetch changes for %s: %v", task.Key, err)
		ro.Store.Release(ctx, task.Key, task.CommitSha)
		return
	}

	changeSets := make([]model.FileChangeSet, 0, len(rawDiffs))
	for _, raw := range rawDiffs {
		fc := helper.ParseSingleFileDiff(raw.DiffText, raw.Path, raw.OldPath)
		if len(fc.Changes) == 0 {
			log.Debugf("No added or deleted lines in %s, skipping", raw.Path)
			continue
		}
		changeSets = append(changeSets, fc)
	}
	if len(changeSets) == 0 {
		log.Infof("No reviewable changes in %s@%s", task.Key, task.CommitSha)
		if err := ro.Store.SaveResults(ctx, task.Key, task.CommitSha, nil, task.ProjectName); err != nil {
			log.Errorf("Failed to save empty review results for %s: %v", task.Key, err)
		}
		return
	}
	log.Infof("Reviewing %d changed files in %s@%s with %s", len(changeSets), task.Key, task.CommitSha, provider.Name())

	var allItems []model.ReviewItem
	for i := range changeSets {
		fc := &changeSets[i]
		raw, err := provider.ReviewFile(ctx, fc)
		if err != nil {
			log.Errorf("AI review of %s failed: %v", fc.Path, err)
			continue
		}
		cleaned := helper.CleanModelOutput(raw)
		items, err := helper.ParseReviewItems(cleaned, fc.Path)
		if err != nil {
			log.Errorf("Unparseable review output for %s: %v. Raw output: %s", fc.Path, err, cleaned)
			continue
		}
		for j := range items {
			items[j].OldPath = fc.OldPath
		}

		for _, item := range items {
			if err := task.VCS.PostInlineComment(ctx, item); err != nil {
				log.Errorf("Failed to post finding on %s: %v", item.File, err)
			}
		}
		allItems = append(allItems, items...)
	}

	if err := ro.Store.SaveResults(ctx, task.Key, task.CommitSha, allItems, task.ProjectName); err != nil {
		// the claim already guards against re-review, so a failed
		// save only loses the admin-visible record
		log.Errorf("Failed to save review results for %s@%s: %v", task.Key, task.CommitSha, err)
	}

	if len(allItems) == 0 {
		if err := task.VCS.PostGeneralComment(ctx, helper.NoIssuesComment(task.Key.VCSType)); err != nil {
			log.Errorf("Failed to post no-issues comment for %s: %v", task.Key, err)
		}
	}

	if ro.Notifier.Enabled() {
		repoName := task.ProjectName
		if repoName == "" {
			repoName = task.Key.Identifier
		}
		summary := helper.BuildRunSummary(task.Key, task.Title, task.URL, repoName, task.RepoWebURL, task.SourceBranch, task.TargetBranch, len(allItems))
		ro.Notifier.SendSummary(summary)
	}

	if err := task.VCS.PostGeneralComment(ctx, helper.FinalSummaryComment(provider.Model())); err != nil {
		log.Errorf("Failed to post completion comment for %s: %v", task.Key, err)
	}
	log.Infof("Finished review of %s@%s with %d findings in %s", task.Key, task.CommitSha, len(allItems), time.Since(startTime).Round(time.Millisecond))
}
