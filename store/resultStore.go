package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

// Review results live in one hash per thread: field = commit sha,
// value = the JSON-encoded findings of that run. GitLab threads carry
// an extra sentinel field with the project name, since the numeric
// project ID in the key is not readable on its own.
const projectNameField = "_project_name"

// SaveResults persists the findings of one run and refreshes the
// thread's 7 day expiry. An empty commit sha is skipped because it
// cannot be addressed again.
func (s *Store) SaveResults(ctx context.Context, key model.ReviewThreadKey, commitSHA string, items []model.ReviewItem, projectName string) error {
	if commitSHA == "" {
		log.Warnf("Empty commit sha for %s, not saving review results", key)
		return nil
	}
	if items == nil {
		items = []model.ReviewItem{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding review results for %s: %w", key, err)
	}

	rk := resultsKey(key)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, rk, commitSHA, encoded)
	if key.IsGitlab() && projectName != "" {
		pipe.HSet(ctx, rk, projectNameField, projectName)
	}
	pipe.Expire(ctx, rk, resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving review results for %s@%s: %w", key, commitSHA, err)
	}
	log.Infof("Saved %d review results for %s@%s", len(items), key, commitSHA)
	return nil
}

// GetResults returns the findings stored for one commit of the thread.
func (s *Store) GetResults(ctx context.Context, key model.ReviewThreadKey, commitSHA string) ([]model.ReviewItem, error) {
	raw, err := s.rdb.HGet(ctx, resultsKey(key), commitSHA).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading review results for %s@%s: %w", key, commitSHA, err)
	}
	var items []model.ReviewItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decoding review results for %s@%s: %w", key, commitSHA, err)
	}
	return items, nil
}

// GetAllResults returns every stored run of the thread keyed by commit
// sha, plus the project name sentinel when present.
func (s *Store) GetAllResults(ctx context.Context, key model.ReviewThreadKey) (map[string][]model.ReviewItem, string, error) {
	fields, err := s.rdb.HGetAll(ctx, resultsKey(key)).Result()
	if err != nil {
		return nil, "", fmt.Errorf("reading review results for %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, "", ErrNotFound
	}

	projectName := ""
	results := make(map[string][]model.ReviewItem, len(fields))
	for field, raw := range fields {
		if field == projectNameField {
			projectName = raw
			continue
		}
		var items []model.ReviewItem
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			log.Errorf("Skipping undecodable review results for %s@%s: %v", key, field, err)
			continue
		}
		results[field] = items
	}
	return results, projectName, nil
}

// DeleteResults drops the thread's result hash.
func (s *Store) DeleteResults(ctx context.Context, key model.ReviewThreadKey) error {
	removed, err := s.rdb.Del(ctx, resultsKey(key)).Result()
	if err != nil {
		return fmt.Errorf("deleting review results for %s: %w", key, err)
	}
	if removed > 0 {
		log.Infof("Deleted review results for %s", key)
	}
	return nil
}

// ListThreads enumerates every thread with stored review results, for
// the admin API's overview page.
func (s *Store) ListThreads(ctx context.Context) ([]model.ReviewedThread, error) {
	var threads []model.ReviewedThread

	iter := s.rdb.Scan(ctx, 0, resultsKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		suffix := strings.TrimPrefix(iter.Val(), resultsKeyPrefix)
		parts := strings.Split(suffix, ":")
		if len(parts) < 3 {
			log.Warnf("Skipping malformed review results key: %s", iter.Val())
			continue
		}
		vcsType := parts[0]
		threadID := parts[len(parts)-1]
		identifier := strings.Join(parts[1:len(parts)-1], ":")

		thread := model.ReviewedThread{
			Key:        suffix,
			VCSType:    vcsType,
			Identifier: identifier,
			ThreadID:   threadID,
		}
		switch vcsType {
		case model.VCSGithub:
			thread.DisplayName = fmt.Sprintf("GITHUB (Detailed): %s PR #%s", identifier, threadID)
		case model.VCSGithubGeneral:
			thread.DisplayName = fmt.Sprintf("GITHUB (General): %s PR #%s", identifier, threadID)
		case model.VCSGitlab, model.VCSGitlabGeneral:
			label := "Detailed"
			if vcsType == model.VCSGitlabGeneral {
				label = "General"
			}
			name, err := s.rdb.HGet(ctx, iter.Val(), projectNameField).Result()
			if err == nil && name != "" {
				thread.DisplayName = fmt.Sprintf("GITLAB (%s): %s (ID: %s) MR !%s", label, name, identifier, threadID)
			} else {
				thread.DisplayName = fmt.Sprintf("GITLAB (%s): Project %s MR !%s", label, identifier, threadID)
			}
		default:
			thread.DisplayName = fmt.Sprintf("%s: %s #%s", strings.ToUpper(vcsType), identifier, threadID)
		}
		threads = append(threads, thread)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning review result keys: %w", err)
	}

	sort.Slice(threads, func(i, j int) bool { return threads[i].Key < threads[j].Key })
	return threads, nil
}
