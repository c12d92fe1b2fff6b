package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

// Repo and project credentials are admin-managed at runtime. Redis is
// the source of truth; the in-memory cache exists so the webhook hot
// path never blocks on a store round trip, and every mutation writes
// through before touching the cache.
type configCache struct {
	mu     sync.RWMutex
	github map[string]model.RepoCredential
	gitlab map[string]model.RepoCredential
}

func newConfigCache() *configCache {
	return &configCache{
		github: make(map[string]model.RepoCredential),
		gitlab: make(map[string]model.RepoCredential),
	}
}

// LoadConfigsFromStore warms the cache at startup.
func (s *Store) LoadConfigsFromStore(ctx context.Context) error {
	githubRaw, err := s.rdb.HGetAll(ctx, githubConfigsKey).Result()
	if err != nil {
		return fmt.Errorf("loading github repo configs: %w", err)
	}
	gitlabRaw, err := s.rdb.HGetAll(ctx, gitlabConfigsKey).Result()
	if err != nil {
		return fmt.Errorf("loading gitlab project configs: %w", err)
	}

	s.configs.mu.Lock()
	defer s.configs.mu.Unlock()
	s.configs.github = decodeCredentials(githubRaw, "github")
	s.configs.gitlab = decodeCredentials(gitlabRaw, "gitlab")
	log.Infof("Loaded %d github repo configs and %d gitlab project configs from store",
		len(s.configs.github), len(s.configs.gitlab))
	return nil
}

func decodeCredentials(raw map[string]string, kind string) map[string]model.RepoCredential {
	out := make(map[string]model.RepoCredential, len(raw))
	for id, encoded := range raw {
		var cred model.RepoCredential
		if err := json.Unmarshal([]byte(encoded), &cred); err != nil {
			log.Errorf("Skipping undecodable %s config for %s: %v", kind, id, err)
			continue
		}
		out[id] = cred
	}
	return out
}

// GetGithubRepoConfig returns the credential for owner/repo.
func (s *Store) GetGithubRepoConfig(fullName string) (model.RepoCredential, bool) {
	s.configs.mu.RLock()
	defer s.configs.mu.RUnlock()
	cred, ok := s.configs.github[fullName]
	return cred, ok
}

// SetGithubRepoConfig stores a credential for owner/repo.
func (s *Store) SetGithubRepoConfig(ctx context.Context, fullName string, cred model.RepoCredential) error {
	encoded, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encoding github config for %s: %w", fullName, err)
	}
	if err := s.rdb.HSet(ctx, githubConfigsKey, fullName, encoded).Err(); err != nil {
		return fmt.Errorf("saving github config for %s: %w", fullName, err)
	}
	s.configs.mu.Lock()
	s.configs.github[fullName] = cred
	s.configs.mu.Unlock()
	log.Infof("Saved github repo config for %s", fullName)
	return nil
}

// DeleteGithubRepoConfig removes the credential for owner/repo.
func (s *Store) DeleteGithubRepoConfig(ctx context.Context, fullName string) (bool, error) {
	removed, err := s.rdb.HDel(ctx, githubConfigsKey, fullName).Result()
	if err != nil {
		return false, fmt.Errorf("deleting github config for %s: %w", fullName, err)
	}
	s.configs.mu.Lock()
	delete(s.configs.github, fullName)
	s.configs.mu.Unlock()
	return removed > 0, nil
}

// ListGithubRepos returns the configured repo names, sorted.
func (s *Store) ListGithubRepos() []string {
	s.configs.mu.RLock()
	defer s.configs.mu.RUnlock()
	names := make([]string, 0, len(s.configs.github))
	for name := range s.configs.github {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetGitlabProjectConfig returns the credential for a project ID.
func (s *Store) GetGitlabProjectConfig(projectID string) (model.RepoCredential, bool) {
	s.configs.mu.RLock()
	defer s.configs.mu.RUnlock()
	cred, ok := s.configs.gitlab[projectID]
	return cred, ok
}

// SetGitlabProjectConfig stores a credential for a project ID.
func (s *Store) SetGitlabProjectConfig(ctx context.Context, projectID string, cred model.RepoCredential) error {
	encoded, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encoding gitlab config for %s: %w", projectID, err)
	}
	if err := s.rdb.HSet(ctx, gitlabConfigsKey, projectID, encoded).Err(); err != nil {
		return fmt.Errorf("saving gitlab config for %s: %w", projectID, err)
	}
	s.configs.mu.Lock()
	s.configs.gitlab[projectID] = cred
	s.configs.mu.Unlock()
	log.Infof("Saved gitlab project config for %s", projectID)
	return nil
}

// DeleteGitlabProjectConfig removes the credential for a project ID.
func (s *Store) DeleteGitlabProjectConfig(ctx context.Context, projectID string) (bool, error) {
	removed, err := s.rdb.HDel(ctx, gitlabConfigsKey, projectID).Result()
	if err != nil {
		return false, fmt.Errorf("deleting gitlab config for %s: %w", projectID, err)
	}
	s.configs.mu.Lock()
	delete(s.configs.gitlab, projectID)
	s.configs.mu.Unlock()
	return removed > 0, nil
}

// ListGitlabProjects returns the configured project IDs, sorted.
func (s *Store) ListGitlabProjects() []string {
	s.configs.mu.RLock()
	defer s.configs.mu.RUnlock()
	ids := make([]string, 0, len(s.configs.gitlab))
	for id := range s.configs.gitlab {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
