package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

const (
	keyPrefix        = "ai_code_review_helper:"
	processedSetKey  = keyPrefix + "processed_commits_set"
	resultsKeyPrefix = keyPrefix + "review_results:"
	githubConfigsKey = keyPrefix + "github_repo_configs"
	gitlabConfigsKey = keyPrefix + "gitlab_project_configs"

	// review results expire this long after their last write
	resultTTL = 7 * 24 * time.Hour

	// batch size for set-member cleanup, keeps SREM calls bounded
	cleanupBatchSize = 100
)

// ErrNotFound distinguishes "no such record" from a store failure, so
// callers can answer 404 instead of 500.
var ErrNotFound = errors.New("record not found in store")

// Store is the shared persistence layer: commit idempotency tracking,
// review results and admin-managed repo/project configs all live in
// the same redis instance. The store is the single source of truth;
// the in-memory config cache is write-through only.
type Store struct {
	rdb *redis.Client

	configs *configCache
}

// New connects to redis and verifies the connection. The service
// cannot run without its store, so callers treat an error as fatal.
func New(cfg model.RedisConfig) (*Store, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("redis host is required")
	}
	opts := &redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	}
	if cfg.SSLEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	log.Infof("Connected to redis at %s", opts.Addr)
	return NewWithClient(rdb), nil
}

// NewWithClient wraps an existing client. Tests use this with a
// miniredis-backed client.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, configs: newConfigCache()}
}

func resultsKey(key model.ReviewThreadKey) string {
	return resultsKeyPrefix + key.String()
}

func processedMember(key model.ReviewThreadKey, commitSHA string) string {
	return key.String() + ":" + commitSHA
}
