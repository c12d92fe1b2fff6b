package store

import (
	"context"
	"strings"

	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

// Commit idempotency tracking. Every fully reviewed (thread, commit)
// pair is one member of a single shared set; membership is the "this
// commit was reviewed" fact. A store outage degrades to "not yet
// processed" so a transient failure never drops a legitimate review.

// IsProcessed reports whether the commit was already reviewed.
func (s *Store) IsProcessed(ctx context.Context, key model.ReviewThreadKey, commitSHA string) bool {
	if commitSHA == "" {
		log.Warnf("Empty commit sha for %s, assuming not processed", key)
		return false
	}
	ok, err := s.rdb.SIsMember(ctx, processedSetKey, processedMember(key, commitSHA)).Result()
	if err != nil {
		log.Errorf("Store error checking processed state of %s@%s, assuming not processed: %v", key, commitSHA, err)
		return false
	}
	return ok
}

// MarkProcessed records the commit as reviewed. Marking twice is
// harmless; an empty sha is a no-op.
func (s *Store) MarkProcessed(ctx context.Context, key model.ReviewThreadKey, commitSHA string) {
	if commitSHA == "" {
		log.Warnf("Empty commit sha for %s, skipping mark as processed", key)
		return
	}
	if err := s.rdb.SAdd(ctx, processedSetKey, processedMember(key, commitSHA)).Err(); err != nil {
		log.Errorf("Store error marking %s@%s as processed: %v", key, commitSHA, err)
		return
	}
	log.Infof("Marked %s@%s as processed", key, commitSHA)
}

// TryClaim atomically claims the commit for review before expensive
// work begins. It returns false only when the commit was already
// claimed; an empty sha or a store error lets the run proceed, since
// absence of evidence means "not yet processed".
func (s *Store) TryClaim(ctx context.Context, key model.ReviewThreadKey, commitSHA string) bool {
	if commitSHA == "" {
		log.Warnf("Empty commit sha for %s, proceeding without a claim", key)
		return true
	}
	added, err := s.rdb.SAdd(ctx, processedSetKey, processedMember(key, commitSHA)).Result()
	if err != nil {
		log.Errorf("Store error claiming %s@%s, proceeding anyway: %v", key, commitSHA, err)
		return true
	}
	return added == 1
}

// Release undoes a claim so a retried delivery can review the commit,
// used when the run aborts before producing any result.
func (s *Store) Release(ctx context.Context, key model.ReviewThreadKey, commitSHA string) {
	if commitSHA == "" {
		return
	}
	if err := s.rdb.SRem(ctx, processedSetKey, processedMember(key, commitSHA)).Err(); err != nil {
		log.Errorf("Store error releasing claim on %s@%s: %v", key, commitSHA, err)
	}
}

// ClearThread removes every processed-commit record of the thread and
// its stored review results, invoked when the PR/MR closes or merges.
// Members are collected through SSCAN and removed in batches so a long
// history never blocks the store.
func (s *Store) ClearThread(ctx context.Context, key model.ReviewThreadKey) {
	prefix := key.String() + ":"
	totalRemoved := 0
	batch := make([]interface{}, 0, cleanupBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		removed, err := s.rdb.SRem(ctx, processedSetKey, batch...).Result()
		if err != nil {
			log.Errorf("Store error removing processed entries for %s: %v", key, err)
		} else {
			totalRemoved += int(removed)
			log.Debugf("Removed %d processed entries for %s", removed, key)
		}
		batch = batch[:0]
	}

	iter := s.rdb.SScan(ctx, processedSetKey, 0, "", 0).Iterator()
	for iter.Next(ctx) {
		member := iter.Val()
		if !strings.HasPrefix(member, prefix) {
			continue
		}
		batch = append(batch, member)
		if len(batch) >= cleanupBatchSize {
			flush()
		}
	}
	if err := iter.Err(); err != nil {
		log.Errorf("Store error scanning processed entries for %s: %v", key, err)
	}
	flush()

	if totalRemoved > 0 {
		log.Infof("Removed %d processed commit entries for %s", totalRemoved, key)
	} else {
		log.Infof("No processed commit entries found for %s", key)
	}

	if err := s.DeleteResults(ctx, key); err != nil {
		log.Errorf("Store error deleting review results for %s: %v", key, err)
	}
}

// SweepOrphanedClaims removes processed-set members whose thread's
// review-result record has expired. The result hash carries the 7 day
// TTL but set members cannot, so without this sweep a never-closed
// thread would leak its members forever. Only threads that once had a
// persisted result are swept; a freshly claimed commit whose run is
// still in flight also has no result record yet, so the janitor must
// not run close to review time (it runs daily).
func (s *Store) SweepOrphanedClaims(ctx context.Context) (int, error) {
	checked := map[string]bool{}
	var orphans []interface{}
	removed := 0

	iter := s.rdb.SScan(ctx, processedSetKey, 0, "", 0).Iterator()
	for iter.Next(ctx) {
		member := iter.Val()
		// member is vcsType:identifier...:threadID:commitSHA
		idx := strings.LastIndex(member, ":")
		if idx <= 0 {
			continue
		}
		threadPart := member[:idx]
		alive, seen := checked[threadPart]
		if !seen {
			n, err := s.rdb.Exists(ctx, resultsKeyPrefix+threadPart).Result()
			if err != nil {
				return removed, err
			}
			alive = n > 0
			checked[threadPart] = alive
		}
		if alive {
			continue
		}
		orphans = append(orphans, member)
		if len(orphans) >= cleanupBatchSize {
			n, err := s.rdb.SRem(ctx, processedSetKey, orphans...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
			orphans = orphans[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	if len(orphans) > 0 {
		n, err := s.rdb.SRem(ctx, processedSetKey, orphans...).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}
	return removed, nil
}
