package feedback

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/storage/models"
	"github.com/kbsearch/backend/internal/storage/sqlite"
	"github.com/kbsearch/backend/internal/toolerr"
	"github.com/kbsearch/backend/pkg/logger"
)

const (
	MinScore = 0
	MaxScore = 10
)

// Aggregator folds user feedback back into chunk quality stats. Each
// recompute rebuilds a chunk's stats from all feedback on all queries that
// retrieved it, serialized per chunk so concurrent submissions touching the
// same chunk cannot interleave partial writes.
type Aggregator struct {
	db *sqlite.Client

	mu         sync.Mutex
	chunkLocks map[string]*sync.Mutex
}

func NewAggregator(db *sqlite.Client) *Aggregator {
	return &Aggregator{
		db:         db,
		chunkLocks: make(map[string]*sync.Mutex),
	}
}

func (a *Aggregator) Record(queryID string, score int, comment, userID string) error {
	if score < MinScore || score > MaxScore {
		return toolerr.NewValidation("score", "score must be between 0 and 10")
	}

	exists, err := a.db.QueryExists(queryID)
	if err != nil {
		return err
	}
	if !exists {
		return toolerr.NewNotFound("query", queryID)
	}

	if err := a.db.InsertFeedback(&models.Feedback{
		QueryID: queryID,
		Score:   score,
		Comment: comment,
		UserID:  userID,
	}); err != nil {
		return err
	}

	chunkIDs, err := a.db.GetQueryChunkIDs(queryID)
	if err != nil {
		return err
	}

	// Sorted acquisition order prevents deadlock when two submissions
	// overlap on several chunks.
	sorted := append([]string(nil), chunkIDs...)
	sort.Strings(sorted)

	for _, chunkID := range sorted {
		if err := a.recomputeChunk(chunkID); err != nil {
			return err
		}
	}

	logger.Info("Feedback recorded",
		zap.String("query_id", queryID),
		zap.Int("score", score),
		zap.Int("chunks_recomputed", len(sorted)),
	)

	return nil
}

func (a *Aggregator) recomputeChunk(chunkID string) error {
	lock := a.lockFor(chunkID)
	lock.Lock()
	defer lock.Unlock()

	return a.db.RecomputeChunkFeedback(chunkID)
}

func (a *Aggregator) lockFor(chunkID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	lock, ok := a.chunkLocks[chunkID]
	if !ok {
		lock = &sync.Mutex{}
		a.chunkLocks[chunkID] = lock
	}
	return lock
}
