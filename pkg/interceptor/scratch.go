package interceptor

import (
	"encoding/json"
	"fmt"

	"github.com/VictoriaMetrics/fastcache"
)

// BatchScratch holds before-images captured mid-batch, keyed by
// xid+branch+statement-index, so a multi-statement batch (ExecBatchContext)
// can park each statement's before-images between capture and the undo log
// writes at the end of the batch (one undo log row per statement). Backed
// by fastcache rather than a map so a long-running batch against a large
// working set doesn't grow interceptor memory unbounded — entries may be
// evicted under memory pressure, and ExecBatchContext then records an empty
// before-image for that statement; it does not re-capture it.
type BatchScratch struct {
	cache *fastcache.Cache
}

// NewBatchScratch builds a scratch cache capped at maxBytes.
func NewBatchScratch(maxBytes int) *BatchScratch {
	return &BatchScratch{cache: fastcache.New(maxBytes)}
}

func scratchKey(xid string, branchSeq, stmtIndex int) []byte {
	return []byte(fmt.Sprintf("%s:%d:%d", xid, branchSeq, stmtIndex))
}

// Put stashes one statement's before-images for later retrieval by Take.
func (s *BatchScratch) Put(xid string, branchSeq, stmtIndex int, images []RowImage) error {
	encoded, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("interceptor: marshal scratch images: %w", err)
	}
	s.cache.SetBig(scratchKey(xid, branchSeq, stmtIndex), encoded)
	return nil
}

// Take retrieves and removes one statement's before-images, returning
// (nil, false) on a cache miss (expected under memory pressure).
func (s *BatchScratch) Take(xid string, branchSeq, stmtIndex int) ([]RowImage, bool) {
	key := scratchKey(xid, branchSeq, stmtIndex)
	raw := s.cache.GetBig(nil, key)
	if raw == nil {
		return nil, false
	}
	s.cache.Del(key)
	var images []RowImage
	if err := json.Unmarshal(raw, &images); err != nil {
		return nil, false
	}
	return images, true
}

// Reset drops every entry; ExecBatchContext calls it when the batch
// returns, whether it committed or failed.
func (s *BatchScratch) Reset() {
	s.cache.Reset()
}
