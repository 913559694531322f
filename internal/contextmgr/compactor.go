package contextmgr

import (
	"context"
	"fmt"
	"strings"
)

// Summarizer drives the hidden "compaction" Agent: single-shot, no tools,
// a fixed summarization prompt over the concatenated "role: content"
// transcript of the messages being compacted. Grounded on the teacher's
// internal/sessions.Summarizer interface.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Compactor implements the spec's §4.6 compaction step: select a contiguous
// prefix of non-summary messages large enough to bring the remainder under
// budget, summarize it via the hidden compaction Agent, and replace the
// source points in the vector collection with a single synthetic summary
// point. Compaction is idempotent — re-running it over an already-summarized
// prefix is a no-op because the prefix's points no longer exist.
type Compactor struct {
	store      VectorStore
	summarizer Summarizer
	minMsgs    int
}

// NewCompactor constructs a Compactor. minMsgs is M_min (default 10 per spec).
func NewCompactor(store VectorStore, summarizer Summarizer, minMsgs int) *Compactor {
	if minMsgs <= 0 {
		minMsgs = 10
	}
	return &Compactor{store: store, summarizer: summarizer, minMsgs: minMsgs}
}

// CompactionResult reports what a Compact call did.
type CompactionResult struct {
	Ran                   bool
	CompactedMessageCount int
	CompactedTokenCount   int
	Summary               string
	SummarizedIDs         []string
}

// Compact selects a contiguous non-summary prefix of points whose combined
// token_estimate is enough to bring the remainder under budget A, summarizes
// it, upserts the synthetic summary point, and deletes the compacted source
// points from the vector collection (never from primary storage — callers
// own deleting/archiving the underlying Messages/Parts if they choose to).
func (c *Compactor) Compact(ctx context.Context, sessionID string, budget int) (*CompactionResult, error) {
	points, err := c.store.ScrollAll(ctx, sessionID)
	if err != nil {
		// Non-fatal per spec: disable compaction for this call.
		return &CompactionResult{}, nil
	}

	total := 0
	for _, p := range points {
		total += p.TokenEstimate
	}
	if total <= budget {
		return &CompactionResult{}, nil
	}

	prefix := make([]Point, 0, len(points))
	prefixTokens := 0
	for _, p := range points {
		if p.IsSummary {
			continue
		}
		prefix = append(prefix, p)
		prefixTokens += p.TokenEstimate
		if total-prefixTokens <= budget && len(prefix) >= c.minMsgs {
			break
		}
	}
	if len(prefix) < c.minMsgs || total-prefixTokens > budget {
		// Can't bring the remainder under budget without violating M_min.
		return &CompactionResult{}, nil
	}

	var transcript strings.Builder
	ids := make([]string, 0, len(prefix))
	for _, p := range prefix {
		fmt.Fprintf(&transcript, "%s: %s\n", p.Role, p.Content)
		ids = append(ids, p.MessageID)
	}

	summary, err := c.summarizer.Summarize(ctx, transcript.String())
	if err != nil {
		return &CompactionResult{}, nil
	}

	summaryPoint := Point{
		MessageID:     "summary-" + prefix[len(prefix)-1].MessageID,
		Role:          "system",
		Content:       summary,
		CreatedAt:     prefix[len(prefix)-1].CreatedAt,
		TokenEstimate: EstimateTokens(summary),
		IsSummary:     true,
		SummarizedIDs: ids,
	}
	if err := c.store.UpsertPoint(ctx, sessionID, summaryPoint); err != nil {
		return &CompactionResult{}, nil
	}
	if err := c.store.DeletePoints(ctx, sessionID, ids); err != nil {
		return &CompactionResult{}, nil
	}

	return &CompactionResult{
		Ran:                   true,
		CompactedMessageCount: len(prefix),
		CompactedTokenCount:   prefixTokens,
		Summary:               summary,
		SummarizedIDs:         ids,
	}, nil
}
