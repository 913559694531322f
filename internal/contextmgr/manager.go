package contextmgr

import (
	"context"
	"sort"
)

// HistoryMessage is the token-bounded history Manager.BuildContext returns:
// enough to drive the next provider call, in chronological order.
type HistoryMessage struct {
	MessageID     string
	Role          string
	Content       string
	TokenEstimate int
	IsSummary     bool
}

// Manager is the ContextManager of spec §4.6: given a Session, a query, a
// model token budget B and a safety reserve R, it returns a token-bounded
// history list, falling back to vector relevance search and compaction when
// the recent tail alone exceeds the budget.
type Manager struct {
	store      VectorStore
	embedder   Embedder
	compactor  *Compactor
	recentN    int // cap on messages fetched from the recent tail (spec: 100)
	relevantN  int // cap on the relevance search result set (spec: 30)
	alwaysKeep int // always-keep recency tail (spec: min(10, recent_count))
}

// NewManager constructs a ContextManager over the given VectorStore.
func NewManager(store VectorStore, embedder Embedder, compactor *Compactor) *Manager {
	return &Manager{
		store:      store,
		embedder:   embedder,
		compactor:  compactor,
		recentN:    100,
		relevantN:  30,
		alwaysKeep: 10,
	}
}

// BuildContext runs the spec's seven-step budget algorithm.
func (m *Manager) BuildContext(ctx context.Context, sessionID, query string, budget, reserve int) ([]HistoryMessage, error) {
	// Step 1: available budget.
	available := budget - reserve
	if available <= 0 {
		available = budget / 2
	}

	if err := m.store.EnsureCollection(ctx, sessionID); err != nil {
		return nil, err
	}

	// Step 2: most recent <=100 messages.
	all, err := m.store.ScrollAll(ctx, sessionID)
	if err != nil {
		// Non-fatal: the vector store is unavailable, so there's nothing to
		// return from it; callers fall back to primary storage directly.
		return nil, nil
	}
	recent := all
	if len(recent) > m.recentN {
		recent = recent[len(recent)-m.recentN:]
	}

	recentTotal := 0
	for _, p := range recent {
		recentTotal += p.TokenEstimate
	}

	// Step 3: recents alone fit.
	if recentTotal <= available {
		return toHistory(recent), nil
	}

	// Step 4: relevance search over the current query.
	var relevant []Point
	if m.embedder != nil {
		if vec, embedErr := m.embedder.Embed(ctx, query); embedErr == nil {
			relevant, _ = m.store.NearestNeighbors(ctx, sessionID, vec, m.relevantN)
		}
		// Embedding/search failure is non-fatal: relevant stays empty and the
		// merge below degrades to recents-only.
	}

	// Step 5: merge always-keep tail with the relevance set, dedup, sort.
	keepCount := m.alwaysKeep
	if keepCount > len(recent) {
		keepCount = len(recent)
	}
	alwaysKeep := recent[len(recent)-keepCount:]

	merged := mergePoints(alwaysKeep, relevant)
	mergedTotal := 0
	for _, p := range merged {
		mergedTotal += p.TokenEstimate
	}

	// Step 6: still over budget and enough messages to compact.
	if mergedTotal > available && len(merged) >= m.compactorMinMsgs() {
		if m.compactor != nil {
			if _, err := m.compactor.Compact(ctx, sessionID, available); err == nil {
				refetched, err := m.store.ScrollAll(ctx, sessionID)
				if err == nil {
					merged = filterToIDs(refetched, idSet(merged))
					if len(merged) == 0 {
						merged = refetched
					}
				}
			}
		}
	}

	// Step 7: drop oldest until under budget, never dropping the always-keep tail.
	merged = dropOldestUntilFits(merged, available, idSet(alwaysKeep))

	return toHistory(merged), nil
}

func (m *Manager) compactorMinMsgs() int {
	if m.compactor == nil {
		return 1 << 30 // compaction disabled: never satisfy the >= M_min gate
	}
	return m.compactor.minMsgs
}

func toHistory(points []Point) []HistoryMessage {
	out := make([]HistoryMessage, len(points))
	for i, p := range points {
		out[i] = HistoryMessage{
			MessageID:     p.MessageID,
			Role:          p.Role,
			Content:       p.Content,
			TokenEstimate: p.TokenEstimate,
			IsSummary:     p.IsSummary,
		}
	}
	return out
}

func idSet(points []Point) map[string]bool {
	set := make(map[string]bool, len(points))
	for _, p := range points {
		set[p.MessageID] = true
	}
	return set
}

func filterToIDs(points []Point, ids map[string]bool) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if ids[p.MessageID] || p.IsSummary {
			out = append(out, p)
		}
	}
	return out
}

func mergePoints(a, b []Point) []Point {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]Point, 0, len(a)+len(b))
	for _, p := range a {
		if !seen[p.MessageID] {
			seen[p.MessageID] = true
			out = append(out, p)
		}
	}
	for _, p := range b {
		if !seen[p.MessageID] {
			seen[p.MessageID] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func dropOldestUntilFits(points []Point, budget int, protected map[string]bool) []Point {
	total := 0
	for _, p := range points {
		total += p.TokenEstimate
	}
	if total <= budget {
		return points
	}
	kept := make([]Point, len(points))
	copy(kept, points)
	for total > budget {
		dropIdx := -1
		for i, p := range kept {
			if !protected[p.MessageID] {
				dropIdx = i
				break
			}
		}
		if dropIdx == -1 {
			break // everything left is protected; can't drop further
		}
		total -= kept[dropIdx].TokenEstimate
		kept = append(kept[:dropIdx], kept[dropIdx+1:]...)
	}
	return kept
}
