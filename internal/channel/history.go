package channel

import (
	"slices"
	"sync"

	"omnigate/internal/domain"
)

const defaultHistoryCap = 5000

// History is a bounded buffer of canonical messages backing FetchHistory on
// platforms without a pull API for old messages.
type History struct {
	mu      sync.Mutex
	limit   int
	msgs    []domain.CanonicalMessage
	evicted bool
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistoryCap
	}
	return &History{limit: limit}
}

// Add appends msgs, evicting the oldest past the limit.
func (h *History) Add(msgs ...domain.CanonicalMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msgs...)
	if over := len(h.msgs) - h.limit; over > 0 {
		h.msgs = slices.Delete(h.msgs, 0, over)
		h.evicted = true
	}
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

// Fetch streams buffered messages oldest first. Before is a message id:
// only messages older than it are returned.
func (h *History) Fetch(opts domain.SyncOptions, fn func(domain.CanonicalMessage) error) (domain.SyncResult, error) {
	h.mu.Lock()
	snapshot := slices.Clone(h.msgs)
	res := domain.SyncResult{Partial: h.evicted}
	h.mu.Unlock()

	slices.SortStableFunc(snapshot, func(a, b domain.CanonicalMessage) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if opts.Before != "" {
		if i := slices.IndexFunc(snapshot, func(m domain.CanonicalMessage) bool { return m.ExternalID == opts.Before }); i >= 0 {
			snapshot = snapshot[:i]
		}
	}

	var matched []domain.CanonicalMessage
	for _, m := range snapshot {
		if opts.ChatID != "" && m.ChatID != opts.ChatID {
			continue
		}
		if !opts.Since.IsZero() && m.Timestamp.Before(opts.Since) {
			continue
		}
		matched = append(matched, m)
	}
	// The newest messages win when a limit applies.
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[len(matched)-opts.Limit:]
		res.Partial = true
	}
	for _, m := range matched {
		if err := fn(m); err != nil {
			return res, err
		}
		res.Fetched++
	}
	return res, nil
}
