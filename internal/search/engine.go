package search

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/sessionhub/sessionhub/internal/index"
)

// MaxResults caps how many matches a single search materialises. Chat
// surfaces request up to this many to paginate locally.
const MaxResults = 1000

// ErrNotInitialised is returned when the engine has no indexer behind it.
var ErrNotInitialised = errors.New("search engine not initialised")

// Engine filters, scores, sorts and paginates sessions from the index.
type Engine struct {
	indexer *index.Indexer
}

// NewEngine creates an Engine over the indexer.
func NewEngine(ix *index.Indexer) *Engine {
	return &Engine{indexer: ix}
}

// Response is one page of search results plus the page-independent total.
type Response struct {
	Query   string           `json:"query"`
	Filters Filters          `json:"filters"`
	Sort    string           `json:"sort"`
	Total   int              `json:"total"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
	Results []*index.Session `json:"results"`
}

// Search runs a parsed query. The index is initialised on first use.
func (e *Engine) Search(q Query) (*Response, error) {
	if e == nil || e.indexer == nil {
		return nil, ErrNotInitialised
	}
	idx, err := e.indexer.GetIndex()
	if err != nil {
		return nil, err
	}

	matched := filterSessions(idx, q)
	ordered := sortSessions(matched, q)

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxResults {
		limit = MaxResults
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	page := ordered
	if offset >= len(page) {
		page = nil
	} else {
		page = page[offset:]
	}
	if len(page) > limit {
		page = page[:limit]
	}

	return &Response{
		Query:   q.Query,
		Filters: q.Filters,
		Sort:    q.Sort,
		Total:   len(ordered),
		Offset:  offset,
		Limit:   limit,
		Results: page,
	}, nil
}

// filterSessions applies project/time filters and the term match. Terms
// shorter than two characters never narrow results.
func filterSessions(idx *index.SessionIndex, q Query) []*index.Session {
	projectFilter := strings.ToLower(q.Filters.Project)

	var effective []string
	for _, t := range q.Terms {
		if len(t) >= 2 {
			effective = append(effective, strings.ToLower(t))
		}
	}

	var matched []*index.Session
	for _, s := range idx.Sessions {
		if projectFilter != "" && !strings.Contains(strings.ToLower(s.ProjectDisplayName), projectFilter) {
			continue
		}
		if q.Filters.Since != nil && s.ModifiedAt.Before(*q.Filters.Since) {
			continue
		}
		if q.Filters.Until != nil && s.ModifiedAt.After(*q.Filters.Until) {
			continue
		}
		if len(effective) > 0 && !termsMatch(s, effective) {
			continue
		}
		matched = append(matched, s)
	}
	return matched
}

// termsMatch reports whether any term hits the summary, the project display
// name, or equals the session id exactly.
func termsMatch(s *index.Session, terms []string) bool {
	summary := strings.ToLower(s.Summary)
	project := strings.ToLower(s.ProjectDisplayName)
	id := strings.ToLower(s.SessionID)

	for _, t := range terms {
		if summary != "" && strings.Contains(summary, t) {
			return true
		}
		if strings.Contains(project, t) {
			return true
		}
		if id == t {
			return true
		}
	}
	return false
}

// score ranks one candidate against the query. Sessions without a summary
// collect no summary-derived score.
func score(s *index.Session, q Query, now time.Time) float64 {
	var sc float64

	summary := strings.ToLower(s.Summary)
	project := strings.ToLower(s.ProjectDisplayName)

	seen := make(map[string]bool, len(q.Terms))
	for _, raw := range q.Terms {
		t := strings.ToLower(raw)
		if seen[t] {
			continue
		}
		seen[t] = true

		if summary != "" && strings.Contains(summary, t) {
			sc += 2.0
		}
		if strings.Contains(project, t) {
			sc += 1.0
		}
	}

	if phrase := strings.ToLower(q.Query); phrase != "" && summary != "" && strings.Contains(summary, phrase) {
		sc += 1.0
	}

	// Recency boost fades linearly to zero over 30 days.
	days := now.Sub(s.ModifiedAt).Hours() / 24
	if boost := 1 - days/30; boost > 0 {
		sc += boost
	}

	return sc
}

// sortSessions orders candidates for the requested mode. Ties break on
// session id so pagination is stable across identical requests.
func sortSessions(sessions []*index.Session, q Query) []*index.Session {
	ordered := make([]*index.Session, len(sessions))
	copy(ordered, sessions)

	switch q.Sort {
	case SortOldest:
		sort.Slice(ordered, func(i, j int) bool {
			if !ordered[i].ModifiedAt.Equal(ordered[j].ModifiedAt) {
				return ordered[i].ModifiedAt.Before(ordered[j].ModifiedAt)
			}
			return ordered[i].SessionID < ordered[j].SessionID
		})

	case SortSize:
		sort.Slice(ordered, func(i, j int) bool {
			if ordered[i].SizeBytes != ordered[j].SizeBytes {
				return ordered[i].SizeBytes > ordered[j].SizeBytes
			}
			return ordered[i].SessionID < ordered[j].SessionID
		})

	case SortDuration:
		type withDur struct {
			s   *index.Session
			ms  int64
			has bool
		}
		durs := make([]withDur, len(ordered))
		for i, s := range ordered {
			ms, ok := s.Duration()
			durs[i] = withDur{s: s, ms: ms, has: ok}
		}
		sort.Slice(durs, func(i, j int) bool {
			if durs[i].has != durs[j].has {
				return durs[i].has
			}
			if durs[i].ms != durs[j].ms {
				return durs[i].ms > durs[j].ms
			}
			return durs[i].s.SessionID < durs[j].s.SessionID
		})
		for i, d := range durs {
			ordered[i] = d.s
		}

	default: // recent
		now := time.Now().UTC()
		scores := make(map[string]float64, len(ordered))
		for _, s := range ordered {
			scores[s.SessionID] = score(s, q, now)
		}
		sort.Slice(ordered, func(i, j int) bool {
			si, sj := scores[ordered[i].SessionID], scores[ordered[j].SessionID]
			if si != sj {
				return si > sj
			}
			if !ordered[i].ModifiedAt.Equal(ordered[j].ModifiedAt) {
				return ordered[i].ModifiedAt.After(ordered[j].ModifiedAt)
			}
			return ordered[i].SessionID < ordered[j].SessionID
		})
	}

	if len(ordered) > MaxResults {
		ordered = ordered[:MaxResults]
	}
	return ordered
}
