// Package search parses command-line style queries and runs them against
// the session index.
package search

import (
	"strings"
	"time"
)

// Default pagination values; chat surfaces page by 5.
const (
	DefaultLimit = 5
	SortRecent   = "recent"
	SortOldest   = "oldest"
	SortSize     = "size"
	SortDuration = "duration"
)

// Filters narrows a search before scoring.
type Filters struct {
	Project string     `json:"project,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
	Until   *time.Time `json:"until,omitempty"`
}

// Query is a parsed search request.
type Query struct {
	// Query is the free-text terms rejoined with single spaces, used for
	// phrase matching and display.
	Query   string
	Terms   []string
	Filters Filters
	Sort    string
	Limit   int
	Offset  int
}

// Parse interprets one line of query text. Option values that fail to parse
// leave their filter unset rather than erroring; the user still gets
// unfiltered results. Unknown dash-options are skipped.
func Parse(text string) Query {
	q := Query{
		Sort:  SortRecent,
		Limit: DefaultLimit,
	}

	tokens := tokenize(text)
	var terms []string

	i := 0
	next := func() string {
		if i < len(tokens) {
			v := tokens[i]
			i++
			return v
		}
		return ""
	}

	for i < len(tokens) {
		tok := next()

		switch tok {
		case "--project", "-p":
			q.Filters.Project = next()
		case "--last", "-l":
			if since, ok := parseTimeRange(next()); ok {
				q.Filters.Since = &since
			}
		case "--since", "-s":
			if ts, ok := parseTimestamp(next()); ok {
				q.Filters.Since = &ts
			}
		case "--until", "-u":
			if ts, ok := parseTimestamp(next()); ok {
				q.Filters.Until = &ts
			}
		case "--sort":
			switch v := next(); v {
			case SortRecent, SortOldest, SortSize, SortDuration:
				q.Sort = v
			}
		default:
			if strings.HasPrefix(tok, "-") && tok != "-" {
				continue // unknown option, skip the flag token only
			}
			terms = append(terms, tok)
		}
	}

	q.Terms = terms
	q.Query = strings.Join(terms, " ")
	return q
}

// ParseTimestamp parses an absolute timestamp the same way the --since and
// --until options do. Naive timestamps are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	return parseTimestamp(s)
}

// tokenize splits shell-style: whitespace separates, double quotes group.
// Unbalanced quoting falls back to plain whitespace splitting.
func tokenize(text string) []string {
	var (
		tokens   []string
		current  strings.Builder
		inQuote  bool
		hasToken bool
	)

	flush := func() {
		if hasToken {
			tokens = append(tokens, current.String())
			current.Reset()
			hasToken = false
		}
	}

	for _, r := range text {
		switch {
		case r == '"':
			inQuote = !inQuote
			hasToken = true
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			current.WriteRune(r)
			hasToken = true
		}
	}
	flush()

	if inQuote {
		return strings.Fields(text)
	}
	return tokens
}

// parseTimeRange interprets "<N><unit>" with unit d, w, or m, returning
// now minus that span. "m" is a flat 30 days, not a calendar month.
func parseTimeRange(s string) (time.Time, bool) {
	if len(s) < 2 {
		return time.Time{}, false
	}

	numPart, unit := s[:len(s)-1], s[len(s)-1]
	n := 0
	for _, c := range numPart {
		if c < '0' || c > '9' {
			return time.Time{}, false
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return time.Time{}, false
	}

	var span time.Duration
	switch unit {
	case 'd':
		span = time.Duration(n) * 24 * time.Hour
	case 'w':
		span = time.Duration(n) * 7 * 24 * time.Hour
	case 'm':
		span = time.Duration(n) * 30 * 24 * time.Hour
	default:
		return time.Time{}, false
	}

	return time.Now().UTC().Add(-span), true
}

// timestampLayouts are accepted by --since/--until, most specific first.
// Layouts without a zone are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
