package crawler

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Candidate holds the raw attributes extracted from one listing element
// before validation. Empty strings mean the attribute was absent.
type Candidate struct {
	ID           string
	Permalink    string
	ContentURL   string
	CommentCount string
	Title        string
	Author       string
	Score        string
	Media        string
}

// Missing returns the names of required attributes the candidate lacks.
func (c Candidate) Missing() []string {
	var missing []string
	if c.ID == "" {
		missing = append(missing, "id")
	}
	if c.Permalink == "" {
		missing = append(missing, "permalink")
	}
	if c.Title == "" {
		missing = append(missing, "title")
	}
	if c.Author == "" {
		missing = append(missing, "author")
	}
	return missing
}

// Record is a validated, classified listing item. It is a value type; copies
// never share mutable state.
type Record struct {
	ID           string    `json:"id"`
	Permalink    string    `json:"permalink"`
	ContentURL   string    `json:"content_url"`
	CommentCount string    `json:"comment_count"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	Score        string    `json:"score"`
	Media        string    `json:"media,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
}

// NewRecord validates a candidate and builds a Record. Relative permalinks
// are resolved against base when base is non-nil. The capture timestamp is
// normalized to UTC.
func NewRecord(c Candidate, base *url.URL, now time.Time) (Record, error) {
	if missing := c.Missing(); len(missing) > 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ","))
	}
	permalink := resolve(base, c.Permalink)
	content := c.ContentURL
	if content == "" {
		content = permalink
	}
	return Record{
		ID:           c.ID,
		Permalink:    permalink,
		ContentURL:   content,
		CommentCount: c.CommentCount,
		Title:        c.Title,
		Author:       c.Author,
		Score:        c.Score,
		Media:        c.Media,
		CapturedAt:   now.UTC(),
	}, nil
}

// ScoreValue parses Score defensively. Unparsable values report ok=false and
// rank lowest.
func (r Record) ScoreValue() (int64, bool) {
	return ParseCount(r.Score)
}

// CommentValue parses CommentCount defensively.
func (r Record) CommentValue() (int64, bool) {
	return ParseCount(r.CommentCount)
}

// ParseCount accepts plain integers and abbreviated forms such as "1.2k" or
// "3M". Anything else yields (0, false).
func ParseCount(raw string) (int64, bool) {
	s := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, ",", "")))
	if s == "" {
		return 0, false
	}
	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		multiplier = 1e3
		s = strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		multiplier = 1e6
		s = strings.TrimSuffix(s, "m")
	}
	if multiplier == 1 {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	v := f * multiplier
	if v >= math.MaxInt64 || v < math.MinInt64 {
		return 0, false
	}
	return int64(v), true
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
