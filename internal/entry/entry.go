// Package entry defines the knowledge entry model shared by the journal,
// index, and server.
package entry

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Common errors.
var (
	ErrEmptyText       = errors.New("entry text cannot be empty")
	ErrTextTooLong     = errors.New("entry text exceeds maximum length")
	ErrInvalidKind     = errors.New("invalid entry kind")
	ErrInvalidPriority = errors.New("invalid entry priority")
	ErrInvalidScore    = errors.New("score hint must be in [0,1]")
)

// MaxTextLen bounds the payload size of a single entry.
const MaxTextLen = 64 * 1024

// Kind classifies what an entry captures.
type Kind string

const (
	KindLesson        Kind = "lesson"
	KindFinding       Kind = "finding"
	KindSolution      Kind = "solution"
	KindPattern       Kind = "pattern"
	KindWarning       Kind = "warning"
	KindBestPractice  Kind = "best-practice"
	KindWebCapture    Kind = "web-capture"
	KindSearchCapture Kind = "search-capture"
)

// Kinds returns all valid entry kinds.
func Kinds() []Kind {
	return []Kind{
		KindLesson, KindFinding, KindSolution, KindPattern,
		KindWarning, KindBestPractice, KindWebCapture, KindSearchCapture,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindLesson, KindFinding, KindSolution, KindPattern,
		KindWarning, KindBestPractice, KindWebCapture, KindSearchCapture:
		return true
	}
	return false
}

// Priority ranks how important an entry is to surface.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Entry is one stored fact. Entries are immutable once written to the
// journal; logical deletion happens via tombstone records, never mutation.
type Entry struct {
	// ID is the unique entry identifier, assigned by the server at insert.
	ID string `json:"id"`

	// Text is the payload that gets embedded and matched.
	Text string `json:"text"`

	// Kind classifies the entry.
	Kind Kind `json:"kind"`

	// Tags are free-form labels. Deduplicated, order-insensitive.
	Tags []string `json:"tags,omitempty"`

	// Priority ranks surfacing importance.
	Priority Priority `json:"priority"`

	// CreatedAt is assigned by the writer at insert time and is
	// non-decreasing across the journal.
	CreatedAt time.Time `json:"created_at"`

	// Source is optional provenance (URL, "manual", "auto-capture").
	Source string `json:"source,omitempty"`

	// ScoreHint is an optional externally supplied relevance estimate
	// in [0,1], used to gate persistence of low-confidence captures.
	ScoreHint *float64 `json:"score_hint,omitempty"`
}

// Normalize applies defaults and canonicalizes fields in place.
// Kind defaults to lesson, priority to medium; tags are deduplicated
// and sorted so two entries with the same tag set compare equal.
func (e *Entry) Normalize() {
	if e.Kind == "" {
		e.Kind = KindLesson
	}
	if e.Priority == "" {
		e.Priority = PriorityMedium
	}
	e.Tags = dedupeTags(e.Tags)
}

// Validate checks field constraints. Callers should Normalize first.
func (e *Entry) Validate() error {
	if e.Text == "" {
		return ErrEmptyText
	}
	if len(e.Text) > MaxTextLen {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrTextTooLong, len(e.Text), MaxTextLen)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, e.Kind)
	}
	if !e.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, e.Priority)
	}
	if e.ScoreHint != nil && (*e.ScoreHint < 0 || *e.ScoreHint > 1) {
		return fmt.Errorf("%w: %v", ErrInvalidScore, *e.ScoreHint)
	}
	return nil
}

func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
