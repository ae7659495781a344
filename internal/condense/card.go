package condense

import (
	"strings"
	"unicode/utf8"
)

// Schema tags persisted with every summary. Consumers must check these
// before interpreting bucket fields and treat unknown tags as opaque text.
const (
	CardSchema     = "memos.memory_card.v2"
	SummaryVersion = "memos.session_summary.v1"
)

// Per-bucket caps. Cards are meant to stay small enough to replay in a
// prompt, so each bucket keeps only its first N entries.
const (
	maxFacts       = 8
	maxPreferences = 6
	maxConstraints = 6
	maxDecisions   = 6
	maxRisks       = 8
	maxActions     = 20
)

// excerptRunes is how much of the combined raw input is kept as a
// human-debugging excerpt on large cards.
const excerptRunes = 280

// itemClipRunes bounds every rendered bucket item, in the plain-text
// rendering and in carry-forward hints alike. Retained long lines must not
// let a rendering outgrow the raw context it condenses.
const itemClipRunes = 80

// Card is the structured condensation payload. Bucket contents are
// deduplicated, free of empty strings, and capped.
type Card struct {
	Schema      string   `json:"schema"`
	Facts       []string `json:"facts"`
	Preferences []string `json:"preferences"`
	Constraints []string `json:"constraints"`
	Decisions   []string `json:"decisions"`
	Risks       []string `json:"risks"`
	Actions     []string `json:"actions"`
	RawExcerpt  string   `json:"raw_excerpt,omitempty"`
}

// NewCard builds a capped card from extracted buckets.
func NewCard(b Buckets) Card {
	return Card{
		Schema:      CardSchema,
		Facts:       capped(b.Facts, maxFacts),
		Preferences: capped(b.Preferences, maxPreferences),
		Constraints: capped(b.Constraints, maxConstraints),
		Decisions:   capped(b.Decisions, maxDecisions),
		Risks:       capped(b.Risks, maxRisks),
		Actions:     capped(b.Actions, maxActions),
	}
}

// RenderText renders the card as plain working-memory text with each item
// clipped to itemClipRunes. Token accounting uses this rendering, not the
// JSON serialization, so structural overhead cannot inflate the compression
// ratio.
func (c Card) RenderText() string {
	var b strings.Builder
	writeBucket(&b, "facts", c.Facts)
	writeBucket(&b, "preferences", c.Preferences)
	writeBucket(&b, "constraints", c.Constraints)
	writeBucket(&b, "decisions", c.Decisions)
	writeBucket(&b, "risks", c.Risks)
	writeBucket(&b, "actions", c.Actions)
	return strings.TrimRight(b.String(), "\n")
}

// RenderHint renders the card as a compact carry-forward hint for the next
// condensation round. Each item goes out as one labeled line so the next
// extraction pass files it back into the same bucket; action lines are raw
// commands and re-match on their own. Risks are intentionally excluded so
// transient warnings do not accumulate without bound.
func (c Card) RenderHint() string {
	var b strings.Builder
	writeLabeled(&b, "Fact", c.Facts)
	writeLabeled(&b, "Preference", c.Preferences)
	writeLabeled(&b, "Constraint", c.Constraints)
	writeLabeled(&b, "Decision", c.Decisions)
	for _, s := range clipAll(c.Actions) {
		b.WriteString(s)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeLabeled(b *strings.Builder, label string, items []string) {
	for _, s := range clipAll(items) {
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(s)
		b.WriteString("\n")
	}
}

func writeBucket(b *strings.Builder, name string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(strings.Join(clipAll(items), " | "))
	b.WriteString("\n")
}

func clipAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		out = append(out, ClipRunes(s, itemClipRunes))
	}
	return out
}

func capped(items []string, max int) []string {
	if items == nil {
		return []string{}
	}
	if len(items) > max {
		return items[:max]
	}
	return items
}

// EstimateTokens is the deterministic token estimator used for compression
// reporting: rune count divided by 4, floored, minimum 1.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// ClipRunes truncates s to at most n runes.
func ClipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
