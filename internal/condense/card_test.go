package condense

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCard_CapsAndNonNilBuckets(t *testing.T) {
	var many []string
	for i := 0; i < 30; i++ {
		many = append(many, strings.Repeat("x", i+1))
	}

	card := NewCard(Buckets{Facts: many, Actions: many})

	assert.Equal(t, CardSchema, card.Schema)
	assert.Len(t, card.Facts, maxFacts)
	assert.Len(t, card.Actions, maxActions)
	// Empty buckets serialize as [], not null.
	require.NotNil(t, card.Preferences)
	require.NotNil(t, card.Risks)
	assert.Empty(t, card.Preferences)
}

func TestCardRenderText(t *testing.T) {
	card := NewCard(Buckets{
		Facts:     []string{"a", "b"},
		Decisions: []string{"c"},
	})

	assert.Equal(t, "facts: a | b\ndecisions: c", card.RenderText())
}

func TestCardRenderHint_ExcludesRisksAndClips(t *testing.T) {
	long := strings.Repeat("r", 200)
	card := NewCard(Buckets{
		Facts: []string{long},
		Risks: []string{"transient warning"},
	})

	hint := card.RenderHint()
	assert.NotContains(t, hint, "transient warning")
	assert.Contains(t, hint, "Fact: "+strings.Repeat("r", itemClipRunes))
	assert.NotContains(t, hint, strings.Repeat("r", itemClipRunes+1))

	// The hint round-trips through extraction into the same bucket.
	got := Extract(CleanLines(strings.Split(hint, "\n")))
	assert.Equal(t, []string{strings.Repeat("r", itemClipRunes)}, got.Facts)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("12345678"))
	// Counted in runes, not bytes.
	assert.Equal(t, 2, EstimateTokens("一二三四五六七八"))
}

func TestClipRunes(t *testing.T) {
	assert.Equal(t, "abc", ClipRunes("abc", 10))
	assert.Equal(t, "ab", ClipRunes("abcd", 2))
	assert.Equal(t, "一二", ClipRunes("一二三", 2))
}

func TestCardRenderText_ClipsLongItems(t *testing.T) {
	long := strings.Repeat("f", 200)
	card := NewCard(Buckets{Facts: []string{long}})

	text := card.RenderText()
	assert.Contains(t, text, "facts: "+strings.Repeat("f", itemClipRunes))
	assert.NotContains(t, text, strings.Repeat("f", itemClipRunes+1))
}

func TestCondensedShorterThanOriginal(t *testing.T) {
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, "the team discussed deployment options at length again today")
	}
	lines = append(lines, "Fact: deploy target is fly.io")
	combined := strings.Join(lines, "\n")

	card := NewCard(Extract(CleanLines(lines)))
	assert.Less(t, EstimateTokens(card.RenderText()), EstimateTokens(combined))
}
