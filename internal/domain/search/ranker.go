package search

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/username/chatbae/internal/domain/entities"
)

// Mode selects how a search term is matched against titles
type Mode string

const (
	// ModeTokens requires every word of the term to appear in the title,
	// either as a substring or as a close fuzzy match of a title word.
	ModeTokens Mode = "tokens"
	// ModeTiered keeps titles whose tier score is exact, prefix or substring,
	// or whose whole-title edit distance is within the fuzzy cut-off.
	ModeTiered Mode = "tiered"
)

// ParseMode converts a configuration value into a Mode
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeTokens, "":
		return ModeTokens, nil
	case ModeTiered:
		return ModeTiered, nil
	default:
		return "", fmt.Errorf("unknown search mode: %q", value)
	}
}

// Tier scores, lower is more relevant
const (
	TierExact     = 0
	TierPrefix    = 1
	TierSubstring = 2
	TierFuzzyBase = 3
)

// DefaultMaxFuzzyDistance is the whole-title edit distance accepted by ModeTiered
const DefaultMaxFuzzyDistance = 3

// shortWordLength is the rune length under which a query word tolerates a
// single edit instead of two.
const shortWordLength = 5

// Score returns the relevance tier of title for term. Comparison is
// case-insensitive and the term is trimmed.
func Score(term, title string) int {
	t := strings.ToLower(strings.TrimSpace(term))
	l := strings.ToLower(title)

	switch {
	case l == t:
		return TierExact
	case strings.HasPrefix(l, t):
		return TierPrefix
	case strings.Contains(l, t):
		return TierSubstring
	default:
		return TierFuzzyBase + Distance(l, t)
	}
}

// MatchTokens reports whether every whitespace-separated word of term either
// occurs in title or fuzzy-matches one of the title's words.
func MatchTokens(term, title string) bool {
	words := strings.Fields(strings.ToLower(term))
	if len(words) == 0 {
		return true
	}

	lowerTitle := strings.ToLower(title)
	titleWords := strings.Fields(lowerTitle)

	for _, w := range words {
		if strings.Contains(lowerTitle, w) {
			continue
		}
		if !fuzzyWordMatch(w, titleWords) {
			return false
		}
	}
	return true
}

func fuzzyWordMatch(word string, candidates []string) bool {
	threshold := fuzzyThreshold(word)
	for _, c := range candidates {
		if Distance(word, c) <= threshold {
			return true
		}
	}
	return false
}

func fuzzyThreshold(word string) int {
	if utf8.RuneCountInString(word) < shortWordLength {
		return 1
	}
	return 2
}

// ViewOptions controls the ordering of the conversation list
type ViewOptions struct {
	SortOrder   entities.SortOrder
	GroupPinned bool
}

// Ranker filters and orders conversations for display. It never mutates the
// conversations it is given.
type Ranker struct {
	mode             Mode
	maxFuzzyDistance int
}

// NewRanker creates a ranker. A negative distance falls back to the default.
func NewRanker(mode Mode, maxFuzzyDistance int) *Ranker {
	if mode == "" {
		mode = ModeTokens
	}
	if maxFuzzyDistance < 0 {
		maxFuzzyDistance = DefaultMaxFuzzyDistance
	}
	return &Ranker{
		mode:             mode,
		maxFuzzyDistance: maxFuzzyDistance,
	}
}

// Mode returns the matching mode in use
func (r *Ranker) Mode() Mode {
	return r.mode
}

// Matches reports whether title is kept for term in the ranker's mode
func (r *Ranker) Matches(term, title string) bool {
	if strings.TrimSpace(term) == "" {
		return true
	}
	if r.mode == ModeTiered {
		score := Score(term, title)
		return score <= TierSubstring || score-TierFuzzyBase <= r.maxFuzzyDistance
	}
	return MatchTokens(term, title)
}

type candidate struct {
	conv     entities.Conversation
	position int
	score    int
}

// View returns the conversations to display for term. A blank term skips
// ranking and yields the natural order: pinned first when grouping, each
// bucket sorted by the sort preference. Otherwise non-matching conversations
// are dropped and the rest are ordered by score, newest first on ties.
func (r *Ranker) View(term string, conversations []entities.Conversation, opts ViewOptions) []entities.Conversation {
	blank := strings.TrimSpace(term) == ""

	candidates := make([]candidate, 0, len(conversations))
	for i, c := range conversations {
		if !blank && !r.Matches(term, c.Title) {
			continue
		}
		cand := candidate{conv: c, position: i}
		if !blank {
			cand.score = Score(term, c.Title)
		}
		candidates = append(candidates, cand)
	}

	if blank {
		sortNatural(candidates, opts.SortOrder)
	} else {
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.score != b.score {
				return a.score < b.score
			}
			if a.conv.CreatedAt != b.conv.CreatedAt {
				return a.conv.CreatedAt > b.conv.CreatedAt
			}
			return a.position < b.position
		})
	}

	if opts.GroupPinned {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].conv.IsPinned && !candidates[j].conv.IsPinned
		})
	}

	out := make([]entities.Conversation, len(candidates))
	for i, c := range candidates {
		out[i] = c.conv
	}
	return out
}

func sortNatural(candidates []candidate, order entities.SortOrder) {
	if order == entities.SortAlphabetical {
		// Collators keep scratch buffers and are not safe to share.
		col := collate.New(language.Und, collate.IgnoreCase, collate.IgnoreDiacritics, collate.Numeric)
		sort.SliceStable(candidates, func(i, j int) bool {
			return col.CompareString(candidates[i].conv.Title, candidates[j].conv.Title) < 0
		})
		return
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].conv.LastActivity() > candidates[j].conv.LastActivity()
	})
}
