package session

import (
	"time"

	"github.com/velickovic/clubchat/internal/domain"
)

// groupWindow is the largest author-to-author gap that still merges two
// consecutive messages into one visual group. The comparison is strict:
// a gap of exactly the window breaks the group.
const groupWindow = 60 * time.Second

// GroupingHint tells the renderer whether to suppress the author header
// (GroupedWithPrevious) and whether to merge bubble corners downward
// (ConnectsWithNext).
type GroupingHint struct {
	GroupedWithPrevious bool
	ConnectsWithNext    bool
}

// GroupingHints derives display adjacency for an ordered timeline. Two
// consecutive messages group when they share an author, sit under the
// window apart, and fall on the same calendar day; a date boundary always
// breaks the group regardless of gap. Pure function of its input.
func GroupingHints(ordered []domain.Message) []GroupingHint {
	hints := make([]GroupingHint, len(ordered))
	for i := 1; i < len(ordered); i++ {
		if groupsWith(&ordered[i-1], &ordered[i]) {
			hints[i].GroupedWithPrevious = true
			hints[i-1].ConnectsWithNext = true
		}
	}
	return hints
}

func groupsWith(prev, next *domain.Message) bool {
	if prev.AuthorID != next.AuthorID {
		return false
	}
	if next.CreatedAt.Sub(prev.CreatedAt) >= groupWindow {
		return false
	}
	return sameDay(prev.CreatedAt, next.CreatedAt)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
