// Package classifier decides whether a feed DOM fragment is a primary post.
//
// Feed markup is unstable and unlabeled, so the decision is a multi-signal
// threshold over features extracted by the browser layer rather than a single
// brittle selector. The scoring itself is pure and browser-free.
package classifier

// Exclusion reasons reported by the DOM layer. Any exclusion disqualifies a
// candidate regardless of how many positive signals it carries.
const (
	ExclusionDialog      = "dialog_container"
	ExclusionStory       = "story_container"
	ExclusionReel        = "reel_container"
	ExclusionCommentRole = "comment_label"
	ExclusionCommentLink = "comment_link"
)

// MinTextLength is the minimum content-text length counted as a signal.
const MinTextLength = 5

// minSignals is the number of positive signals required to qualify.
const minSignals = 2

// Features are the classification signals for one candidate node.
type Features struct {
	// Toolbar reports an interaction toolbar or like-style action control.
	Toolbar bool
	// Timestamp reports a clickable timestamp element.
	Timestamp bool
	// TextLength is the length of the longest text found among the
	// prioritized content selectors.
	TextLength int
	// Exclusions holds the reasons this node cannot be a primary post.
	Exclusions []string
}

// Signals counts how many positive signals the features carry.
func (f Features) Signals() int {
	n := 0
	if f.Toolbar {
		n++
	}
	if f.Timestamp {
		n++
	}
	if f.TextLength > MinTextLength {
		n++
	}
	return n
}

// IsPost reports whether the candidate qualifies as a primary feed post:
// at least two of {toolbar, timestamp, text} present and no exclusions.
func IsPost(f Features) bool {
	if len(f.Exclusions) > 0 {
		return false
	}
	return f.Signals() >= minSignals
}
