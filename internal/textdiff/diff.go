package textdiff

// Diff summarizes the single contiguous region that changed between two
// content values.
type Diff struct {
	Added   string
	Removed string
}

// IsEmpty reports whether the diff carries no change.
func (d Diff) IsEmpty() bool {
	return d.Added == "" && d.Removed == ""
}

// Compute returns the added and removed fragments between previous and next.
//
// The algorithm trims the longest common prefix, then the longest common
// suffix that does not cross back past the prefix boundary, and reports the
// remaining middle of each input. It isolates exactly one changed region,
// which is sufficient to summarize a single autosave transition; it is not a
// general multi-hunk diff.
func Compute(previous, next string) Diff {
	if previous == next {
		return Diff{}
	}

	previousRunes := []rune(previous)
	nextRunes := []rune(next)

	shorter := len(previousRunes)
	if len(nextRunes) < shorter {
		shorter = len(nextRunes)
	}

	start := 0
	for start < shorter && previousRunes[start] == nextRunes[start] {
		start++
	}

	previousEnd := len(previousRunes)
	nextEnd := len(nextRunes)
	for previousEnd > start && nextEnd > start && previousRunes[previousEnd-1] == nextRunes[nextEnd-1] {
		previousEnd--
		nextEnd--
	}

	return Diff{
		Added:   string(nextRunes[start:nextEnd]),
		Removed: string(previousRunes[start:previousEnd]),
	}
}
