package history

import "ragchat/internal/domain"

// TrailingSlice returns a copy of the last windowSize turns of a log that
// does not contain the pending question. A non-positive window yields nil.
func TrailingSlice(turns []domain.Turn, windowSize int) []domain.Turn {
	if windowSize <= 0 || len(turns) == 0 {
		return nil
	}
	start := len(turns) - windowSize
	if start < 0 {
		start = 0
	}
	out := make([]domain.Turn, len(turns)-start)
	copy(out, turns[start:])
	return out
}

// Window is a fixed-size view over a committed conversation log.
type Window struct {
	Size int
}

// Trailing returns the last Size turns of turns.
func (w Window) Trailing(turns []domain.Turn) []domain.Turn {
	return TrailingSlice(turns, w.Size)
}
