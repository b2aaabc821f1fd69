package search

import (
	"context"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// regexFinder compiles pattern with .NET syntax. Matches are leftmost and
// do not overlap.
func regexFinder(pattern string, ignoreCase bool, timeout time.Duration) (finder, error) {
	var opts regexp2.RegexOptions
	if ignoreCase {
		opts |= regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		re.MatchTimeout = timeout
	}
	return func(ctx context.Context, text string, emit func(start, end int) bool) error {
		// regexp2 reports positions in runes
		offsets := runeOffsets(text)
		m, err := re.FindStringMatch(text)
		for m != nil && err == nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			start, end := offsets[m.Index], offsets[m.Index+m.Length]
			if !emit(start, end) {
				return nil
			}
			m, err = re.FindNextMatch(m)
		}
		if err != nil {
			// the only match-time failure regexp2 reports is its timeout
			return fmt.Errorf("%w: %v", ErrSpecTimeout, err)
		}
		return nil
	}, nil
}

func runeOffsets(s string) []int {
	out := make([]int, 0, len(s)+1)
	for i := range s {
		out = append(out, i)
	}
	return append(out, len(s))
}
