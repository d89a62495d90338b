package batch

import (
	"fmt"
	"strings"

	"codes-bot/internal/domain"
)

// Summary holds the totals of one finished batch.
type Summary struct {
	Total     int
	Succeeded int
}

func Summarize(outcomes []domain.Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		if o.Success {
			s.Succeeded++
		}
	}
	return s
}

func (s Summary) Failed() int {
	return s.Total - s.Succeeded
}

// NeedsMessage reports whether the batch warrants a group message. A single
// file already got its own reply.
func (s Summary) NeedsMessage() bool {
	return s.Total > 1
}

func (s Summary) Text() string {
	lines := []string{
		fmt.Sprintf("Processing complete: %d file(s)", s.Total),
		fmt.Sprintf("Succeeded: %d", s.Succeeded),
	}
	if s.Failed() > 0 {
		lines = append(lines, fmt.Sprintf("Failed: %d", s.Failed()))
	}
	return strings.Join(lines, "\n")
}
