package history

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff renders a unified diff between two document content strings,
// a richer human-readable change summary than the per-operation describe()
// in history.go.
func UnifiedDiff(before, after, fromLabel, toLabel string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: fromLabel,
		ToFile:   toLabel,
		Context:  2,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// SummarizeDiff returns a short "+N/-M" style summary line (counting added
// and removed diff lines) instead of the full unified diff.
func SummarizeDiff(before, after string) string {
	diff, err := UnifiedDiff(before, after, "before", "after")
	if err != nil || diff == "" {
		return "no change"
	}
	added, removed := 0, 0
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			continue
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return "+" + itoa(added) + "/-" + itoa(removed)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
