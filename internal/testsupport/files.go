package testsupport

import (
	"strings"
	"testing"
)

// DocumentText builds deterministic prose-like text with exactly n runes.
// Tests use it to exercise the splitter and content store without shipping
// fixture files.
func DocumentText(t testing.TB, n int) string {
	t.Helper()

	if n <= 0 {
		return ""
	}
	const pattern = "the quick brown fox jumps over the lazy dog. "
	var b strings.Builder
	b.Grow(n)
	for b.Len() < n {
		remaining := n - b.Len()
		if remaining >= len(pattern) {
			b.WriteString(pattern)
		} else {
			b.WriteString(pattern[:remaining])
		}
	}
	return b.String()
}
