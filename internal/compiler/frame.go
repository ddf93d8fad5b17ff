package compiler

import (
	"fmt"
	"strings"
)

// excerptContext is how many lines to show around the failing one.
const excerptContext = 2

// excerpt renders a few source lines around a 1-based position with a caret
// under the failing column, the way humans expect compiler output to look.
// Returns "" when the position is outside the source.
func excerpt(source string, line, column int) string {
	lines := strings.Split(source, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}

	start := line - excerptContext
	if start < 1 {
		start = 1
	}
	end := line + excerptContext
	if end > len(lines) {
		end = len(lines)
	}

	width := len(fmt.Sprintf("%d", end))
	var b strings.Builder
	for n := start; n <= end; n++ {
		marker := "  "
		if n == line {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%*d | %s\n", marker, width, n, lines[n-1])
		if n == line && column >= 1 {
			fmt.Fprintf(&b, "  %*s | %s^\n", width, "", strings.Repeat(" ", column-1))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
