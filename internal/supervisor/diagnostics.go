package supervisor

import (
	"strings"

	"github.com/hamalhq/hamal/internal/logstore"
)

// errorMarkers flag the first line of a crash report in captured output.
var errorMarkers = []string{"Traceback", "Error:", "Exception:", "error:", "CRITICAL", "FATAL"}

const (
	tailLines    = 30
	excerptLines = 50
)

// crashExcerpt picks the part of the recent output that explains a crash:
// everything from the first line carrying an error marker, or the last
// tailLines lines when no marker is present. The excerpt never exceeds
// excerptLines lines.
func crashExcerpt(lines []logstore.Line) string {
	start := -1
	for i, l := range lines {
		if hasErrorMarker(l.Text) {
			start = i
			break
		}
	}
	var sel []logstore.Line
	if start >= 0 {
		sel = lines[start:]
		if len(sel) > excerptLines {
			sel = sel[:excerptLines]
		}
	} else {
		sel = lines
		if len(sel) > tailLines {
			sel = sel[len(sel)-tailLines:]
		}
	}
	texts := make([]string, 0, len(sel))
	for _, l := range sel {
		texts = append(texts, l.Text)
	}
	return strings.TrimRight(strings.Join(texts, "\n"), "\n")
}

func hasErrorMarker(s string) bool {
	for _, m := range errorMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// crashMessage combines the exit description with the stderr excerpt,
// falling back to all streams when stderr was silent.
func crashMessage(exit string, lines []logstore.Line) string {
	var stderr []logstore.Line
	for _, l := range lines {
		if l.Stream == logstore.Stderr {
			stderr = append(stderr, l)
		}
	}
	src := stderr
	if len(src) == 0 {
		src = lines
	}
	ex := crashExcerpt(src)
	if ex == "" {
		return exit
	}
	return exit + "\n" + ex
}
