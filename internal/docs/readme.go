package docs

import (
	"fmt"
	"os"
	"strings"
)

// Defaults for SyncReadme.
const (
	DefaultMarker    = "<!-- BEGIN CONTENT -->"
	DefaultDelimiter = `"""`
)

// SyncReadme copies the README content after marker into the first block
// of target enclosed by delim lines, under an "# Overview" heading.
// Headings of level two and deeper are promoted one level.
func SyncReadme(readme, target, marker, delim string) error {
	if marker == "" {
		marker = DefaultMarker
	}
	if delim == "" {
		delim = DefaultDelimiter
	}

	rb, err := os.ReadFile(readme)
	if err != nil {
		return err
	}
	tb, err := os.ReadFile(target)
	if err != nil {
		return err
	}

	rlines := splitLines(string(rb))
	start := indexLine(rlines, marker, 0)
	if start < 0 {
		return fmt.Errorf("no %q line found in %s", marker, readme)
	}

	tlines := splitLines(string(tb))
	open := indexLine(tlines, delim, 0)
	if open < 0 {
		return fmt.Errorf("no %s block found in %s", delim, target)
	}
	closing := indexLine(tlines, delim, open+1)
	if closing < 0 {
		return fmt.Errorf("no end of %s block found in %s", delim, target)
	}

	out := make([]string, 0, len(tlines)+len(rlines))
	out = append(out, tlines[:open+1]...)
	out = append(out, "# Overview")
	for _, line := range rlines[start+1:] {
		if strings.HasPrefix(line, "##") {
			line = line[1:]
		}
		out = append(out, line)
	}
	out = append(out, tlines[closing:]...)

	text := strings.Join(out, "\n")
	if strings.HasSuffix(string(tb), "\n") {
		text += "\n"
	}
	return os.WriteFile(target, []byte(text), 0o644)
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func indexLine(lines []string, want string, from int) int {
	for i := from; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r") == want {
			return i
		}
	}
	return -1
}
