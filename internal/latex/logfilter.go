package latex

import (
	"regexp"
	"strings"
)

// ansiEscape matches terminal escape sequences some TeX engines emit when
// they mistake the log sink for a terminal.
var ansiEscape = regexp.MustCompile(`(?i)\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// sourceLineRef matches the "l.<n>" markers TeX prints under an error to
// point at the offending template line.
var sourceLineRef = regexp.MustCompile(`^l\.\d+`)

// FilterLog reduces a raw TeX build log to the lines a template author needs
// to diagnose a failed run: error blocks ("!" up to the next blank line),
// source line markers, warnings, and bad box reports. Escape sequences are
// stripped first. When no line qualifies the stripped log is returned
// unchanged rather than hiding an unrecognized failure.
func FilterLog(raw []byte) string {
	text := ansiEscape.ReplaceAllString(string(raw), "")

	var kept []string
	inError := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \r")

		if inError {
			if line == "" {
				inError = false
				continue
			}
			kept = append(kept, line)
			continue
		}

		switch {
		case strings.HasPrefix(line, "!"):
			inError = true
			kept = append(kept, line)
		case sourceLineRef.MatchString(line):
			kept = append(kept, line)
		case strings.Contains(line, "Warning:") || strings.Contains(line, "Error:"):
			kept = append(kept, line)
		case strings.HasPrefix(line, `Overfull \`) || strings.HasPrefix(line, `Underfull \`):
			kept = append(kept, line)
		}
	}

	if len(kept) == 0 {
		return strings.TrimSpace(text)
	}
	return strings.Join(kept, "\n") + "\n"
}
