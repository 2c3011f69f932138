package renderer

import "strings"

// Library is the only module scripts may import.
const Library = "manim"

const fence = "```"

// Sanitize prepares model output for execution. A leading markdown fence is
// removed together with the last closing fence, then import lines that do not
// reference Library are dropped. Everything else passes through unchanged;
// this is an import allow-list, not a sandbox.
func Sanitize(code string) string {
	lines := strings.Split(code, "\n")
	lines = stripFence(lines)

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if allowedLine(line) {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// stripFence drops the opening fence line and the last line that starts a
// fence, if the text begins with one.
func stripFence(lines []string) []string {
	if len(lines) == 0 || !strings.HasPrefix(lines[0], fence) {
		return lines
	}
	body := lines[1:]
	for i := len(body) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(body[i]), fence) {
			return append(body[:i:i], body[i+1:]...)
		}
	}
	return body
}

func allowedLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "import "):
		return strings.Contains(trimmed, Library)
	case strings.HasPrefix(trimmed, "from "):
		return strings.HasPrefix(trimmed, "from "+Library)
	default:
		return true
	}
}
