package ai

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[ \t]*\r?\n(.*?)```")

// ExtractPython returns the program text from a model reply. The last
// python-tagged fence wins, then the last untagged fence, then the whole
// reply when it has no fences at all.
func ExtractPython(reply string) string {
	matches := fenceRe.FindAllStringSubmatch(reply, -1)
	var untagged string
	for i := len(matches) - 1; i >= 0; i-- {
		switch strings.ToLower(matches[i][1]) {
		case "python", "py", "python3":
			return strings.TrimSpace(matches[i][2])
		case "":
			if untagged == "" {
				untagged = matches[i][2]
			}
		}
	}
	if untagged != "" {
		return strings.TrimSpace(untagged)
	}
	if len(matches) > 0 {
		return ""
	}
	s := strings.TrimSpace(reply)
	// unterminated fence: drop the opening line
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = ""
		}
	}
	return strings.TrimSpace(s)
}

// stripJSONFences removes markdown fences and any prose around the outermost
// JSON object.
func stripJSONFences(reply string) string {
	s := strings.TrimSpace(reply)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[2])
	}
	if strings.HasPrefix(s, "{") {
		return s
	}
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
