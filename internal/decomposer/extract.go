package decomposer

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(\\w*)\\s*\\n(.+?)\\n```")

var errNoJSON = errors.New("no JSON object found in output")

// extractJSON pulls the first JSON object out of model output. Fenced blocks
// tagged json (or untagged) win over bare objects in prose.
func extractJSON(output string) (string, error) {
	for _, m := range fencedBlock.FindAllStringSubmatch(output, -1) {
		lang := strings.ToLower(m[1])
		body := strings.TrimSpace(m[2])
		if lang != "" && lang != "json" {
			continue
		}
		if strings.HasPrefix(body, "{") && json.Valid([]byte(body)) {
			return body, nil
		}
	}

	for start := strings.IndexByte(output, '{'); start >= 0; {
		if obj := matchBraces(output[start:]); obj != "" && json.Valid([]byte(obj)) {
			return obj, nil
		}
		next := strings.IndexByte(output[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", errNoJSON
}

// matchBraces returns the balanced object starting at s[0], honouring
// string literals and escapes, or "" when unbalanced.
func matchBraces(s string) string {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
