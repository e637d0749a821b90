package llm

import (
	"fmt"
	"strings"
)

// ExtractJSONObject returns the first balanced JSON object in s.
// Models occasionally wrap structured output in prose or code fences;
// callers treat any deviation beyond that as failure.
func ExtractJSONObject(s string) (string, error) {
	return extractBalanced(s, '{', '}')
}

// ExtractJSONArray returns the first balanced JSON array in s.
func ExtractJSONArray(s string) (string, error) {
	return extractBalanced(s, '[', ']')
}

func extractBalanced(s string, open, close byte) (string, error) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", fmt.Errorf("no %q found in response", string(open))
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced %q in response", string(open))
}
