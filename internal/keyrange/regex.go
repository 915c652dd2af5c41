package keyrange

import (
	"strings"
	"unicode/utf8"
)

// SimpleRegex extracts the literal prefix every match of pattern must start
// with. purePrefix is true when the pattern is nothing but that anchored
// literal, so the prefix range matches exactly.
//
// Only patterns anchored with ^ or \A qualify. Flags other than m (allowed
// with \A only) and x disable extraction, as does an alternation outside
// any group, wherever it appears in the pattern.
// A quantifier that can make the previous character optional (*, ?, {)
// drops that character from the prefix.
func SimpleRegex(pattern, flags string) (prefix string, purePrefix bool) {
	multilineOK := false
	switch {
	case strings.HasPrefix(pattern, `\A`):
		multilineOK = true
		pattern = pattern[2:]
	case strings.HasPrefix(pattern, "^"):
		pattern = pattern[1:]
	default:
		return "", false
	}

	extended := false
	for _, f := range flags {
		switch f {
		case 'm':
			if !multilineOK {
				return "", false
			}
		case 'x':
			extended = true
		default:
			return "", false
		}
	}
	if hasTopLevelAlternation(pattern) {
		return "", false
	}

	var b strings.Builder
	for i := 0; i < len(pattern); {
		c := pattern[i]
		i++
		switch {
		case c == '*' || c == '?' || c == '{':
			return dropLastRune(b.String()), false
		case c == '|':
			return "", false
		case c == '\\':
			if i >= len(pattern) {
				return b.String(), false
			}
			c = pattern[i]
			i++
			if c == 'Q' {
				// \Q...\E quotes everything inside.
				for i < len(pattern) {
					if pattern[i] == '\\' && i+1 < len(pattern) && pattern[i+1] == 'E' {
						i += 2
						break
					}
					b.WriteByte(pattern[i])
					i++
				}
				continue
			}
			if isASCIIAlnum(c) {
				// Character classes and back references.
				return b.String(), false
			}
			b.WriteByte(c)
		case strings.IndexByte("^$.[()+", c) >= 0:
			return b.String(), false
		case extended && c == '#':
			return b.String(), false
		case extended && isRegexSpace(c):
			continue
		default:
			b.WriteByte(c)
		}
	}

	prefix = b.String()
	return prefix, prefix != ""
}

// SimpleRegexEnd returns the smallest string greater than every string that
// starts with prefix. ok is false when no such string exists (prefix empty
// or made only of 0xFF bytes); callers then use the string type maximum.
func SimpleRegexEnd(prefix string) (end string, ok bool) {
	b := []byte(prefix)
	for len(b) > 0 {
		last := len(b) - 1
		if b[last] < 0xFF {
			b[last]++
			return string(b), true
		}
		b = b[:last]
	}
	return "", false
}

// hasTopLevelAlternation reports whether pattern has a | outside every
// group, character class, escape and \Q...\E quote. Such a | lets a match
// start with something other than the literal prefix.
func hasTopLevelAlternation(pattern string) bool {
	depth := 0
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
			if i < len(pattern) && pattern[i] == 'Q' {
				end := strings.Index(pattern[i:], `\E`)
				if end < 0 {
					return false
				}
				i += end + 1
			}
		case '[':
			i = classEnd(pattern, i)
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case '|':
			if depth == 0 {
				return true
			}
		}
	}
	return false
}

// classEnd returns the index of the ] closing the character class opened
// at start, or the last index when the class is unterminated.
func classEnd(pattern string, start int) int {
	i := start + 1
	if i < len(pattern) && pattern[i] == '^' {
		i++
	}
	if i < len(pattern) && pattern[i] == ']' {
		i++
	}
	for ; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case ']':
			return i
		}
	}
	return len(pattern) - 1
}

func dropLastRune(s string) string {
	if s == "" {
		return s
	}
	_, size := utf8.DecodeLastRuneInString(s)
	return s[:len(s)-size]
}

func isASCIIAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isRegexSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
