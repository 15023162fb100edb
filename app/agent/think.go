package agent

import "strings"

const (
	openThink    = "<think>"
	openThinking = "<thinking>"
	// bytes kept while inside a block, enough to catch a split closing tag
	closeTail = 64
)

// thinkStripper removes <think>...</think> and <thinking>...</thinking>
// blocks from a stream of fragments, including tags split across fragments.
type thinkStripper struct {
	buf   string
	inTag string
}

func (s *thinkStripper) Feed(text string) string {
	if text == "" {
		return ""
	}
	s.buf += text

	var out strings.Builder
	for s.buf != "" {
		if s.inTag != "" {
			end := "</" + s.inTag + ">"
			i := strings.Index(s.buf, end)
			if i < 0 {
				if len(s.buf) > closeTail {
					s.buf = s.buf[len(s.buf)-closeTail:]
				}
				return out.String()
			}
			s.buf = s.buf[i+len(end):]
			s.inTag = ""
			continue
		}

		start, tag := findOpenTag(s.buf)
		if start < 0 {
			keep := partialOpenTag(s.buf)
			out.WriteString(s.buf[:len(s.buf)-keep])
			s.buf = s.buf[len(s.buf)-keep:]
			break
		}
		out.WriteString(s.buf[:start])
		s.buf = s.buf[start+len(tag):]
		s.inTag = strings.Trim(tag, "<>")
	}
	return out.String()
}

// Flush returns what is still buffered. An unterminated block is dropped.
func (s *thinkStripper) Flush() string {
	out := s.buf
	s.buf = ""
	if s.inTag != "" {
		return ""
	}
	return out
}

func findOpenTag(s string) (int, string) {
	i1 := strings.Index(s, openThink)
	i2 := strings.Index(s, openThinking)
	switch {
	case i1 < 0 && i2 < 0:
		return -1, ""
	case i2 < 0 || (i1 >= 0 && i1 < i2):
		return i1, openThink
	default:
		return i2, openThinking
	}
}

// partialOpenTag returns the length of the longest suffix of s that could
// still grow into an opening tag.
func partialOpenTag(s string) int {
	for k := min(len(s), len(openThinking)-1); k > 0; k-- {
		suffix := s[len(s)-k:]
		if strings.HasPrefix(openThinking, suffix) || strings.HasPrefix(openThink, suffix) {
			return k
		}
	}
	return 0
}
