package adapter

import "strings"

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks Telegram accepts.
// It prefers newline boundaries and, for HTML, never cuts inside a tag and
// closes elements left open at a cut, reopening them in the next chunk.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			// Last newline in the window, unless it leaves a tiny chunk.
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if html && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	if html {
		out = balanceHTML(out)
	}
	return out
}

// balanceHTML carries open elements across chunk boundaries. Each chunk may
// grow by the length of the carried tags, which the limit leaves room for.
func balanceHTML(chunks []string) []string {
	var open []string // full opening tags, outermost first
	out := make([]string, len(chunks))
	for i, chunk := range chunks {
		// Closing tags at the very start were already emitted for the
		// previous chunk; drop them instead of reopening an empty element.
		for len(open) > 0 {
			closer := "</" + tagName(open[len(open)-1]) + ">"
			if !strings.HasPrefix(chunk, closer) {
				break
			}
			chunk = chunk[len(closer):]
			open = open[:len(open)-1]
		}
		prefix := strings.Join(open, "")
		open = trackTags(open, chunk)

		var b strings.Builder
		b.WriteString(prefix)
		b.WriteString(chunk)
		for j := len(open) - 1; j >= 0; j-- {
			b.WriteString("</" + tagName(open[j]) + ">")
		}
		out[i] = b.String()
	}
	return out
}

// trackTags updates the open element stack with the tags found in s.
func trackTags(open []string, s string) []string {
	for {
		lt := strings.IndexByte(s, '<')
		if lt < 0 {
			return open
		}
		gt := strings.IndexByte(s[lt:], '>')
		if gt < 0 {
			return open
		}
		tag := s[lt : lt+gt+1]
		s = s[lt+gt+1:]

		if strings.HasPrefix(tag, "</") {
			name := strings.TrimSpace(tag[2 : len(tag)-1])
			for j := len(open) - 1; j >= 0; j-- {
				if tagName(open[j]) == name {
					open = append(open[:j:j], open[j+1:]...)
					break
				}
			}
			continue
		}
		if name := tagName(tag); name != "" {
			open = append(open, tag)
		}
	}
}

// tagName returns the element name of an opening tag such as <a href="x">.
func tagName(tag string) string {
	t := strings.TrimSuffix(strings.TrimPrefix(tag, "<"), ">")
	if i := strings.IndexAny(t, " \t\n"); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}
