package ingest

import "strings"

const paragraphSep = "\n\n"

// Chunk splits text into retrieval-sized segments. Paragraphs (blank-line
// separated blocks) are greedily merged while the running chunk stays within
// target runes. A paragraph longer than max runes is hard-split into windows
// of max runes stepped by max-overlap, bypassing merging. Regular chunks
// carry the last overlap runes of the previously emitted chunk as a head, so
// adjacent chunks share context. All counts are rune counts. Empty or
// whitespace-only input yields no chunks. Assumes overlap < target < max.
func Chunk(text string, target, max, overlap int) []string {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []string
	var current []rune
	for _, para := range paragraphs {
		p := []rune(para)

		if len(p) > max {
			if len(current) > 0 {
				chunks = append(chunks, string(current))
				current = nil
			}
			chunks = append(chunks, hardSplit(p, max, overlap)...)
			continue
		}

		if len(current) == 0 {
			current = p
			continue
		}

		if len(current)+len(p) <= target {
			current = append(current, []rune(paragraphSep)...)
			current = append(current, p...)
			continue
		}

		chunks = append(chunks, string(current))
		tail := current[tailStart(len(current), overlap):]
		next := make([]rune, 0, len(tail)+len(paragraphSep)+len(p))
		next = append(next, tail...)
		next = append(next, []rune(paragraphSep)...)
		next = append(next, p...)
		current = next
	}
	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}

// splitParagraphs splits text on blank lines and drops empty paragraphs.
func splitParagraphs(text string) []string {
	var paragraphs []string
	var lines []string
	flush := func() {
		if len(lines) == 0 {
			return
		}
		p := strings.TrimSpace(strings.Join(lines, "\n"))
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
		lines = lines[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
		} else {
			lines = append(lines, line)
		}
	}
	flush()
	return paragraphs
}

// hardSplit windows an oversized paragraph into max-rune pieces stepped by
// max-overlap. Every piece is exactly max runes except possibly the last.
func hardSplit(p []rune, max, overlap int) []string {
	step := max - overlap
	if step <= 0 {
		step = max
	}
	var out []string
	for start := 0; start < len(p); start += step {
		end := start + max
		if end > len(p) {
			end = len(p)
		}
		out = append(out, string(p[start:end]))
		if end == len(p) {
			break
		}
	}
	return out
}

func tailStart(length, overlap int) int {
	if overlap >= length {
		return 0
	}
	return length - overlap
}
