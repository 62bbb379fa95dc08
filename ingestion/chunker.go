package ingestion

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ChunkText splits text into overlapping segments of at most size characters.
// It prefers to cut at a sentence terminator, then at a space, but only when
// the boundary lies past the chunk's midpoint so chunks never collapse to
// fragments. Pure function of its inputs: consecutive chunks share up to
// overlap characters, no returned chunk is empty, and every character of the
// input is covered by at least one chunk.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	if len(text) <= size {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	chunks := make([]string, 0, len(text)/size+1)
	start := 0

	for start < len(text) {
		end := start + size
		if end < len(text) {
			window := text[start:end]
			if dot := strings.LastIndexByte(window, '.'); dot != -1 && dot > size/2 {
				end = start + dot + 1
			} else if space := strings.LastIndexByte(window, ' '); space != -1 && space > size/2 {
				end = start + space
			} else {
				// Raw cut: back off so a multi-byte rune is never split.
				for end > start && !utf8.RuneStart(text[end]) {
					end--
				}
			}
		}

		sliceEnd := end
		if sliceEnd > len(text) {
			sliceEnd = len(text)
		}
		if chunk := strings.TrimSpace(text[start:sliceEnd]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		// Advance from the pre-clamp end so the final chunk is emitted once.
		next := end - overlap
		if next <= start {
			// Guard against a stall when overlap is close to size.
			next = end
		}
		for next < len(text) && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}

	return chunks
}
