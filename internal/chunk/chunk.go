// Package chunk splits replies into segments that fit a transport message.
package chunk

// DefaultLimit is the Telegram per-message character limit.
const DefaultLimit = 4096

// Split cuts text into contiguous pieces of at most limit characters
// (Unicode code points). Joining the pieces yields text. Empty text yields no
// pieces; a non-positive limit yields text as a single piece.
func Split(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}

	chunks := make([]string, 0, len(text)/limit+1)
	start, n := 0, 0
	for i := range text {
		if n == limit {
			chunks = append(chunks, text[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(chunks, text[start:])
}
