package messaging

import (
	"strings"
	"unicode"
)

// DefaultMaxMessageLength is the chunk size used when a caller asks for
// splitting without naming a limit.
const DefaultMaxMessageLength = 4096

// SplitMessage breaks text into chunks of at most maxLength runes.
//
// Break points are tried in order: the last newline at or before maxLength,
// then the last space, then a hard cut at maxLength. A newline or space that
// falls before maxLength/2 is rejected so chunks do not get too short. The
// remainder has its leading whitespace trimmed before the next iteration.
//
// A non-positive maxLength disables splitting. Empty text yields no chunks.
func SplitMessage(text string, maxLength int) []string {
	if text == "" {
		return nil
	}
	if maxLength <= 0 {
		return []string{text}
	}

	var chunks []string
	remaining := []rune(text)
	for len(remaining) > 0 {
		if len(remaining) <= maxLength {
			chunks = append(chunks, string(remaining))
			break
		}

		bp := lastIndexAtOrBefore(remaining, '\n', maxLength)
		if bp == -1 || bp*2 < maxLength {
			bp = lastIndexAtOrBefore(remaining, ' ', maxLength)
		}
		if bp == -1 || bp*2 < maxLength {
			bp = maxLength
		}

		chunks = append(chunks, string(remaining[:bp]))
		remaining = trimLeftSpace(remaining[bp:])
	}
	return chunks
}

// lastIndexAtOrBefore returns the index of the last r in s at a position <= limit.
func lastIndexAtOrBefore(s []rune, r rune, limit int) int {
	if limit >= len(s) {
		limit = len(s) - 1
	}
	for i := limit; i >= 0; i-- {
		if s[i] == r {
			return i
		}
	}
	return -1
}

func trimLeftSpace(s []rune) []rune {
	i := 0
	for i < len(s) && unicode.IsSpace(s[i]) {
		i++
	}
	return s[i:]
}

// JoinChunks reassembles chunks with a single separating space. It is the
// inverse of SplitMessage up to whitespace normalisation at chunk borders.
func JoinChunks(chunks []string) string {
	return strings.Join(chunks, " ")
}
