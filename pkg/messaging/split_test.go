package messaging

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		maxLength int
		want      []string
	}{
		{"fits", "abcde", 5, []string{"abcde"}},
		{"empty", "", 5, nil},
		{"empty without limit", "", 0, nil},
		{"no limit", "abcdefgh", 0, []string{"abcdefgh"}},
		{"newline after midpoint", "abc\ndef ghi", 5, []string{"abc", "def", "ghi"}},
		{"newline before midpoint falls back to space", "a\nb c d e f", 5, []string{"a\nb c", "d e f"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"space before midpoint is rejected", "a bcdefghij", 6, []string{"a bcde", "fghij"}},
		{"runes not bytes", "ééééé", 2, []string{"éé", "éé", "é"}},
		{"leading whitespace trimmed", "abcd   \n\n  efgh", 4, []string{"abcd", "efgh"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitMessage(tt.text, tt.maxLength))
		})
	}
}

func TestSplitMessage_ChunksRespectLimitAndPreserveContent(t *testing.T) {
	inputs := []string{
		strings.Repeat("lorem ipsum dolor sit amet ", 40),
		strings.Repeat("line one\nline two is a bit longer\n", 25),
		strings.Repeat("x", 1000),
		"short",
		"mixed 日本語のテキスト and ascii\nwith newlines\n\nand blank lines",
	}

	for _, in := range inputs {
		for _, limit := range []int{7, 16, 50, 200} {
			chunks := SplitMessage(in, limit)
			for _, c := range chunks {
				if n := utf8.RuneCountInString(c); n > limit {
					t.Fatalf("chunk of %d runes exceeds limit %d: %q", n, limit, c)
				}
			}
			assert.Equal(t, squash(in), squash(JoinChunks(chunks)), "limit %d", limit)
		}
	}
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), "")
}
