// Package subword segments text into subword units before translation and
// joins them back afterwards.
package subword

import "strings"

// Separator marks a subword that continues into the next token.
const Separator = "@@"

// Codec applies a subword segmentation per line. Implementations hold no
// cross-line state and are safe for concurrent use.
type Codec interface {
	Encode(lines []string) []string
	Decode(lines []string) []string
}

// Identity is a Codec for models that consume whole words.
type Identity struct{}

// Encode collapses whitespace and otherwise leaves lines unchanged.
func (Identity) Encode(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.Join(strings.Fields(l), " ")
	}
	return out
}

// Decode removes any continuation markers.
func (Identity) Decode(lines []string) []string {
	return DecodeLines(lines)
}

// DecodeLines joins subwords back into words: every "@@ " is dropped, as is
// a dangling "@@" at the end of a line. Input text that itself ends in "@@"
// loses it, so "a@@" decodes to "a"; the result is stable under another
// encode/decode pass.
func DecodeLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = DecodeLine(l)
	}
	return out
}

// DecodeLine is DecodeLines for a single line.
func DecodeLine(line string) string {
	line = strings.ReplaceAll(line, Separator+" ", "")
	line = strings.TrimSuffix(line, Separator)
	return line
}
