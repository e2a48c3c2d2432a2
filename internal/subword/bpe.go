package subword

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
)

const endOfWord = "</w>"

type symbolPair struct {
	left, right string
}

// BPE applies byte-pair-encoding merges learned offline, in the codes file
// format written by subword-nmt (optionally headed by "#version: 0.2").
type BPE struct {
	ranks   map[symbolPair]int
	version string
	cache   sync.Map // word -> []string
}

var _ Codec = (*BPE)(nil)

// LoadBPE reads a codes file from disk.
func LoadBPE(path string) (*BPE, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bpe codes: %w", err)
	}
	defer f.Close()

	bpe, err := ParseBPE(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bpe codes %s: %w", path, err)
	}
	return bpe, nil
}

// ParseBPE reads merge operations, one "left right" pair per line, in
// priority order.
func ParseBPE(r io.Reader) (*BPE, error) {
	b := &BPE{
		ranks:   make(map[symbolPair]int),
		version: "0.1",
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), "\r\n")
		if line == 0 && strings.HasPrefix(text, "#version:") {
			b.version = strings.TrimSpace(strings.TrimPrefix(text, "#version:"))
			line++
			continue
		}
		line++

		fields := strings.Fields(text)
		if len(fields) < 2 {
			continue
		}
		pair := symbolPair{fields[0], fields[1]}
		if _, seen := b.ranks[pair]; !seen {
			b.ranks[pair] = len(b.ranks)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(b.ranks) == 0 {
		return nil, fmt.Errorf("no merge operations found")
	}

	return b, nil
}

// Merges reports the number of merge operations loaded.
func (b *BPE) Merges() int {
	return len(b.ranks)
}

// Encode segments every line. Words are split on whitespace, each word is
// segmented independently, and every subword but the last of a word carries
// the "@@" continuation marker.
func (b *BPE) Encode(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = b.EncodeLine(l)
	}
	return out
}

// EncodeLine is Encode for a single line.
func (b *BPE) EncodeLine(line string) string {
	words := strings.Fields(line)
	if len(words) == 0 {
		return ""
	}

	var sb strings.Builder
	for wi, w := range words {
		if wi > 0 {
			sb.WriteByte(' ')
		}
		pieces := b.segment(w)
		for pi, p := range pieces {
			if pi > 0 {
				sb.WriteString(Separator + " ")
			}
			sb.WriteString(p)
		}
	}
	return sb.String()
}

// Decode joins subwords back into words.
func (b *BPE) Decode(lines []string) []string {
	return DecodeLines(lines)
}

func (b *BPE) segment(word string) []string {
	if cached, ok := b.cache.Load(word); ok {
		return cached.([]string)
	}

	runes := []rune(word)
	symbols := make([]string, 0, len(runes)+1)
	for _, r := range runes {
		symbols = append(symbols, string(r))
	}
	if b.version == "0.1" {
		symbols = append(symbols, endOfWord)
	} else {
		symbols[len(symbols)-1] += endOfWord
	}

	for len(symbols) > 1 {
		best, bestRank := -1, math.MaxInt
		for i := 0; i < len(symbols)-1; i++ {
			if rank, ok := b.ranks[symbolPair{symbols[i], symbols[i+1]}]; ok && rank < bestRank {
				best, bestRank = i, rank
			}
		}
		if best < 0 {
			break
		}

		left, right := symbols[best], symbols[best+1]
		merged := make([]string, 0, len(symbols)-1)
		for i := 0; i < len(symbols); {
			if i < len(symbols)-1 && symbols[i] == left && symbols[i+1] == right {
				merged = append(merged, left+right)
				i += 2
				continue
			}
			merged = append(merged, symbols[i])
			i++
		}
		symbols = merged
	}

	last := symbols[len(symbols)-1]
	if last == endOfWord {
		symbols = symbols[:len(symbols)-1]
	} else {
		symbols[len(symbols)-1] = strings.TrimSuffix(last, endOfWord)
	}

	b.cache.Store(word, symbols)
	return symbols
}
