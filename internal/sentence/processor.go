// Package sentence normalises text before it reaches a translation model and
// restores readable text from model output.
package sentence

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/raaihank/nmt-proxy/internal/subword"
)

// languages written with the danda (U+0964) as full stop
var dandaLanguages = map[string]bool{
	"hi": true, "bn": true, "mr": true, "ne": true, "as": true, "pa": true, "sa": true, "or": true,
}

const danda = "।"

var (
	langTagPattern = regexp.MustCompile(`__(src|tgt)__[A-Za-z_]+\s*`)
	quoteReplacer  = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "«", `"`, "»", `"`,
		"‘", "'", "’", "'", "‚", "'",
		"–", "-", "—", " - ",
		"…", "...",
		"\u00a0", " ", "\u200b", "",
	)
)

// Preprocess normalises each line for the source language: Unicode NFC,
// typographic punctuation folded to ASCII, punctuation split off words and
// whitespace collapsed.
func Preprocess(lines []string, lang string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = preprocessLine(l, lang)
	}
	return out
}

func preprocessLine(line, lang string) string {
	line = norm.NFC.String(line)
	line = quoteReplacer.Replace(line)
	if dandaLanguages[lang] {
		line = strings.ReplaceAll(line, "|", danda)
	}
	line = stripControl(line)
	return strings.Join(strings.Fields(tokenize(line)), " ")
}

// ApplyLangTags prefixes each line with the source and target language
// markers the multilingual models were trained with.
func ApplyLangTags(lines []string, srcLang, tgtLang string) []string {
	prefix := "__src__" + srcLang + " __tgt__" + tgtLang + " "
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = prefix + l
	}
	return out
}

// Postprocess turns raw model output into text for the target language:
// leftover language tags dropped, subwords joined, punctuation reattached.
func Postprocess(lines []string, lang string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = postprocessLine(l, lang)
	}
	return out
}

func postprocessLine(line, lang string) string {
	line = langTagPattern.ReplaceAllString(line, "")
	line = subword.DecodeLine(line)
	line = detokenize(strings.Fields(line))
	if dandaLanguages[lang] && strings.HasSuffix(line, ".") && !strings.HasSuffix(line, "..") {
		line = strings.TrimSuffix(line, ".") + danda
	}
	return norm.NFC.String(line)
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return ' '
		case r == '\u200c' || r == '\u200d':
			// ZWNJ/ZWJ shape Indic conjuncts
			return r
		case unicode.IsControl(r) || unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
}

// tokenize puts spaces around punctuation, keeping decimal points and
// thousands separators inside numbers and apostrophes inside words intact.
func tokenize(s string) string {
	runes := []rune(s)
	var sb strings.Builder
	sb.Grow(len(s) + 8)

	for i, r := range runes {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			sb.WriteRune(r)
			continue
		}

		var prev, next rune
		if i > 0 {
			prev = runes[i-1]
		}
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch {
		case (r == '.' || r == ',') && unicode.IsDigit(prev) && unicode.IsDigit(next):
			sb.WriteRune(r)
		case r == '\'' && unicode.IsLetter(prev) && unicode.IsLetter(next):
			sb.WriteRune(r)
		case r == '-' && unicode.IsLetter(prev) && unicode.IsLetter(next):
			sb.WriteRune(r)
		default:
			sb.WriteByte(' ')
			sb.WriteRune(r)
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

var (
	attachLeft  = map[string]bool{".": true, ",": true, "!": true, "?": true, ";": true, ":": true, "%": true, ")": true, "]": true, "}": true, danda: true, "॥": true, "...": true}
	attachRight = map[string]bool{"(": true, "[": true, "{": true, "$": true}
)

// detokenize rejoins tokens produced by tokenize. Straight double quotes
// alternate between opening and closing.
func detokenize(tokens []string) string {
	var sb strings.Builder
	glueNext := true
	quoteOpen := false

	for _, tok := range tokens {
		switch {
		case tok == `"`:
			if quoteOpen {
				sb.WriteString(tok)
				glueNext = false
			} else {
				if !glueNext {
					sb.WriteByte(' ')
				}
				sb.WriteString(tok)
				glueNext = true
			}
			quoteOpen = !quoteOpen
			continue
		case attachLeft[tok]:
			sb.WriteString(tok)
			glueNext = false
			continue
		case strings.HasPrefix(tok, "'") && len(tok) > 1 && sb.Len() > 0:
			// English clitics: 's 're 'll
			sb.WriteString(tok)
			glueNext = false
			continue
		}

		if !glueNext {
			sb.WriteByte(' ')
		}
		sb.WriteString(tok)
		glueNext = attachRight[tok]
	}
	return sb.String()
}
