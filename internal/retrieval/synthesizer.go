package retrieval

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// TruncationMarker terminates answers cut at the word budget.
const TruncationMarker = "... [Additional details in sources]"

// minParagraphChars filters out headers and decoration when picking
// answer paragraphs.
const minParagraphChars = 50

// Synthesizer builds extractive answers: every emitted sentence is a
// verbatim substring of a retrieved chunk. No generation.
type Synthesizer struct{}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{}
}

// Synthesize picks the paragraph of the top passage that best
// overlaps the question vocabulary, optionally followed by one
// supporting paragraph when the second passage comes from a
// different source document.
func (s *Synthesizer) Synthesize(question string, passages []domain.ScoredChunk) string {
	if len(passages) == 0 {
		return ""
	}
	qwords := questionWords(question)
	answer := bestParagraph(passages[0].Text, qwords)
	if answer == "" {
		answer = strings.TrimSpace(passages[0].Text)
	}

	if len(passages) > 1 && passages[1].DocumentID != passages[0].DocumentID {
		if extra := bestParagraph(passages[1].Text, qwords); extra != "" && extra != answer {
			answer += "\n\nAdditional relevant information: " + extra
		}
	}

	return truncateWords(answer, policy.MaxAnswerWords)
}

// bestParagraph scores blank-line separated paragraphs by question
// word overlap and returns the best one. Paragraphs under the
// minimum length are skipped; when nothing overlaps, the first
// qualifying paragraph wins.
func bestParagraph(text string, qwords map[string]struct{}) string {
	paragraphs := strings.Split(text, "\n\n")
	best := ""
	bestScore := -1
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if len(p) < minParagraphChars {
			continue
		}
		score := overlap(p, qwords)
		if score > bestScore {
			best = p
			bestScore = score
		}
	}
	return best
}

func overlap(paragraph string, qwords map[string]struct{}) int {
	count := 0
	for _, w := range tokenize(paragraph) {
		if _, ok := qwords[w]; ok {
			count++
		}
	}
	return count
}

func questionWords(question string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range tokenize(question) {
		words[w] = struct{}{}
	}
	return words
}

// tokenize lowercases and splits on non-letter boundaries, dropping
// short function words that carry no signal.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func truncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + " " + TruncationMarker
}
