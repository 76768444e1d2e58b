package retrieval

import (
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func scoredPassage(doc, text string) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk: domain.Chunk{DocumentID: doc, Text: text},
	}
}

func TestSynthesizePicksBestParagraph(t *testing.T) {
	s := NewSynthesizer()

	text := "GENERAL TERMS AND CONDITIONS FOR ALL BANKING PRODUCTS.\n\n" +
		"Fraud escalation: transactions above the critical threshold are blocked and the account is frozen pending review.\n\n" +
		"Branch opening hours are nine to five on weekdays excluding public holidays in the region."

	answer := s.Synthesize("What is the fraud escalation threshold?", []domain.ScoredChunk{
		scoredPassage("fraud_policy", text),
	})

	if !strings.Contains(answer, "Fraud escalation") {
		t.Errorf("expected the fraud paragraph, got %q", answer)
	}
	if strings.Contains(answer, "opening hours") {
		t.Errorf("picked an unrelated paragraph: %q", answer)
	}
}

func TestSynthesizeAppendsSecondDocument(t *testing.T) {
	s := NewSynthesizer()

	answer := s.Synthesize("How are card disputes resolved?", []domain.ScoredChunk{
		scoredPassage("dispute_policy", "Card disputes are resolved within ten working days after the claim is filed through the app."),
		scoredPassage("faq", "Dispute claims for card transactions require the transaction reference and a short description."),
	})

	if !strings.Contains(answer, "Additional relevant information:") {
		t.Errorf("expected supporting paragraph from the second document, got %q", answer)
	}
}

func TestSynthesizeSkipsSameDocumentSecondPassage(t *testing.T) {
	s := NewSynthesizer()

	answer := s.Synthesize("How are card disputes resolved?", []domain.ScoredChunk{
		scoredPassage("dispute_policy", "Card disputes are resolved within ten working days after the claim is filed through the app."),
		scoredPassage("dispute_policy", "A second chunk from the same document should not be appended as additional information."),
	})

	if strings.Contains(answer, "Additional relevant information:") {
		t.Errorf("second passage from the same document must not be appended: %q", answer)
	}
}

func TestSynthesizeTruncatesAtWordBudget(t *testing.T) {
	s := NewSynthesizer()

	long := strings.TrimSpace(strings.Repeat("policy clause detail ", 400))
	answer := s.Synthesize("policy clause", []domain.ScoredChunk{
		scoredPassage("doc", long),
	})

	if !strings.HasSuffix(answer, TruncationMarker) {
		t.Fatalf("expected truncation marker, got tail %q", answer[len(answer)-60:])
	}
	words := strings.Fields(strings.TrimSuffix(answer, TruncationMarker))
	if len(words) > 501 {
		t.Errorf("answer exceeds the word budget: %d words", len(words))
	}
}

func TestSynthesizeEmptyPassages(t *testing.T) {
	s := NewSynthesizer()
	if got := s.Synthesize("anything", nil); got != "" {
		t.Errorf("expected empty answer for no passages, got %q", got)
	}
}
