package chunker

import (
	"strings"
	"testing"
)

var delimiter = strings.Repeat("=", 60)

func TestChunkSmallDocument(t *testing.T) {
	c := New(Config{})

	text := "FRAUD ESCALATION POLICY\nTransactions scoring above 85 are blocked immediately and the account is frozen pending review."
	chunks, err := c.Chunk(text, "fraud_policy")
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].ID != "fraud_policy_sec0" {
		t.Errorf("unexpected chunk ID: %s", chunks[0].ID)
	}
	if chunks[0].DocumentID != "fraud_policy" {
		t.Errorf("unexpected document ID: %s", chunks[0].DocumentID)
	}
	if chunks[0].SectionTitle != "FRAUD ESCALATION POLICY" {
		t.Errorf("unexpected section title: %q", chunks[0].SectionTitle)
	}
}

func TestChunkSectionSplit(t *testing.T) {
	c := New(Config{})

	section1 := "SECTION ONE\nThis section explains the one-time passcode flow for medium risk transactions in enough detail to qualify."
	section2 := "SECTION TWO\nThis section explains the biometric push challenge applied to high risk transactions before processing."
	text := section1 + "\n" + delimiter + "\n" + section2

	chunks, err := c.Chunk(text, "doc")
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].SectionTitle != "SECTION ONE" || chunks[1].SectionTitle != "SECTION TWO" {
		t.Errorf("section titles wrong: %q, %q", chunks[0].SectionTitle, chunks[1].SectionTitle)
	}
	if chunks[0].Index != 0 || chunks[1].Index != 1 {
		t.Errorf("chunk indexes wrong: %d, %d", chunks[0].Index, chunks[1].Index)
	}
}

func TestChunkDropsShortFragments(t *testing.T) {
	c := New(Config{})

	text := "HEADER" + "\n" + delimiter + "\n" +
		"REAL SECTION\nThis fragment is long enough to survive the minimum section size filter applied during splitting."
	chunks, err := c.Chunk(text, "doc")
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected the short fragment to be dropped, got %d chunks", len(chunks))
	}
	if chunks[0].SectionTitle != "REAL SECTION" {
		t.Errorf("unexpected surviving section: %q", chunks[0].SectionTitle)
	}
}

func TestChunkOversizedSection(t *testing.T) {
	c := New(Config{MaxChunkSize: 200, OverlapSentences: 1})

	var sb strings.Builder
	sb.WriteString("LIMITS POLICY\n")
	for i := 0; i < 20; i++ {
		sb.WriteString("Daily transfer limits depend on the customer verification tier and the channel used. ")
	}
	chunks, err := c.Chunk(sb.String(), "limits")
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple sub-chunks, got %d", len(chunks))
	}

	seen := make(map[string]bool)
	for _, ch := range chunks {
		if seen[ch.ID] {
			t.Errorf("duplicate chunk ID: %s", ch.ID)
		}
		seen[ch.ID] = true
		// A single oversized sentence may exceed the budget; packed
		// sub-chunks must not exceed it by more than the overlap seed.
		if len(ch.Text) > 200+200 {
			t.Errorf("chunk %s is far over budget: %d chars", ch.ID, len(ch.Text))
		}
		if ch.Metadata.ContentHash == "" {
			t.Errorf("chunk %s missing content hash", ch.ID)
		}
	}

	// Consecutive sub-chunks carry overlap: the last sentence of one
	// appears at the start of the next.
	first := chunks[0].Text
	lastSentence := first[strings.LastIndex(strings.TrimRight(first, ". "), ".")+1:]
	lastSentence = strings.TrimSpace(lastSentence)
	if lastSentence != "" && !strings.Contains(chunks[1].Text, lastSentence) {
		t.Errorf("expected overlap between sub-chunks;\nfirst ends: %q\nsecond: %q", lastSentence, chunks[1].Text[:80])
	}
}

func TestChunkDeterministicIDs(t *testing.T) {
	c := New(Config{})

	text := "PRODUCT POLICY\nEligibility for the investment plan requires sustained monthly inflows above the published threshold."
	a, err := c.Chunk(text, "products")
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	b, err := c.Chunk(text, "products")
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("chunk %d ID not deterministic: %s vs %s", i, a[i].ID, b[i].ID)
		}
		if a[i].Metadata.ContentHash != b[i].Metadata.ContentHash {
			t.Errorf("chunk %d hash not deterministic", i)
		}
	}
}

func TestChunkEmptyDocument(t *testing.T) {
	c := New(Config{})

	chunks, err := c.Chunk("   \n\n  ", "empty")
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for empty document, got %d", len(chunks))
	}

	if _, err := c.Chunk("content", ""); err == nil {
		t.Error("expected error for missing document ID")
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First sentence. Second one! Third? Trailing fragment")
	want := []string{"First sentence.", "Second one!", "Third?", "Trailing fragment"}
	if len(got) != len(want) {
		t.Fatalf("expected %d sentences, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestKeyTerms(t *testing.T) {
	terms := keyTerms("transfer transfer transfer limits limits verification", 2)
	if len(terms) != 2 {
		t.Fatalf("expected 2 terms, got %v", terms)
	}
	if terms[0] != "transfer" {
		t.Errorf("expected most frequent term first, got %v", terms)
	}
}
