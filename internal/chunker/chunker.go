// Package chunker splits policy documents into retrievable chunks.
//
// Documents in the knowledge base use delimiter runs (long lines of
// '=' or '-') to separate sections. Chunking is section-aware: each
// section becomes one chunk when it fits the size budget, or a run
// of sentence-packed sub-chunks with a short overlap between
// neighbors so that a fact straddling a boundary stays retrievable.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// Config controls chunking behavior. Zero values take the standard
// knowledge-base parameters.
type Config struct {
	// MaxChunkSize is the character budget per chunk. The bound is
	// soft: a sub-chunk may exceed it by the sentence overlap carried
	// from its predecessor.
	MaxChunkSize int

	// MinSectionSize discards delimiter-split fragments below this
	// length (stray headers, decoration lines).
	MinSectionSize int

	// OverlapSentences is how many trailing sentences of a sub-chunk
	// are repeated at the start of the next one.
	OverlapSentences int
}

// Chunker is stateless and safe for concurrent use.
type Chunker struct {
	cfg Config
}

// New creates a chunker, filling config defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = policy.MaxChunkSize
	}
	if cfg.MinSectionSize <= 0 {
		cfg.MinSectionSize = policy.MinSectionSize
	}
	if cfg.OverlapSentences <= 0 {
		cfg.OverlapSentences = 2
	}
	return &Chunker{cfg: cfg}
}

// Delimiter lines: 50+ '=' or '-' alone on a line.
var sectionDelimiter = regexp.MustCompile(`(?m)^[=-]{50,}[ \t]*$`)

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]{2,}`)
)

// Chunk splits a document into chunks with deterministic IDs.
// Re-chunking the same content yields identical IDs, so upserting
// the result into the index overwrites the previous version.
func (c *Chunker) Chunk(text, documentID string) ([]domain.Chunk, error) {
	if documentID == "" {
		return nil, fmt.Errorf("chunker: document ID is required")
	}
	text = normalize(text)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	sections := c.splitSections(text)

	var chunks []domain.Chunk
	for i, sec := range sections {
		title := firstLine(sec)
		if len(sec) <= c.cfg.MaxChunkSize {
			chunks = append(chunks, c.makeChunk(documentID, title, sec, i, -1))
			continue
		}
		for j, sub := range c.packSentences(sec) {
			chunks = append(chunks, c.makeChunk(documentID, title, sub, i, j))
		}
	}

	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks, nil
}

func (c *Chunker) splitSections(text string) []string {
	parts := sectionDelimiter.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) >= c.cfg.MinSectionSize {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		// No usable sections; treat the whole document as one when
		// it clears the minimum on its own.
		whole := strings.TrimSpace(text)
		if len(whole) >= c.cfg.MinSectionSize {
			out = append(out, whole)
		}
	}
	return out
}

// packSentences greedily packs sentences into sub-chunks within the
// size budget, carrying trailing sentences forward as overlap. A
// single sentence longer than the budget is emitted as its own
// sub-chunk so the loop always advances.
func (c *Chunker) packSentences(section string) []string {
	sentences := splitSentences(section)
	if len(sentences) == 0 {
		return []string{section}
	}

	var subs []string
	var cur []string
	curLen := 0
	fresh := false // cur holds something beyond carried overlap

	flush := func() {
		if len(cur) == 0 || !fresh {
			return
		}
		subs = append(subs, strings.Join(cur, " "))
		// Seed the next sub-chunk with the trailing sentences.
		start := len(cur) - c.cfg.OverlapSentences
		if start < 0 {
			start = 0
		}
		overlap := cur[start:]
		cur = nil
		curLen = 0
		for _, s := range overlap {
			if curLen+len(s) > policy.ChunkOverlap*2 {
				break
			}
			cur = append(cur, s)
			curLen += len(s) + 1
		}
		fresh = false
	}

	for _, s := range sentences {
		if len(s) > c.cfg.MaxChunkSize {
			flush()
			subs = append(subs, s)
			cur = nil
			curLen = 0
			fresh = false
			continue
		}
		if curLen+len(s) > c.cfg.MaxChunkSize {
			flush()
		}
		cur = append(cur, s)
		curLen += len(s) + 1
		fresh = true
	}
	if len(cur) > 0 && fresh {
		subs = append(subs, strings.Join(cur, " "))
	}
	return subs
}

func (c *Chunker) makeChunk(docID, title, text string, section, sub int) domain.Chunk {
	id := fmt.Sprintf("%s_sec%d", docID, section)
	if sub >= 0 {
		id = fmt.Sprintf("%s_sub%d", id, sub)
	}
	return domain.Chunk{
		ID:           id,
		DocumentID:   docID,
		SectionTitle: title,
		Text:         text,
		Metadata: domain.ChunkMetadata{
			ContentHash: contentHash(text),
			KeyTerms:    keyTerms(text, 5),
		},
	}
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = multiNewline.ReplaceAllString(text, "\n\n")
	text = multiSpace.ReplaceAllString(text, " ")
	return text
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// splitSentences breaks text on terminal punctuation followed by
// whitespace. Newlines inside a sentence are flattened to spaces.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' {
			r = ' '
		}
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(b.String())
				if s != "" {
					out = append(out, s)
				}
				b.Reset()
			}
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

var termPattern = regexp.MustCompile(`[a-zA-Z]{6,}`)

// keyTerms extracts the most frequent long words as lightweight
// metadata for filtering and debugging.
func keyTerms(text string, n int) []string {
	freq := make(map[string]int)
	for _, w := range termPattern.FindAllString(strings.ToLower(text), -1) {
		freq[w]++
	}
	terms := make([]string, 0, len(freq))
	for w := range freq {
		terms = append(terms, w)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}
