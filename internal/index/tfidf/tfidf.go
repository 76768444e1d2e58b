// Package tfidf provides a local TF-IDF vectorizer. It needs no
// external service, which makes it the Community-tier embedding
// backend: the in-memory index refits it over the stored corpus
// whenever documents change.
package tfidf

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Vectorizer builds a vocabulary from a corpus and embeds texts as
// L2-normalized TF-IDF vectors. Fit must be called before Embed.
// Not safe for concurrent mutation; the owning index serializes
// Fit/Embed behind its own lock.
type Vectorizer struct {
	vocab     map[string]int
	idf       []float64
	dimension int
	fitted    bool

	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// New creates an unfitted vectorizer.
func New() *Vectorizer {
	return &Vectorizer{
		vocab:        make(map[string]int),
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		stopwords:    stopwords(),
	}
}

// Fit rebuilds the vocabulary and IDF table from the corpus.
func (v *Vectorizer) Fit(corpus []string) error {
	if len(corpus) == 0 {
		return fmt.Errorf("tfidf: empty corpus")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range v.tokenize(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	terms := make([]string, 0, len(df))
	for t := range df {
		terms = append(terms, t)
	}
	if len(terms) == 0 {
		return fmt.Errorf("tfidf: no tokens in corpus")
	}
	sort.Strings(terms)

	v.vocab = make(map[string]int, len(terms))
	v.idf = make([]float64, len(terms))
	n := float64(len(corpus))
	for i, t := range terms {
		v.vocab[t] = i
		v.idf[i] = math.Log((1+n)/(1+float64(df[t]))) + 1.0
	}
	v.dimension = len(terms)
	v.fitted = true
	return nil
}

// Embed returns one vector per text. Texts with no in-vocabulary
// tokens embed to the zero vector.
func (v *Vectorizer) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if !v.fitted {
		return nil, fmt.Errorf("tfidf: vectorizer not fitted")
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = v.embedOne(text)
	}
	return out, nil
}

// Dimensions returns the vocabulary size, or 0 before Fit.
func (v *Vectorizer) Dimensions() int { return v.dimension }

func (v *Vectorizer) embedOne(text string) []float64 {
	vec := make([]float64, v.dimension)
	tf := make(map[int]int)
	total := 0
	for _, tok := range v.tokenize(text) {
		if idx, ok := v.vocab[tok]; ok {
			tf[idx]++
			total++
		}
	}
	if total == 0 {
		return vec
	}
	for idx, count := range tf {
		vec[idx] = float64(count) / float64(total) * v.idf[idx]
	}
	norm := 0.0
	for _, x := range vec {
		norm += x * x
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func (v *Vectorizer) tokenize(text string) []string {
	raw := v.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := v.stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func stopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else",
		"for", "to", "of", "in", "on", "at", "by", "with", "as",
		"is", "are", "was", "were", "be", "been", "being", "it",
		"this", "that", "these", "those", "from", "up", "down",
		"over", "under", "than", "so", "such", "into", "about",
		"between", "through", "during", "before", "after", "out",
		"own", "same", "too", "very", "can", "will", "just", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
