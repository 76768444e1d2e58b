package tfidf

import (
	"context"
	"math"
	"testing"
)

func TestFitAndEmbed(t *testing.T) {
	v := New()
	ctx := context.Background()

	if _, err := v.Embed(ctx, []string{"anything"}); err == nil {
		t.Fatal("expected error before Fit")
	}

	corpus := []string{
		"fraud transactions above the critical threshold are blocked",
		"complaints about card issues go to card operations",
		"loan eligibility depends on monthly inflow",
	}
	if err := v.Fit(corpus); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if v.Dimensions() == 0 {
		t.Fatal("expected nonzero dimensions after Fit")
	}

	vecs, err := v.Embed(ctx, corpus)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vecs) != len(corpus) {
		t.Fatalf("expected %d vectors, got %d", len(corpus), len(vecs))
	}

	// Vectors are L2-normalized.
	for i, vec := range vecs {
		norm := 0.0
		for _, x := range vec {
			norm += x * x
		}
		if math.Abs(math.Sqrt(norm)-1.0) > 1e-9 {
			t.Errorf("vector %d norm = %f, want 1.0", i, math.Sqrt(norm))
		}
	}

	// A text sharing no vocabulary embeds to the zero vector.
	zero, err := v.Embed(ctx, []string{"zzz qqq xxx"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	for _, x := range zero[0] {
		if x != 0 {
			t.Fatal("expected zero vector for out-of-vocabulary text")
		}
	}
}

func TestEmbedSimilarity(t *testing.T) {
	v := New()
	ctx := context.Background()

	corpus := []string{
		"fraud risk scoring applies flag weights and merchant risk",
		"card operations handle swallowed cards at the atm",
	}
	if err := v.Fit(corpus); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	vecs, err := v.Embed(ctx, append([]string{"what is the fraud risk scoring process"}, corpus...))
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	q, fraudDoc, cardDoc := vecs[0], vecs[1], vecs[2]

	simFraud := dot(q, fraudDoc)
	simCard := dot(q, cardDoc)
	if simFraud <= simCard {
		t.Errorf("expected fraud doc closer to fraud query: %f vs %f", simFraud, simCard)
	}
}

func TestFitEmptyCorpus(t *testing.T) {
	v := New()
	if err := v.Fit(nil); err == nil {
		t.Error("expected error for empty corpus")
	}
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
