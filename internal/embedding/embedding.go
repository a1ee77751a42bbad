// Package embedding provides implementations of
// engine.EmbeddingEvaluator. No embedding backend exists anywhere in
// the example pack; MockEvaluator is a deterministic bag-of-words
// cosine-similarity scorer standing in for a real vector search
// service, and FailOpen wraps any evaluator so a backend outage
// degrades SemanticMatch to false rather than aborting the rule
// evaluation (matching the fail-open default documented on
// Expr::SemanticMatch).
package embedding

import (
	"context"
	"math"
	"strings"

	"github.com/go-logr/logr"
)

// MockEvaluator scores similarity via cosine distance over term
// frequency vectors built from whitespace-tokenized lowercase text. It
// exists to exercise the SemanticMatch rule path deterministically in
// tests and local development, not to serve production traffic.
type MockEvaluator struct {
	// Topics maps topic name to a representative phrase whose term
	// vector is compared against the extracted text.
	Topics map[string]string
}

func NewMockEvaluator(topics map[string]string) *MockEvaluator {
	return &MockEvaluator{Topics: topics}
}

func (m *MockEvaluator) Similarity(ctx context.Context, text, topic string) (float64, error) {
	phrase, ok := m.Topics[topic]
	if !ok {
		return 0, nil
	}
	return cosineSimilarity(tokenize(text), tokenize(phrase)), nil
}

func tokenize(s string) map[string]int {
	terms := strings.Fields(strings.ToLower(s))
	counts := make(map[string]int, len(terms))
	for _, t := range terms {
		counts[t]++
	}
	return counts
}

func cosineSimilarity(a, b map[string]int) float64 {
	var dot, normA, normB float64
	for term, countA := range a {
		normA += float64(countA * countA)
		if countB, ok := b[term]; ok {
			dot += float64(countA * countB)
		}
	}
	for _, countB := range b {
		normB += float64(countB * countB)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// FailOpenEvaluator wraps another evaluator and turns any error into a
// zero similarity score plus a logged warning, so a downstream outage
// never blocks dispatch when rules only gate on semantic matches.
type FailOpenEvaluator struct {
	inner Evaluator
	log   logr.Logger
}

// Evaluator is the subset of engine.EmbeddingEvaluator this package
// depends on, avoiding an import of internal/rules/engine here.
type Evaluator interface {
	Similarity(ctx context.Context, text, topic string) (float64, error)
}

func NewFailOpenEvaluator(inner Evaluator, log logr.Logger) *FailOpenEvaluator {
	return &FailOpenEvaluator{inner: inner, log: log}
}

func (f *FailOpenEvaluator) Similarity(ctx context.Context, text, topic string) (float64, error) {
	sim, err := f.inner.Similarity(ctx, text, topic)
	if err != nil {
		f.log.Error(err, "semantic match evaluator failed, failing open", "topic", topic)
		return 0, nil
	}
	return sim, nil
}
