// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bm25

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Okapi parameters, standard values.
const (
	paramK1      = 1.2
	paramB       = 0.75
	paramEpsilon = 0.25
)

// tokenPattern splits text into alphanumeric runs.
var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Field is one weighted text field of a document. Weight is how many
// times the field's tokens are repeated in the composite document; an
// event body typically weighs more than surrounding room metadata.
// Zero or negative weight skips the field.
type Field struct {
	Text   string
	Weight int
}

// Document is a named bag of weighted fields. The search engine names
// documents by event ID; the name identifies results and is never
// scored unless also present as a Field.
type Document struct {
	Name   string
	Fields []Field
}

// Result is one hit.
type Result struct {
	// Name is the document name given at construction.
	Name string

	// Score is the BM25 relevance, higher first. Unbounded; the
	// scale depends on the corpus.
	Score float64
}

// Index is an immutable BM25 index, safe for concurrent reads. Build
// one with New over the candidate set, query it, throw it away.
type Index struct {
	documents []Document

	// documentTermFrequencies[i][term] counts term in document i's
	// composite token stream.
	documentTermFrequencies []map[string]int

	// documentLengths[i] is document i's composite token count.
	documentLengths []int

	averageDocumentLength float64

	// inverseDocumentFrequency[term] is precomputed over the corpus.
	inverseDocumentFrequency map[string]float64
}

// New indexes the documents. Cost is linear in total tokens, which
// for a capped candidate set of room events is negligible.
func New(documents []Document) *Index {
	index := &Index{
		documents:                documents,
		documentTermFrequencies:  make([]map[string]int, len(documents)),
		documentLengths:          make([]int, len(documents)),
		inverseDocumentFrequency: make(map[string]float64),
	}

	// Per-term count of documents containing it, for IDF.
	documentFrequency := make(map[string]int)

	var totalLength int

	for i, document := range documents {
		tokens := compositeTokens(document)
		index.documentLengths[i] = len(tokens)
		totalLength += len(tokens)

		termFrequency := make(map[string]int)
		seen := make(map[string]bool)
		for _, token := range tokens {
			termFrequency[token]++
			if !seen[token] {
				seen[token] = true
				documentFrequency[token]++
			}
		}
		index.documentTermFrequencies[i] = termFrequency
	}

	if len(documents) > 0 {
		index.averageDocumentLength = float64(totalLength) / float64(len(documents))
	}

	// Terms present in every document still get a small positive
	// score (epsilon) instead of dropping out of ranking entirely.
	documentCount := float64(len(documents))
	for term, frequency := range documentFrequency {
		idf := math.Log(1 + (documentCount-float64(frequency)+0.5)/(float64(frequency)+0.5))
		if idf < 0 {
			idf = paramEpsilon
		}
		index.inverseDocumentFrequency[term] = idf
	}

	return index
}

// Search returns up to limit documents ranked by relevance to the
// query, best first. Only positive scores are hits: a query that
// tokenizes to nothing or touches no document returns an empty slice.
func (index *Index) Search(query string, limit int) []Result {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	type scored struct {
		index int
		score float64
	}
	var hits []scored

	for i := range index.documents {
		score := index.score(i, queryTokens)
		if score > 0 {
			hits = append(hits, scored{index: i, score: score})
		}
	}

	sort.Slice(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = Result{
			Name:  index.documents[hit.index].Name,
			Score: hit.score,
		}
	}
	return results
}

// score is the BM25 sum over the query tokens for one document:
// IDF * (tf * (k1 + 1)) / (tf + k1 * (1 - b + b * dl/avgdl)) per term.
func (index *Index) score(documentIndex int, queryTokens []string) float64 {
	termFrequency := index.documentTermFrequencies[documentIndex]
	documentLength := float64(index.documentLengths[documentIndex])

	var score float64
	for _, token := range queryTokens {
		idf, exists := index.inverseDocumentFrequency[token]
		if !exists {
			continue
		}

		frequency := float64(termFrequency[token])
		if frequency == 0 {
			continue
		}

		numerator := frequency * (paramK1 + 1)
		denominator := frequency + paramK1*(1-paramB+paramB*documentLength/index.averageDocumentLength)
		score += idf * numerator / denominator
	}

	return score
}

// compositeTokens flattens a document into one token stream, with
// each field repeated by its weight. Repeating tokens is a crude but
// adequate substitute for per-field BM25 at this corpus size.
func compositeTokens(document Document) []string {
	var tokens []string

	for _, field := range document.Fields {
		if field.Weight <= 0 {
			continue
		}
		fieldTokens := Tokenize(field.Text)
		for i := 0; i < field.Weight; i++ {
			tokens = append(tokens, fieldTokens...)
		}
	}

	return tokens
}

// Tokenize lowercases text and splits it into alphanumeric tokens,
// discarding single-character tokens ("a", "I") that carry no
// ranking signal.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	matches := tokenPattern.FindAllString(lower, -1)

	// Filter short tokens in place.
	tokens := matches[:0]
	for _, match := range matches {
		if len(match) >= 2 {
			tokens = append(tokens, match)
		}
	}
	return tokens
}
