// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bm25 ranks event text by Okapi BM25 relevance. Documents
// carry weighted text fields (an event body counts more than the room
// name or topic around it); queries are scored with term-frequency and
// inverse-document-frequency weighting.
//
// Field weighting repeats each field's tokens in proportion to its
// weight, a crude but adequate substitute for per-field BM25 at the
// corpus sizes seen here: the search engine builds a throwaway index
// per request over a capped set of a room's recent events, so
// construction stays cheap and the index never outlives the query.
//
// An Index is immutable once built and safe for concurrent reads.
package bm25
