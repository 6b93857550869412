package domain

import (
	"strings"
	"time"
)

// Work is a single archived work as stored in the metadata table.
// Title through Warnings are always present; the remaining fields may be
// empty depending on how the work was packaged.
type Work struct {
	Path          string
	Title         string
	Author        string
	Category      string
	Genre         string
	Rating        string
	Warnings      string
	Summary       string
	StoryURL      string
	Relationships string
	Series        string
	Collections   string
	Language      string
	Packaged      time.Time
}

// RetrievedWork is a Work that came back from the retrieval stage with a
// relevance score attached. Directly after retrieval Score holds the coarse
// cosine distance (smaller = closer); after reranking it is overwritten with
// the cross-encoder score (larger = more relevant).
type RetrievedWork struct {
	Work
	Score float32
}

// EmbeddingText serializes a work into the labeled text blob that is fed to
// both the bi-encoder and the cross-encoder. One "LABEL: value" line per
// non-empty field, in a fixed order, joined by blank lines. Empty fields are
// omitted entirely, so works with identical field values always produce
// byte-identical text. The field order is part of the stored-embedding
// contract and must not change without a full re-index.
func EmbeddingText(w Work) string {
	fields := []struct {
		label string
		value string
	}{
		{"TITLE", w.Title},
		{"AUTHOR", w.Author},
		{"CATEGORY", w.Category},
		{"GENRE", w.Genre},
		{"RATING", w.Rating},
		{"WARNINGS", w.Warnings},
		{"RELATIONSHIPS", w.Relationships},
		{"SUMMARY", w.Summary},
		{"SERIES", w.Series},
		{"COLLECTIONS", w.Collections},
	}

	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		value := strings.TrimSpace(f.value)
		if value == "" {
			continue
		}
		lines = append(lines, f.label+": "+value)
	}

	return strings.Join(lines, "\n\n")
}
