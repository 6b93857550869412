package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReranker_ScorePairs_MapsResultsBackToInputOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/rerank", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req RerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ms-marco-MiniLM-L6-v2", req.Model)
		require.Len(t, req.Pairs, 3)

		// Return results sorted by score, not by index: the client must
		// stitch them back into input order.
		resp := RerankResponse{
			Results: []RerankResponseResult{
				{Index: 1, Score: 0.95},
				{Index: 0, Score: 0.85},
				{Index: 2, Score: 0.75},
			},
			Model: req.Model,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	reranker := NewReranker(server.URL, "ms-marco-MiniLM-L6-v2", 32, 1000, 5*time.Second, testLogger(), nil)

	pairs := []domain.TextPair{
		{Query: "found family fic", Text: "TITLE: A"},
		{Query: "found family fic", Text: "TITLE: B"},
		{Query: "found family fic", Text: "TITLE: C"},
	}

	scores, err := reranker.ScorePairs(context.Background(), pairs)
	require.NoError(t, err)

	assert.Equal(t, []float32{0.85, 0.95, 0.75}, scores)
}

func TestReranker_ScorePairs_SubBatches(t *testing.T) {
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batchSizes = append(batchSizes, len(req.Pairs))

		resp := RerankResponse{Model: req.Model}
		for i, p := range req.Pairs {
			resp.Results = append(resp.Results, RerankResponseResult{
				Index: i,
				Score: float32(len(p.Text)),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	reranker := NewReranker(server.URL, "test-model", 2, 1000, 5*time.Second, testLogger(), nil)

	pairs := []domain.TextPair{
		{Query: "q", Text: "a"},
		{Query: "q", Text: "bb"},
		{Query: "q", Text: "ccc"},
		{Query: "q", Text: "dddd"},
		{Query: "q", Text: "eeeee"},
	}

	scores, err := reranker.ScorePairs(context.Background(), pairs)
	require.NoError(t, err)

	// Scores follow input order even though scoring happened in 3 sub-batches.
	assert.Equal(t, []float32{1, 2, 3, 4, 5}, scores)
	assert.Equal(t, []int{2, 2, 1}, batchSizes)
}

func TestReranker_ScorePairs_Empty(t *testing.T) {
	reranker := NewReranker("http://localhost:1", "test-model", 32, 10, time.Second, testLogger(), nil)

	scores, err := reranker.ScorePairs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestReranker_ScorePairs_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	reranker := NewReranker(server.URL, "test-model", 32, 1000, 5*time.Second, testLogger(), nil)

	_, err := reranker.ScorePairs(context.Background(), []domain.TextPair{{Query: "q", Text: "t"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestReranker_ScorePairs_InvalidIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := RerankResponse{Results: []RerankResponseResult{{Index: 7, Score: 0.5}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	reranker := NewReranker(server.URL, "test-model", 32, 1000, 5*time.Second, testLogger(), nil)

	_, err := reranker.ScorePairs(context.Background(), []domain.TextPair{{Query: "q", Text: "t"}})
	assert.Error(t, err)
}
