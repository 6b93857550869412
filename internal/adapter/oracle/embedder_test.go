package oracle

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeEmbedServer returns a deterministic vector per input text: the vector
// is filled with float32(len(text)).
func fakeEmbedServer(t *testing.T, dim int, calls *[]int) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		mu.Lock()
		*calls = append(*calls, len(req.Input))
		mu.Unlock()

		resp := embedResponse{Embeddings: make([][]float32, len(req.Input))}
		for i, text := range req.Input {
			vec := make([]float32, dim)
			for j := range vec {
				vec[j] = float32(len(text))
			}
			resp.Embeddings[i] = vec
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbedder_Encode_PreservesOrderAcrossSubBatches(t *testing.T) {
	var calls []int
	server := fakeEmbedServer(t, 4, &calls)
	defer server.Close()

	// Batch size 2 forces three sub-batches for five texts.
	e := NewEmbedder(server.URL, "test-model", 4, 2, 1000, 5*time.Second, testLogger(), nil)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := e.Encode(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 5)

	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "vector %d must match its text", i)
		assert.Len(t, vectors[i], 4)
	}

	total := 0
	for _, c := range calls {
		total += c
	}
	assert.Equal(t, 5, total)
	for _, c := range calls {
		assert.LessOrEqual(t, c, 2, "sub-batches must respect the batch size")
	}
}

func TestEmbedder_Encode_Empty(t *testing.T) {
	e := NewEmbedder("http://localhost:1", "test-model", 4, 2, 1000, time.Second, testLogger(), nil)

	vectors, err := e.Encode(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestEmbedder_Encode_DimensionMismatch(t *testing.T) {
	var calls []int
	server := fakeEmbedServer(t, 3, &calls) // serves 3-wide vectors
	defer server.Close()

	e := NewEmbedder(server.URL, "test-model", 4, 32, 1000, 5*time.Second, testLogger(), nil)

	_, err := e.Encode(context.Background(), []string{"text"})
	require.Error(t, err)

	var dimErr *domain.DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Want)
	assert.Equal(t, 3, dimErr.Got)
}

func TestEmbedder_Encode_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	e := NewEmbedder(server.URL, "test-model", 4, 32, 1000, 5*time.Second, testLogger(), nil)

	_, err := e.Encode(context.Background(), []string{"text"})
	assert.Error(t, err)
}

func TestEmbedder_DimensionAndVersion(t *testing.T) {
	e := NewEmbedder("http://localhost:1", "multi-qa-MiniLM-L6-cos-v1", 384, 32, 10, time.Second, testLogger(), nil)

	assert.Equal(t, 384, e.Dimension())
	assert.Equal(t, "multi-qa-MiniLM-L6-cos-v1", e.Version())
}
