package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"

	"golang.org/x/time/rate"
)

// RerankRequest is the request payload for the rerank endpoint.
type RerankRequest struct {
	Model string       `json:"model,omitempty"`
	Pairs []RerankPair `json:"pairs"`
}

// RerankPair is one (query, document) input to the cross-encoder.
type RerankPair struct {
	Query string `json:"query"`
	Text  string `json:"text"`
}

// RerankResponseResult is a single result in the rerank response.
type RerankResponseResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// RerankResponse is the response from the rerank endpoint.
type RerankResponse struct {
	Results []RerankResponseResult `json:"results"`
	Model   string                 `json:"model"`
}

// Reranker calls the cross-encoder half of the inference service over HTTP.
// Pairs are scored in sub-batches; scores come back in input order.
type Reranker struct {
	baseURL   string
	model     string
	batchSize int
	client    *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewReranker constructs a Reranker. If client is nil a default one is
// created with the given timeout.
func NewReranker(baseURL, model string, batchSize int, ratePerSec float64, timeout time.Duration, logger *slog.Logger, client *http.Client) *Reranker {
	c := client
	if c == nil {
		c = &http.Client{Timeout: timeout}
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &Reranker{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		batchSize: batchSize,
		client:    c,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), 1),
		logger:    logger,
	}
}

// ScorePairs scores each pair with the cross-encoder. scores[i] belongs to
// pairs[i]; higher means more relevant.
func (r *Reranker) ScorePairs(ctx context.Context, pairs []domain.TextPair) ([]float32, error) {
	if len(pairs) == 0 {
		return []float32{}, nil
	}

	start := time.Now()
	scores := make([]float32, len(pairs))

	for lo := 0; lo < len(pairs); lo += r.batchSize {
		hi := lo + r.batchSize
		if hi > len(pairs) {
			hi = len(pairs)
		}
		if err := r.scoreBatch(ctx, pairs[lo:hi], scores[lo:hi]); err != nil {
			r.logger.WarnContext(ctx, "rerank_failed",
				slog.Int("pair_count", len(pairs)),
				slog.String("model", r.model),
				slog.String("error", err.Error()),
				slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
			return nil, err
		}
	}

	r.logger.InfoContext(ctx, "rerank_completed",
		slog.Int("pair_count", len(pairs)),
		slog.String("model", r.model),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	return scores, nil
}

func (r *Reranker) scoreBatch(ctx context.Context, pairs []domain.TextPair, scores []float32) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	reqPairs := make([]RerankPair, len(pairs))
	for i, p := range pairs {
		reqPairs[i] = RerankPair{Query: p.Query, Text: p.Text}
	}

	jsonPayload, err := json.Marshal(RerankRequest{Model: r.model, Pairs: reqPairs})
	if err != nil {
		return fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/rerank", r.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call rerank endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, truncateString(string(body), 500))
	}

	var rerankResp RerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rerankResp); err != nil {
		return fmt.Errorf("failed to decode rerank response: %w", err)
	}
	if len(rerankResp.Results) != len(pairs) {
		return fmt.Errorf("expected %d scores, got %d", len(pairs), len(rerankResp.Results))
	}

	// Results may arrive sorted by score; map them back to input order.
	for _, res := range rerankResp.Results {
		if res.Index < 0 || res.Index >= len(pairs) {
			return fmt.Errorf("invalid result index %d for %d pairs", res.Index, len(pairs))
		}
		scores[res.Index] = res.Score
	}
	return nil
}

// ModelName returns the model identifier for logging/debugging.
func (r *Reranker) ModelName() string {
	return r.model
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var _ domain.CrossScorer = (*Reranker)(nil)
