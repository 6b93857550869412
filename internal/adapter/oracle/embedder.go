package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Up to this many sub-batches are in flight per Encode call; the rate
// limiter below is what actually protects the accelerator.
const maxInFlightBatches = 4

// Embedder calls the bi-encoder half of the inference service over HTTP.
// Large inputs are split into sub-batches; every vector is a pure function
// of its own text, so the split never changes results.
type Embedder struct {
	baseURL   string
	model     string
	dim       int
	batchSize int
	client    *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewEmbedder constructs an Embedder. If client is nil a default one is
// created with the given timeout.
func NewEmbedder(baseURL, model string, dim, batchSize int, ratePerSec float64, timeout time.Duration, logger *slog.Logger, client *http.Client) *Embedder {
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
	return &Embedder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		dim:       dim,
		batchSize: batchSize,
		client:    c,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), 1),
		logger:    logger,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *Embedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlightBatches)

	for lo := 0; lo < len(texts); lo += e.batchSize {
		lo := lo
		hi := lo + e.batchSize
		if hi > len(texts) {
			hi = len(texts)
		}
		g.Go(func() error {
			vectors, err := e.embedBatch(gctx, texts[lo:hi])
			if err != nil {
				return err
			}
			if len(vectors) != hi-lo {
				return fmt.Errorf("expected %d embeddings, got %d", hi-lo, len(vectors))
			}
			for i, v := range vectors {
				if len(v) != e.dim {
					return &domain.DimensionError{Want: e.dim, Got: len(v)}
				}
				out[lo+i] = v
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		e.logger.ErrorContext(ctx, "embed_failed",
			slog.Int("text_count", len(texts)),
			slog.String("model", e.model),
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, err
	}

	e.logger.InfoContext(ctx, "embed_completed",
		slog.Int("text_count", len(texts)),
		slog.String("model", e.model),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqBody := embedRequest{
		Model: e.model,
		Input: texts,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/embed", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embed endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed endpoint returned status: %d", resp.StatusCode)
	}

	var respBody embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return respBody.Embeddings, nil
}

// Dimension returns the configured bi-encoder output width.
func (e *Embedder) Dimension() int {
	return e.dim
}

func (e *Embedder) Version() string {
	return e.model
}

var _ domain.VectorEncoder = (*Embedder)(nil)
