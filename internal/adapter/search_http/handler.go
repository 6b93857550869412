package search_http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/infra/logger"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/usecase"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// SearchResultItem is one ranked work in the search response.
type SearchResultItem struct {
	Path          string  `json:"path"`
	Title         string  `json:"title,omitempty"`
	Author        string  `json:"author,omitempty"`
	Category      string  `json:"category,omitempty"`
	Genre         string  `json:"genre,omitempty"`
	Rating        string  `json:"rating,omitempty"`
	Warnings      string  `json:"warnings,omitempty"`
	Summary       string  `json:"summary,omitempty"`
	StoryURL      string  `json:"story_url,omitempty"`
	Relationships string  `json:"relationships,omitempty"`
	Series        string  `json:"series,omitempty"`
	Collections   string  `json:"collections,omitempty"`
	Score         float32 `json:"score"`
}

// SearchResponse is the body of a successful search. SearchID ties the
// response to the query's log records.
type SearchResponse struct {
	SearchID  string             `json:"search_id"`
	Results   []SearchResultItem `json:"results"`
	Retrieved int                `json:"retrieved"`
	ElapsedMs int64              `json:"elapsed_ms"`
}

// JobResponse describes an index job.
type JobResponse struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type Handler struct {
	searchUsecase usecase.SearchWorksUsecase
	jobRepo       domain.IndexJobRepository
}

func NewHandler(searchUsecase usecase.SearchWorksUsecase, jobRepo domain.IndexJobRepository) *Handler {
	return &Handler{
		searchUsecase: searchUsecase,
		jobRepo:       jobRepo,
	}
}

// RegisterRoutes attaches the handler's routes to the echo instance.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/search", h.Search)
	e.POST("/internal/index/jobs", h.EnqueueIndexJob)
	e.GET("/internal/index/jobs/:id", h.GetIndexJob)
}

// Search runs the two-stage query pipeline.
// (POST /v1/search)
func (h *Handler) Search(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	searchID := uuid.NewString()
	ctx := logger.WithSearchID(c.Request().Context(), searchID)

	output, err := h.searchUsecase.Execute(ctx, usecase.SearchWorksInput{
		Query: req.Query,
		TopK:  req.TopK,
	})
	if err != nil {
		return h.searchErrorResponse(c, err)
	}

	results := make([]SearchResultItem, 0, len(output.Results))
	for _, r := range output.Results {
		results = append(results, SearchResultItem{
			Path:          r.Path,
			Title:         r.Title,
			Author:        r.Author,
			Category:      r.Category,
			Genre:         r.Genre,
			Rating:        r.Rating,
			Warnings:      r.Warnings,
			Summary:       r.Summary,
			StoryURL:      r.StoryURL,
			Relationships: r.Relationships,
			Series:        r.Series,
			Collections:   r.Collections,
			Score:         r.Score,
		})
	}

	return c.JSON(http.StatusOK, SearchResponse{
		SearchID:  searchID,
		Results:   results,
		Retrieved: output.Retrieved,
		ElapsedMs: output.Elapsed.Milliseconds(),
	})
}

func (h *Handler) searchErrorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "query must not be empty"})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, map[string]string{"error": "search timed out"})
	default:
		var oracleErr *domain.OracleError
		if errors.As(err, &oracleErr) {
			return c.JSON(http.StatusBadGateway, map[string]string{"error": oracleErr.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// EnqueueIndexJob queues a full re-index run for the background worker.
// (POST /internal/index/jobs)
func (h *Handler) EnqueueIndexJob(c echo.Context) error {
	now := time.Now()
	job := &domain.IndexJob{
		ID:        uuid.New(),
		Status:    domain.JobStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.jobRepo.Enqueue(c.Request().Context(), job); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, JobResponse{
		JobID:     job.ID.String(),
		Status:    job.Status,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	})
}

// GetIndexJob reports the status of a queued or finished index job.
// (GET /internal/index/jobs/:id)
func (h *Handler) GetIndexJob(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job id"})
	}

	job, err := h.jobRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	resp := JobResponse{
		JobID:     job.ID.String(),
		Status:    job.Status,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}
	if job.ErrorMessage != nil {
		resp.ErrorMessage = *job.ErrorMessage
	}
	return c.JSON(http.StatusOK, resp)
}
