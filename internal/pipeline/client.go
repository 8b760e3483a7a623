// Package pipeline is the client for the external SoF extraction and laytime service.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/sof-extractor/internal/domain"
)

const apiKeyHeader = "X-API-Key"

// Config holds pipeline client configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the extraction pipeline over HTTP. Calls are never retried.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// NewClient creates a new pipeline client
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		logger:     logger,
	}
}

// Extract runs the standard multi-document extraction over a batch of files
func (c *Client) Extract(ctx context.Context, docs []domain.Document) ([]domain.Event, domain.Summary, error) {
	c.logger.Info("Calling standard extraction",
		slog.Int("documents", len(docs)),
	)

	body, contentType, err := multipartBody(docs)
	if err != nil {
		return nil, nil, err
	}

	var resp extractionResponse
	if err := c.do(ctx, "/v1/extract", contentType, body, c.apiKey, &resp); err != nil {
		return nil, nil, fmt.Errorf("standard extraction failed: %w", err)
	}

	return decodeEvents(resp.Events), decodeSummary(resp.Summary), nil
}

// ExtractEnhanced runs the single-document enhanced extraction; it needs a capability token
func (c *Client) ExtractEnhanced(ctx context.Context, doc domain.Document, apiKey string) ([]domain.Event, domain.Summary, error) {
	if apiKey == "" {
		return nil, nil, domain.ErrMissingAPIKey
	}

	c.logger.Info("Calling enhanced extraction",
		slog.String("filename", doc.Filename),
	)

	body, contentType, err := multipartBody([]domain.Document{doc})
	if err != nil {
		return nil, nil, err
	}

	var resp extractionResponse
	if err := c.do(ctx, "/v1/extract/enhanced", contentType, body, apiKey, &resp); err != nil {
		return nil, nil, fmt.Errorf("enhanced extraction failed: %w", err)
	}

	return decodeEvents(resp.Events), decodeSummary(resp.Summary), nil
}

// CalculateLaytime asks the pipeline for laytime figures over the given events
func (c *Client) CalculateLaytime(ctx context.Context, summary domain.Summary, events []domain.Event) (*domain.LaytimeResult, error) {
	payload, err := json.Marshal(laytimeRequest{Summary: summary, Events: events})
	if err != nil {
		return nil, fmt.Errorf("failed to encode laytime request: %w", err)
	}

	var resp laytimeResponse
	if err := c.do(ctx, "/v1/laytime", "application/json", bytes.NewReader(payload), c.apiKey, &resp); err != nil {
		return nil, fmt.Errorf("laytime calculation failed: %w", err)
	}

	c.logger.Info("Laytime calculated",
		slog.Float64("allowed_days", resp.AllowedDays),
		slog.Float64("consumed_days", resp.ConsumedDays),
	)

	return &domain.LaytimeResult{
		AllowedDays:  resp.AllowedDays,
		ConsumedDays: resp.ConsumedDays,
		SavedDays:    resp.SavedDays,
		DemurrageDue: resp.DemurrageDue,
		DispatchDue:  resp.DispatchDue,
		Log:          resp.Log,
		Events:       decodeEvents(resp.Events),
	}, nil
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, apiKey string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set(apiKeyHeader, apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	c.logger.Debug("Pipeline response",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("pipeline %s", errorMessage(resp.StatusCode, data))
	}

	if err := decodeJSON(data, dest); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func multipartBody(docs []domain.Document) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, doc := range docs {
		part, err := w.CreateFormFile("files", doc.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("failed to add %s to request: %w", doc.Filename, err)
		}
		if _, err := part.Write(doc.Content); err != nil {
			return nil, "", fmt.Errorf("failed to add %s to request: %w", doc.Filename, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}
