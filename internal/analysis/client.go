// Package analysis wraps the external language-analysis service. The call is
// opaque to the pipeline: text in, structured judgment out.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"essaypipe/internal/models"
)

// ErrRejected marks a 4xx from the analysis service: the input itself is the
// problem and no retry will fix it.
var ErrRejected = errors.New("analysis request rejected")

type Client interface {
	Analyze(ctx context.Context, text string) (*models.AnalysisResult, error)
}

type client struct {
	baseURL    string
	endpoint   string
	timeout    time.Duration
	retryCount int
	retryDelay time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(baseURL, endpoint string, timeout time.Duration, retryCount int, retryDelay time.Duration, logger zerolog.Logger) Client {
	return &client{
		baseURL:    baseURL,
		endpoint:   endpoint,
		timeout:    timeout,
		retryCount: retryCount,
		retryDelay: retryDelay,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type analyzeRequest struct {
	Text string `json:"text"`
}

func (c *client) Analyze(ctx context.Context, text string) (*models.AnalysisResult, error) {
	url := c.baseURL + c.endpoint

	payload, err := json.Marshal(analyzeRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyze request: %w", err)
	}

	var lastErr error

	for i := 0; i <= c.retryCount; i++ {
		if i > 0 {
			c.logger.Warn().Int("attempt", i).Msg("Retrying analysis request")
			select {
			case <-time.After(c.retryDelay * time.Duration(i)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to call analysis service: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var result models.AnalysisResult
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				resp.Body.Close()
				lastErr = fmt.Errorf("failed to decode analysis response: %w", err)
				continue
			}
			resp.Body.Close()
			return &result, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, string(body))
		}

		lastErr = fmt.Errorf("analysis service returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil, fmt.Errorf("analysis failed after %d attempts: %w", c.retryCount+1, lastErr)
}
