package kobold

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Fallback values reported when a status endpoint cannot be read.
const (
	FallbackUnitedVersion = "0.0.0"
	FallbackCppVersion    = "0.0"
	NoConnection          = "no_connection"

	readOnlyModel = "ReadOnly"
)

// StatusSummary aggregates the backend's version and model endpoints.
type StatusSummary struct {
	KoboldUnitedVersion string `json:"koboldUnitedVersion"`
	KoboldCppVersion    string `json:"koboldCppVersion"`
	Model               string `json:"model"`
}

// Status queries the three backend status endpoints concurrently. Individual
// failures are replaced by fallback values; the only error is a missing
// api_server.
func (c *Client) Status(ctx context.Context, apiServer string) (StatusSummary, error) {
	if strings.TrimSpace(apiServer) == "" {
		return StatusSummary{}, badRequest("api_server is required")
	}
	server := NormalizeServer(apiServer)

	var (
		g       errgroup.Group
		united  *string
		cpp     *string
		modelID *string
	)
	g.Go(func() error {
		united = c.fetchResult(ctx, server+versionPath)
		return nil
	})
	g.Go(func() error {
		cpp = c.fetchResult(ctx, server+extraVersionPath)
		return nil
	})
	g.Go(func() error {
		modelID = c.fetchResult(ctx, server+modelPath)
		return nil
	})
	_ = g.Wait()

	summary := StatusSummary{
		KoboldUnitedVersion: FallbackUnitedVersion,
		KoboldCppVersion:    FallbackCppVersion,
		Model:               NoConnection,
	}
	if united != nil {
		summary.KoboldUnitedVersion = *united
	}
	if cpp != nil {
		summary.KoboldCppVersion = *cpp
	}
	if modelID != nil && *modelID != "" && *modelID != readOnlyModel {
		summary.Model = *modelID
	}
	return summary, nil
}

type resultBody struct {
	Result *string `json:"result"`
}

// fetchResult returns the "result" field of a GET endpoint, or nil on any
// failure.
func (c *Client) fetchResult(ctx context.Context, url string) *string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.doer.Do(req)
	if err != nil {
		c.logger.Debug("status request failed", "url", url, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("status request rejected", "url", url, "status", resp.StatusCode)
		return nil
	}

	var body resultBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Debug("decode status response", "url", url, "error", err)
		return nil
	}
	return body.Result
}
