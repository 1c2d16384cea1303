package kobold

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kobold-gateway/internal/config"
	"kobold-gateway/internal/models"
	"kobold-gateway/internal/prompt"
)

// GenerateRequest is a generation call as received from a client. When Prompt
// is empty, Messages are rendered with the client's marker set.
type GenerateRequest struct {
	APIServer string           `json:"api_server"`
	Streaming bool             `json:"streaming,omitempty"`
	Prompt    string           `json:"prompt,omitempty"`
	Messages  []models.Message `json:"messages,omitempty"`
	Overrides
}

// ResultKind tells how a successful generation is delivered.
type ResultKind int

const (
	// Buffered results carry the complete upstream JSON body.
	Buffered ResultKind = iota + 1
	// Streamed results carry the live upstream body.
	Streamed
)

// Result is a successful generation. For Buffered results Body holds the
// upstream JSON unchanged. For Streamed results Stream is the unread upstream
// body, which the caller must close.
type Result struct {
	Kind        ResultKind
	StatusCode  int
	ContentType string
	Body        json.RawMessage
	Stream      io.ReadCloser
}

// Generate forwards req to the backend. The delivery kind is fixed by
// req.Streaming before any I/O happens. Every failure is reported as a
// *RequestError.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	if strings.TrimSpace(req.APIServer) == "" {
		return nil, badRequest("api_server is required")
	}
	server := NormalizeServer(req.APIServer)

	promptText := req.Prompt
	if promptText == "" && len(req.Messages) > 0 {
		promptText = prompt.RenderString(req.Messages, c.markers)
	}
	c.logger.Debug("outgoing prompt",
		"server", server,
		"streaming", req.Streaming,
		"prompt", promptText,
	)

	body, err := json.Marshal(BuildSettings(req.Overrides, promptText, c.markers))
	if err != nil {
		return nil, serverError(fmt.Errorf("marshal settings: %w", err))
	}
	c.logger.Log(ctx, config.LevelTrace, "generation payload", "server", server, "body", string(body))

	if req.Streaming {
		return c.stream(ctx, server+generateStreamPath, body)
	}
	return c.buffered(ctx, server+generatePath, body)
}

func (c *Client) stream(ctx context.Context, url string, body []byte) (*Result, error) {
	resp, err := c.post(ctx, url, body, contentTypeEventStream)
	if err != nil {
		c.logger.Warn("stream request failed", "url", url, "error", err)
		return nil, serverError(err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeEventStream
	}
	return &Result{
		Kind:        Streamed,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Stream:      resp.Body,
	}, nil
}

func (c *Client) buffered(ctx context.Context, url string, body []byte) (*Result, error) {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result, err := c.attempt(ctx, url, body)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("generation succeeded after retry", "url", url, "attempts", attempt)
			}
			return result, nil
		}

		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return nil, reqErr
		}

		failure := Classify(err)
		if failure.Kind != Transient {
			c.logger.Warn("generation failed", "url", url, "attempt", attempt, "error", err)
			break
		}

		c.logger.Debug("retrying generation after transient error",
			"url", url,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"status", failure.Code,
		)
		if attempt == c.maxAttempts {
			break
		}
		if err := sleep(ctx, c.retryDelay); err != nil {
			return nil, serverError(err)
		}
	}

	return nil, serverError(nil)
}

// attempt issues one buffered call. Backend rejections come back as
// *RequestError; anything else is a transport failure for Classify.
func (c *Client) attempt(ctx context.Context, url string, body []byte) (*Result, error) {
	resp, err := c.post(ctx, url, body, contentTypeJSON)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseRejection(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read generate response: %w", err)
	}
	if !json.Valid(data) {
		return nil, errors.New("generate response is not valid JSON")
	}

	return &Result{
		Kind:        Buffered,
		StatusCode:  http.StatusOK,
		ContentType: contentTypeJSON,
		Body:        json.RawMessage(data),
	}, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	return c.doer.Do(req)
}

// truncatedSuffix marks a rejection body cut at maxErrorBodyBytes.
const truncatedSuffix = " [truncated]"

type rejectionBody struct {
	Detail struct {
		Msg string `json:"msg"`
	} `json:"detail"`
}

// parseRejection prefers the backend's detail.msg and falls back to the raw
// body text.
func parseRejection(resp *http.Response) *RequestError {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes+1))
	if err != nil {
		return badRequest(fmt.Sprintf("upstream error status %d", resp.StatusCode))
	}
	if len(data) > maxErrorBodyBytes {
		return badRequest(string(data[:maxErrorBodyBytes]) + truncatedSuffix)
	}
	text := string(data)

	var parsed rejectionBody
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Detail.Msg != "" {
		return badRequest(parsed.Detail.Msg)
	}
	return badRequest(text)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type generateResponse struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

// Complete runs a buffered generation for promptText and returns the text of
// the first result.
func (c *Client) Complete(ctx context.Context, apiServer, promptText string, o Overrides) (string, error) {
	result, err := c.Generate(ctx, GenerateRequest{
		APIServer: apiServer,
		Prompt:    promptText,
		Overrides: o,
	})
	if err != nil {
		return "", err
	}

	var resp generateResponse
	if err := json.Unmarshal(result.Body, &resp); err != nil {
		return "", serverError(fmt.Errorf("decode generate response: %w", err))
	}
	if len(resp.Results) == 0 {
		return "", serverError(errors.New("generate response did not include results"))
	}
	return resp.Results[0].Text, nil
}
