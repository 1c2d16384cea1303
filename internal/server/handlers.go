package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"kobold-gateway/internal/history"
	"kobold-gateway/internal/kobold"
	"kobold-gateway/internal/models"
	"kobold-gateway/internal/session"
)

const streamChunkSize = 4 << 10

func (s *Server) handleGenerate(c echo.Context) error {
	var req kobold.GenerateRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	result, err := s.backend.Generate(c.Request().Context(), req)
	if err != nil {
		return err
	}

	if result.Kind == kobold.Streamed {
		return relayStream(c, result)
	}
	return c.JSONBlob(http.StatusOK, result.Body)
}

// relayStream copies the upstream body to the client, flushing each chunk as
// it arrives.
func relayStream(c echo.Context, result *kobold.Result) error {
	defer result.Stream.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, result.ContentType)
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.WriteHeader(result.StatusCode)
	resp.Flush()

	buf := make([]byte, streamChunkSize)
	for {
		n, err := result.Stream.Read(buf)
		if n > 0 {
			if _, werr := resp.Write(buf[:n]); werr != nil {
				return nil
			}
			resp.Flush()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			slog.Warn("stream relay interrupted", "error", err)
			return nil
		}
	}
}

type statusRequest struct {
	APIServer string `json:"api_server"`
}

func (s *Server) handleStatus(c echo.Context) error {
	var req statusRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	summary, err := s.backend.Status(c.Request().Context(), req.APIServer)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

type modelsResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}

func (s *Server) handleModels(c echo.Context) error {
	return c.JSON(http.StatusOK, modelsResponse{
		Models:  s.profiles.Names(),
		Default: s.profiles.DefaultModel(),
	})
}

func (s *Server) handleCreateSession(c echo.Context) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate session id: %w", err)
	}
	h := models.History{ID: id.String(), Messages: []models.Message{}}
	if err := s.store.Save(c.Request().Context(), h); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, h)
}

func (s *Server) handleGetSession(c echo.Context) error {
	h, err := s.store.Load(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, h)
}

type addMessageRequest struct {
	Role      string `json:"role"`
	Content   any    `json:"content"`
	Name      string `json:"name,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

func (s *Server) handleAddMessage(c echo.Context) error {
	var req addMessageRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	h, err := s.store.Load(ctx, c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	h = history.Append(h, models.Message{
		Role:      req.Role,
		Content:   req.Content,
		Name:      req.Name,
		Reasoning: req.Reasoning,
	})
	if err := s.store.Save(ctx, h); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, h)
}

func (s *Server) handleSessionPrompt(c echo.Context) error {
	p, err := s.profiles.Lookup(c.QueryParam("model"))
	if err != nil {
		return toHTTPError(err)
	}
	h, err := s.store.Load(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.String(http.StatusOK, session.FromHistory(p, h).FormatPrompt())
}

type completeRequest struct {
	Content   any    `json:"content"`
	Model     string `json:"model,omitempty"`
	APIServer string `json:"api_server,omitempty"`
	kobold.Overrides
}

func (s *Server) handleCompleteSession(c echo.Context) error {
	data, err := readBody(c)
	if err != nil {
		return err
	}

	var selector struct {
		Model string `json:"model"`
	}
	if err := decodeBody(data, &selector); err != nil {
		return err
	}
	p, err := s.profiles.Lookup(selector.Model)
	if err != nil {
		return toHTTPError(err)
	}

	// Profile parameters first, then the request body on top of them.
	req := completeRequest{APIServer: s.cfg.APIServer}
	if err := applyParameters(&req.Overrides, p.Parameters); err != nil {
		return requestError{Status: http.StatusInternalServerError, Message: err.Error(), Type: "server_error"}
	}
	if err := decodeBody(data, &req); err != nil {
		return err
	}
	if req.StopSequence == nil {
		req.StopSequence = stopSequences(p.Markers.StopSequence)
	}
	// The prompt is rendered with the profile, so its reasoning markers break
	// DRY sequences rather than the process-wide ones.
	if req.DRYSequenceBreakers == nil {
		req.DRYSequenceBreakers = kobold.SequenceBreakers(p.Markers)
	}

	ctx := c.Request().Context()
	h, err := s.store.Load(ctx, c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}

	sess := session.FromHistory(p, h)
	sess.AddMessage(models.RoleUser, req.Content, "")

	raw, err := s.backend.Complete(ctx, req.APIServer, sess.FormatPrompt(), req.Overrides)
	if err != nil {
		return err
	}
	parsed := sess.AddAssistantResponse(raw)

	if err := s.store.Save(ctx, sess.Snapshot(h.ID)); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, parsed)
}

// applyParameters decodes profile parameters onto o using the same field
// names a request body would.
func applyParameters(o *kobold.Overrides, params map[string]any) error {
	if len(params) == 0 {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode profile parameters: %w", err)
	}
	if err := json.Unmarshal(data, o); err != nil {
		return fmt.Errorf("decode profile parameters: %w", err)
	}
	return nil
}

func stopSequences(profileStop string) []string {
	stops := slices.Clone(kobold.DefaultStopSequences)
	if profileStop != "" && !slices.Contains(stops, profileStop) {
		stops = append(stops, profileStop)
	}
	return stops
}
