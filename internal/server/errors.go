package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"kobold-gateway/internal/history"
	"kobold-gateway/internal/kobold"
	"kobold-gateway/internal/profile"
)

type requestError struct {
	Status  int
	Message string
	Type    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type,omitempty"`
	} `json:"error"`
}

// opaqueErrorBody is reported when generation failed without detail.
type opaqueErrorBody struct {
	Error bool `json:"error"`
}

func writeError(c echo.Context, status int, message, errType string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	return c.JSON(status, payload)
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type)
		return
	}

	var backendErr *kobold.RequestError
	if errors.As(err, &backendErr) {
		if backendErr.Status >= http.StatusInternalServerError {
			_ = c.JSON(backendErr.Status, opaqueErrorBody{Error: true})
			return
		}
		_ = writeError(c, backendErr.Status, backendErr.Message, "")
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprint(he.Message), "invalid_request_error")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error")
}

// toHTTPError maps domain errors onto request errors; unknown errors pass
// through to the generic handler.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, history.ErrInvalidID):
		return requestError{Status: http.StatusBadRequest, Message: err.Error(), Type: "invalid_request_error"}
	case errors.Is(err, profile.ErrUnknownModel):
		return requestError{Status: http.StatusBadRequest, Message: err.Error(), Type: "invalid_request_error"}
	}
	return err
}

// readBody returns the request body, capped at maxBodyBytes.
func readBody(c echo.Context) ([]byte, error) {
	req := c.Request()
	defer req.Body.Close()

	data, err := io.ReadAll(http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		return nil, requestError{
			Status:  status,
			Message: fmt.Sprintf("read request body: %v", err),
			Type:    "invalid_request_error",
		}
	}
	return data, nil
}

func decodeBody[T any](data []byte, target *T) error {
	if len(data) == 0 {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body is required",
			Type:    "invalid_request_error",
		}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}
	return nil
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	data, err := readBody(c)
	if err != nil {
		return err
	}
	return decodeBody(data, target)
}
