package kobold

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kobold-gateway/internal/models"
)

// doerFunc adapts a function to Doer and counts invocations.
type doerFunc struct {
	calls atomic.Int32
	fn    func(*http.Request) (*http.Response, error)
}

func (d *doerFunc) Do(req *http.Request) (*http.Response, error) {
	d.calls.Add(1)
	return d.fn(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(d Doer) *Client {
	return New(WithDoer(d), WithRetry(DefaultMaxAttempts, time.Millisecond))
}

func requireRequestError(t *testing.T, err error, status int) *RequestError {
	t.Helper()
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, status, reqErr.Status)
	return reqErr
}

func TestGenerate_MissingAPIServer(t *testing.T) {
	d := &doerFunc{fn: func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{}`), nil
	}}

	_, err := newTestClient(d).Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	requireRequestError(t, err, http.StatusBadRequest)
	assert.Equal(t, int32(0), d.calls.Load())

	_, err = newTestClient(d).Status(context.Background(), "  ")
	requireRequestError(t, err, http.StatusBadRequest)
	assert.Equal(t, int32(0), d.calls.Load())
}

func TestGenerate_RetriesTransientThenSucceeds(t *testing.T) {
	d := &doerFunc{}
	d.fn = func(*http.Request) (*http.Response, error) {
		if d.calls.Load() < 3 {
			return nil, &TransportError{Status: http.StatusServiceUnavailable, Err: errors.New("busy")}
		}
		return jsonResponse(http.StatusOK, `{"results":[{"text":"ok"}]}`), nil
	}

	result, err := newTestClient(d).Generate(context.Background(), GenerateRequest{APIServer: "http://backend", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, Buffered, result.Kind)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.JSONEq(t, `{"results":[{"text":"ok"}]}`, string(result.Body))
	assert.Equal(t, int32(3), d.calls.Load())
}

func TestGenerate_TransientExhausted(t *testing.T) {
	d := &doerFunc{fn: func(*http.Request) (*http.Response, error) {
		return nil, &TransportError{Status: http.StatusForbidden, Err: errors.New("denied")}
	}}

	_, err := newTestClient(d).Generate(context.Background(), GenerateRequest{APIServer: "http://backend"})
	requireRequestError(t, err, http.StatusInternalServerError)
	assert.Equal(t, int32(DefaultMaxAttempts), d.calls.Load())
}

func TestGenerate_FatalErrorStopsImmediately(t *testing.T) {
	tests := []error{
		errors.New("connection reset"),
		&TransportError{Status: http.StatusBadGateway, Err: errors.New("bad gateway")},
	}
	for _, transportErr := range tests {
		d := &doerFunc{fn: func(*http.Request) (*http.Response, error) {
			return nil, transportErr
		}}

		start := time.Now()
		c := New(WithDoer(d), WithRetry(DefaultMaxAttempts, time.Hour))
		_, err := c.Generate(context.Background(), GenerateRequest{APIServer: "http://backend"})
		requireRequestError(t, err, http.StatusInternalServerError)
		assert.Equal(t, int32(1), d.calls.Load())
		assert.Less(t, time.Since(start), time.Minute)
	}
}

func TestGenerate_RetryWaitHonoursContext(t *testing.T) {
	d := &doerFunc{fn: func(*http.Request) (*http.Response, error) {
		return nil, &TransportError{Status: http.StatusServiceUnavailable, Err: errors.New("busy")}
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := New(WithDoer(d), WithRetry(DefaultMaxAttempts, time.Hour))
	_, err := c.Generate(ctx, GenerateRequest{APIServer: "http://backend"})
	reqErr := requireRequestError(t, err, http.StatusInternalServerError)
	assert.ErrorIs(t, reqErr, context.DeadlineExceeded)
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestGenerate_BackendRejection(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "detail msg", body: `{"detail":{"msg":"prompt too long","type":"x"}}`, want: "prompt too long"},
		{name: "json without detail", body: `{"error":"nope"}`, want: `{"error":"nope"}`},
		{name: "plain text", body: "Server busy", want: "Server busy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &doerFunc{fn: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusServiceUnavailable, tt.body), nil
			}}

			_, err := newTestClient(d).Generate(context.Background(), GenerateRequest{APIServer: "http://backend"})
			reqErr := requireRequestError(t, err, http.StatusBadRequest)
			assert.Equal(t, tt.want, reqErr.Message)
			assert.Equal(t, int32(1), d.calls.Load(), "rejections are not retried")
		})
	}
}

func TestGenerate_OversizedRejectionIsMarked(t *testing.T) {
	body := strings.Repeat("x", maxErrorBodyBytes+10)
	d := &doerFunc{fn: func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadRequest, body), nil
	}}

	_, err := newTestClient(d).Generate(context.Background(), GenerateRequest{APIServer: "http://backend"})
	reqErr := requireRequestError(t, err, http.StatusBadRequest)
	assert.Equal(t, body[:maxErrorBodyBytes]+truncatedSuffix, reqErr.Message)
}

func TestGenerate_InvalidJSONIsServerError(t *testing.T) {
	d := &doerFunc{fn: func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `not json`), nil
	}}

	_, err := newTestClient(d).Generate(context.Background(), GenerateRequest{APIServer: "http://backend"})
	requireRequestError(t, err, http.StatusInternalServerError)
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestGenerate_PayloadAndEndpoint(t *testing.T) {
	var (
		gotPath string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"results":[{"text":"done"}]}`) //nolint:errcheck
	}))
	defer srv.Close()

	markers := models.Markers{UserOpen: "[U]", UserClose: "[/U]", ReasoningOpen: "<T>", ReasoningClose: "</T>"}
	temp := 0.2
	c := New(WithMarkers(markers), WithRetry(1, 0))

	result, err := c.Generate(context.Background(), GenerateRequest{
		APIServer: srv.URL + "/",
		Messages:  []models.Message{{Role: "user", Content: "Hello"}},
		Overrides: Overrides{Temperature: &temp},
	})
	require.NoError(t, err)
	assert.Equal(t, Buffered, result.Kind)

	assert.Equal(t, "/v1/generate", gotPath)
	assert.Equal(t, "[U]Hello[/U]", gotBody["prompt"])
	assert.Equal(t, 0.2, gotBody["temperature"])
	assert.Equal(t, 1.05, gotBody["rep_pen"])
	assert.Equal(t, 360.0, gotBody["rep_pen_range"])
	assert.Equal(t, "koboldcpp", gotBody["api_type"])
	assert.Equal(t, []any{"\nuser:", "</s>", "[INST]", "[SYSTEM_PROMPT]"}, gotBody["stop_sequence"])
	assert.Equal(t, []any{"\n", ":", `"`, "*", "<T>", "</T>"}, gotBody["dry_sequence_breakers"])
	assert.NotContains(t, gotBody, "api_server")
}

func TestGenerate_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extra/generate/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, "event: message\ndata: {\"token\":\"Hi\"}\n\n") //nolint:errcheck
	}))
	defer srv.Close()

	result, err := New().Generate(context.Background(), GenerateRequest{APIServer: srv.URL, Streaming: true, Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, Streamed, result.Kind)
	defer result.Stream.Close()

	assert.Equal(t, http.StatusAccepted, result.StatusCode)
	assert.Equal(t, "text/event-stream; charset=utf-8", result.ContentType)
	data, err := io.ReadAll(result.Stream)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"token":"Hi"`)
}

func TestGenerate_StreamingDefaultsContentType(t *testing.T) {
	d := &doerFunc{fn: func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(""))}, nil
	}}

	result, err := newTestClient(d).Generate(context.Background(), GenerateRequest{APIServer: "http://b", Streaming: true})
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", result.ContentType)
}

func TestComplete(t *testing.T) {
	d := &doerFunc{fn: func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"results":[{"text":"<T>r</T>answer"}]}`), nil
	}}
	text, err := newTestClient(d).Complete(context.Background(), "http://b", "prompt", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "<T>r</T>answer", text)

	d.fn = func(*http.Request) (*http.Response, error) { return jsonResponse(http.StatusOK, `{"results":[]}`), nil }
	_, err = newTestClient(d).Complete(context.Background(), "http://b", "prompt", Overrides{})
	requireRequestError(t, err, http.StatusInternalServerError)
}

func TestStatus_AllFail(t *testing.T) {
	d := &doerFunc{fn: func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}}

	summary, err := newTestClient(d).Status(context.Background(), "http://localhost:5001")
	require.NoError(t, err)
	assert.Equal(t, StatusSummary{
		KoboldUnitedVersion: "0.0.0",
		KoboldCppVersion:    "0.0",
		Model:               "no_connection",
	}, summary)
	assert.Equal(t, int32(3), d.calls.Load())
}

func TestStatus_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/info/version":
			io.WriteString(w, `{"result":"1.2.5"}`) //nolint:errcheck
		case "/extra/version":
			io.WriteString(w, `{"result":"1.80","version":"1.80"}`) //nolint:errcheck
		case "/v1/model":
			io.WriteString(w, `{"result":"koboldcpp/mistral"}`) //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	summary, err := New().Status(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, StatusSummary{
		KoboldUnitedVersion: "1.2.5",
		KoboldCppVersion:    "1.80",
		Model:               "koboldcpp/mistral",
	}, summary)
}

func TestStatus_PartialFailureAndReadOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/info/version":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/extra/version":
			io.WriteString(w, `{"result":"1.80"}`) //nolint:errcheck
		case "/v1/model":
			io.WriteString(w, `{"result":"ReadOnly"}`) //nolint:errcheck
		}
	}))
	defer srv.Close()

	summary, err := New().Status(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", summary.KoboldUnitedVersion)
	assert.Equal(t, "1.80", summary.KoboldCppVersion)
	assert.Equal(t, "no_connection", summary.Model)
}

func TestNormalizeServer(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:5001", NormalizeServer("http://localhost:5001/"))
	assert.Equal(t, "http://10.0.0.2:5001", NormalizeServer(" http://10.0.0.2:5001 "))
}

func TestNormalizeServer_UsedForRequests(t *testing.T) {
	var host string
	d := &doerFunc{fn: func(r *http.Request) (*http.Response, error) {
		host = r.URL.Host
		return jsonResponse(http.StatusOK, `{}`), nil
	}}
	_, err := newTestClient(d).Generate(context.Background(), GenerateRequest{APIServer: "http://localhost:5001"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5001", host)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Transient, Classify(&TransportError{Status: 503, Err: io.EOF}).Kind)
	assert.Equal(t, Transient, Classify(&TransportError{Status: 403, Err: io.EOF}).Kind)
	assert.Equal(t, Fatal, Classify(&TransportError{Status: 500, Err: io.EOF}).Kind)
	assert.Equal(t, Fatal, Classify(io.ErrUnexpectedEOF).Kind)

	wrapped := &url503{}
	assert.Equal(t, Transient, Classify(wrapped).Kind)
}

// url503 mimics *url.Error wrapping a status-tagged transport error.
type url503 struct{}

func (url503) Error() string { return "Post: transport error" }
func (url503) Unwrap() error {
	return &TransportError{Status: http.StatusServiceUnavailable, Err: io.EOF}
}

func TestBuildSettings_Defaults(t *testing.T) {
	s := BuildSettings(Overrides{}, "p", models.Markers{})

	assert.Equal(t, "koboldcpp", s.APIType)
	assert.True(t, s.AddBOSToken)
	assert.Equal(t, 1.05, s.RepPen)
	assert.Equal(t, 360, s.RepPenRange)
	assert.Equal(t, 0.70, s.Temperature)
	assert.Equal(t, 0.95, s.TopP)
	assert.Equal(t, 0.05, s.MinP)
	assert.Equal(t, []int{6, 0, 1, 3, 4, 2, 5}, s.SamplerOrder)
	assert.Equal(t, -1, s.SamplerSeed)
	assert.Equal(t, DefaultStopSequences, s.StopSequence)
	assert.Equal(t, 2, s.DRYAllowedLength)
	assert.Equal(t, 1.75, s.DRYBase)
	assert.Equal(t, 0.8, s.DRYMultiplier)
	assert.Equal(t, 320, s.DRYPenaltyLastN)
	assert.Equal(t, []string{"\n", ":", `"`, "*"}, s.DRYSequenceBreakers)
	assert.Nil(t, s.MaxLength)
}

func TestBuildSettings_Overrides(t *testing.T) {
	ctx, predict := 4096, 200
	maxLen := 50
	o := Overrides{
		NumCtx:       &ctx,
		NumPredict:   &predict,
		MaxLength:    &maxLen,
		StopSequence: []string{"###"},
		SamplerOrder: []int{0},
	}
	s := BuildSettings(o, "p", models.Markers{})

	require.NotNil(t, s.MaxContextLength)
	assert.Equal(t, 4096, *s.MaxContextLength)
	require.NotNil(t, s.MaxLength)
	assert.Equal(t, 50, *s.MaxLength, "explicit max_length wins over num_predict")
	assert.Equal(t, []string{"###"}, s.StopSequence)
	assert.Equal(t, []int{0}, s.SamplerOrder)
}

func TestGenerateRequest_DecodeIgnoresUnknownKeys(t *testing.T) {
	var req GenerateRequest
	err := json.Unmarshal([]byte(`{"api_server":"http://x","streaming":true,"top_k":40,"made_up":1}`), &req)
	require.NoError(t, err)
	assert.Equal(t, "http://x", req.APIServer)
	assert.True(t, req.Streaming)
	require.NotNil(t, req.TopK)
	assert.Equal(t, 40, *req.TopK)
}
