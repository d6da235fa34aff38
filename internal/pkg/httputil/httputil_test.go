package httputil

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/chatbae/internal/pkg/logutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTimeoutConfigFor(t *testing.T) {
	config := TimeoutConfig{
		Default: 15 * time.Second,
		Short:   3 * time.Second,
		Long:    45 * time.Second,
	}

	tests := []struct {
		operationType string
		expected      time.Duration
	}{
		{OperationStorage, config.Default},
		{OperationHealth, config.Short},
		{OperationModel, config.Long},
		{"unknown", config.Default},
	}

	for _, tt := range tests {
		t.Run(tt.operationType, func(t *testing.T) {
			assert.Equal(t, tt.expected, config.For(tt.operationType), "Should return correct timeout for operation type")
		})
	}
}

func TestWithCustomTimeout(t *testing.T) {
	ctx, cancel := WithCustomTimeout(context.Background(), OperationHealth, DefaultTimeouts)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok, "Context should have a deadline")
	assert.True(t, time.Until(deadline) <= DefaultTimeouts.Short, "Deadline should be within short timeout")
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected int
	}{
		{"missing", "", 7},
		{"valid", "?limit=3", 3},
		{"zero_falls_back", "?limit=0", 7},
		{"garbage_falls_back", "?limit=abc", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest("GET", "/test"+tt.query, nil)

			assert.Equal(t, tt.expected, ParseIntParam(c, "limit", 7))
		})
	}
}

func TestParseBoolParam(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/test?stream=true&bad=maybe", nil)

	assert.True(t, ParseBoolParam(c, "stream", false))
	assert.True(t, ParseBoolParam(c, "bad", true), "Invalid value should return default")
	assert.False(t, ParseBoolParam(c, "missing", false))
}

func TestRequiredParam(t *testing.T) {
	tests := []struct {
		name        string
		paramValue  string
		expectError bool
	}{
		{name: "valid_param", paramValue: "123"},
		{name: "empty_param", paramValue: "", expectError: true},
		{name: "blank_param", paramValue: "  ", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Params = gin.Params{{Key: "id", Value: tt.paramValue}}

			result, err := RequiredParam(c, "id")

			if tt.expectError {
				assert.Error(t, err, "Should return error for invalid param")
				assert.Empty(t, result, "Result should be empty on error")
			} else {
				assert.NoError(t, err, "Should not return error for valid param")
				assert.Equal(t, tt.paramValue, result, "Result should match param value")
			}
		})
	}
}

func TestIndexParam(t *testing.T) {
	tests := []struct {
		value       string
		expected    int
		expectError bool
	}{
		{"0", 0, false},
		{"12", 12, false},
		{"-1", 0, true},
		{"two", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run("index_"+tt.value, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Params = gin.Params{{Key: "index", Value: tt.value}}

			index, err := IndexParam(c, "index")
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, index)
		})
	}
}

func TestSuccessResponse(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	SuccessResponse(c, map[string]string{"message": "test"})

	assert.Equal(t, http.StatusOK, w.Code, "Should return 200 status")
	assert.Contains(t, w.Body.String(), "\"success\":true", "Response should contain success:true")
	assert.Contains(t, w.Body.String(), "\"message\":\"test\"", "Response should contain data")
}

func TestCreatedAndAcceptedResponses(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	CreatedResponse(c, map[string]string{"id": "123"})
	assert.Equal(t, http.StatusCreated, w.Code, "Should return 201 status")
	assert.Contains(t, w.Body.String(), "\"id\":\"123\"", "Response should contain data")

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	AcceptedResponse(c, map[string]string{"conversation_id": "abc"})
	assert.Equal(t, http.StatusAccepted, w.Code, "Should return 202 status")
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name           string
		errorFunc      func(*gin.Context, error)
		expectedStatus int
	}{
		{"bad_request_error", BadRequestError, http.StatusBadRequest},
		{"not_found_error", NotFoundError, http.StatusNotFound},
		{"conflict_error", ConflictError, http.StatusConflict},
		{"internal_server_error", InternalServerError, http.StatusInternalServerError},
		{"service_unavailable_error", ServiceUnavailableError, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			tt.errorFunc(c, assert.AnError)

			assert.Equal(t, tt.expectedStatus, w.Code, "Should return correct status code")
			assert.Contains(t, w.Body.String(), "\"success\":false", "Response should contain success:false")
			assert.Contains(t, w.Body.String(), "\"error\":", "Response should contain error field")
		})
	}
}

func TestSuccessResponseWithMeta(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	SuccessResponseWithMeta(c, []string{"a"}, map[string]interface{}{"total": 1, "query": "tip"})

	assert.Equal(t, http.StatusOK, w.Code, "Should return 200 status")
	assert.Contains(t, w.Body.String(), "\"total\":1", "Response should contain meta data")
	assert.Contains(t, w.Body.String(), "\"query\":\"tip\"", "Response should contain meta data")
}

func TestCORSMiddleware(t *testing.T) {
	middleware := CORSMiddleware(MiddlewareConfig{
		EnableCORS:     true,
		AllowedOrigins: []string{"https://example.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("OPTIONS", "/test", nil)

	middleware(c)

	assert.Equal(t, http.StatusNoContent, w.Code, "OPTIONS request should return 204")
	assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestTimeoutMiddlewareAndOperationContext(t *testing.T) {
	config := TimeoutConfig{
		Default: 15 * time.Second,
		Short:   3 * time.Second,
		Long:    45 * time.Second,
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/test", nil)

	TimeoutMiddleware(config)(c)

	assert.Equal(t, config.Long, GetTimeoutForOperation(c, OperationModel))

	ctx, cancel := WithOperationContext(c, OperationHealth)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok, "Context should have a deadline")
	assert.True(t, time.Until(deadline) <= config.Short, "Deadline should be within expected timeout")
}

func TestWithOperationContextDefaults(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/test", nil)

	ctx, cancel := WithOperationContext(c, OperationModel)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.Greater(t, time.Until(deadline), DefaultTimeouts.Default)
	assert.LessOrEqual(t, time.Until(deadline), DefaultTimeouts.Long)
}

type recorder struct{ calls int }

func (r *recorder) RecordResponseTime(time.Duration) { r.calls++ }

func TestMetricsAndLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logutil.NewLogger(logutil.LogConfig{Level: logutil.DEBUG, Format: "text", Output: &buf})
	rec := &recorder{}

	router := gin.New()
	router.Use(RequestLogger(logger), MetricsMiddleware(rec))
	router.GET("/missing", func(c *gin.Context) { NotFoundError(c, assert.AnError) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1, rec.calls)
	assert.Contains(t, buf.String(), "Request rejected")
	assert.Contains(t, buf.String(), "status=404")
}
