package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pbinitiative/zenpath/internal/config"
)

func TestStripEmptyQueryParams(t *testing.T) {
	// setup
	var got string
	handler := StripEmptyQueryParams()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.RawQuery
	}))

	// when
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/definitions?resourceName=+order.bpmn+&empty=&blank=%20", nil))

	// then
	assert.Equal(t, "resourceName=order.bpmn", got)
}

func TestCorsAnswersPreflight(t *testing.T) {
	// setup
	handler := Cors([]string{"https://tasks.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodOptions, "/v1/instances", nil)
	req.Header.Set("Origin", "https://tasks.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	// when
	handler.ServeHTTP(rec, req)

	// then
	assert.Equal(t, "https://tasks.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOpentelemetryNamesSpanAfterRoute(t *testing.T) {
	// setup
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	r := chi.NewRouter()
	r.Use(Opentelemetry(config.Config{Tracing: config.Tracing{Name: "zenpath-test"}}))
	r.Post("/v1/instances/{instanceKey}/tasks/{taskId}/complete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	// when
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/instances/42/tasks/approve/complete", nil))

	// then
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "POST /v1/instances/{instanceKey}/tasks/{taskId}/complete", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Attributes(), attribute.String("zenpath.instanceKey", "42"))
	assert.Contains(t, span.Attributes(), attribute.String("zenpath.taskId", "approve"))
}
