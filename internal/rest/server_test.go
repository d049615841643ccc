package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbinitiative/zenpath/internal/config"
	"github.com/pbinitiative/zenpath/internal/engine"
	"github.com/pbinitiative/zenpath/pkg/script/feel"
	"github.com/pbinitiative/zenpath/pkg/script/js"
	"github.com/pbinitiative/zenpath/pkg/storage/inmemory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestServerWithContext(t, "/")
}

func newTestServerWithContext(t *testing.T, contextPath string) *httptest.Server {
	t.Helper()
	jsRuntime, err := js.NewJsRuntime(t.Context(), 2, 1)
	require.NoError(t, err)
	logger := hclog.NewNullLogger()
	e := engine.New(inmemory.NewStorage(), engine.NewDefaultDelegates(logger, feel.NewFeelRuntime(), jsRuntime), logger)
	conf := config.Config{HttpServer: config.Server{Context: contextPath, Addr: ":0"}, Tracing: config.Tracing{Name: "zenpath-test"}}
	server, err := NewServer(e, conf, prometheus.NewRegistry(), logger)
	require.NoError(t, err)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// call sends body as XML when it looks like a BPMN document, as JSON otherwise.
func call(t *testing.T, method string, url string, body []byte, out any) int {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
		if body[0] == '<' {
			req.Header.Set("Content-Type", "application/xml")
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestUserTaskLifecycleOverHttp(t *testing.T) {
	// setup
	srv := newTestServer(t)
	data, err := os.ReadFile("../../pkg/bpmn/test-cases/user-tasks-with-lanes.bpmn")
	require.NoError(t, err)

	// when
	var definition DefinitionResponse
	status := call(t, http.MethodPost, srv.URL+"/v1/definitions?resourceName=user-tasks.bpmn", data, &definition)

	// then
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "user-tasks.bpmn", definition.ResourceName)

	// when
	var started InstanceResponse
	status = call(t, http.MethodPost, fmt.Sprintf("%s/v1/definitions/%d/instances", srv.URL, definition.Key), []byte(`{"variables":{"order":"o-9"}}`), &started)

	// then
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, started.Activated)
	assert.Equal(t, "user-tasks", started.ProcessId)
	assert.Equal(t, []string{"approve"}, started.ActiveTasks)

	// when
	var instance InstanceResponse
	status = call(t, http.MethodGet, fmt.Sprintf("%s/v1/instances/%d", srv.URL, started.Key), nil, &instance)

	// then
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, instance.State)
	assert.Equal(t, started.Key, instance.State.Key)
	assert.NotEmpty(t, instance.State.Path)

	// when
	var afterApprove InstanceResponse
	status = call(t, http.MethodPost, fmt.Sprintf("%s/v1/instances/%d/tasks/approve/complete", srv.URL, started.Key), []byte(`{"variables":{"approved":true}}`), &afterApprove)

	// then
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"pack"}, afterApprove.ActiveTasks)

	// when
	var apiErr ApiError
	status = call(t, http.MethodPost, fmt.Sprintf("%s/v1/instances/%d/tasks/approve/complete", srv.URL, started.Key), nil, &apiErr)

	// then
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "TASK_NOT_ACTIVE", apiErr.Type)

	// when
	var afterPack InstanceResponse
	status = call(t, http.MethodPost, fmt.Sprintf("%s/v1/instances/%d/tasks/pack/error", srv.URL, started.Key), []byte(`{"message":"out of stock"}`), &afterPack)

	// then
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, afterPack.ActiveTasks)

	// when
	var summaries []map[string]any
	status = call(t, http.MethodGet, fmt.Sprintf("%s/v1/definitions/%d/instances", srv.URL, definition.Key), nil, &summaries)

	// then
	require.Equal(t, http.StatusOK, status)
	require.Len(t, summaries, 1)
	assert.Equal(t, fmt.Sprint(started.Key), summaries[0]["key"])
}

func TestHttpErrors(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{name: "broken definition", method: http.MethodPost, path: "/v1/definitions", body: "<definitions", wantStatus: http.StatusBadRequest},
		{name: "unknown definition", method: http.MethodGet, path: "/v1/definitions/1", wantStatus: http.StatusNotFound},
		{name: "malformed key", method: http.MethodGet, path: "/v1/instances/abc", wantStatus: http.StatusBadRequest},
		{name: "unknown instance", method: http.MethodPost, path: "/v1/instances/7/checkpoint", wantStatus: http.StatusNotFound},
		{name: "malformed body", method: http.MethodPost, path: "/v1/definitions/1/instances", body: "{", wantStatus: http.StatusBadRequest},
		{name: "missing definition body", method: http.MethodPost, path: "/v1/definitions", wantStatus: http.StatusBadRequest},
		{name: "variables not an object", method: http.MethodPost, path: "/v1/definitions/1/instances", body: `{"variables":[1]}`, wantStatus: http.StatusBadRequest},
		{name: "error message not a string", method: http.MethodPost, path: "/v1/instances/7/tasks/pack/error", body: `{"message":5}`, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr ApiError
			status := call(t, tt.method, srv.URL+tt.path, []byte(tt.body), &apiErr)
			assert.Equal(t, tt.wantStatus, status)
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}

func TestSystemEndpoints(t *testing.T) {
	// setup
	srv := newTestServer(t)

	// when
	var status map[string]any
	code := call(t, http.MethodGet, srv.URL+"/system/status", nil, &status)

	// then
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "UP", status["status"])

	// when
	resp, err := http.Get(srv.URL + "/system/metrics")

	// then
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
}

func TestRequestsAreValidatedUnderContextPath(t *testing.T) {
	// setup
	srv := newTestServerWithContext(t, "/api")

	// when
	var apiErr ApiError
	status := call(t, http.MethodGet, srv.URL+"/api/v1/instances/abc", nil, &apiErr)

	// then
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", apiErr.Type)
	assert.Contains(t, apiErr.Message, "instanceKey")

	// when
	var keys []string
	status = call(t, http.MethodGet, srv.URL+"/api/v1/instances", nil, &keys)

	// then
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, keys)
}

func TestUnsupportedContentTypeIsRejected(t *testing.T) {
	// setup
	srv := newTestServer(t)
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/v1/definitions/1/instances", strings.NewReader("variables: {}"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/csv")

	// when
	resp, err := http.DefaultClient.Do(req)

	// then
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
