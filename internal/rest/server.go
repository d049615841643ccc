package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
	oapiruntime "github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pbinitiative/zenpath/internal/config"
	"github.com/pbinitiative/zenpath/internal/engine"
	"github.com/pbinitiative/zenpath/internal/rest/api"
	"github.com/pbinitiative/zenpath/internal/rest/middleware"
	"github.com/pbinitiative/zenpath/pkg/bpmn"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpath/pkg/storage"
)

const maxDefinitionSize = 10 << 20

type Server struct {
	engine *engine.Engine
	addr   string
	server *http.Server
	logger hclog.Logger
}

// NewServer exposes the engine over HTTP. Requests under /v1 are validated
// against the OpenAPI document of package api. Metrics are served from
// gatherer, the default prometheus registry when nil.
func NewServer(e *engine.Engine, conf config.Config, gatherer prometheus.Gatherer, logger hclog.Logger) (*Server, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = hclog.Default().Named("rest")
	}
	r := chi.NewRouter()
	s := Server{
		engine: e,
		addr:   conf.HttpServer.Addr,
		logger: logger,
		server: &http.Server{
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           r,
			Addr:              conf.HttpServer.Addr,
		},
	}
	contextPath := conf.HttpServer.Context
	if contextPath == "" {
		contextPath = "/"
	}
	doc, err := api.Load()
	if err != nil {
		return nil, err
	}
	validator, err := middleware.OpenApiValidator(doc, contextPath, func(w http.ResponseWriter, r *http.Request, status int, err error) {
		writeError(w, status, "BAD_REQUEST", err)
	})
	if err != nil {
		return nil, err
	}
	r.Use(middleware.Cors(conf.HttpServer.AllowedOrigins))
	r.Use(middleware.Opentelemetry(conf))
	r.Use(middleware.StripEmptyQueryParams())
	r.Route(contextPath, func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Use(validator)
			r.Post("/definitions", s.deployDefinition)
			r.Get("/definitions/{definitionKey}", s.getDefinition)
			r.Get("/definitions/{definitionKey}/instances", s.getDefinitionInstances)
			r.Post("/definitions/{definitionKey}/instances", s.startInstance)
			r.Get("/instances", s.getInstances)
			r.Get("/instances/{instanceKey}", s.getInstance)
			r.Post("/instances/{instanceKey}/checkpoint", s.checkpointInstance)
			r.Post("/instances/{instanceKey}/tasks/{taskId}/complete", s.completeTask)
			r.Post("/instances/{instanceKey}/tasks/{taskId}/error", s.errorTask)
		})
		// register system endpoints
		r.Route("/system", func(r chi.Router) {
			r.Get("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP)
			r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"status": "UP", "instances": len(e.Instances())})
			})
		})
	})
	return &s, nil
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	s.logger.Info("REST server listening", "addr", listener.Addr().String())
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("error serving REST API", "error", err)
		}
	}()
	return listener, nil
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		s.logger.Error("error stopping REST server", "error", err)
	}
}

type DefinitionResponse struct {
	Key          int64     `json:"key,string"`
	DefinitionId string    `json:"definitionId"`
	ResourceName string    `json:"resourceName"`
	CreatedAt    time.Time `json:"createdAt"`
}

type StartInstanceRequest struct {
	Variables map[string]any `json:"variables"`
}

type InstanceResponse struct {
	Key           int64             `json:"key,string"`
	DefinitionKey int64             `json:"definitionKey,string"`
	ProcessId     string            `json:"processId"`
	Activated     bool              `json:"activated"`
	Completed     bool              `json:"completed"`
	ActiveTasks   []string          `json:"activeTasks"`
	State         *runtime.Document `json:"state,omitempty"`
}

type CompleteTaskRequest struct {
	Variables map[string]any `json:"variables"`
}

type ErrorTaskRequest struct {
	Message string `json:"message"`
}

type ApiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func toDefinitionResponse(record storage.DefinitionRecord) DefinitionResponse {
	return DefinitionResponse{
		Key:          record.Key,
		DefinitionId: record.DefinitionId,
		ResourceName: record.ResourceName,
		CreatedAt:    record.CreatedAt,
	}
}

func toInstanceResponse(bp *bpmn.BusinessProcess, activated bool, withState bool) InstanceResponse {
	resp := InstanceResponse{
		Key:           bp.Key(),
		DefinitionKey: bp.DefinitionKey(),
		ProcessId:     bp.ProcessId(),
		Activated:     activated,
		Completed:     bp.Completed(),
		ActiveTasks:   []string{},
	}
	for _, task := range bp.ActiveTasks() {
		resp.ActiveTasks = append(resp.ActiveTasks, task.Id)
	}
	if withState {
		doc := bp.State().Export()
		resp.State = &doc
	}
	return resp
}

func (s *Server) deployDefinition(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	var resourceName string
	if err := oapiruntime.BindQueryParameter("form", true, false, "resourceName", r.URL.Query(), &resourceName); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	record, err := s.engine.Deploy(r.Context(), resourceName, data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DEFINITION", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDefinitionResponse(record))
}

func (s *Server) getDefinition(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r, "definitionKey")
	if !ok {
		return
	}
	record, err := s.engine.Definition(r.Context(), key)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDefinitionResponse(record))
}

func (s *Server) getDefinitionInstances(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r, "definitionKey")
	if !ok {
		return
	}
	states, err := s.engine.StatesOf(r.Context(), key)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	type stateSummary struct {
		Key       int64     `json:"key,string"`
		ProcessId string    `json:"processId"`
		Completed bool      `json:"completed"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
	items := make([]stateSummary, 0, len(states))
	for _, state := range states {
		items = append(items, stateSummary{Key: state.Key, ProcessId: state.ProcessId, Completed: state.Completed, UpdatedAt: state.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) startInstance(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r, "definitionKey")
	if !ok {
		return
	}
	var req StartInstanceRequest
	if !readJSON(w, r, &req) {
		return
	}
	bp, activated, err := s.engine.Start(r.Context(), key, runtime.NewVariablesFromMap(req.Variables))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	status := http.StatusCreated
	if !activated {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, toInstanceResponse(bp, activated, false))
}

func (s *Server) getInstances(w http.ResponseWriter, r *http.Request) {
	keys := s.engine.Instances()
	items := make([]string, 0, len(keys))
	for _, key := range keys {
		items = append(items, strconv.FormatInt(key, 10))
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r, "instanceKey")
	if !ok {
		return
	}
	bp, err := s.engine.Instance(r.Context(), key)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceResponse(bp, true, true))
}

func (s *Server) checkpointInstance(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r, "instanceKey")
	if !ok {
		return
	}
	if err := s.engine.Checkpoint(r.Context(), key); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r, "instanceKey")
	if !ok {
		return
	}
	var req CompleteTaskRequest
	if !readJSON(w, r, &req) {
		return
	}
	taskId, ok := pathTaskId(w, r)
	if !ok {
		return
	}
	if err := s.engine.CompleteTask(r.Context(), key, taskId, runtime.NewVariablesFromMap(req.Variables)); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeInstance(w, r, key)
}

func (s *Server) errorTask(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r, "instanceKey")
	if !ok {
		return
	}
	var req ErrorTaskRequest
	if !readJSON(w, r, &req) {
		return
	}
	taskId, ok := pathTaskId(w, r)
	if !ok {
		return
	}
	var cause error
	if req.Message != "" {
		cause = errors.New(req.Message)
	}
	if err := s.engine.ErrorTask(r.Context(), key, taskId, cause); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeInstance(w, r, key)
}

func (s *Server) writeInstance(w http.ResponseWriter, r *http.Request, key int64) {
	bp, err := s.engine.Instance(r.Context(), key)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceResponse(bp, true, false))
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var notFound *bpmn.TaskNotFoundError
	var engineErr *bpmn.BpmnEngineError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err)
	case errors.As(err, &notFound):
		writeError(w, http.StatusConflict, "TASK_NOT_ACTIVE", err)
	case errors.As(err, &engineErr):
		writeError(w, http.StatusUnprocessableEntity, "ENGINE_ERROR", err)
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ERROR", err)
	}
}

// bindPath binds a simple style path parameter the way generated handlers do.
func bindPath(w http.ResponseWriter, r *http.Request, name string, dest any) bool {
	err := oapiruntime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest, oapiruntime.BindStyledParameterOptions{
		ParamLocation: oapiruntime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Errorf("invalid format for parameter %s: %w", name, err))
		return false
	}
	return true
}

func pathKey(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	var key int64
	if !bindPath(w, r, name, &key) {
		return 0, false
	}
	return key, true
}

func pathTaskId(w http.ResponseWriter, r *http.Request) (string, bool) {
	var taskId string
	if !bindPath(w, r, "taskId", &taskId) {
		return "", false
	}
	return taskId, true
}

// readJSON decodes an optional JSON body. An empty body leaves v untouched.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, errorType string, err error) {
	writeJSON(w, status, ApiError{Type: errorType, Message: err.Error()})
}
