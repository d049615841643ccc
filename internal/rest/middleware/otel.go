package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pbinitiative/zenpath/internal/config"
	otelint "github.com/pbinitiative/zenpath/internal/otel"
)

const httpMeter = "http-server"

// route parameters copied onto request spans so a trace can be found by the
// instance or definition it touched
var routeKeys = []string{"definitionKey", "instanceKey", "taskId"}

type requestInstruments struct {
	requests     metric.Int64Counter
	requestSize  metric.Int64Counter
	responseSize metric.Int64Counter
	duration     metric.Float64Histogram
}

func newRequestInstruments(meter metric.Meter) (*requestInstruments, error) {
	var ri requestInstruments
	var err, errJoin error
	ri.requests, err = meter.Int64Counter("http_requests_total", metric.WithDescription("Requests served per route and status"))
	errJoin = errors.Join(errJoin, err)
	ri.requestSize, err = meter.Int64Counter("http_request_body_size", metric.WithUnit("By"), metric.WithDescription("Bytes read from request bodies"))
	errJoin = errors.Join(errJoin, err)
	ri.responseSize, err = meter.Int64Counter("http_response_body_size", metric.WithUnit("By"), metric.WithDescription("Bytes written to response bodies"))
	errJoin = errors.Join(errJoin, err)
	ri.duration, err = meter.Float64Histogram("http_request_duration", metric.WithUnit("ms"), metric.WithDescription("Time spent serving a request"))
	errJoin = errors.Join(errJoin, err)
	if errJoin != nil {
		return nil, errJoin
	}
	return &ri, nil
}

// countingBody counts the bytes a handler reads from the request body.
type countingBody struct {
	io.ReadCloser
	read int64
	err  error
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.read += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		b.err = err
	}
	return n, err
}

// statusRecorder remembers the status and size of the response and injects
// the trace context into the response headers.
type statusRecorder struct {
	http.ResponseWriter
	ctx         context.Context
	props       propagation.TextMapPropagator
	status      int
	written     int64
	err         error
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
	w.props.Inject(w.ctx, propagation.HeaderCarrier(w.Header()))
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	if err != nil {
		w.err = err
	}
	return n, err
}

// Opentelemetry traces and meters every request. Instruments come from the
// global meter provider, so metrics are only exported once SetupOtel ran.
func Opentelemetry(conf config.Config) func(next http.Handler) http.Handler {
	tracer := otel.GetTracerProvider().Tracer("http-request-middleware")
	instruments, err := newRequestInstruments(otel.Meter(httpMeter))
	if err != nil {
		otel.Handle(err)
	}
	transferHeaders := conf.Tracing.TransferHeaders
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			for _, header := range transferHeaders {
				ctx = context.WithValue(ctx, otelint.TransferHeaderKey(header), r.Header.Get(header))
			}
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.ServerAddress(r.Host),
					semconv.UserAgentOriginal(r.UserAgent()),
					semconv.ServiceName(conf.Tracing.Name),
				),
				trace.WithAttributes(headerAttributes(r, transferHeaders)...),
			)
			defer span.End()

			body := &countingBody{}
			if r.Body != nil {
				body.ReadCloser = r.Body
				r.Body = body
			}
			rec := &statusRecorder{ResponseWriter: w, ctx: ctx, props: otel.GetTextMapPropagator()}
			r = r.WithContext(ctx)

			start := time.Now()
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
				for _, key := range routeKeys {
					if value := rctx.URLParam(key); value != "" {
						span.SetAttributes(attribute.String("zenpath."+key, value))
					}
				}
			}
			span.SetName(r.Method + " " + route)
			span.SetAttributes(semconv.HTTPRoute(route))
			recordSpan(span, body, rec)
			if instruments != nil {
				instruments.record(r.Context(), r.Method, route, body, rec, time.Since(start))
			}
		})
	}
}

func (ri *requestInstruments) record(ctx context.Context, method, route string, body *countingBody, rec *statusRecorder, took time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("path", route),
		attribute.String("method", method),
		attribute.Int("status", rec.status),
	)
	ri.requests.Add(ctx, 1, attrs)
	if body.read > 0 {
		ri.requestSize.Add(ctx, body.read, attrs)
	}
	if rec.written > 0 {
		ri.responseSize.Add(ctx, rec.written, attrs)
	}
	ri.duration.Record(ctx, float64(took.Microseconds())/1000, attrs)
}

func recordSpan(span trace.Span, body *countingBody, rec *statusRecorder) {
	if body.read > 0 {
		span.SetAttributes(otelhttp.ReadBytesKey.Int64(body.read))
	}
	if body.err != nil {
		span.SetAttributes(otelint.ReadErrorKey.String(body.err.Error()))
	}
	if rec.written > 0 {
		span.SetAttributes(otelhttp.WroteBytesKey.Int64(rec.written))
	}
	if rec.err != nil {
		span.SetAttributes(otelint.WriteErrorKey.String(rec.err.Error()))
	}
	if rec.status > 0 {
		span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	}
}

func headerAttributes(r *http.Request, headers []string) []attribute.KeyValue {
	attributes := make([]attribute.KeyValue, len(headers))
	for i, header := range headers {
		attributes[i] = attribute.String(header, r.Header.Get(header))
	}
	return attributes
}
