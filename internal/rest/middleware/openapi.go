package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

var registerXmlDecoders sync.Once

// ErrorWriter answers a request the validator rejected.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, err error)

// OpenApiValidator rejects requests which do not match the operation doc
// declares for them. contextPath is stripped before routes are looked up.
// Requests for paths doc does not know are passed on untouched.
func OpenApiValidator(doc *openapi3.T, contextPath string, onError ErrorWriter) (func(next http.Handler) http.Handler, error) {
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create openapi router: %w", err)
	}
	registerXmlDecoders.Do(func() {
		openapi3filter.RegisterBodyDecoder("application/xml", openapi3filter.FileBodyDecoder)
		openapi3filter.RegisterBodyDecoder("text/xml", openapi3filter.FileBodyDecoder)
	})
	prefix := strings.TrimSuffix(contextPath, "/")
	options := &openapi3filter.Options{AuthenticationFunc: openapi3filter.NoopAuthenticationFunc}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := r
			if prefix != "" {
				req = r.Clone(r.Context())
				req.URL.Path = strings.TrimPrefix(req.URL.Path, prefix)
			}
			route, pathParams, err := router.FindRoute(req)
			if err != nil {
				if errors.Is(err, routers.ErrPathNotFound) || errors.Is(err, routers.ErrMethodNotAllowed) {
					next.ServeHTTP(w, r)
					return
				}
				onError(w, r, http.StatusBadRequest, err)
				return
			}
			err = openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
				Request:    req,
				PathParams: pathParams,
				Route:      route,
				Options:    options,
			})
			// the validator buffers the body it read
			r.Body = req.Body
			if err != nil {
				onError(w, r, http.StatusBadRequest, validationError(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

// validationError drops the schema dump kin-openapi appends to request errors.
func validationError(err error) error {
	var requestErr *openapi3filter.RequestError
	if !errors.As(err, &requestErr) {
		return err
	}
	reason := requestErr.Reason
	var schemaErr *openapi3.SchemaError
	if reason == "" && errors.As(requestErr.Err, &schemaErr) {
		reason = schemaErr.Reason
	}
	if reason == "" && requestErr.Err != nil {
		reason = requestErr.Err.Error()
	}
	if requestErr.Parameter != nil {
		return fmt.Errorf("parameter %s: %s", requestErr.Parameter.Name, reason)
	}
	if reason == "" {
		return err
	}
	return errors.New(reason)
}
