// Package restful exposes a queue manager over HTTP.
package restful

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/s4mli/cola/queue"
	"github.com/sirupsen/logrus"
)

type Request struct {
	Header http.Header
	Form   url.Values
	Body   []byte
}

type getSupported interface {
	Get(context.Context, *Request) (interface{}, error)
}

type postSupported interface {
	Post(context.Context, *Request) (interface{}, error)
}

type deleteSupported interface {
	Delete(context.Context, *Request) (interface{}, error)
}

type handlerFunc func(context.Context, *Request) (interface{}, error)

// BadRequestError marks input the API itself could not parse.
type BadRequestError struct{ Err error }

func (e *BadRequestError) Error() string { return fmt.Sprintf("bad request ( %v )", e.Err) }
func (e *BadRequestError) Unwrap() error { return e.Err }

type API struct {
	mux    *http.ServeMux
	server *http.Server
	logger logrus.FieldLogger
}

func (api *API) ServeHTTP(rw http.ResponseWriter, r *http.Request) { api.mux.ServeHTTP(rw, r) }

func (api *API) requestFrom(r *http.Request) (*Request, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	defer r.Body.Close()
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return &Request{r.Header, r.Form, nil}, nil
	}
	return &Request{r.Header, r.Form, body}, nil
}

func handlerFor(resource interface{}, method string) handlerFunc {
	switch method {
	case http.MethodGet:
		if r, ok := resource.(getSupported); ok {
			return r.Get
		}
	case http.MethodPost:
		if r, ok := resource.(postSupported); ok {
			return r.Post
		}
	case http.MethodDelete:
		if r, ok := resource.(deleteSupported); ok {
			return r.Delete
		}
	}
	return nil
}

// statusOf maps fault kinds to status codes.
func statusOf(err error) int {
	var bad *BadRequestError
	switch {
	case errors.As(err, &bad),
		errors.Is(err, queue.ErrNilArgument),
		errors.Is(err, queue.ErrMissingQueue),
		errors.Is(err, queue.ErrMissingContent),
		errors.Is(err, queue.ErrInvalidReceiveCount):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrQueueNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrFeatureNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (api *API) replyWith(rw http.ResponseWriter, code int, data []byte, err error) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	if data != nil {
		rw.Write(data)
	}
}

func (api *API) requestHandler(resource interface{}) http.HandlerFunc {
	return func(rw http.ResponseWriter, request *http.Request) {
		start := time.Now()
		logger := api.logger.WithFields(logrus.Fields{
			"&":      request.Method,
			"uri":    request.RequestURI,
			"remote": request.RemoteAddr,
		})
		defer func() { logger.Debugf("=> Served in %v", time.Since(start)) }()

		handler := handlerFor(resource, request.Method)
		if handler == nil {
			api.replyWith(rw, http.StatusMethodNotAllowed, nil, nil)
			return
		}
		if message, err := api.requestFrom(request); err != nil {
			api.replyWith(rw, http.StatusBadRequest, nil, err)
		} else if data, err := handler(request.Context(), message); err != nil {
			logger.Warn("=> Failed: ", err)
			api.replyWith(rw, statusOf(err), nil, err)
		} else if content, err := json.MarshalIndent(data, "", "  "); err != nil {
			api.replyWith(rw, http.StatusInternalServerError, nil, err)
		} else {
			api.replyWith(rw, http.StatusOK, content, nil)
		}
	}
}

func (api *API) RegisterResource(resource interface{}, paths ...string) *API {
	for _, path := range paths {
		api.mux.HandleFunc(path, api.requestHandler(resource))
	}
	return api
}

func (api *API) Name() string { return "API" }

func (api *API) Stop() {
	if api.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.server.Shutdown(ctx); err != nil {
		api.logger.WithField("&", "Stop").Error("=> Shutdown failed: ", err)
	}
}

// Start serves in the background until Stop.
func (api *API) Start(port int) *API {
	api.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: api}
	go func() {
		api.logger.WithField("&", "Start").Info("=> Listening on ", port)
		if err := api.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			api.logger.WithField("&", "Start").Error("=> Serve failed: ", err)
		}
	}()
	return api
}

func NewAPI(logger logrus.FieldLogger) *API {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &API{mux: http.NewServeMux(), logger: logger.WithField("#", "API")}
}
