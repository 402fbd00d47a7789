package inbound

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxRequestBodyBytes = 1 << 20

// NewHTTPHandler serves the dispatcher routes over net/http. Unknown paths
// and methods still reach the dispatcher so they get the same error body
// as the Lambda surface.
func NewHTTPHandler(d *Dispatcher) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeResponse(w, jsonResponse(http.StatusOK, messageBody{Result: resultOK, Message: "ok"}))
	})

	serve := serveDispatcher(d)
	r.Post(PathDirectives, serve)
	r.Post(PathEvents, serve)
	r.Route(PathEndpoints, func(r chi.Router) {
		r.Get("/", serve)
		r.Post("/", serve)
		r.Delete("/", serve)
		r.Put("/", serve)
		r.Put("/states", serve)
	})
	r.NotFound(serve)
	r.MethodNotAllowed(serve)
	return r
}

func serveDispatcher(d *Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
		if err != nil {
			writeResponse(w, errorResponse(badRequest("inbound: request body could not be read", map[string]any{
				"path": r.URL.Path,
			})))
			return
		}
		resp := d.Dispatch(r.Context(), Request{
			Method:  r.Method,
			Path:    r.URL.Path,
			Headers: flattenHeaders(r.Header),
			Body:    body,
		})
		writeResponse(w, resp)
	}
}

func writeResponse(w http.ResponseWriter, resp Response) {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		//nolint:errcheck // best effort, the client may have gone away
		w.Write(resp.Body)
	}
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		out[key] = strings.Join(values, ",")
	}
	return out
}
