package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/observability"
	"github.com/rhuss/weiche/pkg/storage"
	"github.com/rhuss/weiche/pkg/transport"
)

// Adapter serves the dispatch API over HTTP.
// It routes requests to the dispatcher and the run store and serializes
// responses.
type Adapter struct {
	dispatcher transport.Dispatcher
	store      storage.Store // nil if runs are not persisted
	inflight   *transport.InFlightRegistry
	mux        *http.ServeMux
	config     Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 10 << 20, // 10 MB
	}
}

// RunList is the body of GET /v1/runs.
type RunList struct {
	Object string         `json:"object"`
	Data   []*storage.Run `json:"data"`
}

// NewAdapter creates an HTTP adapter for the given dispatcher. The store is
// optional; when nil, dispatches are not persisted and the run endpoints
// answer 501. Middleware is applied to the dispatcher in the given order;
// in-flight tracking is always installed innermost.
func NewAdapter(d transport.Dispatcher, store storage.Store, cfg Config, middlewares ...transport.Middleware) *Adapter {
	a := &Adapter{
		store:    store,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}
	if a.config.MaxBodySize <= 0 {
		a.config.MaxBodySize = DefaultConfig().MaxBodySize
	}

	chain := append(append([]transport.Middleware(nil), middlewares...), transport.Track(a.inflight))
	a.dispatcher = transport.Chain(chain...)(d)

	a.mux.HandleFunc("POST /v1/dispatch", a.handleDispatch)
	a.mux.HandleFunc("DELETE /v1/dispatch/{request_id}", a.handleCancel)
	a.mux.HandleFunc("GET /v1/runs/{id}", a.handleGetRun)
	a.mux.HandleFunc("GET /v1/runs", a.handleListRuns)

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler records
// request metrics and propagates X-Request-ID.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(observability.MetricsMiddleware(a.mux))
}

// InFlight returns the registry of dispatches currently in progress.
func (a *Adapter) InFlight() *transport.InFlightRegistry {
	return a.inflight
}

// httpRequestIDMiddleware propagates a client-supplied X-Request-ID header
// into the context so the dispatch reuses it.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Request-ID"); id != "" {
			r = r.WithContext(transport.ContextWithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// handleDispatch handles POST /v1/dispatch.
func (a *Adapter) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			transport.WriteError(w, api.NewError(transport.ErrorKindUnsupportedMedia, "Content-Type must be application/json"))
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req api.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteError(w, api.NewError(transport.ErrorKindPayloadTooLarge,
				fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)))
			return
		}
		transport.WriteError(w, api.NewInvalidRequestError("invalid JSON: "+err.Error()))
		return
	}

	resp, err := a.dispatcher.Dispatch(r.Context(), req)
	if resp == nil {
		if err == nil {
			err = errors.New("dispatcher returned no response")
		}
		transport.WriteError(w, err)
		return
	}

	if resp.RequestID != "" {
		w.Header().Set("X-Request-ID", resp.RequestID)
	}

	if a.store != nil {
		run := storage.NewRun(r.Context(), &req, resp)
		if saveErr := a.store.SaveRun(r.Context(), run); saveErr != nil {
			slog.Warn("failed to persist run",
				"request_id", resp.RequestID,
				"error", saveErr,
			)
		} else {
			w.Header().Set("X-Run-ID", run.ID)
		}
	}

	status := http.StatusOK
	if resp.Error != nil {
		status = transport.HTTPStatusFromKind(resp.Error.Kind)
	}
	transport.WriteJSON(w, status, resp)
}

// handleCancel handles DELETE /v1/dispatch/{request_id}. It aborts a
// dispatch that is still in flight.
func (a *Adapter) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("request_id")
	if !a.inflight.Cancel(id) {
		transport.WriteError(w, api.NewError(transport.ErrorKindNotFound, "no in-flight dispatch "+id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetRun handles GET /v1/runs/{id}.
func (a *Adapter) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("run retrieval is not available (no store configured)"),
			http.StatusNotImplemented,
		)
		return
	}

	id := r.PathValue("id")
	if !api.ValidateRunID(id) {
		transport.WriteError(w, api.NewInvalidRequestError("malformed run ID"))
		return
	}

	run, err := a.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			transport.WriteError(w, api.NewError(transport.ErrorKindNotFound, "run "+id+" not found"))
			return
		}
		transport.WriteError(w, err)
		return
	}

	transport.WriteJSON(w, http.StatusOK, run)
}

// handleListRuns handles GET /v1/runs.
func (a *Adapter) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("run listing is not available (no store configured)"),
			http.StatusNotImplemented,
		)
		return
	}

	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		transport.WriteError(w, apiErr)
		return
	}

	runs, err := a.store.ListRuns(r.Context(), opts)
	if err != nil {
		transport.WriteError(w, err)
		return
	}

	transport.WriteJSON(w, http.StatusOK, RunList{Object: "list", Data: runs})
}

// parseListOptions extracts the limit and vendor filter from the query string.
func parseListOptions(r *http.Request) (storage.ListOptions, *api.Error) {
	q := r.URL.Query()
	var opts storage.ListOptions

	if v := q.Get("vendor"); v != "" {
		opts.Vendor = api.Vendor(v)
		if !opts.Vendor.Valid() {
			return opts, api.NewInvalidRequestError(fmt.Sprintf("unknown vendor %q", v))
		}
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, api.NewInvalidRequestError("limit must be a positive integer")
		}
		opts.Limit = limit
	}

	return opts, nil
}
