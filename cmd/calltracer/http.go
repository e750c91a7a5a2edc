package main

import (
	"net/http"
	"strconv"

	"github.com/CAFxX/httpcompression"
	"github.com/getsentry/sentry-go"
	gojson "github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"

	"github.com/getsentry/calltracer/internal/collector"
	"github.com/getsentry/calltracer/internal/event"
	"github.com/getsentry/calltracer/internal/httputil"
)

type (
	StatsResponse struct {
		collector.Stats
		SessionID     string `json:"session_id"`
		Tracing       bool   `json:"tracing"`
		ExportDropped int64  `json:"export_dropped"`
	}

	TraceResponse struct {
		ThreadID uint32   `json:"thread_id"`
		Routines []string `json:"routines"`
	}

	SymbolResponse struct {
		Address uint64 `json:"address"`
		Name    string `json:"name"`
	}
)

func (e *environment) newRouter() (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/health", e.getHealth},
		{http.MethodGet, "/stats", e.getStats},
		{http.MethodGet, "/threads", e.getThreads},
		{http.MethodGet, "/threads/:thread_id", e.getThreadTrace},
		{http.MethodGet, "/symbols", e.getSymbol},
		{http.MethodGet, "/symbols/table", e.getSymbolTable},
		{http.MethodPost, "/events", e.postEvents},
	}

	router := httprouter.New()

	for _, route := range routes {
		handlerFunc := httputil.DecompressPayload(route.handler)
		handler := compress(handlerFunc)

		router.Handler(route.method, route.path, handler)
	}

	return router, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	b, err := gojson.Marshal(v)
	if err != nil {
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (e *environment) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (e *environment) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, StatsResponse{
		Stats:         e.collector.Stats(),
		SessionID:     e.sessionID,
		Tracing:       e.config.EnableTracing,
		ExportDropped: e.exportDropped(),
	})
}

func (e *environment) getThreads(w http.ResponseWriter, r *http.Request) {
	threads := e.collector.Threads()
	response := make(map[string]int, len(threads))
	for tid, n := range threads {
		response[strconv.FormatUint(uint64(tid), 10)] = n
	}
	writeJSON(w, r, response)
}

// getThreadTrace returns the routines recorded so far for a live thread.
func (e *environment) getThreadTrace(w http.ResponseWriter, r *http.Request) {
	tid, ok := httputil.GetThreadID(w, r)
	if !ok {
		return
	}
	trace, found := e.collector.Trace(tid)
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, r, TraceResponse{ThreadID: uint32(trace.ThreadID), Routines: trace.Routines})
}

func (e *environment) getSymbolTable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, e.collector.Symbols())
}

func (e *environment) getSymbol(w http.ResponseWriter, r *http.Request) {
	address, logger, ok := httputil.GetAddressParameter(w, r, "address")
	if !ok {
		return
	}
	name, found := e.collector.Lookup(address)
	if !found {
		logger.Debug().Msg("unknown address")
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, r, SymbolResponse{Address: address, Name: name})
}

// postEvents dispatches a JSON lines batch of host events, in order.
func (e *environment) postEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := sentry.StartSpan(ctx, "event.replay")
	s.Description = "Dispatch host events"
	stats, err := event.Replay(ctx, r.Body, e.registry, event.ReplayOptions{
		Logger: e.eventLogger("ingest"),
	})
	s.Finish()
	if err != nil {
		if hub := sentry.GetHubFromContext(ctx); hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, r, stats)
}
