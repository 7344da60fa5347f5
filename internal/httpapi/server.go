// Package httpapi exposes a running profiler over HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"nestprof/internal/metrics"
	"nestprof/internal/observ"
	"nestprof/internal/profiler"
	"nestprof/internal/sink"
)

// Deps are the components served. Nil members disable their routes.
type Deps struct {
	Profiler   *profiler.Profiler
	Ring       *sink.Ring
	Metrics    *metrics.Collector
	Aggregator *observ.Aggregator
	Logger     zerolog.Logger
}

// ConfigView is the JSON form of the profiler settings.
type ConfigView struct {
	ShouldProfile          bool   `json:"should_profile"`
	HideIfLessThan         string `json:"hide_if_less_than"`
	HideTopLevelIfLessThan string `json:"hide_top_level_if_less_than"`
	StartLocation          string `json:"start_location"`
	Tagged                 bool   `json:"tagged"`
	Depth                  int    `json:"depth"`
}

// NewRouter builds the route table:
//
//	GET  /metrics
//	GET  /log
//	GET  /summary
//	GET  /config
//	POST /profiling/{action}   action: enable, disable, toggle
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(hlog.NewHandler(d.Logger))
	r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(req).Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", dur).
			Msg("request")
	}))

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}
	if d.Ring != nil {
		r.HandleFunc("/log", logHandler(d.Ring)).Methods(http.MethodGet)
	}
	if d.Aggregator != nil {
		r.HandleFunc("/summary", summaryHandler(d.Aggregator)).Methods(http.MethodGet)
	}
	if d.Profiler != nil {
		r.HandleFunc("/config", configHandler(d.Profiler)).Methods(http.MethodGet)
		r.HandleFunc("/profiling/{action}", profilingHandler(d.Profiler)).Methods(http.MethodPost)
	}
	return r
}

func logHandler(ring *sink.Ring) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := ring.Dump(w); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("failed to write log")
		}
	}
}

func summaryHandler(agg *observ.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, agg.Report())
	}
}

func configHandler(p *profiler.Profiler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, viewOf(p))
	}
}

func profilingHandler(p *profiler.Profiler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action := mux.Vars(r)["action"]
		switch action {
		case "enable":
			p.Enable()
		case "disable":
			p.Disable()
		case "toggle":
			p.Toggle()
		default:
			http.Error(w, "unknown action "+action, http.StatusNotFound)
			return
		}
		hlog.FromRequest(r).Info().Str("action", action).Bool("enabled", p.Enabled()).Msg("profiling changed")
		writeJSON(w, r, http.StatusOK, viewOf(p))
	}
}

func viewOf(p *profiler.Profiler) ConfigView {
	cfg := p.Config()
	return ConfigView{
		ShouldProfile:          cfg.ShouldProfile,
		HideIfLessThan:         cfg.HideIfLessThan.String(),
		HideTopLevelIfLessThan: cfg.HideTopLevelIfLessThan.String(),
		StartLocation:          cfg.StartLocation.String(),
		Tagged:                 cfg.TagFramesWith != nil,
		Depth:                  p.Depth(),
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("failed to encode response")
	}
}
