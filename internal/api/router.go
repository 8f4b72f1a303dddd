package api

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/metrics"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/ratelimit"
)

type RouterConfig struct {
	CORSAllow []string

	// Gateway serves /ws/{roomId}
	Gateway http.Handler

	Metrics *metrics.Metrics

	// Per-IP budget for /autocomplete; nil disables it
	CompletionLimit *ratelimit.ClientLimiters
}

// NewRouter wires up all HTTP routes and wraps them in CORS
func NewRouter(a *API, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", a.HealthHandler)
	mux.HandleFunc("/api/stats", a.StatsHandler)
	mux.Handle("/metrics", cfg.Metrics.Handler())

	mux.HandleFunc("/rooms", a.RoomsRouter)
	mux.HandleFunc("/rooms/", a.RoomsRouter)

	var autocomplete http.Handler = http.HandlerFunc(a.AutocompleteHandler)
	if cfg.CompletionLimit != nil {
		autocomplete = cfg.CompletionLimit.Middleware(autocomplete, autocompleteLimited)
	}
	mux.Handle("/autocomplete", autocomplete)

	if cfg.Gateway != nil {
		mux.Handle("/ws/", cfg.Gateway)
		mux.Handle("/ws", cfg.Gateway)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllow,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}
