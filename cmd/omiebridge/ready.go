package main

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"omiebridge/internal/respond"
)

type stockReadiness interface {
	Ready(ctx context.Context) error
	CacheAge() (time.Duration, bool)
}

// readiness serves /ready. The first stock listing latches it; after that it only
// reports how old the cached listing is.
type readiness struct {
	stock stockReadiness
	ready atomic.Bool
}

func newReadiness(stock stockReadiness) *readiness {
	return &readiness{stock: stock}
}

func (r *readiness) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !r.ready.Load() {
		if err := r.stock.Ready(req.Context()); err != nil {
			respond.Error(w, req, http.StatusServiceUnavailable, "estoque ainda indisponível", err)
			return
		}
		r.ready.Store(true)
	}
	body := map[string]any{"status": "ok"}
	if age, ok := r.stock.CacheAge(); ok {
		body["idade_cache_segundos"] = int(age.Seconds())
	}
	respond.JSON(w, req, http.StatusOK, body)
}
