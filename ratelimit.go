/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// limiters holds one token bucket per client address.
type limiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
}

func newLimiters(limit rate.Limit, burst int) *limiters {
	return &limiters{
		limit:    limit,
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

func (l *limiters) allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[addr]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[addr] = v
	}
	v.seen = time.Now()

	return v.limiter.Allow()
}

// prune forgets clients idle for longer than idle, every idle, until ctx is done.
func (l *limiters) prune(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idle)

			l.mu.Lock()
			for addr, v := range l.visitors {
				if v.seen.Before(cutoff) {
					delete(l.visitors, addr)
				}
			}
			l.mu.Unlock()
		}
	}
}

// clientHost is the address a request is limited under. Proxy headers are
// client-supplied, so they count only when the operator trusts them.
func clientHost(cfg *Config, r *http.Request) string {
	addr := r.RemoteAddr
	if cfg.trustProxyHeaders {
		addr = realIP(r)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return host
}

func (l *limiters) wrap(cfg *Config, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !l.allow(clientHost(cfg, r)) {
			logf(cfg, "SERVE: Rate limited %s on %s", realIP(r), r.URL.Path)

			writeJSON(cfg, w, http.StatusTooManyRequests, map[string]string{
				"error": "Too many requests. Please slow down.",
				"code":  "rate_limited",
			})

			return
		}

		next(w, r, ps)
	}
}
