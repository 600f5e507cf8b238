package http

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heyitsaamir/conductor/internal/middleware"
	"github.com/heyitsaamir/conductor/internal/port/cache"
)

// RouteOptions carries the optional pieces of the router.
type RouteOptions struct {
	// Idempotency stores /recv responses by Idempotency-Key. Nil disables it.
	Idempotency    cache.Cache
	IdempotencyTTL time.Duration
	// RecvLimiter throttles /recv per sender. Nil disables it.
	RecvLimiter *middleware.RateLimiter
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Get("/health", h.GetHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSender)
		if opts.RecvLimiter != nil {
			r.Use(opts.RecvLimiter.Handler)
		}
		if opts.Idempotency != nil {
			r.Use(middleware.Idempotency(opts.Idempotency, opts.IdempotencyTTL))
		}
		r.Post("/recv", h.Recv)
	})

	r.Post("/messages", h.PostMessage)
	r.Post("/messages/actions", h.PostAction)

	r.Get("/conversations/{id}/states", h.ListConversationStates)
	r.Get("/tasks/{id}/state", h.GetTaskState)
	r.Get("/tasks/{id}/plan", h.GetTaskPlan)
}
