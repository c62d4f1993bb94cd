// Package router wraps chi with error-returning handlers. A handler that
// fails returns an error instead of writing to the response; the router maps
// registered domain errors to JsonError responses and logs the rest.
package router

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
)

type Router struct {
	chi.Router
	mappings     []mapping
	defaultError JsonError
	logger       *slog.Logger
}

type mapping struct {
	target error
	mapped JsonError
}

type RouterOption func(*Router)

func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithDefaultError(err JsonError) RouterOption {
	return func(r *Router) {
		r.defaultError = err
	}
}

func New(opts ...RouterOption) *Router {
	return wrap(chi.NewRouter(), opts...)
}

func wrap(chiRouter chi.Router, opts ...RouterOption) *Router {
	router := &Router{
		Router:       chiRouter,
		defaultError: DefaultError,
		logger:       slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(router)
	}
	return router
}

// HandlerFunc is a handler that reports failure by returning an error. A
// failing handler must not have written to the response writer.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// MapError registers a response for a domain error. Matching uses errors.Is,
// so wrapped errors map too.
func (a *Router) MapError(target error, mapped JsonError) {
	a.mappings = append(a.mappings, mapping{target: target, mapped: mapped})
}

func (a *Router) mapError(err error) JsonError {
	var jsonErr JsonError
	if errors.As(err, &jsonErr) {
		return jsonErr
	}
	for _, m := range a.mappings {
		if errors.Is(err, m.target) {
			return m.mapped
		}
	}
	return a.defaultError
}

func (a *Router) handleWithErr(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		mapped := a.mapError(err)
		if mapped == a.defaultError {
			a.logger.Error(err.Error(),
				slog.String("method", r.Method), slog.String("path", r.URL.Path))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(mapped.StatusCode())
		if err := mapped.Encode(w); err != nil {
			a.logger.Error("encode error response", slog.String("err", err.Error()))
		}
	}
}

func (a *Router) Get(path string, h HandlerFunc) {
	a.Router.Get(path, a.handleWithErr(h))
}

func (a *Router) Post(path string, h HandlerFunc) {
	a.Router.Post(path, a.handleWithErr(h))
}

func (a *Router) Put(path string, h HandlerFunc) {
	a.Router.Put(path, a.handleWithErr(h))
}

func (a *Router) Delete(path string, h HandlerFunc) {
	a.Router.Delete(path, a.handleWithErr(h))
}

// Route mounts a sub-router that shares this router's error mappings.
func (a *Router) Route(path string, f func(r *Router)) {
	a.Router.Route(path, func(r chi.Router) {
		sub := wrap(r, WithLogger(a.logger), WithDefaultError(a.defaultError))
		sub.mappings = a.mappings
		f(sub)
	})
}
