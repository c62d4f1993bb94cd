// Package vanish wires the ephemeral chat server together: config, logging,
// the in-memory room store with its eviction sweep, and the session-protocol
// HTTP API. Rooms hold exactly two participants, live only in process
// memory, and carry ciphertext the server cannot read.
package vanish

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"log/slog"

	"github.com/go-chi/cors"
	"github.com/putto11262002/vanish/core"
	"github.com/putto11262002/vanish/pkg/router"
)

type App struct {
	config  *Config
	context context.Context
	server  *http.Server
	logger  *slog.Logger
	router  *router.Router

	exit chan int

	store *core.MemoryRoomStore

	roomHandler *RoomHandler
	eventStream *EventStream

	cleanupFuncs []func(context.Context)
}

// NewAPIRouter builds the session-protocol route table on an error-mapping
// router. It is split from New so tests can mount the same routes on an
// httptest server.
func NewAPIRouter(roomHandler *RoomHandler, eventStream *EventStream, logger *slog.Logger,
	middlewares ...func(http.Handler) http.Handler) *router.Router {
	r := router.New(router.WithLogger(logger))
	r.MapError(core.ErrRoomNotFound, router.NewJsonError(http.StatusNotFound, "not_found"))
	r.MapError(core.ErrRoomFull, router.NewJsonError(http.StatusConflict, "full_or_missing"))

	// chi requires middleware before any route is mounted
	r.Router.Use(middlewares...)

	r.Route("/api", func(r *router.Router) {
		r.Route("/rooms", func(r *router.Router) {
			r.Post("/", roomHandler.CreateRoomHandler)
			r.Post("/{roomID}/join", roomHandler.JoinRoomHandler)
			r.Post("/{roomID}/leave", roomHandler.LeaveRoomHandler)
			r.Post("/{roomID}/messages", roomHandler.SendMessageHandler)
			r.Get("/{roomID}/events", roomHandler.PollEventsHandler)
			r.Post("/{roomID}/read", roomHandler.MarkReadHandler)
			r.Post("/{roomID}/typing", roomHandler.SetTypingHandler)
			r.Get("/{roomID}/ws", eventStream.Handler)
		})
	})
	return r
}

func New(ctx context.Context, config *Config) *App {
	app := &App{
		exit: make(chan int),
	}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}
	app.config = config

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	app.store = core.NewMemoryRoomStore(core.StoreConfig{
		MessageTTL:     app.config.Store.MessageTTL,
		EmptyRoomGrace: app.config.Store.EmptyRoomGrace,
		SweepInterval:  app.config.Store.SweepInterval,
	}, core.WithStoreLogger(app.logger))

	app.roomHandler = NewRoomHandler(app.store)
	app.eventStream = NewEventStream(app.store, app.logger, app.checkOrigin)

	app.router = NewAPIRouter(app.roomHandler, app.eventStream, app.logger,
		cors.Handler(cors.Options{
			AllowedOrigins:   app.config.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
		}))

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Hostname, app.config.Port),
		Handler: app.router.Router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}

	return app
}

func (app *App) checkOrigin(r *http.Request) bool {
	if slices.Contains(app.config.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(app.config.AllowedOrigins, r.Header.Get("Origin"))
}

func (app *App) Start() {
	app.store.Start(app.context)
	app.AddCleanupFunc(func(ctx context.Context) {
		app.store.Close()
	})

	// listen for shutdown signal
	go func() {
		<-app.context.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()

		var wg sync.WaitGroup
		for _, f := range app.cleanupFuncs {
			wg.Add(1)
			go func(f func(context.Context)) {
				defer wg.Done()
				f(closeCtx)
			}(f)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			app.logger.Info("app shutdown gracefully")
			app.exit <- 0
		case <-closeCtx.Done():
			app.logger.Info("app shutdown timed out")
			app.exit <- 1
		}
	}()

	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})

	app.logger.Info(fmt.Sprintf("app running on %s:%d", app.config.Hostname, app.config.Port))

	err := app.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		failed(1, "server error: %v\n", err)
	}

	code := <-app.exit
	if code != 0 {
		failed(code, "app exit with code: %d\n", code)
	} else {
		os.Exit(code)
	}
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
