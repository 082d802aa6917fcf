// Package web serves the kiosk page and its JSON API, and streams
// capture progress to the page over SSE.
package web

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// StaticFS returns the embedded kiosk page assets.
func StaticFS() fs.FS {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}
	return subFS
}

// NewServer creates a server for the given address and handlers.
func NewServer(addr string, handlers *Handlers) *Server {
	return &Server{
		addr:     addr,
		handlers: handlers,
	}
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	h := s.handlers
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", h.ServeIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	if h.Assets != nil {
		r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.FS(h.Assets))))
	}
	r.Get("/config", h.HandleConfig)
	r.Get("/status/stream", h.HandleStatusStream)

	r.Route("/session", func(r chi.Router) {
		r.Post("/", h.HandleStartSession)
		r.Get("/", h.HandleSessionState)
		r.Delete("/", h.HandleResetSession)
		r.Post("/retake/{index}", h.HandleRetake)
		r.Post("/accept", h.HandleAccept)
	})

	r.Get("/selection", h.HandleSelection)
	r.Post("/selection/{index}", h.HandleToggleSelection)
	r.Put("/filter", h.HandleFilter)

	r.Route("/scene", func(r chi.Router) {
		r.Get("/", h.HandleScene)
		r.Post("/select", h.HandleSelect)
		r.Post("/hit", h.HandleHit)
		r.Post("/elements", h.HandleAddElement)
		r.Route("/elements/{id}", func(r chi.Router) {
			r.Delete("/", h.HandleDeleteElement)
			r.Post("/move", h.HandleMove)
			r.Post("/rotate", h.HandleRotate)
			r.Post("/scale", h.HandleScale)
		})
	})

	r.Post("/export", h.HandleExport)
	r.Get("/export", h.HandleLastExport)

	if h.Spool != nil {
		r.Route("/print-queue", func(r chi.Router) {
			r.Get("/", h.HandlePrintQueue)
			r.Get("/{id}/image", h.HandlePrintJobImage)
			r.Post("/{id}/printed", h.HandlePrintJobDone)
		})
	}

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully. Capture runs started through the API stop with ctx.
func (s *Server) Run(ctx context.Context) error {
	s.handlers.ctx = ctx
	srv := &http.Server{Addr: s.addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.handlers.Wait()
		return err
	}
}
