package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/workspace"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server exposes a workspace over HTTP.
type Server struct {
	ws     *workspace.Workspace
	router chi.Router
}

func NewServer(ws *workspace.Workspace) *Server {
	s := &Server{ws: ws}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/models", s.handleListModels)
		api.Get("/events", s.handleEvents)
		api.Post("/messages", s.handleSendNew)

		api.Route("/chats", func(c chi.Router) {
			c.Get("/", s.handleListChats)
			c.Post("/", s.handleCreateChat)
			c.Get("/current", s.handleCurrentChat)
			c.Route("/{chatID}", func(c chi.Router) {
				c.Get("/", s.handleGetChat)
				c.Patch("/", s.handleUpdateChat)
				c.Delete("/", s.handleDeleteChat)
				c.Post("/select", s.handleSelectChat)
				c.Post("/messages", s.handleSend)
				c.Post("/cancel", s.handleCancel)
			})
		})

		api.Route("/projects", func(p chi.Router) {
			p.Get("/", s.handleListProjects)
			p.Post("/", s.handleCreateProject)
			p.Route("/{projectID}", func(p chi.Router) {
				p.Get("/", s.handleGetProject)
				p.Patch("/", s.handleUpdateProject)
				p.Delete("/", s.handleDeleteProject)
				p.Get("/chats", s.handleProjectChats)
				p.Post("/archive", s.handleArchiveProject)
				p.Post("/unarchive", s.handleUnarchiveProject)
				p.Post("/select", s.handleSelectProject)
			})
		})

		api.Route("/categories", func(c chi.Router) {
			c.Get("/", s.handleListCategories)
			c.Post("/", s.handleAddCategory)
			c.Delete("/{categoryID}", s.handleRemoveCategory)
		})

		api.Get("/settings", s.handleGetSettings)
		api.Patch("/settings", s.handleUpdateSettings)

		api.Route("/ui", func(u chi.Router) {
			u.Get("/", s.handleGetUI)
			u.Post("/model", s.handleSelectModel)
			u.Post("/sidebar", s.handleToggleSidebar)
			u.Delete("/modal", s.handleCloseModal)
			u.Delete("/toasts/{toastID}", s.handleDismissToast)
		})
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "could not shut down http server")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("could not write response")
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := errdefs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errdefs.InvalidArgument("body", "invalid request body: "+err.Error())
	}
	return nil
}
