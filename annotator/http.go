package annotator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/shield"
)

// Handler returns the HTTP surface used by the popup and the dashboard.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(s.logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		h := s.Health(r.Context())
		code := http.StatusOK
		if h.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, h)
	})

	r.Route("/api/annotations", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Put("/{id}", s.handlePut)
		r.Delete("/{id}", s.handleDelete)
	})
	r.Get("/api/export", s.handleExport)

	r.Route("/api/pages", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.Pages())
		})
		r.Post("/", s.handleOpenPage)
		r.Delete("/{pageID}", s.handleClosePage)
		r.Post("/{pageID}/mode", s.handleSetMode)
		r.Post("/{pageID}/scroll", s.handleScroll)
	})

	r.Get("/api/events", s.events.ServeHTTP)

	c := cors.New(cors.Options{
		AllowedOrigins: s.config.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         86400,
	})
	return c.Handler(r)
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	kind, err := annotation.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := s.List(r.Context(), r.URL.Query().Get("url"), kind)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*annotation.Annotation{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handlePut(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var rec annotation.Annotation
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if rec.ID == "" {
		rec.ID = id
	}
	if rec.ID != id {
		writeError(w, http.StatusBadRequest, fmt.Errorf("body id %q does not match path id %q", rec.ID, id))
		return
	}
	if err := s.Put(r.Context(), &rec); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "saved"})
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	md, err := s.Export(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(md))
}

func (s *Service) handleOpenPage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("body must be {\"url\": \"...\"}"))
		return
	}
	sess, err := s.OpenPage(r.Context(), req.URL)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Info())
}

func (s *Service) handleClosePage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pageID")
	if err := s.ClosePage(id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "closed"})
}

func (s *Service) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	pageID := chi.URLParam(r, "pageID")
	if err := s.SetMode(r.Context(), pageID, req.Mode); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"page_id": pageID, "mode": req.Mode})
}

func (s *Service) handleScroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	pageID := chi.URLParam(r, "pageID")
	if err := s.ScrollTo(r.Context(), pageID, req.X, req.Y); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page_id": pageID, "x": req.X, "y": req.Y})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, annotation.ErrInvalid), errors.Is(err, ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoOpener):
		return http.StatusNotImplemented
	case errors.Is(err, ErrClosed):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func (s *Service) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		shield.GetLogger(r.Context()).Warn("annotator: request failed", "status", code, "error", err)
	}
	writeError(w, code, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
