// Package httpstore exposes a project.Store over HTTP and provides a
// client implementing project.Store against such a server.
package httpstore

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/wudi/pagekit/observability"
	"github.com/wudi/pagekit/project"
)

const (
	defaultMaxUpload = 256 << 20
	defaultRate      = 600
	formMemory       = 32 << 20
)

type ServerConfig struct {
	// MaxUploadBytes bounds the body of a create request. Default: 256 MiB.
	MaxUploadBytes int64
	// RequestsPerMinute is the per-client rate limit. Default: 600;
	// negative disables limiting.
	RequestsPerMinute int
	Logger            observability.Logger
}

type Server struct {
	store  project.Store
	cfg    ServerConfig
	router chi.Router
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// recordBody carries metadata as raw JSON rather than base64.
type recordBody struct {
	project.Summary
	Metadata json.RawMessage `json:"metadata"`
}

type createdBody struct {
	ID string `json:"id"`
}

func NewServer(store project.Store, cfg ServerConfig) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = defaultRate
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	s := &Server{store: store, cfg: cfg, router: chi.NewRouter()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
	if s.cfg.RequestsPerMinute > 0 {
		s.router.Use(httprate.LimitByIP(s.cfg.RequestsPerMinute, time.Minute))
	}

	s.router.Route("/projects", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Get("/files", s.handleFiles)
			r.Get("/files/{name}", s.handleDownload)
		})
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.cfg.Logger.Debug("http request",
			observability.String("method", r.Method),
			observability.String("path", r.URL.Path),
			observability.String("request_id", middleware.GetReqID(r.Context())),
			observability.Int("status", ww.Status()),
			observability.Int("bytes", ww.BytesWritten()),
			observability.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, kindInvalid, err)
			return
		}
		writeError(w, http.StatusBadRequest, kindInvalid, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	var files []project.File
	for _, fh := range r.MultipartForm.File["file"] {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, kindInvalid, err)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, kindInvalid, err)
			return
		}
		files = append(files, project.File{Name: fh.Filename, Data: data})
	}

	id, err := s.store.Create(r.Context(), r.FormValue("name"), r.FormValue("description"), files, []byte(r.FormValue("metadata")))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdBody{ID: id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if list == nil {
		list = []project.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	body := recordBody{Summary: rec.Summary, Metadata: rec.Metadata}
	if !json.Valid(body.Metadata) {
		body.Metadata = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.Files(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.Download(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, project.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, kindNotFound, err)
	case errors.Is(err, project.ErrFileNotFound):
		writeError(w, http.StatusNotFound, kindFileNotFound, err)
	case errors.Is(err, project.ErrInvalidFileName):
		writeError(w, http.StatusBadRequest, kindInvalid, err)
	default:
		s.cfg.Logger.Error("store failure",
			observability.String("path", r.URL.Path),
			observability.String("request_id", middleware.GetReqID(r.Context())),
			observability.Err(err))
		writeError(w, http.StatusInternalServerError, kindInternal, err)
	}
}

const (
	kindNotFound     = "not_found"
	kindFileNotFound = "file_not_found"
	kindInvalid      = "invalid"
	kindInternal     = "internal"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}
