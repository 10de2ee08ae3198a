// Package api provides the HTTP surface of the backroom server: catalog
// ingestion, product review, order import, and scan reconciliation.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/backroomhq/backroom/internal/ingest"
	"github.com/backroomhq/backroom/internal/observability"
	"github.com/backroomhq/backroom/internal/orders"
	"github.com/backroomhq/backroom/internal/receiving"
	"github.com/backroomhq/backroom/internal/storage"
)

// RowParser decodes an uploaded order file into rows. Wire a concrete
// format decoder here; the handlers treat the file as opaque.
type RowParser func(filename string, r io.Reader) ([]orders.Row, error)

// Server bundles the handler dependencies.
type Server struct {
	logger    *observability.Logger
	repos     *storage.Repositories
	engine    *receiving.Engine
	store     *ingest.Store
	importer  *orders.Importer
	parseRows RowParser

	sharedDir string
	mediaBase string
	maxUpload int64
}

// Config holds router-level settings.
type Config struct {
	SharedDir      string
	MediaBase      string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// NewServer creates the HTTP server facade.
func NewServer(logger *observability.Logger, repos *storage.Repositories, engine *receiving.Engine, store *ingest.Store, importer *orders.Importer, parseRows RowParser, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	return &Server{
		logger:    logger.WithComponent("api"),
		repos:     repos,
		engine:    engine,
		store:     store,
		importer:  importer,
		parseRows: parseRows,
		sharedDir: cfg.SharedDir,
		mediaBase: cfg.MediaBase,
		maxUpload: cfg.MaxUploadBytes,
	}
}

// Router builds the chi router with all routes configured.
func (s *Server) Router(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
	}))

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r.Use(chimiddleware.Timeout(timeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"backroom"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/ingest/upload", s.uploadFile)
		r.Post("/ingest/trigger", s.triggerExtraction)
		r.Post("/ingest/process", s.pollExtraction)
		r.Get("/ingest/files", s.listSourceFiles)

		r.Get("/products", s.listProducts)
		r.Post("/products", s.saveProduct)
		r.Put("/products/{id}", s.updateProduct)
		r.Delete("/products/{id}", s.deleteProduct)
		r.Put("/products/{id}/recrop", s.recropProduct)

		r.Get("/orders", s.listOrders)
		r.Post("/orders", s.uploadOrderFile)

		r.Post("/scan/item", s.scanItem)

		r.Get("/suppliers", s.listSuppliers)
		r.Post("/suppliers", s.createSupplier)
		r.Get("/suppliers/{id}", s.getSupplier)
	})

	// Cropped images and full page renders live under processed/ and are
	// served as static media for the review UI.
	s.mountMedia(r)

	return r
}

func (s *Server) mountMedia(r chi.Router) {
	base := strings.TrimRight(s.mediaBase, "/")
	if base == "" {
		return
	}
	fs := http.StripPrefix(base, http.FileServer(http.Dir(s.processedDir())))
	r.Get(base+"/*", func(w http.ResponseWriter, req *http.Request) {
		fs.ServeHTTP(w, req)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	s.writeJSON(w, status, resp)
}
