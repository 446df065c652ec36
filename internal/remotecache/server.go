// Package remotecache implements an HTTP-based shared cache tier: a
// go-chi/chi/v5 server exposing GET/HEAD/PUT on /cas/<hash> for blob
// storage, and a client wrapping net/http with retry/backoff, rate
// limiting, a circuit breaker, and zstd compression for large payloads.
// The connection pooling and retry shape is grounded on the teacher's
// internal/llm/retry_client.go, generalized from an LLM-API retry client
// into a CAS blob transport.
package remotecache

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/forgebuild/forge/internal/blobstore"
	"github.com/forgebuild/forge/internal/hashing"
	"github.com/forgebuild/forge/internal/logging"
)

// Server exposes a blobstore.Store over HTTP for remote cache sharing
// across build machines.
type Server struct {
	store  *blobstore.Store
	logger *logging.Logger
	router chi.Router
}

// NewServer constructs a Server backed by store.
func NewServer(store *blobstore.Store, logger *logging.Logger) *Server {
	s := &Server{store: store, logger: logger}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Route("/cas/{hash}", func(r chi.Router) {
		r.Get("/", s.handleGet)
		r.Head("/", s.handleHead)
		r.Put("/", s.handlePut)
	})
	r.Get("/healthz", s.handleHealth)

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func parseHashParam(r *http.Request) (hashing.Hash, error) {
	raw := chi.URLParam(r, "hash")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != hashing.Size {
		return hashing.Hash{}, fmt.Errorf("remotecache: malformed hash %q", raw)
	}
	var h hashing.Hash
	copy(h[:], decoded)
	return h, nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	h, err := parseHashParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := s.store.Get(h)
	if err != nil {
		if blobstore.IsMiss(err) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.logger.Error("remotecache: get failed", logging.String("hash", h.String()), logging.Err("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	h, err := parseHashParam(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !s.store.Has(h) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	h, err := parseHashParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	body, err := decodeBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	stored, err := s.store.Put(data)
	if err != nil {
		s.logger.Error("remotecache: put failed", logging.String("hash", h.String()), logging.Err("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if stored != h {
		http.Error(w, "hash mismatch: body does not match claimed hash", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
