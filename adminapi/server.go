// Package adminapi exposes the Dispatcher's stop_process, add_shared_object
// and del_shared_object admin operations over HTTP, plus a Prometheus
// /metrics endpoint for queue depth and worker restarts. add_process is not
// exposed here; it takes a Builder and is only callable in-process.
//
// The source framework's admin surface is an in-process API called from
// Python scripts sharing the Dispatcher's address space; since workers here
// are goroutines inside the same binary as the Dispatcher, admin calls stay
// in-process too — this package exists for operators and external tooling
// (dashboards, runbooks) that need a network-reachable control plane.
package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rrbotics/rrf/shared"
)

// DispatcherControl is the subset of *dispatcher.Dispatcher the admin API
// depends on; declared as an interface here so this package does not import
// the dispatcher package's worker-construction internals.
type DispatcherControl interface {
	StopProcess(name string) error
	AddSharedObject(name string, tag shared.Tag) error
	DelSharedObject(name string)
}

// Server is the chi-routed admin HTTP API.
type Server struct {
	router chi.Router
	ctrl   DispatcherControl
	logger *zap.Logger
}

// NewServer builds the admin API router. Mount at the address of your
// choosing with http.ListenAndServe(addr, server).
func NewServer(ctrl DispatcherControl, logger *zap.Logger) *Server {
	s := &Server{ctrl: ctrl, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Delete("/processes/{name}", s.stopProcess)
		r.Post("/shared-objects/{name}", s.addSharedObject)
		r.Delete("/shared-objects/{name}", s.delSharedObject)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) stopProcess(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.ctrl.StopProcess(name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addSharedObjectRequest struct {
	Tag string `json:"tag"`
}

func (s *Server) addSharedObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body addSharedObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.ctrl.AddSharedObject(name, shared.Tag(body.Tag)); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) delSharedObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.ctrl.DelSharedObject(name)
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
