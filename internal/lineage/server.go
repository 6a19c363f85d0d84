// Package lineage serves historical run manifests over HTTP so downstream
// tools can trace input checksums to output checksums across runs.
package lineage

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/kpicore/internal/output"
	"github.com/inferloop/kpicore/pkg/models"
)

// Server exposes a read-only lineage API over the manifest store.
type Server struct {
	logger *logrus.Logger
	store  *output.Store
	addr   string
	server *http.Server
}

// RunSummary is the list-view projection of a manifest.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	InputChecksum  string    `json:"input_checksum"`
	OutputChecksum string    `json:"output_checksum"`
	QualityScore   float64   `json:"quality_score"`
	MetricCount    int       `json:"metric_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewServer creates a lineage server over a manifest directory.
func NewServer(store *output.Store, addr string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		logger: logger,
		store:  store,
		addr:   addr,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{run_id}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/lineage/{checksum}", s.handleLineage).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.addr).Info("Lineage server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	manifests, err := s.store.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	summaries := make([]RunSummary, 0, len(manifests))
	for _, m := range manifests {
		summaries = append(summaries, summarize(m))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  summaries,
		"count": len(summaries),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	manifest, err := s.store.Get(runID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, manifest)
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	sum := mux.Vars(r)["checksum"]
	manifests, err := s.store.FindByChecksum(sum)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	summaries := make([]RunSummary, 0, len(manifests))
	for _, m := range manifests {
		summaries = append(summaries, summarize(m))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"checksum": sum,
		"runs":     summaries,
		"count":    len(summaries),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func summarize(m *models.RunManifest) RunSummary {
	summary := RunSummary{
		RunID:          m.RunID,
		InputChecksum:  m.InputChecksum,
		OutputChecksum: m.OutputChecksum,
		MetricCount:    len(m.Metrics),
		CreatedAt:      m.CreatedAt,
	}
	if m.QualityReport != nil {
		summary.QualityScore = m.QualityReport.Score
	}
	return summary
}
