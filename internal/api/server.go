// Package api serves the plugin catalog and scan control over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ipsix/plugscan/internal/catalog"
	"github.com/ipsix/plugscan/internal/config"
	"github.com/ipsix/plugscan/internal/discovery"
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/plugin"
	"github.com/ipsix/plugscan/internal/state"
	"github.com/ipsix/plugscan/internal/storage"
)

// ScanController is the part of the scan manager the API drives.
type ScanController interface {
	BeginScan(ctx context.Context) error
	Cancel()
	State() discovery.State
	Snapshot() *catalog.Snapshot
	CurrentlyScanning() string
	LastSummary() (discovery.Summary, bool)
}

type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	server  *http.Server
	scans   ScanController
	tracker *state.Tracker
	history *storage.HistoryStore
	handler http.Handler
	// base outlives requests so a scan started over HTTP keeps running after
	// the response is written.
	base context.Context
}

// New wires the server. tracker and history may be nil.
func New(cfg config.APIConfig, logger *logging.Logger, scans ScanController, tracker *state.Tracker, history *storage.HistoryStore) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		scans:   scans,
		tracker: tracker,
		history: history,
		base:    context.Background(),
	}
	s.handler = s.buildHandler()
	return s
}

func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	s.base = ctx

	s.server = &http.Server{
		Addr:              s.cfg.BindAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("api server starting", logging.Field{Key: "addr", Value: s.cfg.BindAddr})
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()
	register := func(path string, handler http.HandlerFunc) {
		mux.HandleFunc(path, s.withAuth(handler))
		mux.HandleFunc("/api"+path, s.withAuth(handler))
	}
	register("/health", s.handleHealth)
	register("/status", s.handleStatus)
	register("/plugins", s.handlePlugins)
	register("/plugins/categories", s.handleCategories)
	register("/plugins/find", s.handleFind)
	register("/scan", s.handleScan)
	register("/scan/cancel", s.handleCancel)
	register("/history", s.handleHistory)
	return mux
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("api server stopping")
	return s.server.Shutdown(ctx)
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		token = strings.TrimPrefix(token, "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if s.cfg.AuthToken != "" && token != s.cfg.AuthToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	State    discovery.State    `json:"state"`
	Current  string             `json:"current,omitempty"`
	Plugins  int                `json:"plugins"`
	Progress *state.Progress    `json:"progress,omitempty"`
	Last     *discovery.Summary `json:"last,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		State:   s.scans.State(),
		Current: s.scans.CurrentlyScanning(),
		Plugins: s.scans.Snapshot().Len(),
	}
	if s.tracker != nil {
		p := s.tracker.Progress()
		resp.Progress = &p
	}
	if last, ok := s.scans.LastSummary(); ok {
		resp.Last = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePlugins lists the catalog, filtered by ?protocol=, ?category= and
// ?instruments=true.
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	snap := s.scans.Snapshot()
	query := r.URL.Query()

	descs := snap.Descriptors()
	if raw := query.Get("protocol"); raw != "" {
		protocol, err := plugin.ParseProtocol(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		descs = snap.ByProtocol(protocol)
	}
	if raw := query.Get("category"); raw != "" {
		category := plugin.ParseCategory(raw)
		descs = filter(descs, func(d plugin.Descriptor) bool { return d.Category == category })
	}
	if instruments, _ := strconv.ParseBool(query.Get("instruments")); instruments {
		descs = filter(descs, plugin.Descriptor.IsInstrument)
	}
	writeJSON(w, http.StatusOK, descs)
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scans.Snapshot().Categories())
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	snap := s.scans.Snapshot()
	var (
		d  plugin.Descriptor
		ok bool
	)
	switch {
	case r.URL.Query().Get("key") != "":
		d, ok = snap.Find(r.URL.Query().Get("key"))
	case r.URL.Query().Get("uri") != "":
		d, ok = snap.FindByURI(r.URL.Query().Get("uri"))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key or uri required"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "plugin not found"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if !s.allowWrite(w, r) {
		return
	}
	if err := s.scans.BeginScan(s.base); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, discovery.ErrScanInProgress) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": s.scans.State().String()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.allowWrite(w, r) {
		return
	}
	s.scans.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"state": s.scans.State().String()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if s.history != nil {
		records, err := s.history.List(limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, records)
		return
	}
	records := []storage.ScanRecord{}
	if s.tracker != nil {
		for _, summary := range s.tracker.History() {
			if limit > 0 && len(records) == limit {
				break
			}
			records = append(records, summary.Record())
		}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) allowWrite(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return false
	}
	if s.cfg.ReadOnly {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "api is read-only"})
		return false
	}
	return true
}

func filter(descs []plugin.Descriptor, keep func(plugin.Descriptor) bool) []plugin.Descriptor {
	out := make([]plugin.Descriptor, 0, len(descs))
	for _, d := range descs {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
