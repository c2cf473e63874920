// Package monitor serves the pipeline's status, recent history and
// rendered frames over HTTP.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/protobuf/encoding/protojson"

	"github.com/banshee-data/depthfusion/internal/db"
	"github.com/banshee-data/depthfusion/internal/fusion/pipeline"
	"github.com/banshee-data/depthfusion/internal/fusion/visualiser"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
	"github.com/banshee-data/depthfusion/internal/version"
)

const (
	defaultHistoryLimit = 300
	maxHistoryLimit     = 10000
	defaultSessionLimit = 20
	shutdownTimeout     = 2 * time.Second
)

// Source is the pipeline as seen by the monitor. *pipeline.Pipeline
// satisfies it.
type Source interface {
	Status() *pipeline.Status
	History() []pipeline.PassRecord
	LatestImage() *volume.ShadedImage
	LatestResidual() *volume.DeltaFrame
	Reset()
}

// SessionStore is the recorded-session database. *db.DB satisfies it.
type SessionStore interface {
	ListSessions(ctx context.Context, limit int) ([]db.Session, error)
	RecentFrameRecords(ctx context.Context, sessionID string, limit int) ([]db.FrameRecord, error)
	AttachAdminRoutes(mux *http.ServeMux) error
}

// WebServerConfig configures the monitor.
type WebServerConfig struct {
	Address string
	Source  Source
	// Sessions is optional; without it the session routes report 404 and
	// /debug/ is not mounted.
	Sessions SessionStore
}

// WebServer is the monitoring HTTP server.
type WebServer struct {
	address  string
	source   Source
	sessions SessionStore
	server   *http.Server
	started  time.Time
}

// NewWebServer builds the server and its routes.
func NewWebServer(cfg WebServerConfig) (*WebServer, error) {
	if cfg.Source == nil {
		return nil, errors.New("monitor: source is required")
	}
	ws := &WebServer{
		address:  cfg.Address,
		source:   cfg.Source,
		sessions: cfg.Sessions,
		started:  time.Now(),
	}
	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler returns the route multiplexer.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Start serves until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", ws.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ws.address, err)
	}
	errCh := make(chan error, 1)
	go func() {
		diagf("HTTP server listening on %s", lis.Addr())
		if err := ws.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		opsf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			opsf("HTTP server force close error: %v", err)
		}
	}
	diagf("HTTP server stopped")
	return nil
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/history", ws.handleHistory)
	mux.HandleFunc("/api/frame.png", ws.handleFrame)
	mux.HandleFunc("/api/residual.png", ws.handleResidual)
	mux.HandleFunc("/api/reset", ws.handleReset)
	mux.HandleFunc("/api/sessions", ws.handleSessions)
	mux.HandleFunc("/api/sessions/frames", ws.handleSessionFrames)
	mux.HandleFunc("/charts/energy", ws.handleEnergyChart)
	mux.HandleFunc("/plots/trajectory.png", ws.handleTrajectoryPlot)
	if ws.sessions != nil {
		if err := ws.sessions.AttachAdminRoutes(mux); err != nil {
			return nil, fmt.Errorf("attach admin routes: %w", err)
		}
	}
	return mux, nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	st := ws.source.Status()
	resp := map[string]interface{}{
		"status":   "ok",
		"version":  version.Version,
		"uptime_s": int(time.Since(ws.started).Seconds()),
		"tracking": st.Tracking(),
	}
	if st != nil {
		resp["phase"] = st.Phase
	}
	writeJSON(w, http.StatusOK, resp)
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	st := ws.source.Status()
	if st == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no status published yet")
		return
	}
	msg, err := visualiser.StatusStruct(st)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	body, err := protojson.Marshal(msg)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// recentHistory returns the newest limit records, oldest first.
func (ws *WebServer) recentHistory(limit int) []pipeline.PassRecord {
	h := ws.source.History()
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	return h
}

func (ws *WebServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, ok := queryLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
		return
	}
	writeJSON(w, http.StatusOK, ws.recentHistory(limit))
}

func (ws *WebServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	img := ws.source.LatestImage()
	if img == nil {
		writeJSONError(w, http.StatusNotFound, "no frame rendered yet")
		return
	}
	var buf bytes.Buffer
	if err := visualiser.EncodePNG(&buf, img); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writePNG(w, buf.Bytes())
}

func (ws *WebServer) handleResidual(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	d := ws.source.LatestResidual()
	if d == nil {
		writeJSONError(w, http.StatusNotFound, "no residual captured yet")
		return
	}
	var buf bytes.Buffer
	err := visualiser.EncodePNG(&buf, &volume.ShadedImage{Width: d.Width, Height: d.Height, Pixels: d.Pixels})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writePNG(w, buf.Bytes())
}

func writePNG(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(b)
}

func (ws *WebServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	ws.source.Reset()
	opsf("volume reset requested from %s", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reset requested"})
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if ws.sessions == nil {
		writeJSONError(w, http.StatusNotFound, "session recording disabled")
		return
	}
	limit, ok := queryLimit(r, defaultSessionLimit, 1000)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
		return
	}
	sessions, err := ws.sessions.ListSessions(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list sessions: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleSessionFrames returns recorded pass outcomes.
// Query params:
//
//	session_id (required)
//	limit (optional, default 300)
func (ws *WebServer) handleSessionFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if ws.sessions == nil {
		writeJSONError(w, http.StatusNotFound, "session recording disabled")
		return
	}
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "missing 'session_id' parameter")
		return
	}
	limit, ok := queryLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
		return
	}
	frames, err := ws.sessions.RecentFrameRecords(r.Context(), id, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read frames: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, frames)
}
