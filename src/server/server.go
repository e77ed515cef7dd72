package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"fundingarb/src/model"
	"fundingarb/src/orchestrator"
	"fundingarb/src/pnl"
)

// PositionSource serves position snapshots and delta audits for the operator
// endpoints. Satisfied by *position.Manager.
type PositionSource interface {
	OpenPositions() []model.Position
	AuditDeltas() []model.DeltaStatus
}

// Summarizer serves the portfolio view.
type Summarizer interface {
	PortfolioSummary() pnl.Summary
}

// OverrideSink receives runtime configuration overrides.
type OverrideSink interface {
	ApplyOverrides(overrides orchestrator.Overrides)
}

// EmergencyTrigger lets the operator fire the emergency stop manually.
type EmergencyTrigger interface {
	Trigger(ctx context.Context, reason string) (closedIDs, failedIDs []string)
	Triggered() bool
}

// Server is the operator-facing HTTP API: status, positions, runtime
// overrides, manual emergency trigger, and a websocket status feed.
type Server struct {
	cfg       *Config
	positions PositionSource
	summary   Summarizer
	overrides OverrideSink
	emergency EmergencyTrigger
	upgrader  websocket.Upgrader
}

func NewServer(cfg *Config, positions PositionSource, summary Summarizer, overrides OverrideSink, emergency EmergencyTrigger) *Server {
	return &Server{
		cfg:       cfg,
		positions: positions,
		summary:   summary,
		overrides: overrides,
		emergency: emergency,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler builds the router. Split from Start so tests can hit the routes
// through httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	r.Get("/status", s.handleStatus)
	r.Get("/positions", s.handlePositions)
	r.Get("/delta", s.handleDelta)
	r.Post("/config", s.handleConfig)
	r.Post("/emergency", s.handleEmergency)
	r.Get("/ws", s.handleWS)

	return r
}

type statusResponse struct {
	EmergencyTriggered bool        `json:"emergency_triggered"`
	OpenPositions      int         `json:"open_positions"`
	Portfolio          pnl.Summary `json:"portfolio"`
	Time               time.Time   `json:"time"`
}

func (s *Server) currentStatus() statusResponse {
	return statusResponse{
		EmergencyTriggered: s.emergency.Triggered(),
		OpenPositions:      len(s.positions.OpenPositions()),
		Portfolio:          s.summary.PortfolioSummary(),
		Time:               time.Now().UTC(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentStatus())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.positions.OpenPositions())
}

func (s *Server) handleDelta(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.positions.AuditDeltas())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var overrides orchestrator.Overrides
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid override payload: " + err.Error()})
		return
	}

	s.overrides.ApplyOverrides(overrides)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "overrides queued for next cycle"})
}

type emergencyRequest struct {
	Reason string `json:"reason"`
}

type emergencyResponse struct {
	ClosedIDs []string `json:"closed_ids"`
	FailedIDs []string `json:"failed_ids"`
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid emergency payload: " + err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "manual operator trigger"
	}

	closedIDs, failedIDs := s.emergency.Trigger(r.Context(), req.Reason)
	writeJSON(w, http.StatusOK, emergencyResponse{ClosedIDs: closedIDs, FailedIDs: failedIDs})
}

// handleWS upgrades the connection and pushes status snapshots on a fixed
// interval until the client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Error("websocket upgrade failed")
		return
	}
	defer conn.Close()

	interval := s.cfg.WSPushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := conn.WriteJSON(s.currentStatus()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.currentStatus()); err != nil {
				logger.WithError(err).Debug("websocket client gone")
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("response encode error")
	}
}

// Start runs the server and blocks until SIGINT or SIGTERM, then shuts down
// gracefully.
func (s *Server) Start() {
	addr := ":" + s.cfg.Port
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
