// server.go
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// HTTPServer exposes the operational surface: health, engine status,
// and the per-phase AHU setpoint store.
type HTTPServer struct {
	cfg  *AppConfig
	lg   *slog.Logger
	eng  *Engine
	sp   *PhaseSetpoints
	hub  *WSHub
	http *http.Server
}

func NewHTTPServer(cfg *AppConfig, lg *slog.Logger, eng *Engine, sp *PhaseSetpoints, hub *WSHub) *HTTPServer {
	s := &HTTPServer{cfg: cfg, lg: lg, eng: eng, sp: sp, hub: hub}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.getHealth).Methods("GET")
	r.HandleFunc("/status", s.getStatus).Methods("GET")
	r.HandleFunc("/setpoints", s.getSetpoints).Methods("GET")
	r.HandleFunc("/setpoints/{phase}", s.putSetpoint).Methods("PUT")
	r.HandleFunc("/config/reload", s.postReload).Methods("POST")
	if hub != nil {
		r.HandleFunc("/ws", hub.Handle)
	}

	s.http = &http.Server{Addr: cfg.HTTPBind, Handler: handlers.LoggingHandler(os.Stdout, r)}
	return s
}

func (s *HTTPServer) Start() error {
	s.lg.Info("http start", "bind", s.cfg.HTTPBind)
	return s.http.ListenAndServe()
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.lg.Info("http stop")
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *HTTPServer) Handler() http.Handler { return s.http.Handler }

func (s *HTTPServer) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *HTTPServer) getStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"stats":     s.eng.Stats(),
		"m1m3State": s.eng.M1M3StateName(),
	})
}

func (s *HTTPServer) getSetpoints(w http.ResponseWriter, r *http.Request) {
	min, max := s.sp.Range()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"setpoints": s.sp.All(),
		"minC":      min,
		"maxC":      max,
	})
}

func (s *HTTPServer) putSetpoint(w http.ResponseWriter, r *http.Request) {
	phase := mux.Vars(r)["phase"]
	var body struct {
		SetpointC float64 `json:"setpointC"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	val, err := s.sp.Set(phase, body.SetpointC)
	switch {
	case errors.Is(err, ErrUnknownPhase):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, ErrSetpointRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.lg.Info("setpoint updated", "phase", phase, "value", val)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"phase": phase, "setpointC": val})
}

// postReload re-reads the config file and replaces the runtime phase
// setpoints with the file's profiles. Only the setpoint store is
// affected; transport and policy parameters require a restart.
func (s *HTTPServer) postReload(w http.ResponseWriter, r *http.Request) {
	cfg, err := LoadConfig()
	if err != nil {
		s.lg.Error("reload", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.sp.Reset(cfg.AHU.Profiles); err != nil {
		s.lg.Error("reload setpoints", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.lg.Info("setpoints reloaded", "values", s.sp.All())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("reloaded"))
}
