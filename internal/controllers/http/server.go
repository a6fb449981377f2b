package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/ports"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

type Server struct {
	svc ports.ThermostatService
	srv *http.Server
	lg  *slog.Logger
}

// New returns a runnable server.
func New(svc ports.ThermostatService, addr string, lg *slog.Logger) *Server {
	if lg == nil {
		lg = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{svc: svc, lg: lg.With("component", "http")}

	// Read
	mux.HandleFunc("GET /v1", s.handleGet)
	mux.HandleFunc("GET /v1/gains", s.handleGetGains)
	mux.HandleFunc("GET /v1/history", s.handleGetHistory)

	// Write: one endpoint per variable
	mux.HandleFunc("POST /v1/temperature_setpoint", s.handlePostSetpoint)
	mux.HandleFunc("POST /v1/mode", s.handlePostMode)
	mux.HandleFunc("POST /v1/current_temperature", s.handlePostCurrentTemperature)
	mux.HandleFunc("POST /v1/outdoor_temperature", s.handlePostOutdoorTemperature)
	mux.HandleFunc("POST /v1/contact_open", s.handlePostContactOpen)

	// Gains
	mux.HandleFunc("POST /v1/gains", s.handlePostGains)
	mux.HandleFunc("POST /v1/gains/reset", s.handlePostReset)
	mux.HandleFunc("POST /v1/gains/recommendation", s.handlePostRecommendation)
	mux.HandleFunc("POST /v1/history/restore", s.handlePostHistoryRestore)
	mux.HandleFunc("POST /v1/history/delete", s.handlePostHistoryDelete)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.lg.Info("listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- DTOs ----

type gainsRequest struct {
	Mode string   `json:"mode"`
	Kp   *float64 `json:"kp"`
	Ki   *float64 `json:"ki"`
	Kd   *float64 `json:"kd"`
	Ke   *float64 `json:"ke"`
}

type historyRestoreRequest struct {
	Mode  string `json:"mode"`
	Index *int   `json:"index"`
}

type historyDeleteRequest struct {
	Mode    string `json:"mode"`
	Indices []int  `json:"indices"`
}

type gainsResponse struct {
	Mode  string      `json:"mode"`
	Gains gains.Gains `json:"gains"`
}

type recommendationResponse struct {
	Applied bool        `json:"applied"`
	Gains   gains.Gains `json:"gains"`
}

// parseMode reads an optional mode; empty means the active mode.
func parseMode(v string) (thermostat.Mode, error) {
	if v == "" {
		return thermostat.ModeUnknown, nil
	}
	m, err := thermostat.ParseMode(v)
	if err != nil {
		return m, err
	}
	if m == thermostat.ModeOff {
		return m, thermostat.ErrInvalidMode
	}
	return m, nil
}

// modeLabel names the history a mode resolves to.
func (s *Server) modeLabel(m thermostat.Mode) string {
	if m == thermostat.ModeUnknown {
		m = s.svc.Get().Mode
	}
	if m == thermostat.ModeCool {
		return thermostat.ModeCool.String()
	}
	return thermostat.ModeHeat.String()
}

// ---- Handlers ----

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w)
}

func (s *Server) handleGetGains(w http.ResponseWriter, r *http.Request) {
	mode, err := parseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gainsResponse{Mode: s.modeLabel(mode), Gains: s.svc.Gains(mode)})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	mode, err := parseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.svc.History(mode))
}

func (s *Server) handlePostSetpoint(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(v float64) error {
		return s.svc.SetSetpoint(r.Context(), v)
	})
}

func (s *Server) handlePostMode(w http.ResponseWriter, r *http.Request) {
	// body: {"value": "heat"}
	postValue(s, w, r, func(v string) error {
		m, err := thermostat.ParseMode(v)
		if err != nil {
			return err
		}
		return s.svc.SetMode(r.Context(), m)
	})
}

func (s *Server) handlePostCurrentTemperature(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(v float64) error {
		s.svc.SetCurrentTemperature(v)
		return nil
	})
}

func (s *Server) handlePostOutdoorTemperature(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(v float64) error {
		s.svc.SetOutdoorTemperature(v)
		return nil
	})
}

func (s *Server) handlePostContactOpen(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(v bool) error {
		return s.svc.SetContactOpen(r.Context(), v)
	})
}

// handlePostGains applies a partial update: omitted gains keep their value.
func (s *Server) handlePostGains(w http.ResponseWriter, r *http.Request) {
	var req gainsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	applied, err := s.svc.SetGains(r.Context(), mode, gains.Update{Kp: req.Kp, Ki: req.Ki, Kd: req.Kd, Ke: req.Ke})
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gainsResponse{Mode: s.modeLabel(mode), Gains: applied})
}

func (s *Server) handlePostReset(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ResetToPhysics(r.Context()); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondStatus(w)
}

func (s *Server) handlePostRecommendation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	g, applied, err := s.svc.ApplyRecommendation(r.Context(), mode)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recommendationResponse{Applied: applied, Gains: g})
}

func (s *Server) handlePostHistoryRestore(w http.ResponseWriter, r *http.Request) {
	var req historyRestoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Index == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'index'")
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	e, err := s.svc.RestoreHistory(r.Context(), mode, *req.Index)
	if err != nil {
		writeErr(w, historyStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handlePostHistoryDelete(w http.ResponseWriter, r *http.Request) {
	var req historyDeleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Indices) == 0 {
		writeErr(w, http.StatusBadRequest, "missing field 'indices'")
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.DeleteHistory(r.Context(), mode, req.Indices...); err != nil {
		writeErr(w, historyStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.svc.History(mode))
}

func historyStatus(err error) int {
	if errors.Is(err, gains.ErrHistoryEmpty) || errors.Is(err, gains.ErrHistoryIndexOutOfRange) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// ---- generic helpers ----
func (s *Server) respondStatus(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, s.svc.Get())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func postValue[T any](s *Server, w http.ResponseWriter, r *http.Request, apply func(T) error) {
	var req struct {
		Value *T `json:"value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'value'")
		return
	}

	if err := apply(*req.Value); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respondStatus(w)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
