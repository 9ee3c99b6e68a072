// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soothill/hvac-supervisor/command"
	"github.com/soothill/hvac-supervisor/dashboard"
	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/telemetry"
)

const maxRequestBody = 64 << 10

// routes builds the HTTP API.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/overview", a.withSession(a.handleOverview))
	mux.HandleFunc("POST /api/refresh", rateLimitMiddleware(a.apiLimiter, a.withSession(a.handleRefresh)))
	mux.HandleFunc("GET /api/session", a.withSession(a.handleSession))
	mux.HandleFunc("PUT /api/session/view", a.withSession(a.handleSetView))
	mux.HandleFunc("GET /api/history", a.withSession(a.handleHistory))
	mux.HandleFunc("GET /api/history.xlsx", a.withSession(a.handleHistoryExport))

	mux.HandleFunc("GET /api/commands/motor/preview", a.withSession(a.handleMotorPreview))
	mux.HandleFunc("POST /api/commands/motor", rateLimitMiddleware(a.apiLimiter, a.withSession(a.handleMotorSend)))
	mux.HandleFunc("POST /api/commands/motor/stop", rateLimitMiddleware(a.apiLimiter, a.withSession(a.handleMotorStop)))
	mux.HandleFunc("GET /api/commands/room", a.withSession(a.handleRoomSettings))
	mux.HandleFunc("POST /api/commands/room/preview", a.withSession(a.handleRoomPreview))
	mux.HandleFunc("POST /api/commands/room", rateLimitMiddleware(a.apiLimiter, a.withSession(a.handleRoomSend)))
	mux.HandleFunc("POST /api/commands/room/reset", rateLimitMiddleware(a.apiLimiter, a.withSession(a.handleRoomReset)))

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", rateLimitMiddleware(a.opsLimiter, healthCheckHandler))
	mux.HandleFunc("GET /ready", rateLimitMiddleware(a.opsLimiter, a.readinessCheckHandler))

	return mux
}

type overviewResponse struct {
	Session  dashboard.State    `json:"session"`
	Overview dashboard.Overview `json:"overview"`
}

func (a *App) handleOverview(w http.ResponseWriter, r *http.Request, s *dashboard.Session) {
	overview := s.Overview(r.Context())
	writeJSON(w, http.StatusOK, overviewResponse{Session: s.State(), Overview: overview})
}

func (a *App) handleRefresh(w http.ResponseWriter, r *http.Request, s *dashboard.Session) {
	snap := s.RefreshNow(r.Context())
	overview := a.manager.View().Overview(snap, a.manager.Normalizer())
	writeJSON(w, http.StatusOK, overviewResponse{Session: s.State(), Overview: overview})
}

func (a *App) handleSession(w http.ResponseWriter, _ *http.Request, s *dashboard.Session) {
	writeJSON(w, http.StatusOK, s.State())
}

type setViewRequest struct {
	View            string  `json:"view"`
	IntervalSeconds float64 `json:"interval_seconds"`
}

func (a *App) handleSetView(w http.ResponseWriter, r *http.Request, s *dashboard.Session) {
	var req setViewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	state, err := s.SetPage(req.View, time.Duration(req.IntervalSeconds*float64(time.Second)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// historyOrder reads ?order=, falling back to the configured default.
func (a *App) historyOrder(r *http.Request) (string, error) {
	order := r.URL.Query().Get("order")
	if order == "" {
		order = a.Config().Display.HistoryOrder
	}
	return dashboard.ParseOrder(order)
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request, s *dashboard.Session) {
	order, err := a.historyOrder(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.History(r.Context(), order))
}

func (a *App) handleHistoryExport(w http.ResponseWriter, r *http.Request, s *dashboard.Session) {
	order, err := a.historyOrder(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page := s.History(r.Context(), order)
	if len(page.Rows) == 0 && len(page.Errors) > 0 {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: page.Errors[0]})
		return
	}

	data, err := dashboard.ExportHistoryXLSX(page.Rows)
	if err != nil {
		logger.Error().Err(err).Str("session_id", s.ID()).Msg("Failed to build history workbook")
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", dashboard.XLSXContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="history.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logger.Error().Err(err).Msg("Failed to write history workbook")
	}
}

type motorPreviewResponse struct {
	Payload     command.MotorCommand `json:"payload"`
	SendEnabled bool                 `json:"send_enabled"`
	State       []dashboard.KPI      `json:"state"`
	Errors      []string             `json:"errors,omitempty"`
}

func (a *App) handleMotorPreview(w http.ResponseWriter, r *http.Request, s *dashboard.Session) {
	q := r.URL.Query()
	speed, err := parseIntParam("speed", q.Get("speed"), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	mute, err := parseBoolParam("mute", q.Get("mute"))
	if err != nil {
		writeError(w, err)
		return
	}

	state, stateErr := s.StatePreview(r.Context())
	resp := motorPreviewResponse{
		Payload:     command.BuildMotorCommand(speed, mute),
		SendEnabled: a.dispatcher.MotorEnabled(),
		State:       state,
	}
	if stateErr != nil {
		resp.Errors = []string{dashboard.UserMessage(stateErr)}
	}
	writeJSON(w, http.StatusOK, resp)
}

type motorRequest struct {
	Speed int  `json:"speed"`
	Mute  bool `json:"mute"`
}

type sendResponse struct {
	Payload  any    `json:"payload"`
	Response string `json:"response,omitempty"`
}

func (a *App) handleMotorSend(w http.ResponseWriter, r *http.Request, s *dashboard.Session) {
	var req motorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a.sendMotor(w, r, s, command.BuildMotorCommand(req.Speed, req.Mute))
}

func (a *App) handleMotorStop(w http.ResponseWriter, r *http.Request, s *dashboard.Session) {
	var req motorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a.sendMotor(w, r, s, command.StopMotorCommand(req.Mute))
}

func (a *App) sendMotor(w http.ResponseWriter, r *http.Request, s *dashboard.Session, cmd command.MotorCommand) {
	body, err := a.dispatcher.SendMotor(r.Context(), cmd)
	if err != nil {
		logger.Warn().Err(err).Str("session_id", s.ID()).Int("target_speed", cmd.TargetSpeed).Msg("Motor command failed")
		writeError(w, err)
		return
	}
	logger.Info().Str("session_id", s.ID()).Int("target_speed", cmd.TargetSpeed).Int("mute", cmd.Mute).Msg("Motor command sent")
	writeJSON(w, http.StatusOK, sendResponse{Payload: cmd, Response: string(body)})
}

// roomForm is the room page input. Fields left out keep the values the
// controller currently reports.
type roomForm struct {
	LampChoice string  `json:"lamp_choice"`
	Brightness int     `json:"brightness"`
	TempT1     float64 `json:"temp_t1"`
	TempT2     float64 `json:"temp_t2"`
	TempT3     float64 `json:"temp_t3"`
	HumH1      float64 `json:"hum_h1"`
	HumH2      float64 `json:"hum_h2"`
}

func formFromSettings(st telemetry.RoomSettings) roomForm {
	return roomForm{
		LampChoice: command.LampChoiceFromMode(st.LampMode),
		Brightness: st.Brightness,
		TempT1:     st.TempT1,
		TempT2:     st.TempT2,
		TempT3:     st.TempT3,
		HumH1:      st.HumH1,
		HumH2:      st.HumH2,
	}
}

func (f roomForm) build() (command.RoomCommand, error) {
	return command.BuildRoomCommand(f.LampChoice, f.Brightness, f.TempT1, f.TempT2, f.TempT3, f.HumH1, f.HumH2)
}

type roomSettingsResponse struct {
	Form        roomForm               `json:"form"`
	Settings    telemetry.RoomSettings `json:"settings"`
	SendEnabled bool                   `json:"send_enabled"`
	Errors      []string               `json:"errors,omitempty"`
}

// currentRoomSettings reads the room settings back from the latest reading, or
// the factory defaults when there is none.
func (a *App) currentRoomSettings(ctx context.Context, s *dashboard.Session) (telemetry.RoomSettings, error) {
	reading, _, err := s.Latest(ctx)
	return reading.RoomSettings(), err
}

func (a *App) handleRoomSettings(w http.ResponseWriter, r *http.Request, s *dashboard.Session) {
	settings, err := a.currentRoomSettings(r.Context(), s)
	resp := roomSettingsResponse{
		Form:        formFromSettings(settings),
		Settings:    settings,
		SendEnabled: a.dispatcher.RoomEnabled(),
	}
	if err != nil {
		resp.Errors = []string{dashboard.UserMessage(err)}
	}
	writeJSON(w, http.StatusOK, resp)
}

type roomPreviewResponse struct {
	Payload     command.RoomCommand `json:"payload"`
	Valid       bool                `json:"valid"`
	Violations  []command.Violation `json:"violations,omitempty"`
	SendEnabled bool                `json:"send_enabled"`
}

// decodeRoomForm overlays the request body on the current settings.
func (a *App) decodeRoomForm(r *http.Request, s *dashboard.Session) (roomForm, error) {
	settings, _ := a.currentRoomSettings(r.Context(), s)
	form := formFromSettings(settings)
	if err := decodeJSON(r, &form); err != nil {
		return roomForm{}, err
	}
	return form, nil
}

func (a *App) handleRoomPreview(w http.ResponseWriter, r *http.Request, s *dashboard.Session) {
	form, err := a.decodeRoomForm(r, s)
	if err != nil {
		writeError(w, err)
		return
	}
	cmd, verr := form.build()
	resp := roomPreviewResponse{Payload: cmd, Valid: verr == nil}
	var ve *command.ValidationError
	if errors.As(verr, &ve) {
		resp.Violations = ve.Violations
	}
	resp.SendEnabled = resp.Valid && a.dispatcher.RoomEnabled()
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleRoomSend(w http.ResponseWriter, r *http.Request, s *dashboard.Session) {
	form, err := a.decodeRoomForm(r, s)
	if err != nil {
		writeError(w, err)
		return
	}
	cmd, err := form.build()
	if err != nil {
		writeError(w, err)
		return
	}
	a.sendRoom(w, r, s, cmd)
}

func (a *App) handleRoomReset(w http.ResponseWriter, r *http.Request, s *dashboard.Session) {
	a.sendRoom(w, r, s, command.DefaultRoomCommand())
}

func (a *App) sendRoom(w http.ResponseWriter, r *http.Request, s *dashboard.Session, cmd command.RoomCommand) {
	body, err := a.dispatcher.SendRoom(r.Context(), cmd)
	if err != nil {
		logger.Warn().Err(err).Str("session_id", s.ID()).Msg("Room command failed")
		writeError(w, err)
		return
	}
	logger.Info().Str("session_id", s.ID()).Str("lamp_mode", cmd.LampMode).Msg("Room command sent")
	writeJSON(w, http.StatusOK, sendResponse{Payload: cmd, Response: string(body)})
}

// healthCheckHandler handles health check requests
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("OK")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write health check response")
	}
}

// readinessCheckHandler reports whether the latest reading can be served.
func (a *App) readinessCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessCheckTimeout)
	defer cancel()

	if err := a.ready(ctx); err != nil {
		logger.Warn().Err(err).Msg("Readiness check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, writeErr := w.Write([]byte("NOT READY: " + dashboard.UserMessage(err))); writeErr != nil {
			logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
	}
}

func parseIntParam(name, raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidationError(name, raw, "must be an integer")
	}
	return v, nil
}

func parseBoolParam(name, raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.NewValidationError(name, raw, "must be a boolean")
	}
	return v, nil
}
