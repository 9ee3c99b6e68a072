// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/soothill/hvac-supervisor/command"
	"github.com/soothill/hvac-supervisor/dashboard"
	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/pkg/logger"
)

// Session transport.
const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "hvac_session"
)

type sessionHandler func(w http.ResponseWriter, r *http.Request, s *dashboard.Session)

// withSession resolves the caller's session from the header or the cookie,
// creating one when needed, and echoes its id back on both.
func (a *App) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(SessionHeader)
		if id == "" {
			if c, err := r.Cookie(SessionCookie); err == nil {
				id = c.Value
			}
		}

		s, created := a.manager.Acquire(id)
		if created {
			logger.Debug().Str("session_id", s.ID()).Str("remote_addr", r.RemoteAddr).Msg("New dashboard session")
		}

		w.Header().Set(SessionHeader, s.ID())
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    s.ID(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		next(w, r, s)
	}
}

// rateLimitMiddleware wraps an HTTP handler with rate limiting
func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rate limit exceeded")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

type errorResponse struct {
	Error      string              `json:"error"`
	Violations []command.Violation `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// writeError maps err onto a status code and a message an operator can act on.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: dashboard.UserMessage(err)}
	var ve *command.ValidationError
	if errors.As(err, &ve) {
		resp.Violations = ve.Violations
	}
	writeJSON(w, statusFor(err), resp)
}

func statusFor(err error) int {
	var de *apperrors.DispatchError
	switch {
	case errors.As(err, new(*command.ValidationError)):
		return http.StatusUnprocessableEntity
	case apperrors.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, apperrors.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &de), apperrors.IsFetchError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.NewValidationError("body", nil, fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}
