package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"corebridge/auth"
	"corebridge/ingest"
)

type receiveResponse struct {
	Status  string `json:"status"`
	EventID string `json:"eventId"`
}

type ackResponse struct {
	EventID  string `json:"eventId"`
	Consumer string `json:"consumer"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
}

type statsResponse struct {
	StorageTypeProperty string `json:"storageTypeProperty"`
	RepositoryAvailable bool   `json:"repositoryAvailable"`
	EffectiveMode       string `json:"effectiveMode"`
	DBCount             *int64 `json:"dbCount"`
	TotalCount          int64  `json:"totalCount"`
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	ev, err := s.bridge.Receive(r.Context(), r.Header.Get("Authorization"), body)
	if err != nil {
		s.writeBridgeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receiveResponse{Status: "received", EventID: ev.ID})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	events, err := s.bridge.List(r.Context(), r.Header.Get("Authorization"), r.URL.Query().Get("status"))
	if err != nil {
		s.writeBridgeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.bridge.Poll(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.writeBridgeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	res, consumer, err := s.bridge.Acknowledge(r.Context(), r.Header.Get("Authorization"), chi.URLParam(r, "id"), body)
	if err != nil {
		s.writeBridgeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ackResponse{
		EventID:  res.Record.EventID,
		Consumer: consumer,
		Status:   res.Record.Status,
		Attempts: res.Record.Attempts,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.adminKeyHash != nil {
		key := r.Header.Get("X-Admin-Key")
		if key == "" || bcrypt.CompareHashAndPassword(s.adminKeyHash, []byte(key)) != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "admin key required"})
			return
		}
	}

	resp := statsResponse{
		StorageTypeProperty: s.storage.ConfiguredType,
		RepositoryAvailable: s.storage.Durable != nil,
		EffectiveMode:       s.storage.EffectiveMode,
	}
	if s.storage.Durable != nil {
		n, err := s.storage.Durable.Count(r.Context())
		if err != nil {
			s.logger.Warn("durable count failed", zap.Error(err))
		} else {
			resp.DBCount = &n
		}
	}
	total, err := s.storage.Active.Count(r.Context())
	if err != nil {
		s.writeBridgeError(w, r, err)
		return
	}
	resp.TotalCount = total

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable request body"})
		return nil, false
	}
	return body, true
}

func (s *Server) writeBridgeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		authErr      *auth.Error
		validation   *ingest.ValidationError
		forbiddenErr *ingest.ForbiddenError
	)
	switch {
	case errors.As(err, &validation):
		body := map[string]any{"error": validation.Reason}
		if len(validation.Details) > 0 {
			body["details"] = validation.Details
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &authErr):
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":  authErr.Msg,
			"reason": authErr.Kind.String(),
		})
	case errors.As(err, &forbiddenErr):
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":    "Module not authorized",
			"clientId": forbiddenErr.ClientID,
		})
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
