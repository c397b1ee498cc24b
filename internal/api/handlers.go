package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/BTreeMap/AskFlow/internal/models"
	"github.com/BTreeMap/AskFlow/internal/webapp"
)

// maxSubmitBytes bounds the body of a front end submission.
const maxSubmitBytes = 1 << 20

// SessionsSummary is the result of GET /sessions.
type SessionsSummary struct {
	Count int            `json:"count"`
	Modes map[string]int `json:"modes"`
	Users []string       `json:"users"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	snapshot := s.orch.Sessions().Snapshot()
	summary := SessionsSummary{Count: len(snapshot), Modes: make(map[string]int), Users: make([]string, 0, len(snapshot))}
	for _, sess := range snapshot {
		summary.Modes[string(sess.Mode)]++
		summary.Users = append(summary.Users, sess.UserID)
	}
	sort.Strings(summary.Users)
	writeJSONResponse(w, http.StatusOK, models.Success(summary))
}

// webappSubmitHandler accepts either a StructuredPayload object or the bare
// answers array the front end posts, with the user in ?user=.
func (s *Server) webappSubmitHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSubmitBytes))
	if err != nil {
		slog.Warn("Server.webappSubmitHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	payload, err := decodeSubmission(data, r.URL.Query().Get("user"))
	if err != nil {
		slog.Warn("Server.webappSubmitHandler: invalid payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	userID, err := s.msgService.ValidateAndCanonicalizeRecipient(payload.UserID)
	if err != nil {
		slog.Warn("Server.webappSubmitHandler: invalid user", "error", err, "user", payload.UserID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	payload.UserID = userID

	// Dispatch outlives a client that disconnects after submitting.
	err = s.orch.HandleStructured(context.WithoutCancel(r.Context()), payload)
	switch {
	case errors.Is(err, models.ErrNoActiveSession):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
	case errors.Is(err, models.ErrSessionDispatching):
		writeJSONResponse(w, http.StatusConflict, models.Error("Previous answers are still being processed"))
	case err != nil:
		slog.Error("Server.webappSubmitHandler: dispatch failed", "error", err, "user", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process answers"))
	default:
		slog.Info("Server.webappSubmitHandler: answers accepted", "user", userID, "answers", len(payload.Answers))
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Answers received", nil))
	}
}

func decodeSubmission(data []byte, queryUser string) (models.StructuredPayload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		answers, err := webapp.DecodeAnswers(trimmed)
		if err != nil {
			return models.StructuredPayload{}, err
		}
		return models.StructuredPayload{UserID: queryUser, Answers: answers}, nil
	}

	var raw struct {
		UserID  string          `json:"user_id"`
		Answers json.RawMessage `json:"answers"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return models.StructuredPayload{}, err
	}
	payload := models.StructuredPayload{UserID: raw.UserID}
	if payload.UserID == "" {
		payload.UserID = queryUser
	}
	if len(raw.Answers) > 0 {
		answers, err := webapp.DecodeAnswers(raw.Answers)
		if err != nil {
			return models.StructuredPayload{}, err
		}
		payload.Answers = answers
	}
	return payload, nil
}
