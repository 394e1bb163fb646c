// Package webapi exposes the assistant over HTTP: one-shot and streaming
// chat, session memory inspection, voice selection, transcription, and
// audio artifact serving.
package webapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatling/chatling/pkg/pipeline"
	"github.com/chatling/chatling/pkg/session"
	"github.com/chatling/chatling/pkg/speech"
	"github.com/chatling/chatling/pkg/storage"
)

// Config wires a Server's collaborators.
type Config struct {
	Pipeline    *pipeline.Pipeline
	Store       *session.Store
	Transcriber speech.Transcriber
	Artifacts   storage.ArtifactStore
	Logger      *slog.Logger
}

// Server is the HTTP surface. Create with NewServer, mount via Handler.
type Server struct {
	pipeline    *pipeline.Pipeline
	store       *session.Store
	transcriber speech.Transcriber
	artifacts   storage.ArtifactStore
	log         *slog.Logger
}

// NewServer builds a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil || cfg.Store == nil {
		return nil, errors.New("webapi: pipeline and store are required")
	}
	s := &Server{
		pipeline:    cfg.Pipeline,
		store:       cfg.Store,
		transcriber: cfg.Transcriber,
		artifacts:   cfg.Artifacts,
		log:         cfg.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s, nil
}

// Handler returns the route table. Routes whose collaborator is not
// configured (transcriber, artifact store) respond 501.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("POST /stream_response", s.handleStreamResponse)
	mux.HandleFunc("GET /memory/{session_id}", s.handleGetMemory)
	mux.HandleFunc("POST /memory/{session_id}/reset", s.handleResetMemory)
	mux.HandleFunc("GET /history/{session_id}", s.handleGetHistory)
	mux.HandleFunc("POST /set_voice", s.handleSetVoice)
	mux.HandleFunc("POST /transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /audio/{name}", s.handleAudio)
	return mux
}

// chatRequest is the body of /process and /stream_response.
type chatRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// decodeChat parses a chat request and applies the session-id default.
// A missing text field is a validation error answered before any model
// call.
func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return chatRequest{}, false
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return chatRequest{}, false
	}
	if req.SessionID == "" {
		req.SessionID = defaultSessionID()
	}
	return req, true
}

// defaultSessionID derives a session key for callers that did not supply
// one. Each such request gets a fresh session.
func defaultSessionID() string {
	return "session_" + time.Now().Format("20060102_150405.000000")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
