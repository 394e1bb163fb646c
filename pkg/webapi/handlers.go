package webapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/chatling/chatling/pkg/session"
	"github.com/chatling/chatling/pkg/storage"
)

// handleProcess runs one non-streaming turn.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	res, err := s.pipeline.Respond(r.Context(), req.SessionID, req.Text)
	if err != nil {
		s.log.Error("process failed", "session", req.SessionID, "err", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("response generation failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStreamResponse runs a streaming turn over SSE. Each event is one
// JSON object in a data frame. Failures after the stream opens are
// reported in-band as an error event; the HTTP status is already written
// by then.
func (s *Server) handleStreamResponse(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	es, err := s.pipeline.OpenStream(r.Context(), req.SessionID, req.Text)
	if err != nil {
		s.log.Error("stream open failed", "session", req.SessionID, "err", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("response generation failed: %v", err))
		return
	}
	defer es.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		ev, err := es.Next()
		if err != nil {
			if !errors.Is(err, iterator.Done) {
				// Client disconnected mid-stream; nothing left to write.
				s.log.Debug("stream aborted", "session", req.SessionID, "err", err)
			}
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.Error("encode event failed", "err", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleGetMemory returns the session's Memory as stored (or the empty
// default for unknown sessions).
func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	writeJSON(w, http.StatusOK, s.store.LoadMemory(r.Context(), id))
}

// handleResetMemory clears the session's Memory. History stays as is.
func (s *Server) handleResetMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	s.store.ResetMemory(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("memory reset for session %s", id),
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	h := s.store.LoadHistory(r.Context(), id)
	if h == nil {
		h = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Voice     string `json:"voice"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Voice == "" {
		writeError(w, http.StatusBadRequest, "voice is required")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	s.store.SetVoicePreference(r.Context(), req.SessionID, req.Voice)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("voice set to %s", req.Voice),
	})
}

// handleTranscribe accepts a multipart upload under the "audio" field,
// spools it to a temp file, and runs the transcriber. The temp file is
// removed on every exit path.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		writeError(w, http.StatusNotImplemented, "transcription is not configured")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".wav"
	}
	tmpPath := filepath.Join(os.TempDir(), "transcribe_"+uuid.NewString()+ext)
	tmp, err := os.Create(tmpPath)
	if err != nil {
		s.log.Error("create temp file failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	defer os.Remove(tmpPath)

	_, err = io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.log.Error("spool upload failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}

	text, err := s.transcriber.Transcribe(r.Context(), tmpPath)
	if err != nil {
		s.log.Error("transcription failed", "err", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("transcription failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcription": text})
}

// handleAudio serves a synthesized artifact by name.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		writeError(w, http.StatusNotImplemented, "audio serving is not configured")
		return
	}

	name := r.PathValue("name")
	rc, err := s.artifacts.Open(r.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrBadName):
			writeError(w, http.StatusBadRequest, "invalid audio name")
		case errors.Is(err, os.ErrNotExist):
			writeError(w, http.StatusNotFound, "audio not found")
		default:
			s.log.Error("open artifact failed", "name", name, "err", err)
			writeError(w, http.StatusInternalServerError, "could not read audio")
		}
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", storage.ContentType(name))
	if _, err := io.Copy(w, rc); err != nil {
		s.log.Debug("audio copy interrupted", "name", name, "err", err)
	}
}
