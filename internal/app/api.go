package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/lugha/internal/session"
	"github.com/MrWong99/lugha/internal/transcript"
	"github.com/MrWong99/lugha/pkg/archive"
)

// SessionStatus is the JSON view of a [session.Snapshot].
type SessionStatus struct {
	ID               string     `json:"id,omitempty"`
	State            string     `json:"state"`
	Error            string     `json:"error,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	Turns            []TurnView `json:"turns"`
	PlaybackCursorMS int64      `json:"playback_cursor_ms"`
	PendingAudio     int        `json:"pending_audio"`
	FramesSent       int64      `json:"frames_sent"`
	FramesDropped    int64      `json:"frames_dropped"`
}

// TurnView is the JSON view of a transcript turn.
type TurnView struct {
	Seq   int    `json:"seq"`
	Role  string `json:"role"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// StatusFromSnapshot converts a snapshot for the HTTP API.
func StatusFromSnapshot(s session.Snapshot) SessionStatus {
	st := SessionStatus{
		ID:               s.ID,
		State:            s.State.String(),
		Turns:            make([]TurnView, 0, len(s.Turns)),
		PlaybackCursorMS: s.PlaybackCursor.Milliseconds(),
		PendingAudio:     s.PendingAudio,
		FramesSent:       s.FramesSent,
		FramesDropped:    s.FramesDropped,
	}
	if s.Err != nil {
		st.Error = s.Err.Error()
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt
		st.StartedAt = &t
	}
	for _, t := range s.Turns {
		st.Turns = append(st.Turns, turnView(t))
	}
	return st
}

func turnView(t transcript.Turn) TurnView {
	return TurnView{Seq: t.Seq, Role: string(t.Role), Text: t.Text, Final: t.Final}
}

func (a *App) registerSessionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /session", a.handleStatus)
	mux.HandleFunc("POST /session/start", a.handleStart)
	mux.HandleFunc("POST /session/stop", a.handleStop)
	mux.HandleFunc("GET /archive/{session}", a.handleArchive)
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusFromSnapshot(a.manager.Snapshot()))
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := a.manager.Start(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	slog.Info("session started via api", "session_id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (a *App) handleStop(w http.ResponseWriter, _ *http.Request) {
	a.manager.Stop()
	writeJSON(w, http.StatusOK, StatusFromSnapshot(a.manager.Snapshot()))
}

func (a *App) handleArchive(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	turns, err := a.archive.Recent(r.Context(), r.PathValue("session"), limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if turns == nil {
		turns = []archive.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}
