package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/manpreetbhatti/coderelay/internal/ledger"
	"github.com/manpreetbhatti/coderelay/internal/room"
)

// History is the read side of the session ledger.
type History interface {
	ListSessions(limit, offset int) ([]ledger.Session, error)
	ListRoomSessions(roomID string, limit int) ([]ledger.Session, error)
	GetSession(id string) (*ledger.Session, error)
	GetStats() (ledger.Stats, error)
}

type API struct {
	registry *room.Registry
	history  History
	logger   *slog.Logger
}

// New wires the API. history may be nil when the ledger is disabled.
func New(registry *room.Registry, history History, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		registry: registry,
		history:  history,
		logger:   logger,
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("api.encode", "err", err)
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"active_rooms":   a.registry.Count(),
		"active_clients": a.registry.ClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.history != nil {
		hist, err := a.history.GetStats()
		if err != nil {
			a.logger.Error("api.ledger_stats", "err", err)
		} else {
			stats["total_sessions"] = hist.TotalSessions
			stats["open_sessions"] = hist.OpenSessions
			stats["distinct_rooms"] = hist.DistinctRooms
			stats["total_edits"] = hist.TotalEdits
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	room.Stats
	Paths    []string         `json:"paths,omitempty"`
	Sessions []ledger.Session `json:"sessions,omitempty"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms := a.registry.Rooms()
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"rooms": rooms,
		"count": len(rooms),
	})
}

// GetRoomHandler describes a live room. File contents are never exposed,
// only paths.
func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		a.errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	rm := a.registry.Get(roomID)
	if rm == nil {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	resp := RoomResponse{Stats: rm.Stats(), Paths: rm.Paths()}
	if a.history != nil {
		sessions, err := a.history.ListRoomSessions(roomID, 10)
		if err != nil {
			a.logger.Error("api.room_sessions", "room", roomID, "err", err)
		} else {
			resp.Sessions = sessions
		}
	}

	a.jsonResponse(w, http.StatusOK, resp)
}

// History handlers

func (a *API) ListHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		a.errorResponse(w, http.StatusNotFound, "Session ledger is disabled")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	sessions, err := a.history.ListSessions(limit, offset)
	if err != nil {
		a.logger.Error("api.list_sessions", "err", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}

func (a *API) GetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		a.errorResponse(w, http.StatusNotFound, "Session ledger is disabled")
		return
	}

	session, err := a.history.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		a.logger.Error("api.get_session", "err", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get session")
		return
	}
	if session == nil {
		a.errorResponse(w, http.StatusNotFound, "Session not found")
		return
	}

	a.jsonResponse(w, http.StatusOK, session)
}
