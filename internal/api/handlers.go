package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/completion"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/db"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/registry"
)

const maxBodyBytes = 1 << 20

type API struct {
	registry *registry.Registry
	database *db.Database
	proxy    *completion.Proxy
	log      *slog.Logger
}

func New(reg *registry.Registry, database *db.Database, proxy *completion.Proxy, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if proxy == nil {
		proxy = completion.NewProxy(nil, 0, logger, nil)
	}
	return &API{
		registry: reg,
		database: database,
		proxy:    proxy,
		log:      logger,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("api.encode", "err", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.registry.RoomCount(),
		"active_clients": a.registry.ClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err != nil {
			a.log.Warn("api.stats", "err", err)
		} else {
			stats["total_rooms"] = dbStats.Rooms
			stats["total_joins"] = dbStats.Joins
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID          string    `json:"roomId"`
	Language    string    `json:"language"`
	JoinCount   int64     `json:"joinCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	ActiveUsers int       `json:"activeUsers"`
}

type CreateRoomRequest struct {
	Language string `json:"language"`
}

// RoomStateResponse is the live view of a room. Rooms nobody has joined
// come back with empty code and users.
type RoomStateResponse struct {
	ID       string   `json:"roomId"`
	Code     string   `json:"code"`
	Users    []string `json:"users"`
	Language string   `json:"language"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.database.ListRooms(limit, offset)
	if err != nil {
		a.log.Error("api.rooms.list", "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	activeRooms := a.registry.ActiveRooms()

	response := make([]RoomResponse, len(rooms))
	for i, room := range rooms {
		response[i] = RoomResponse{
			ID:          room.ID,
			Language:    room.Language,
			JoinCount:   room.JoinCount,
			CreatedAt:   room.CreatedAt,
			UpdatedAt:   room.UpdatedAt,
			ActiveUsers: activeRooms[room.ID],
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = db.DefaultLanguage
	}

	id := uuid.NewString()
	if err := a.database.CreateRoom(id, language); err != nil {
		a.log.Error("api.rooms.create", "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	a.log.Info("room.created", "room", id, "language", language)
	jsonResponse(w, http.StatusCreated, map[string]string{"roomId": id})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := roomIDFromPath(r.URL.Path)
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	resp := RoomStateResponse{
		ID:       roomID,
		Users:    []string{},
		Language: db.DefaultLanguage,
	}

	if actor, ok := a.registry.Lookup(roomID); ok {
		snap, err := actor.Snapshot(r.Context())
		if err == nil {
			resp.Code = snap.Code
			if snap.Users != nil {
				resp.Users = snap.Users
			}
		}
	}

	room, err := a.database.GetRoom(roomID)
	if err != nil {
		a.log.Warn("api.rooms.get", "room", roomID, "err", err)
	} else if room != nil {
		resp.Language = room.Language
	}

	jsonResponse(w, http.StatusOK, resp)
}

// DeleteRoomHandler drops the catalog entry; a live room keeps running
// until it empties and is swept
func (a *API) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := roomIDFromPath(r.URL.Path)
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	if err := a.database.DeleteRoom(roomID); err != nil {
		a.log.Error("api.rooms.delete", "room", roomID, "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to delete room")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Room deleted"})
}

func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/rooms")

	// /rooms or /rooms/
	if path == "" || path == "/" {
		switch r.Method {
		case http.MethodGet:
			a.ListRoomsHandler(w, r)
		case http.MethodPost:
			a.CreateRoomHandler(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	// /rooms/{id}
	switch r.Method {
	case http.MethodGet:
		a.GetRoomHandler(w, r)
	case http.MethodDelete:
		a.DeleteRoomHandler(w, r)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func roomIDFromPath(p string) string {
	id := strings.Trim(strings.TrimPrefix(p, "/rooms/"), "/")
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

// Completion

func (a *API) AutocompleteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req completion.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	jsonResponse(w, http.StatusOK, a.proxy.Suggest(r.Context(), req))
}

// autocompleteLimited answers a throttled client the way a failed engine would
func autocompleteLimited(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusTooManyRequests, completion.Response{})
}
