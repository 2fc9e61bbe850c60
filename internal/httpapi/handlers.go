package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/matchroom/internal/control"
	"github.com/DoyleJ11/matchroom/internal/hub"
	"github.com/DoyleJ11/matchroom/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a control error code to the closest HTTP status.
func statusFor(code string) int {
	switch code {
	case control.CodeRoomNotFound, control.CodeUnknownGame:
		return http.StatusNotFound
	case control.CodeBadRequest:
		return http.StatusBadRequest
	case control.CodeNotAuthorized:
		return http.StatusForbidden
	case control.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

func writeError(w http.ResponseWriter, err error) {
	rep := types.ErrorReply(control.CodeFor(err), err)
	writeJSON(w, statusFor(rep.Code), rep)
}

func CreateRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body types.CreateRoom
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, types.ErrorReply(control.CodeBadRequest, err))
			return
		}
		rm, err := h.Create(r.Context(), types.CleanName(body.Identity), types.CleanName(body.Game), body.Version)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rm)
	}
}

func GetRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := h.Room(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rm)
	}
}

func ListRooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := h.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rooms)
	}
}

func ListGames(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.Catalog().List())
	}
}

type resultView struct {
	RoomID         string   `json:"room_id"`
	Game           string   `json:"game"`
	Reason         string   `json:"reason"`
	WinnerRole     string   `json:"winnerRole,omitempty"`
	WinnerIdentity string   `json:"winnerIdentity,omitempty"`
	Players        []string `json:"players"`
	FinishedAt     int64    `json:"finishedAt"`
}

// ListResults serves GET /results?game=&limit=, newest first.
func ListResults(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, types.ErrorReply(control.CodeBadRequest, errors.New("bad limit")))
				return
			}
			limit = n
		}
		results, err := h.History().Results(r.Context(), r.URL.Query().Get("game"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]resultView, 0, len(results))
		for _, res := range results {
			out = append(out, resultView{
				RoomID:         res.RoomID,
				Game:           res.Game,
				Reason:         res.Reason,
				WinnerRole:     res.WinnerRole,
				WinnerIdentity: res.WinnerIdentity,
				Players:        res.Players,
				FinishedAt:     res.FinishedAt.Unix(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// Played serves GET /players/{identity}/played/{game}.
func Played(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := types.CleanName(chi.URLParam(r, "identity"))
		game := chi.URLParam(r, "game")
		n, err := h.History().Played(r.Context(), identity, game)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Identity string `json:"identity"`
			Game     string `json:"game"`
			Played   int    `json:"played"`
		}{identity, game, n})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
