package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/matchroom/internal/control"
	"github.com/DoyleJ11/matchroom/internal/hub"
	"github.com/DoyleJ11/matchroom/internal/room"
	"github.com/DoyleJ11/matchroom/internal/types"
)

const (
	writeTimeout = 3 * time.Second
	pingEvery    = 20 * time.Second
)

var errGameFinished = errors.New("game_finished is not accepted on this socket")

// Handler upgrades GET /rooms/{id}/ws. The socket receives a room_update for
// the current room and every change after it, and accepts room control
// requests as text frames, answered with replies on the same socket.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	d := control.Dispatcher{Hub: h}
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := h.Room(r.Context(), id); err != nil {
			if errors.Is(err, hub.ErrRoomNotFound) {
				http.Error(w, "room not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan room.Room, 8)
		subID := uuid.NewString()
		if err := h.Subscribe(ctx, id, subID, out); err != nil {
			conn.Close(websocket.StatusPolicyViolation, "room not found")
			return
		}
		defer h.Unsubscribe(context.WithoutCancel(ctx), id, subID)
		log := log.With(zap.String("room", id), zap.String("sub", subID))

		replies := make(chan types.Reply, 8)

		// Writer goroutine
		go func() {
			defer cancel()
			ping := time.NewTicker(pingEvery)
			defer ping.Stop()
			for {
				var payload []byte
				select {
				case rm, ok := <-out:
					if !ok {
						conn.Close(websocket.StatusNormalClosure, "room closed")
						return
					}
					upd, err := types.NewRoomUpdate(rm)
					if err != nil {
						log.Error("encode room update", zap.Error(err))
						return
					}
					payload, _ = json.Marshal(upd)
				case rep := <-replies:
					payload, _ = json.Marshal(rep)
				case <-ping.C:
					pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
					err := conn.Ping(pctx)
					pcancel()
					if err != nil {
						return
					}
					continue
				case <-ctx.Done():
					return
				}
				wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
				err := conn.Write(wctx, websocket.MessageText, payload)
				wcancel()
				if err != nil {
					return
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				log.Debug("ws read", zap.Error(err))
				return
			}

			var rep types.Reply
			req, err := types.DecodeRequest(data)
			if err != nil {
				rep = types.ErrorReply(control.CodeBadRequest, err)
			} else {
				switch req.(type) {
				case types.SubscribeRoom:
					rep = types.OKReply("subscribed")
					rep.RoomID = id
				case types.GameFinished:
					// only sessions report results, over the control endpoint
					rep = types.ErrorReply(control.CodeNotAuthorized, errGameFinished)
				default:
					rep = d.Handle(ctx, req)
				}
			}

			select {
			case replies <- rep:
			case <-ctx.Done():
				return
			}
		}
	}
}
